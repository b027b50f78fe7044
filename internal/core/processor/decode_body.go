package processor

import (
	"encoding/base64"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	htmlPolicy      = bluemonday.StrictPolicy()
	blockBoundaries = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li|/h[1-6])\b[^>]*>`)
	blankRuns       = regexp.MustCompile(`[ \t]*\n[ \t\n]*`)
)

// DecodeBody turns the transport-encoded body of raw into plain text. HTML
// bodies are flattened to their text content.
func DecodeBody(raw RawEmail) (string, error) {
	text, err := decodeTransport(raw.Body, raw.Encoding)
	if err != nil {
		return "", fmt.Errorf("decoding body of message %s: %w", raw.ID, err)
	}
	if strings.EqualFold(raw.ContentType, ContentTypeHTML) {
		text = flattenHTML(text)
	}
	return text, nil
}

func decodeTransport(body string, enc Encoding) (string, error) {
	switch enc {
	case EncodingIdentity, "":
		return body, nil
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(body), ""))
		if err != nil {
			return "", err
		}
		return string(b), nil
	case EncodingBase64URL:
		// Gmail pads inconsistently, so strip padding and decode raw.
		b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(body, "="))
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported body encoding %q", enc)
	}
}

func flattenHTML(s string) string {
	s = blockBoundaries.ReplaceAllString(s, "\n$0")
	s = htmlPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n"))
}
