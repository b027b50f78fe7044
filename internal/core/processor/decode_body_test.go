package processor_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

func TestDecodeBody(t *testing.T) {
	t.Parallel()
	const text = "Your verification code is 482913.\n"
	testCases := map[string]struct {
		input       processor.RawEmail
		want        string
		errExpected bool
	}{
		"Identity encoding is returned as is": {
			input: processor.RawEmail{Body: text, Encoding: processor.EncodingIdentity},
			want:  text,
		},
		"Missing encoding is treated as identity": {
			input: processor.RawEmail{Body: text},
			want:  text,
		},
		"Padded base64url body is decoded": {
			input: processor.RawEmail{Body: base64.URLEncoding.EncodeToString([]byte(text)), Encoding: processor.EncodingBase64URL},
			want:  text,
		},
		"Unpadded base64url body is decoded": {
			input: processor.RawEmail{Body: base64.RawURLEncoding.EncodeToString([]byte(text)), Encoding: processor.EncodingBase64URL},
			want:  text,
		},
		"Standard base64 body with line breaks is decoded": {
			input: processor.RawEmail{Body: wrap(base64.StdEncoding.EncodeToString([]byte(strings.Repeat(text, 4))), 76), Encoding: processor.EncodingBase64},
			want:  strings.Repeat(text, 4),
		},
		"Malformed base64url body returns error": {
			input:       processor.RawEmail{Body: "!!!", Encoding: processor.EncodingBase64URL},
			errExpected: true,
		},
		"Unknown encoding returns error": {
			input:       processor.RawEmail{Body: text, Encoding: "uuencode"},
			errExpected: true,
		},
		"HTML body is flattened to text": {
			input: processor.RawEmail{
				Body:        "<html><head><style>p{color:red}</style></head><body><p>Your code is <b>482913</b></p><p>Thanks &amp; bye</p></body></html>",
				ContentType: processor.ContentTypeHTML,
			},
			want: "Your code is 482913\nThanks & bye",
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := processor.DecodeBody(tc.input)
			errReceived := err != nil
			if tc.errExpected != errReceived {
				t.Fatalf("got unexpected error status %t: %v", errReceived, err)
			}
			if !tc.errExpected && tc.want != got {
				t.Errorf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func wrap(s string, width int) string {
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteString("\r\n")
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}
