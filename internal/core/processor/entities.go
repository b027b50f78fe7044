package processor

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultMaxResults = 20

	noSubject = "(no subject)"
	noSender  = "(unknown sender)"
	noDate    = "(no date)"
)

var ErrNotConfigured = errors.New("not configured")

// EmailQuery describes which messages a mailbox should return. A non-empty
// SearchExpression is passed to providers that understand it verbatim and
// takes precedence over the structured fields.
type EmailQuery struct {
	SearchExpression string
	Senders          []string
	SubjectKeywords  []string
	UnreadOnly       bool
	MaxResults       int
}

// DefaultEmailQuery returns the query for unread account verification mail.
func DefaultEmailQuery() EmailQuery {
	return EmailQuery{
		Senders:         []string{"openai", "noreply@openai.com"},
		SubjectKeywords: []string{"verification", "verify", "confirm"},
		UnreadOnly:      true,
		MaxResults:      DefaultMaxResults,
	}
}

func (q EmailQuery) OK() error {
	if q.SearchExpression == "" && len(q.Senders) == 0 && len(q.SubjectKeywords) == 0 {
		return errors.New("email query must contain a search expression, senders or subject keywords")
	}
	if q.MaxResults < 0 {
		return fmt.Errorf("email query max results must not be negative (got %d)", q.MaxResults)
	}
	return nil
}

type EmailQueryResult struct {
	Query          EmailQuery
	MatchingEmails []string
}

type Encoding string

const (
	EncodingIdentity  Encoding = "identity"
	EncodingBase64    Encoding = "base64"
	EncodingBase64URL Encoding = "base64url"
)

const (
	ContentTypePlain = "text/plain"
	ContentTypeHTML  = "text/html"
)

// RawEmail is a message as handed over by a mailbox provider, before its body
// has been decoded.
type RawEmail struct {
	ID          string
	Headers     map[string]string
	Body        string
	Encoding    Encoding
	ContentType string
}

// Header returns the value of the named header, matched case-insensitively.
func (r RawEmail) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

type InboundMessage struct {
	ID      string
	Subject string
	From    string
	Date    string
	Body    string
}

func newInboundMessage(raw RawEmail, body string) InboundMessage {
	return InboundMessage{
		ID:      raw.ID,
		Subject: orDefault(raw.Header("Subject"), noSubject),
		From:    orDefault(raw.Header("From"), noSender),
		Date:    orDefault(raw.Header("Date"), noDate),
		Body:    body,
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

type Classification string

const (
	ClassificationHasCode Classification = "has_code"
	ClassificationNoCode  Classification = "no_code"
)

type VerificationResult struct {
	Code           string
	Classification Classification
}
