package gmail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/aculclasure/coderelay/internal/core/processor"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	defaultUserID = "me"
	unreadLabel   = "UNREAD"
)

// ClientOpt represents a functional option that can be applied to a Client.
type ClientOpt func(*clientOpts)

type clientOpts struct {
	endpoint string
	userID   string
	logger   Logger
}

// WithEndpoint overrides the Gmail API base URL, primarily for tests.
func WithEndpoint(url string) ClientOpt {
	return func(o *clientOpts) {
		o.endpoint = url
	}
}

// WithUserID sets the mailbox the client operates on. Defaults to "me", the
// user the OAuth2 token belongs to.
func WithUserID(id string) ClientOpt {
	return func(o *clientOpts) {
		if id != "" {
			o.userID = id
		}
	}
}

// WithClientLogger accepts a Logger and returns a ClientOpt that wires the
// logger into a Client.
func WithClientLogger(l Logger) ClientOpt {
	return func(o *clientOpts) {
		o.logger = l
	}
}

// Client represents a client for communicating with the Gmail API.
type Client struct {
	svc    *gmail.Service
	userID string
	logger Logger
}

// NewClient accepts an HTTP Client that is OAuth2-enabled for sending requests
// to the Gmail API and an optional slice of ClientOpt and returns a Client
// struct that can communicate with the Gmail API. An error is returned if there
// is a problem creating the wrapped gmail service.
func NewClient(hc *http.Client, opts ...ClientOpt) (*Client, error) {
	if hc == nil {
		return nil, errors.New("http client must be non-nil")
	}
	o := clientOpts{
		userID: defaultUserID,
		logger: log.New(io.Discard, "", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(&o)
	}
	svcOpts := []option.ClientOption{option.WithHTTPClient(hc)}
	if o.endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(o.endpoint))
	}
	svc, err := gmail.NewService(context.Background(), svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("got error creating new gmail service: %w", err)
	}
	return &Client{svc: svc, userID: o.userID, logger: o.logger}, nil
}

// Find queries Gmail for messages matching the given query and returns their
// ids in the order Gmail lists them (newest first). An error is returned if the
// query to the Gmail API fails.
func (c *Client) Find(ctx context.Context, q processor.EmailQuery) ([]string, error) {
	expr := RenderQuery(q)
	call := c.svc.Users.Messages.List(c.userID).Q(expr).Context(ctx)
	if q.MaxResults > 0 {
		call = call.MaxResults(int64(q.MaxResults))
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("got error executing gmail query %q: %w", expr, err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	c.logger.Printf("gmail query %q matched %d messages", expr, len(ids))
	return ids, nil
}

// Fetch retrieves the full message with the given id and returns its headers
// together with the still base64url-encoded text body.
func (c *Client) Fetch(ctx context.Context, id string) (processor.RawEmail, error) {
	msg, err := c.svc.Users.Messages.Get(c.userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return processor.RawEmail{}, fmt.Errorf("got error fetching gmail message %s: %w", id, err)
	}
	return toRawEmail(msg), nil
}

// MarkConsumed removes the UNREAD label from the message so unread-only
// queries no longer return it.
func (c *Client) MarkConsumed(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := c.svc.Users.Messages.Modify(c.userID, id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("got error marking gmail message %s as read: %w", id, err)
	}
	return nil
}

// RenderQuery converts q into a Gmail search expression. A non-empty
// SearchExpression is returned unchanged.
func RenderQuery(q processor.EmailQuery) string {
	if q.SearchExpression != "" {
		return q.SearchExpression
	}
	terms := make([]string, 0, len(q.Senders)+len(q.SubjectKeywords))
	for _, s := range q.Senders {
		terms = append(terms, "from:"+s)
	}
	for _, s := range q.SubjectKeywords {
		terms = append(terms, "subject:"+s)
	}
	expr := strings.Join(terms, " OR ")
	if len(terms) > 1 {
		expr = "(" + expr + ")"
	}
	if q.UnreadOnly {
		if expr == "" {
			return "is:unread"
		}
		return "is:unread AND " + expr
	}
	return expr
}

func toRawEmail(msg *gmail.Message) processor.RawEmail {
	raw := processor.RawEmail{
		ID:       msg.Id,
		Headers:  make(map[string]string),
		Encoding: processor.EncodingBase64URL,
	}
	if msg.Payload == nil {
		return raw
	}
	for _, h := range msg.Payload.Headers {
		if _, seen := raw.Headers[h.Name]; !seen {
			raw.Headers[h.Name] = h.Value
		}
	}
	if part := selectBodyPart(msg.Payload); part != nil {
		raw.Body = part.Body.Data
		raw.ContentType = strings.ToLower(part.MimeType)
	}
	return raw
}

// selectBodyPart returns the part carrying the message text: the top-level
// body if it has data, otherwise the first text/plain part in depth-first
// order, falling back to the first text/html part.
func selectBodyPart(p *gmail.MessagePart) *gmail.MessagePart {
	if hasData(p) && !isAttachment(p) {
		return p
	}
	if plain := findPart(p, processor.ContentTypePlain); plain != nil {
		return plain
	}
	return findPart(p, processor.ContentTypeHTML)
}

func findPart(p *gmail.MessagePart, mimeType string) *gmail.MessagePart {
	if p == nil {
		return nil
	}
	if strings.EqualFold(p.MimeType, mimeType) && hasData(p) && !isAttachment(p) {
		return p
	}
	for _, child := range p.Parts {
		if found := findPart(child, mimeType); found != nil {
			return found
		}
	}
	return nil
}

func hasData(p *gmail.MessagePart) bool {
	return p != nil && p.Body != nil && p.Body.Data != ""
}

func isAttachment(p *gmail.MessagePart) bool {
	return p.Filename != "" || (p.Body != nil && p.Body.AttachmentId != "")
}
