// Package imap reads verification messages from a generic IMAP mailbox.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

const (
	defaultFolder      = "INBOX"
	defaultDialTimeout = 5 * time.Second
	maxBodyBytes       = 256 * 1024
	maxMessageBytes    = 1 << 20
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Logger is the logging contract used by Client.
type Logger interface {
	Printf(format string, v ...interface{})
}

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imapv2.SelectOptions) selectWaiter
	UIDSearch(criteria *imapv2.SearchCriteria, options *imapv2.SearchOptions) searchWaiter
	Fetch(numSet imapv2.NumSet, options *imapv2.FetchOptions) fetchWaiter
	Store(numSet imapv2.NumSet, store *imapv2.StoreFlags, options *imapv2.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imapv2.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imapv2.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// Options holds the mailbox account settings.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Folder   string
}

// ClientOpt represents a functional option that can be applied to a Client.
type ClientOpt func(*Client)

// WithLogger wires a Logger into a Client.
func WithLogger(l Logger) ClientOpt {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDialTimeout overrides the socket dial timeout.
func WithDialTimeout(d time.Duration) ClientOpt {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func withClientFactory(factory func(Options) (imapClient, error)) ClientOpt {
	return func(c *Client) {
		c.newClient = factory
	}
}

// Client implements processor.EmailRepo on top of IMAP. Every operation runs
// in its own login/select/logout session; message ids are mailbox UIDs.
type Client struct {
	opts        Options
	dialTimeout time.Duration
	logger      Logger
	newClient   func(Options) (imapClient, error)
}

// NewClient validates opts and returns a Client. An error wrapping
// processor.ErrNotConfigured is returned when host or credentials are
// missing.
func NewClient(opts Options, clientOpts ...ClientOpt) (*Client, error) {
	if opts.Host == "" || opts.Username == "" || opts.Password == "" {
		return nil, fmt.Errorf("imap needs host, username and password: %w", processor.ErrNotConfigured)
	}
	if opts.Port == 0 {
		opts.Port = 143
		if opts.UseTLS {
			opts.Port = 993
		}
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("imap port must be in the range 1-65535 (got %d)", opts.Port)
	}
	if opts.Folder == "" {
		opts.Folder = defaultFolder
	}
	c := &Client{
		opts:        opts,
		dialTimeout: defaultDialTimeout,
		logger:      log.New(io.Discard, "", log.LstdFlags),
	}
	c.newClient = c.dial
	for _, opt := range clientOpts {
		opt(c)
	}
	return c, nil
}

// Find searches the folder and returns matching UIDs, newest first, capped at
// q.MaxResults.
func (c *Client) Find(ctx context.Context, q processor.EmailQuery) ([]string, error) {
	criteria := SearchCriteria(q)
	var uids []imapv2.UID
	err := c.session(ctx, true, func(client imapClient) error {
		data, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("imap search: %w", err)
		}
		uids = data.AllUIDs()
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(uids)
	if q.MaxResults > 0 && len(uids) > q.MaxResults {
		uids = uids[:q.MaxResults]
	}
	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	c.logger.Printf("imap search in %s matched %d messages", c.opts.Folder, len(ids))
	return ids, nil
}

// Fetch downloads at most the first maxMessageBytes of the message without
// setting \Seen and parses it into a RawEmail carrying the decoded text body.
func (c *Client) Fetch(ctx context.Context, id string) (processor.RawEmail, error) {
	uid, err := parseUID(id)
	if err != nil {
		return processor.RawEmail{}, err
	}
	var raw []byte
	err = c.session(ctx, true, func(client imapClient) error {
		fetchOpts := &imapv2.FetchOptions{
			UID:         true,
			BodySection: []*imapv2.FetchItemBodySection{{
				Peek:    true,
				Partial: &imapv2.SectionPartial{Size: maxMessageBytes},
			}},
		}
		bufs, err := client.Fetch(imapv2.UIDSetNum(uid), fetchOpts).Collect()
		if err != nil {
			return fmt.Errorf("imap fetch %s: %w", id, err)
		}
		for _, buf := range bufs {
			for _, section := range buf.BodySection {
				if len(section.Bytes) > 0 {
					raw = section.Bytes
					return nil
				}
			}
		}
		return fmt.Errorf("imap message %s not found", id)
	})
	if err != nil {
		return processor.RawEmail{}, err
	}
	email, err := ParseMessage(raw)
	if err != nil {
		return processor.RawEmail{}, fmt.Errorf("parsing imap message %s: %w", id, err)
	}
	email.ID = id
	return email, nil
}

// MarkConsumed sets the \Seen flag on the message.
func (c *Client) MarkConsumed(ctx context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	return c.session(ctx, false, func(client imapClient) error {
		store := &imapv2.StoreFlags{Op: imapv2.StoreFlagsAdd, Silent: true, Flags: []imapv2.Flag{imapv2.FlagSeen}}
		if err := client.Store(imapv2.UIDSetNum(uid), store, nil).Close(); err != nil {
			return fmt.Errorf("imap store seen %s: %w", id, err)
		}
		return nil
	})
}

func (c *Client) session(ctx context.Context, readOnly bool, fn func(imapClient) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.newClient(c.opts)
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}
	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	defer func() {
		if stopClose() {
			c.safeClose(client)
		}
	}()

	err = c.converse(client, readOnly, fn)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) converse(client imapClient, readOnly bool, fn func(imapClient) error) error {
	if err := client.Login(c.opts.Username, c.opts.Password).Wait(); err != nil {
		return fmt.Errorf("imap auth: %w", err)
	}
	if _, err := client.Select(c.opts.Folder, &imapv2.SelectOptions{ReadOnly: readOnly}).Wait(); err != nil {
		return fmt.Errorf("imap select %s: %w", c.opts.Folder, err)
	}
	if err := fn(client); err != nil {
		return err
	}
	if err := client.Logout().Wait(); err != nil {
		c.logger.Printf("imap logout error: %v", err)
	}
	return nil
}

func (c *Client) safeClose(client imapClient) {
	if err := client.Close(); err != nil {
		c.logger.Printf("imap close error: %v", err)
	}
}

func (c *Client) dial(opts Options) (imapClient, error) {
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	clientOpts := &imapclient.Options{Dialer: &net.Dialer{Timeout: c.dialTimeout}}
	var (
		client *imapclient.Client
		err    error
	)
	if opts.UseTLS {
		clientOpts.TLSConfig = &tls.Config{ServerName: opts.Host}
		client, err = imapclient.DialTLS(addr, clientOpts)
	} else {
		client, err = imapclient.DialInsecure(addr, clientOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imapv2.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imapv2.SearchCriteria, options *imapv2.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imapv2.NumSet, options *imapv2.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imapv2.NumSet, store *imapv2.StoreFlags, options *imapv2.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}

// SearchCriteria converts q into an IMAP SEARCH. Senders and subject keywords
// become an OR of FROM and SUBJECT header matches; UnreadOnly adds UNSEEN. A
// SearchExpression is matched as free TEXT.
func SearchCriteria(q processor.EmailQuery) *imapv2.SearchCriteria {
	criteria := &imapv2.SearchCriteria{}
	if q.UnreadOnly {
		criteria.NotFlag = []imapv2.Flag{imapv2.FlagSeen}
	}
	if q.SearchExpression != "" {
		criteria.Text = []string{q.SearchExpression}
		return criteria
	}
	terms := make([]imapv2.SearchCriteria, 0, len(q.Senders)+len(q.SubjectKeywords))
	for _, s := range q.Senders {
		terms = append(terms, headerTerm("From", s))
	}
	for _, s := range q.SubjectKeywords {
		terms = append(terms, headerTerm("Subject", s))
	}
	switch len(terms) {
	case 0:
	case 1:
		criteria.Header = terms[0].Header
	default:
		criteria.Or = anyOf(terms).Or
	}
	return criteria
}

func headerTerm(key, value string) imapv2.SearchCriteria {
	return imapv2.SearchCriteria{Header: []imapv2.SearchCriteriaHeaderField{{Key: key, Value: value}}}
}

// anyOf folds terms into nested OR pairs; terms must not be empty.
func anyOf(terms []imapv2.SearchCriteria) imapv2.SearchCriteria {
	if len(terms) == 1 {
		return terms[0]
	}
	return imapv2.SearchCriteria{Or: [][2]imapv2.SearchCriteria{{terms[0], anyOf(terms[1:])}}}
}

// ParseMessage parses an RFC 5322 message. The returned body is the first
// text/plain part, falling back to the first text/html part, with transfer
// encoding and charset already decoded.
func ParseMessage(raw []byte) (processor.RawEmail, error) {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return processor.RawEmail{}, err
	}
	email := processor.RawEmail{
		Headers:  make(map[string]string),
		Encoding: processor.EncodingIdentity,
	}
	if subject, err := reader.Header.Subject(); err == nil && subject != "" {
		email.Headers["Subject"] = subject
	}
	if from := fromHeader(&reader.Header); from != "" {
		email.Headers["From"] = from
	}
	if date := reader.Header.Get("Date"); date != "" {
		email.Headers["Date"] = date
	}
	email.Body, email.ContentType = readBody(reader)
	return email, nil
}

func fromHeader(h *gomail.Header) string {
	list, err := h.AddressList("From")
	if err != nil || len(list) == 0 {
		return strings.TrimSpace(h.Get("From"))
	}
	if list[0].Name == "" {
		return list[0].Address
	}
	return fmt.Sprintf("%s <%s>", list[0].Name, list[0].Address)
}

func readBody(reader *gomail.Reader) (string, string) {
	var html string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mimeType, _, err := header.ContentType()
		if err != nil || mimeType == "" {
			mimeType = processor.ContentTypePlain
		}
		mimeType = strings.ToLower(mimeType)
		if mimeType != processor.ContentTypePlain && mimeType != processor.ContentTypeHTML {
			continue
		}
		// A part cut short by the partial fetch still yields its leading text.
		body, _ := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
		if len(body) == 0 {
			continue
		}
		if mimeType == processor.ContentTypePlain {
			return string(body), processor.ContentTypePlain
		}
		if html == "" {
			html = string(body)
		}
	}
	if html != "" {
		return html, processor.ContentTypeHTML
	}
	return "", processor.ContentTypePlain
}

func parseUID(id string) (imapv2.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid imap message id %q", id)
	}
	return imapv2.UID(n), nil
}
