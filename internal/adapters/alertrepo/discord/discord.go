// Package discord delivers events to a Discord channel through an incoming
// webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

const (
	ColorCodeFound = 0xff6b35
	ColorDegraded  = 0xe74c3c
	ColorRecovered = 0x2ecc71

	// Discord embed limits, counted in characters.
	maxTitleLength       = 256
	maxDescriptionLength = 4096
	maxFieldValueLength  = 1024

	footerText = "coderelay"
	userAgent  = "coderelay-webhook/1.0"
)

type Logger interface {
	Printf(string, ...interface{})
}

// WebhookClientOpt represents a functional option that can be wired to a
// WebhookClient.
type WebhookClientOpt func(*WebhookClient)

func WithWebhookClientLogger(l Logger) WebhookClientOpt {
	return func(w *WebhookClient) {
		w.logger = l
	}
}

// WithHTTPClient replaces the HTTP client used for posting. The client's own
// timeout applies in addition to the context deadline.
func WithHTTPClient(hc *http.Client) WebhookClientOpt {
	return func(w *WebhookClient) {
		if hc != nil {
			w.hc = hc
		}
	}
}

// WithClock overrides the clock used for embed timestamps.
func WithClock(now func() time.Time) WebhookClientOpt {
	return func(w *WebhookClient) {
		if now != nil {
			w.now = now
		}
	}
}

// WebhookClient posts embeds to a Discord webhook URL.
type WebhookClient struct {
	url    string
	hc     *http.Client
	logger Logger
	now    func() time.Time
}

// NewWebhookClient returns a WebhookClient for webhookURL. An error wrapping
// processor.ErrNotConfigured is returned when webhookURL is empty, and a
// plain error when it is not an absolute http(s) URL.
func NewWebhookClient(webhookURL string, opts ...WebhookClientOpt) (*WebhookClient, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("discord webhook url is empty: %w", processor.ErrNotConfigured)
	}
	u, err := url.Parse(webhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("discord webhook url %q must be an absolute http(s) url", webhookURL)
	}
	w := &WebhookClient{
		url:    webhookURL,
		hc:     &http.Client{Timeout: 30 * time.Second},
		logger: log.New(io.Discard, "", log.LstdFlags),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Payload is the JSON body of a webhook execution.
type Payload struct {
	Embeds []Embed `json:"embeds"`
}

type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp"`
	Footer      Footer  `json:"footer"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Footer struct {
	Text string `json:"text"`
}

// Notify renders evt as an embed and posts it. Any non-2xx response is an
// error.
func (w *WebhookClient) Notify(ctx context.Context, evt processor.Event) error {
	payload, err := w.Render(evt)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("got error encoding discord payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("got error creating discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.hc.Do(req)
	if err != nil {
		return fmt.Errorf("got error posting to discord webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned %s", resp.Status)
	}
	w.logger.Printf("discord webhook accepted %s event (%s)", evt.Kind(), resp.Status)
	return nil
}

// Render builds the webhook payload for evt.
func (w *WebhookClient) Render(evt processor.Event) (Payload, error) {
	embed := Embed{
		Timestamp: w.now().UTC().Format(time.RFC3339),
		Footer:    Footer{Text: footerText},
	}
	switch e := evt.(type) {
	case processor.CodeFound:
		embed.Title = "Verification code"
		embed.Color = ColorCodeFound
		embed.Fields = []Field{
			{Name: "Code", Value: "**" + e.Code + "**"},
			{Name: "Sender", Value: e.Sender, Inline: true},
			{Name: "Time", Value: e.Timestamp, Inline: true},
		}
	case processor.IngestionDegraded:
		embed.Title = "Mailbox ingestion degraded"
		embed.Color = ColorDegraded
		embed.Description = e.Error
		embed.Fields = []Field{
			{Name: "Since", Value: e.Since.UTC().Format(time.RFC3339), Inline: true},
		}
	case processor.IngestionRecovered:
		embed.Title = "Mailbox ingestion recovered"
		embed.Color = ColorRecovered
		embed.Fields = []Field{
			{Name: "Down since", Value: e.Since.UTC().Format(time.RFC3339), Inline: true},
			{Name: "Recovered at", Value: e.RecoveredAt.UTC().Format(time.RFC3339), Inline: true},
			{Name: "Downtime", Value: strconv.FormatInt(e.DownDurationSeconds(), 10) + "s", Inline: true},
		}
	default:
		return Payload{}, errors.New("unsupported event type")
	}
	embed.Title = truncate(embed.Title, maxTitleLength)
	embed.Description = truncate(embed.Description, maxDescriptionLength)
	for i := range embed.Fields {
		embed.Fields[i].Value = truncate(embed.Fields[i].Value, maxFieldValueLength)
	}
	return Payload{Embeds: []Embed{embed}}, nil
}

// truncate shortens s to at most limit runes, ending it with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
