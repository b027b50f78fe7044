package pushover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
	"unicode/utf8"

	"github.com/aculclasure/coderelay/internal/core/processor"

	"github.com/gregdel/pushover"
)

type Logger interface {
	Printf(string, ...interface{})
}

// PushoverClientOpt represents a functional option that can be wired to a
// PushoverClient.
type PushoverClientOpt func(p *PushoverClient)

// WithPushoverClientLogger accepts a Logger and returns a function that
// wires the Logger to a PushoverClient.
func WithPushoverClientLogger(l Logger) PushoverClientOpt {
	return func(p *PushoverClient) {
		p.logger = l
	}
}

// WithSound sets the Pushover sound used for code notifications. Health
// notifications always use the recipient's default sound.
func WithSound(sound string) PushoverClientOpt {
	return func(p *PushoverClient) {
		p.sound = sound
	}
}

// PushoverClient provides a client type for sending Pushover notifications.
type PushoverClient struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
	sound     string
	logger    Logger
}

// NewPushoverClient accepts a Pushover app token and a user or group key and
// returns a new PushoverClient. An error wrapping processor.ErrNotConfigured
// is returned if either is empty.
func NewPushoverClient(token, recipient string, opts ...PushoverClientOpt) (*PushoverClient, error) {
	if token == "" || recipient == "" {
		return nil, fmt.Errorf("pushover app token and recipient must be non-empty: %w", processor.ErrNotConfigured)
	}

	client := &PushoverClient{
		app:       pushover.New(token),
		recipient: pushover.NewRecipient(recipient),
		logger:    log.New(io.Discard, "", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Notify builds a Pushover message from evt and emits it. The Pushover
// library does not take a context, so the send is abandoned (not aborted)
// when ctx ends first.
func (p *PushoverClient) Notify(ctx context.Context, evt processor.Event) error {
	msg, err := p.Message(evt)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.Printf("sending pushover %s message %q", evt.Kind(), msg.Title)

	type result struct {
		resp *pushover.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := p.app.SendMessage(msg, p.recipient)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("got error sending pushover message: %w", r.err)
		}
		p.logger.Printf("pushover message sent, got response: %s", r.resp.String())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Message converts evt into a Pushover message. Title and text are cut to the
// Pushover length limits so an oversized error never gets the alert rejected.
func (p *PushoverClient) Message(evt processor.Event) (*pushover.Message, error) {
	msg, err := p.message(evt)
	if err != nil {
		return nil, err
	}
	msg.Title = truncate(msg.Title, pushover.MessageTitleMaxLength)
	msg.Message = truncate(msg.Message, pushover.MessageMaxLength)
	return msg, nil
}

func (p *PushoverClient) message(evt processor.Event) (*pushover.Message, error) {
	switch e := evt.(type) {
	case processor.CodeFound:
		return &pushover.Message{
			Title:    "Verification code " + e.Code,
			Message:  fmt.Sprintf("Code: %s\nFrom: %s\nReceived: %s", e.Code, e.Sender, e.Timestamp),
			Sound:    p.sound,
			Priority: pushover.PriorityHigh,
		}, nil
	case processor.IngestionDegraded:
		return &pushover.Message{
			Title:     "Mailbox ingestion degraded",
			Message:   e.Error,
			Timestamp: e.Since.Unix(),
		}, nil
	case processor.IngestionRecovered:
		return &pushover.Message{
			Title: "Mailbox ingestion recovered",
			Message: fmt.Sprintf("Down since %s, recovered after %ds",
				e.Since.UTC().Format(time.RFC3339), e.DownDurationSeconds()),
			Timestamp: e.RecoveredAt.Unix(),
		}, nil
	default:
		return nil, errors.New("unsupported event type")
	}
}

// truncate shortens s to at most limit runes, ending it with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
