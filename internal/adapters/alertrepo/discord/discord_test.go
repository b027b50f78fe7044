package discord_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aculclasure/coderelay/internal/adapters/alertrepo/discord"
	"github.com/aculclasure/coderelay/internal/core/processor"
	"github.com/google/go-cmp/cmp"
)

var fixedNow = time.Date(2025, 10, 13, 9, 30, 5, 0, time.UTC)

func TestNewWebhookClientErrorCases(t *testing.T) {
	t.Parallel()
	testCases := map[string]struct {
		input         string
		notConfigured bool
	}{
		"Empty url is not configured": {input: "", notConfigured: true},
		"Relative url":                {input: "/api/webhooks/1/abc"},
		"Non http scheme":             {input: "ftp://discord.com/api/webhooks/1/abc"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := discord.NewWebhookClient(tc.input)
			if err == nil {
				t.Fatal("expected an error but did not get one")
			}
			if got := errors.Is(err, processor.ErrNotConfigured); got != tc.notConfigured {
				t.Errorf("want errors.Is(err, ErrNotConfigured) == %t, got %t (%v)", tc.notConfigured, got, err)
			}
		})
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	w, err := discord.NewWebhookClient("https://discord.example/api/webhooks/1/abc", discord.WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatal(err)
	}
	since := time.Date(2025, 10, 13, 9, 0, 0, 0, time.UTC)
	testCases := map[string]struct {
		input processor.Event
		want  discord.Embed
	}{
		"Code found": {
			input: processor.CodeFound{Code: "482913", Sender: "OpenAI <noreply@openai.com>", Timestamp: "Mon, 13 Oct 2025 09:30:00 +0000"},
			want: discord.Embed{
				Title: "Verification code",
				Color: discord.ColorCodeFound,
				Fields: []discord.Field{
					{Name: "Code", Value: "**482913**"},
					{Name: "Sender", Value: "OpenAI <noreply@openai.com>", Inline: true},
					{Name: "Time", Value: "Mon, 13 Oct 2025 09:30:00 +0000", Inline: true},
				},
				Timestamp: "2025-10-13T09:30:05Z",
				Footer:    discord.Footer{Text: "coderelay"},
			},
		},
		"Degraded": {
			input: processor.IngestionDegraded{Error: "connection refused", Since: since},
			want: discord.Embed{
				Title:       "Mailbox ingestion degraded",
				Description: "connection refused",
				Color:       discord.ColorDegraded,
				Fields:      []discord.Field{{Name: "Since", Value: "2025-10-13T09:00:00Z", Inline: true}},
				Timestamp:   "2025-10-13T09:30:05Z",
				Footer:      discord.Footer{Text: "coderelay"},
			},
		},
		"Recovered": {
			input: processor.IngestionRecovered{Since: since, RecoveredAt: since.Add(90 * time.Second), DownDuration: 90 * time.Second},
			want: discord.Embed{
				Title: "Mailbox ingestion recovered",
				Color: discord.ColorRecovered,
				Fields: []discord.Field{
					{Name: "Down since", Value: "2025-10-13T09:00:00Z", Inline: true},
					{Name: "Recovered at", Value: "2025-10-13T09:01:30Z", Inline: true},
					{Name: "Downtime", Value: "90s", Inline: true},
				},
				Timestamp: "2025-10-13T09:30:05Z",
				Footer:    discord.Footer{Text: "coderelay"},
			},
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := w.Render(tc.input)
			if err != nil {
				t.Fatal(err)
			}
			want := discord.Payload{Embeds: []discord.Embed{tc.want}}
			if !cmp.Equal(want, got) {
				t.Error(cmp.Diff(want, got))
			}
		})
	}
}

func TestNotifyPostsJSONPayload(t *testing.T) {
	t.Parallel()
	var (
		gotPayload     discord.Payload
		gotContentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := discord.NewWebhookClient(srv.URL, discord.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	err = w.Notify(context.Background(), processor.CodeFound{Code: "482913", Sender: "a@b.c", Timestamp: "now"})
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("want content type application/json, got %q", gotContentType)
	}
	if len(gotPayload.Embeds) != 1 || gotPayload.Embeds[0].Fields[0].Value != "**482913**" {
		t.Errorf("unexpected payload %+v", gotPayload)
	}
}

func TestNotifyNon2xxReturnsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	w, err := discord.NewWebhookClient(srv.URL, discord.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Notify(context.Background(), processor.IngestionDegraded{Error: "x", Since: fixedNow}); err == nil {
		t.Error("expected an error but did not get one")
	}
}

func TestNotifyHonorsContextDeadline(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	w, err := discord.NewWebhookClient(srv.URL, discord.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Notify(ctx, processor.CodeFound{Code: "1234"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want context.DeadlineExceeded, got %v", err)
	}
}

func TestRenderTruncatesOversizedError(t *testing.T) {
	t.Parallel()
	w, err := discord.NewWebhookClient("https://discord.example/api/webhooks/1/abc")
	if err != nil {
		t.Fatal(err)
	}
	testCases := map[string]struct {
		input         processor.Event
		wantDescLen   int
		wantFieldsMax int
	}{
		"Degraded with 2000 character error": {
			input:         processor.IngestionDegraded{Error: strings.Repeat("x", 2000), Since: fixedNow},
			wantDescLen:   2000,
			wantFieldsMax: 1024,
		},
		"Degraded with 5000 character error": {
			input:         processor.IngestionDegraded{Error: strings.Repeat("x", 5000), Since: fixedNow},
			wantDescLen:   4096,
			wantFieldsMax: 1024,
		},
		"Code found with oversized sender": {
			input:         processor.CodeFound{Code: "482913", Sender: strings.Repeat("s", 2000), Timestamp: "now"},
			wantFieldsMax: 1024,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			p, err := w.Render(tc.input)
			if err != nil {
				t.Fatalf("got unexpected error: %s", err)
			}
			embed := p.Embeds[0]
			if got := utf8.RuneCountInString(embed.Description); got != tc.wantDescLen {
				t.Errorf("want description of %d characters, got %d", tc.wantDescLen, got)
			}
			for _, f := range embed.Fields {
				if got := utf8.RuneCountInString(f.Value); got > tc.wantFieldsMax {
					t.Errorf("field %q has %d characters, want at most %d", f.Name, got, tc.wantFieldsMax)
				}
			}
		})
	}
}
