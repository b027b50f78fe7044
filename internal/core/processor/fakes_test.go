package processor_test

import (
	"context"
	"errors"
	"sync"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

type mockEmailRepo struct {
	mu        sync.Mutex
	ids       []string
	findErr   error
	emails    map[string]processor.RawEmail
	fetchErrs map[string]error
	markErrs  map[string]error
	marked    []string
	queries   []processor.EmailQuery
}

func newMockEmailRepo(emails ...processor.RawEmail) *mockEmailRepo {
	m := &mockEmailRepo{
		emails:    make(map[string]processor.RawEmail),
		fetchErrs: make(map[string]error),
		markErrs:  make(map[string]error),
	}
	for _, e := range emails {
		m.ids = append(m.ids, e.ID)
		m.emails[e.ID] = e
	}
	return m
}

func (m *mockEmailRepo) Find(_ context.Context, q processor.EmailQuery) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.findErr != nil {
		return nil, m.findErr
	}
	return append([]string(nil), m.ids...), nil
}

func (m *mockEmailRepo) Fetch(_ context.Context, id string) (processor.RawEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fetchErrs[id]; err != nil {
		return processor.RawEmail{}, err
	}
	e, ok := m.emails[id]
	if !ok {
		return processor.RawEmail{}, errors.New("no such message " + id)
	}
	return e, nil
}

func (m *mockEmailRepo) MarkConsumed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.markErrs[id]; err != nil {
		return err
	}
	m.marked = append(m.marked, id)
	return nil
}

func (m *mockEmailRepo) markedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.marked...)
}

type mockAlertRepo struct {
	mu     sync.Mutex
	events []processor.Event
	err    error
}

func (m *mockAlertRepo) Notify(_ context.Context, evt processor.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.err
}

func (m *mockAlertRepo) sent() []processor.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]processor.Event(nil), m.events...)
}

func (m *mockAlertRepo) kinds() []processor.EventKind {
	var kinds []processor.EventKind
	for _, e := range m.sent() {
		kinds = append(kinds, e.Kind())
	}
	return kinds
}

func plainEmail(id, subject, from, body string) processor.RawEmail {
	return processor.RawEmail{
		ID: id,
		Headers: map[string]string{
			"Subject": subject,
			"From":    from,
			"Date":    "Mon, 13 Oct 2025 09:30:00 +0000",
		},
		Body:        body,
		Encoding:    processor.EncodingIdentity,
		ContentType: processor.ContentTypePlain,
	}
}
