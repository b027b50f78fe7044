// Package alertrepo combines notification sinks.
package alertrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/aculclasure/coderelay/internal/core/processor"

	"golang.org/x/sync/errgroup"
)

type Logger interface {
	Printf(string, ...interface{})
}

// Sink is a named processor.AlertRepo.
type Sink struct {
	Name string
	Repo processor.AlertRepo
}

// Fanout delivers every event to all of its sinks concurrently.
type Fanout struct {
	sinks  []Sink
	logger Logger
}

type FanoutOpt func(*Fanout)

func WithFanoutLogger(l Logger) FanoutOpt {
	return func(f *Fanout) {
		f.logger = l
	}
}

// NewFanout returns a Fanout over sinks. Sinks with a nil Repo are dropped.
func NewFanout(sinks []Sink, opts ...FanoutOpt) *Fanout {
	f := &Fanout{logger: log.New(io.Discard, "", log.LstdFlags)}
	for _, s := range sinks {
		if s.Repo != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Configured reports whether at least one sink is present.
func (f *Fanout) Configured() bool {
	return len(f.sinks) > 0
}

// Names returns the names of the sinks in order.
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name)
	}
	return names
}

// Notify sends evt to every sink and waits for all of them. The event counts
// as delivered when at least one sink accepted it; failures of the remaining
// sinks are logged. If every sink fails the joined errors are returned.
func (f *Fanout) Notify(ctx context.Context, evt processor.Event) error {
	if len(f.sinks) == 0 {
		return fmt.Errorf("no notification sink: %w", processor.ErrNotConfigured)
	}
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, s := range f.sinks {
		g.Go(func() error {
			if err := s.Repo.Notify(ctx, evt); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == len(f.sinks) {
		return errors.Join(failed...)
	}
	for _, err := range failed {
		f.logger.Printf("partial delivery of %s event, sink failed: %s", evt.Kind(), err)
	}
	return nil
}
