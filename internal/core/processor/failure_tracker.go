package processor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FailureState is a point-in-time copy of the tracker state. LastError and
// FailedAt are only meaningful while Down is true.
type FailureState struct {
	Down      bool
	LastError string
	FailedAt  time.Time
}

// Alerter delivers a single event. *SendAlertUseCase satisfies it.
type Alerter interface {
	Run(ctx context.Context, evt Event) bool
}

// FailureTracker records the health of the ingestion path and emits exactly
// one degraded alert per up→down transition and one recovered alert per
// down→up transition.
type FailureTracker struct {
	mu      sync.Mutex
	state   FailureState
	alerter Alerter
	now     func() time.Time
	onState func(down bool)
}

type FailureTrackerOpt func(*FailureTracker)

// WithTrackerClock overrides the wall clock, primarily for tests.
func WithTrackerClock(now func() time.Time) FailureTrackerOpt {
	return func(t *FailureTracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithStateHook registers a function called after every transition.
func WithStateHook(fn func(down bool)) FailureTrackerOpt {
	return func(t *FailureTracker) {
		t.onState = fn
	}
}

func NewFailureTracker(alerter Alerter, opts ...FailureTrackerOpt) (*FailureTracker, error) {
	if alerter == nil {
		return nil, errors.New("alerter argument must be non-nil")
	}
	t := &FailureTracker{
		alerter: alerter,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// RecordFailure moves the tracker to down and emits IngestionDegraded. It is
// a no-op if the tracker is already down.
func (t *FailureTracker) RecordFailure(ctx context.Context, cause error) {
	t.mu.Lock()
	if t.state.Down {
		t.mu.Unlock()
		return
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	t.state = FailureState{Down: true, LastError: msg, FailedAt: t.now()}
	evt := IngestionDegraded{Error: msg, Since: t.state.FailedAt}
	t.mu.Unlock()

	t.notifyState(true)
	t.alerter.Run(ctx, evt)
}

// RecordSuccess moves the tracker back to up and emits IngestionRecovered.
// It is a no-op if the tracker is already up.
func (t *FailureTracker) RecordSuccess(ctx context.Context) {
	t.mu.Lock()
	if !t.state.Down {
		t.mu.Unlock()
		return
	}
	now := t.now()
	evt := IngestionRecovered{
		Since:        t.state.FailedAt,
		RecoveredAt:  now,
		DownDuration: now.Sub(t.state.FailedAt),
	}
	t.state = FailureState{}
	t.mu.Unlock()

	t.notifyState(false)
	t.alerter.Run(ctx, evt)
}

func (t *FailureTracker) State() FailureState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *FailureTracker) notifyState(down bool) {
	if t.onState != nil {
		t.onState(down)
	}
}
