package processor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

type deliveryRecorder struct {
	kinds     []processor.EventKind
	delivered []bool
}

func (d *deliveryRecorder) ObserveDelivery(kind processor.EventKind, delivered bool) {
	d.kinds = append(d.kinds, kind)
	d.delivered = append(d.delivered, delivered)
}

type slowAlertRepo struct{}

func (slowAlertRepo) Notify(ctx context.Context, _ processor.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestNewSendAlertUseCaseWithNilRepoReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := processor.NewSendAlertUseCase(nil); err == nil {
		t.Error("expected an error but did not get one")
	}
}

func TestSendAlertUseCaseRun(t *testing.T) {
	t.Parallel()
	testCases := map[string]struct {
		repoErr error
		want    bool
	}{
		"Delivered":       {want: true},
		"Sink rejects it": {repoErr: errors.New("503 from webhook"), want: false},
		"Not configured":  {repoErr: processor.ErrNotConfigured, want: false},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			repo := &mockAlertRepo{err: tc.repoErr}
			obs := &deliveryRecorder{}
			s, err := processor.NewSendAlertUseCase(repo, processor.WithDeliveryObserver(obs))
			if err != nil {
				t.Fatal(err)
			}
			evt := processor.CodeFound{Code: "482913"}
			if got := s.Run(context.Background(), evt); got != tc.want {
				t.Errorf("want delivered=%t, got %t", tc.want, got)
			}
			if len(obs.delivered) != 1 || obs.delivered[0] != tc.want || obs.kinds[0] != processor.KindCodeFound {
				t.Errorf("unexpected observations %+v", obs)
			}
		})
	}
}

func TestSendAlertUseCaseRunAppliesTimeout(t *testing.T) {
	t.Parallel()
	s, err := processor.NewSendAlertUseCase(slowAlertRepo{}, processor.WithSendTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if s.Run(context.Background(), processor.CodeFound{Code: "1234"}) {
		t.Error("want a timed out delivery to report failure")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("want the send timeout to bound delivery, took %s", elapsed)
	}
}
