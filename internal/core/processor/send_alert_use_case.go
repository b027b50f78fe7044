package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type AlertRepo interface {
	Notify(ctx context.Context, evt Event) error
}

// DeliveryObserver is told about every delivery attempt.
type DeliveryObserver interface {
	ObserveDelivery(kind EventKind, delivered bool)
}

type SendAlertUseCase struct {
	alertRepo AlertRepo
	timeout   time.Duration
	logger    zerolog.Logger
	observer  DeliveryObserver
}

type SendAlertOpt func(*SendAlertUseCase)

func WithSendTimeout(d time.Duration) SendAlertOpt {
	return func(s *SendAlertUseCase) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithSendLogger(l zerolog.Logger) SendAlertOpt {
	return func(s *SendAlertUseCase) {
		s.logger = l
	}
}

func WithDeliveryObserver(o DeliveryObserver) SendAlertOpt {
	return func(s *SendAlertUseCase) {
		s.observer = o
	}
}

func NewSendAlertUseCase(alertRepo AlertRepo, opts ...SendAlertOpt) (*SendAlertUseCase, error) {
	if alertRepo == nil {
		return nil, errors.New("alert repo argument must be non-nil")
	}
	s := &SendAlertUseCase{
		alertRepo: alertRepo,
		timeout:   DefaultCallTimeout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run delivers evt once and reports whether the sink accepted it. Failures
// are logged and never retried.
func (s *SendAlertUseCase) Run(ctx context.Context, evt Event) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.logger.With().
		Str("event_id", uuid.NewString()).
		Str("event", string(evt.Kind())).
		Logger()

	err := s.alertRepo.Notify(ctx, evt)
	if s.observer != nil {
		s.observer.ObserveDelivery(evt.Kind(), err == nil)
	}
	if err != nil {
		log.Error().Err(err).Msg("notification delivery failed")
		return false
	}
	log.Info().Msg("notification delivered")
	return true
}
