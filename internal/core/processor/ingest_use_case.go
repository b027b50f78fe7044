package processor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCallTimeout = 8 * time.Second
	DefaultWorkers     = 4
)

// Message outcomes reported to an IngestObserver.
const (
	OutcomeFetchError   = "fetch_error"
	OutcomeDecodeError  = "decode_error"
	OutcomeUnclassified = "unclassified"
	OutcomeMarkError    = "mark_error"
)

// Cycle results reported to an IngestObserver.
const (
	CycleFailed    = "failed"
	CycleEmpty     = "empty"
	CycleProcessed = "processed"
)

type HealthRecorder interface {
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context, cause error)
}

type IngestObserver interface {
	ObserveCycle(result string, elapsed time.Duration)
	ObserveMessage(outcome string)
}

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	Found      int `json:"found"`
	Fetched    int `json:"fetched"`
	Classified int `json:"classified"`
	CodesFound int `json:"codes_found"`
	Delivered  int `json:"delivered"`
	Consumed   int `json:"consumed"`
	Skipped    int `json:"skipped"`
}

type cycleCounters struct {
	fetched, classified, codes, delivered, consumed, skipped atomic.Int64
}

func (c *cycleCounters) report(found int) CycleReport {
	return CycleReport{
		Found:      found,
		Fetched:    int(c.fetched.Load()),
		Classified: int(c.classified.Load()),
		CodesFound: int(c.codes.Load()),
		Delivered:  int(c.delivered.Load()),
		Consumed:   int(c.consumed.Load()),
		Skipped:    int(c.skipped.Load()),
	}
}

// IngestUseCase runs one query → fetch → extract → notify → mark-consumed
// cycle against a mailbox.
type IngestUseCase struct {
	finder      *FindEmailsUseCase
	emailRepo   EmailRepo
	alerter     Alerter
	health      HealthRecorder
	query       EmailQuery
	workers     int
	callTimeout time.Duration
	logger      zerolog.Logger
	observer    IngestObserver
	now         func() time.Time
}

type IngestOpt func(*IngestUseCase)

func WithQuery(q EmailQuery) IngestOpt {
	return func(u *IngestUseCase) {
		u.query = q
	}
}

// WithWorkers bounds how many messages of a batch are processed at once. A
// value of 1 processes messages strictly in the order the mailbox returned
// them.
func WithWorkers(n int) IngestOpt {
	return func(u *IngestUseCase) {
		if n > 0 {
			u.workers = n
		}
	}
}

func WithCallTimeout(d time.Duration) IngestOpt {
	return func(u *IngestUseCase) {
		if d > 0 {
			u.callTimeout = d
		}
	}
}

func WithIngestLogger(l zerolog.Logger) IngestOpt {
	return func(u *IngestUseCase) {
		u.logger = l
	}
}

func WithIngestObserver(o IngestObserver) IngestOpt {
	return func(u *IngestUseCase) {
		u.observer = o
	}
}

func NewIngestUseCase(emailRepo EmailRepo, alerter Alerter, health HealthRecorder, opts ...IngestOpt) (*IngestUseCase, error) {
	if emailRepo == nil || alerter == nil || health == nil {
		return nil, errors.New("email repo, alerter and health recorder arguments must be non-nil")
	}
	finder, err := NewFindEmailsUseCase(emailRepo)
	if err != nil {
		return nil, err
	}
	u := &IngestUseCase{
		finder:      finder,
		emailRepo:   emailRepo,
		alerter:     alerter,
		health:      health,
		query:       DefaultEmailQuery(),
		workers:     DefaultWorkers,
		callTimeout: DefaultCallTimeout,
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	if err := u.query.OK(); err != nil {
		return nil, err
	}
	return u, nil
}

// Run executes one cycle. Only a failed mailbox query is returned as an
// error; per-message failures are logged and counted as skipped. Once ctx is
// cancelled no further messages are started, but messages already in flight
// run to completion.
func (u *IngestUseCase) Run(ctx context.Context) (CycleReport, error) {
	start := u.now()

	// Health alerts and message work outlive a cancelled cycle.
	detached := context.WithoutCancel(ctx)
	qctx, cancel := context.WithTimeout(ctx, u.callTimeout)
	res, err := u.finder.Run(qctx, u.query)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return CycleReport{}, ctx.Err()
		}
		u.logger.Error().Err(err).Msg("mailbox query failed")
		u.health.RecordFailure(detached, err)
		u.observeCycle(CycleFailed, start)
		return CycleReport{}, err
	}
	u.health.RecordSuccess(detached)

	found := len(res.MatchingEmails)
	if found == 0 {
		u.logger.Debug().Msg("no matching unread messages")
		u.observeCycle(CycleEmpty, start)
		return CycleReport{}, nil
	}
	u.logger.Info().Int("count", found).Msg("found matching unread messages")

	var (
		counters cycleCounters
		g        errgroup.Group
	)
	g.SetLimit(u.workers)
	for _, id := range res.MatchingEmails {
		if ctx.Err() != nil {
			u.logger.Warn().Msg("cycle cancelled, leaving remaining messages for the next run")
			break
		}
		id := id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			u.process(detached, id, &counters)
			return nil
		})
	}
	_ = g.Wait()

	report := counters.report(found)
	u.logger.Info().
		Int("found", report.Found).
		Int("codes", report.CodesFound).
		Int("delivered", report.Delivered).
		Int("consumed", report.Consumed).
		Int("skipped", report.Skipped).
		Msg("cycle complete")
	u.observeCycle(CycleProcessed, start)
	return report, nil
}

func (u *IngestUseCase) process(ctx context.Context, id string, c *cycleCounters) {
	log := u.logger.With().Str("message_id", id).Logger()

	fctx, cancel := context.WithTimeout(ctx, u.callTimeout)
	raw, err := u.emailRepo.Fetch(fctx, id)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("fetching message failed, skipping")
		c.skipped.Add(1)
		u.observeMessage(OutcomeFetchError)
		return
	}
	c.fetched.Add(1)
	if raw.ID == "" {
		raw.ID = id
	}

	body, err := DecodeBody(raw)
	if err != nil {
		log.Error().Err(err).Msg("decoding message body failed, skipping")
		c.skipped.Add(1)
		u.observeMessage(OutcomeDecodeError)
		return
	}

	msg := newInboundMessage(raw, body)
	res := ExtractCode(msg.Subject, msg.Body)
	if res == nil {
		log.Debug().Str("subject", msg.Subject).Msg("not a verification message")
		u.observeMessage(OutcomeUnclassified)
		return
	}
	c.classified.Add(1)
	log.Info().
		Str("subject", msg.Subject).
		Str("from", msg.From).
		Str("classification", string(res.Classification)).
		Msg("verification message found")

	if res.Code != "" {
		c.codes.Add(1)
		evt := CodeFound{
			Code:      res.Code,
			Sender:    msg.From,
			Timestamp: msg.Date,
			Subject:   msg.Subject,
			MessageID: msg.ID,
		}
		if u.alerter.Run(ctx, evt) {
			c.delivered.Add(1)
		}
	}

	mctx, cancel := context.WithTimeout(ctx, u.callTimeout)
	err = u.emailRepo.MarkConsumed(mctx, id)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("marking message consumed failed, it may be processed again")
		u.observeMessage(OutcomeMarkError)
		return
	}
	c.consumed.Add(1)
	u.observeMessage(string(res.Classification))
}

// Find runs an ad-hoc search against the mailbox without touching any
// message.
func (u *IngestUseCase) Find(ctx context.Context, q EmailQuery) (EmailQueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, u.callTimeout)
	defer cancel()
	return u.finder.Run(ctx, q)
}

func (u *IngestUseCase) observeCycle(result string, start time.Time) {
	if u.observer != nil {
		u.observer.ObserveCycle(result, u.now().Sub(start))
	}
}

func (u *IngestUseCase) observeMessage(outcome string) {
	if u.observer != nil {
		u.observer.ObserveMessage(outcome)
	}
}
