// Package scheduler drives ingestion cycles on a fixed period and serializes
// them with manual triggers.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

const DefaultInterval = 10 * time.Second

// ErrStopped is returned by Trigger once Stop has been called.
var ErrStopped = errors.New("scheduler stopped")

// Cycle is one unit of scheduled work.
type Cycle interface {
	Run(ctx context.Context) (processor.CycleReport, error)
}

// LastRun describes the most recently finished cycle.
type LastRun struct {
	At       time.Time
	Duration time.Duration
	Report   processor.CycleReport
	Err      error
	Manual   bool
}

type options struct {
	interval   time.Duration
	runOnStart bool
	logger     zerolog.Logger
	now        func() time.Time
}

// Option applies configuration to a Scheduler.
type Option func(*options)

// WithInterval sets the polling period.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithRunOnStart runs one cycle immediately when the scheduler starts.
func WithRunOnStart(run bool) Option {
	return func(o *options) {
		o.runOnStart = run
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Scheduler runs at most one cycle at a time. Scheduled ticks that find a
// cycle in flight are dropped; manual triggers wait for their turn.
type Scheduler struct {
	cycle      Cycle
	cron       *cron.Cron
	interval   time.Duration
	runOnStart bool
	logger     zerolog.Logger
	now        func() time.Time

	slot    chan struct{}
	stopped chan struct{}
	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	mu   sync.Mutex
	last *LastRun
}

// New returns a Scheduler for cycle. An error is returned if cycle is nil or
// the interval is not positive.
func New(cycle Cycle, opts ...Option) (*Scheduler, error) {
	if cycle == nil {
		return nil, errors.New("cycle argument must be non-nil")
	}
	o := options{
		interval: DefaultInterval,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.interval <= 0 {
		return nil, errors.New("interval must be positive")
	}

	cronLogger := cron.PrintfLogger(&o.logger)
	s := &Scheduler{
		cycle:      cycle,
		interval:   o.interval,
		runOnStart: o.runOnStart,
		logger:     o.logger,
		now:        o.now,
		slot:       make(chan struct{}, 1),
		stopped:    make(chan struct{}),
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
	s.rootCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Interval returns the polling period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins periodic execution. Cycles started by the scheduler run under
// a context derived from ctx. Calling Start more than once has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		stop := context.AfterFunc(ctx, s.cancel)
		go func() {
			<-s.stopped
			stop()
		}()
		s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.tick))
		s.cron.Start()
		s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
		if s.runOnStart {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.tick()
			}()
		}
	})
}

// Stop cancels the scheduler context so no new message is started, then
// waits for the cycle in flight, scheduled or manual, to finish. Later
// triggers fail with ErrStopped.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.cancel()
		<-s.cron.Stop().Done()
		s.wg.Wait()
		s.slot <- struct{}{}
		s.logger.Info().Msg("scheduler stopped")
	})
}

// Trigger runs one cycle now, waiting for any cycle in flight to finish
// first. It returns ctx.Err() if ctx ends while waiting.
func (s *Scheduler) Trigger(ctx context.Context) (processor.CycleReport, error) {
	select {
	case <-s.stopped:
		return processor.CycleReport{}, ErrStopped
	default:
	}
	select {
	case s.slot <- struct{}{}:
	case <-s.stopped:
		return processor.CycleReport{}, ErrStopped
	case <-ctx.Done():
		return processor.CycleReport{}, ctx.Err()
	}
	defer s.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.rootCtx, cancel)
	defer stop()
	return s.run(ctx, true)
}

// LastRun returns the most recently finished cycle, if any.
func (s *Scheduler) LastRun() (LastRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return LastRun{}, false
	}
	return *s.last, true
}

func (s *Scheduler) tick() {
	if s.rootCtx.Err() != nil {
		return
	}
	select {
	case s.slot <- struct{}{}:
	default:
		s.logger.Debug().Msg("cycle still in flight, skipping tick")
		return
	}
	defer s.release()
	s.run(s.rootCtx, false)
}

func (s *Scheduler) release() {
	<-s.slot
}

func (s *Scheduler) run(ctx context.Context, manual bool) (processor.CycleReport, error) {
	start := s.now()
	report, err := s.cycle.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Bool("manual", manual).Msg("cycle failed")
	}
	s.mu.Lock()
	s.last = &LastRun{
		At:       start,
		Duration: s.now().Sub(start),
		Report:   report,
		Err:      err,
		Manual:   manual,
	}
	s.mu.Unlock()
	return report, err
}
