package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

// blockingCycle counts runs and blocks each one until release is closed.
type blockingCycle struct {
	runs    atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingCycle() *blockingCycle {
	return &blockingCycle{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (c *blockingCycle) Run(ctx context.Context) (processor.CycleReport, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	c.runs.Add(1)
	c.started <- struct{}{}
	<-c.release
	return processor.CycleReport{Found: 1}, c.err
}

func waitStarted(t *testing.T, c *blockingCycle) {
	t.Helper()
	select {
	case <-c.started:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not start")
	}
}

func TestNewRejectsInvalidArguments(t *testing.T) {
	t.Parallel()
	if _, err := New(nil); err == nil {
		t.Error("want error for nil cycle")
	}
	if _, err := New(newBlockingCycle(), WithInterval(0)); err == nil {
		t.Error("want error for zero interval")
	}
}

func TestTickIsSkippedWhileCycleInFlight(t *testing.T) {
	t.Parallel()
	c := newBlockingCycle()
	s, err := New(c, WithInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()
	waitStarted(t, c)

	s.tick()
	if got := c.runs.Load(); got != 1 {
		t.Errorf("want overlapping tick to be skipped, got %d runs", got)
	}
	close(c.release)
	<-done
}

func TestTriggerWaitsForInFlightCycle(t *testing.T) {
	t.Parallel()
	c := newBlockingCycle()
	s, err := New(c, WithInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	go s.tick()
	waitStarted(t, c)

	var wg sync.WaitGroup
	wg.Add(1)
	var report processor.CycleReport
	var triggerErr error
	go func() {
		defer wg.Done()
		report, triggerErr = s.Trigger(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	if got := c.runs.Load(); got != 1 {
		t.Fatalf("want trigger to wait for the running cycle, got %d runs", got)
	}
	close(c.release)
	wg.Wait()

	if triggerErr != nil {
		t.Fatalf("got unexpected error: %s", triggerErr)
	}
	if report.Found != 1 {
		t.Errorf("want report from triggered cycle, got %+v", report)
	}
	if got := c.runs.Load(); got != 2 {
		t.Errorf("want 2 runs, got %d", got)
	}
	if got := c.maxSeen.Load(); got != 1 {
		t.Errorf("want at most one cycle in flight, saw %d", got)
	}
}

func TestTriggerReturnsContextErrorWhileWaiting(t *testing.T) {
	t.Parallel()
	c := newBlockingCycle()
	s, err := New(c, WithInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	go s.tick()
	waitStarted(t, c)
	defer close(c.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Trigger(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want context.DeadlineExceeded, got %v", err)
	}
}

func TestRunOnStartAndStopWaitsForCycle(t *testing.T) {
	t.Parallel()
	c := newBlockingCycle()
	s, err := New(c, WithInterval(time.Hour), WithRunOnStart(true))
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	waitStarted(t, c)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(c.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}

	if _, err := s.Trigger(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("want ErrStopped after Stop, got %v", err)
	}
}

func TestLastRunRecordsOutcome(t *testing.T) {
	t.Parallel()
	c := newBlockingCycle()
	c.err = errors.New("mailbox down")
	close(c.release)
	s, err := New(c, WithInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.LastRun(); ok {
		t.Fatal("want no last run before any cycle")
	}
	if _, err := s.Trigger(context.Background()); err == nil {
		t.Fatal("expected the cycle error to be returned")
	}
	last, ok := s.LastRun()
	if !ok {
		t.Fatal("want last run after a cycle")
	}
	if !last.Manual || last.Err == nil || last.Report.Found != 1 {
		t.Errorf("unexpected last run %+v", last)
	}
}

func TestScheduledTicksRunCycles(t *testing.T) {
	t.Parallel()
	c := newBlockingCycle()
	close(c.release)
	s, err := New(c, WithInterval(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop()
	waitStarted(t, c)
}
