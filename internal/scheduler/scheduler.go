// Package scheduler runs work on the host tick.
//
// The host invokes Tick from its own execution context at its own cadence.
// Every read or write of host state happens inside a WorkUnit executed
// there; worker goroutines only ever Schedule units and wait on a
// Correlation for the outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"xpbridge/internal/host"
	"xpbridge/internal/metrics"
)

// DefaultInterval is the tick interval requested from the host.
const DefaultInterval = 250 * time.Millisecond

var (
	// ErrStopping is returned when work is offered after Stop.
	ErrStopping = errors.New("scheduler stopping")
	// ErrUnitPanicked wraps a panic recovered from a unit.
	ErrUnitPanicked = errors.New("work unit panicked")
)

// Status is what a unit reports after running once.
type Status int

const (
	// Done removes the unit from the queue.
	Done Status = iota
	// Pending keeps the unit and runs it again on the next tick.
	Pending
)

func (s Status) String() string {
	if s == Pending {
		return "pending"
	}
	return "done"
}

// WorkUnit is deferred logic executed on the tick.
type WorkUnit func() Status

// Scheduler owns the host tick callback and the queue of pending units.
type Scheduler struct {
	log      *zap.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	mu       sync.Mutex
	pending  []WorkUnit
	stopping bool

	unregister func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(log *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:      log.Named("scheduler"),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach registers Tick with the host. It must be called once, before any
// work is expected to run.
func (s *Scheduler) Attach(h host.TickRegistrar) {
	s.unregister = h.RegisterTick(s.Tick, s.interval)
	s.log.Info("tick callback registered", zap.Duration("interval", s.interval))
}

// Schedule queues u for the next tick. Once Stop has been called the unit is
// dropped and Schedule reports false.
func (s *Scheduler) Schedule(u WorkUnit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return false
	}
	s.pending = append(s.pending, u)
	s.metrics.SetQueueDepth(len(s.pending))
	return true
}

// Tick drains the queue, running every unit present at the start of the
// tick in FIFO order. Units reporting Pending are kept for the next tick.
// The return value is the interval until the next desired tick.
func (s *Scheduler) Tick() time.Duration {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.metrics.ObserveTick()
	if len(batch) == 0 {
		return s.interval
	}
	s.log.Debug("running units", zap.Int("count", len(batch)))

	var retained []WorkUnit
	for _, u := range batch {
		if s.run(u) == Pending {
			retained = append(retained, u)
		}
	}

	s.mu.Lock()
	s.pending = append(retained, s.pending...)
	s.metrics.SetQueueDepth(len(s.pending))
	s.mu.Unlock()

	return s.interval
}

// run executes one unit. A panicking unit is logged and dropped; nothing
// may escape into the host's tick.
func (s *Scheduler) run(u WorkUnit) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("work unit panicked", zap.Any("panic", r))
			s.metrics.ObserveUnit("panicked")
			status = Done
		}
	}()
	status = u()
	s.metrics.ObserveUnit(status.String())
	return status
}

// Stop refuses further work. Units already queued keep running on any tick
// the host still delivers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
}

// Stopping reports whether Stop was called.
func (s *Scheduler) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Close stops the scheduler and unregisters the tick callback.
func (s *Scheduler) Close() {
	s.Stop()
	if s.unregister != nil {
		s.unregister()
		s.unregister = nil
		s.log.Info("tick callback unregistered")
	}
}

// Len is the number of queued units.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Call runs fn once on the tick and waits for its result. It fails with
// ErrStopping without waiting if the scheduler no longer accepts work, and
// with ctx.Err() if ctx ends first.
func Call[T any](ctx context.Context, s *Scheduler, fn func() (T, error)) (T, error) {
	corr := NewCorrelation[T]()
	ok := s.Schedule(func() Status {
		defer func() {
			if r := recover(); r != nil {
				corr.Fail(fmt.Errorf("%w: %v", ErrUnitPanicked, r))
			}
		}()
		v, err := fn()
		if err != nil {
			corr.Fail(err)
		} else {
			corr.Complete(v)
		}
		return Done
	})
	if !ok {
		var zero T
		return zero, ErrStopping
	}
	return corr.Wait(ctx)
}
