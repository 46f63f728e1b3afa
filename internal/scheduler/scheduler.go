// Package scheduler drives per-subscriber word-of-the-day transitions on a
// one-minute cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/rotation"
)

// everyMinute is the evaluation cadence. sendTime has minute precision.
const everyMinute = "* * * * *"

// DefaultTransitionTimeout bounds a single subscriber transition.
const DefaultTransitionTimeout = 30 * time.Second

// Engine is the subset of the rotation engine the scheduler drives.
type Engine interface {
	Subscribers(ctx context.Context) ([]*domain.Subscriber, error)
	Deliver(ctx context.Context, subscriberID string, now time.Time) (rotation.Delivery, error)
}

// Scheduler evaluates every subscriber once per minute and dispatches the due
// ones concurrently. It never waits on a dispatched transition before the
// next tick.
type Scheduler struct {
	engine  Engine
	cron    *cron.Cron
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeout sets the per-transition timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a scheduler over engine. Call Start to begin ticking.
func New(engine Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:  engine,
		timeout: DefaultTransitionTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	return s
}

// Start registers the minute job and starts the cron runner. Transitions run
// under contexts derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	if _, err := s.cron.AddFunc(everyMinute, func() {
		s.Tick(runCtx, s.now())
	}); err != nil {
		s.cancel()
		s.cancel = nil
		return fmt.Errorf("add tick job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Tick scheduler started", "cadence", everyMinute, "transition_timeout", s.timeout)
	return nil
}

// Stop stops the cron runner and waits for in-flight transitions until ctx
// ends. Transitions still running at that point are cancelled and left behind.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for in-flight transitions: %w", ctx.Err())
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Tick scheduler stopped with transitions in flight", "error", err)
		return err
	}
	s.logger.Info("Tick scheduler stopped")
	return nil
}

// Tick snapshots the subscriber list and dispatches a transition for each
// subscriber whose local HH:MM equals its send time. It returns the number of
// dispatched subscribers without waiting for them.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	subs, err := s.engine.Subscribers(ctx)
	if err != nil {
		s.logger.Error("Tick skipped, cannot list subscribers", "error", err)
		return 0
	}

	dispatched := 0
	for _, sub := range subs {
		if sub.IsPaused || !sub.IsDue(now) {
			continue
		}
		dispatched++
		s.wg.Add(1)
		go s.run(ctx, sub.ID, now)
	}

	if dispatched > 0 {
		s.logger.Debug("Tick dispatched", "due", dispatched, "subscribers", len(subs))
	}
	return dispatched
}

func (s *Scheduler) run(ctx context.Context, subscriberID string, now time.Time) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Transition panicked", "subscriber_id", subscriberID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.engine.Deliver(ctx, subscriberID, now); err != nil {
		s.logger.Warn("Transition failed, retrying on next due tick",
			"subscriber_id", subscriberID,
			"error", err)
	}
}

// Wait blocks until every dispatched transition has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
