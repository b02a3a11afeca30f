// Package scheduler drives autoflow-worker: it advances due executions,
// expires event waits and fires scheduled triggers. Every item is processed
// under a lease so that several workers can share one store.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/config"
	"github.com/dukex/autoflow/pkg/lease"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/workflow"
	"golang.org/x/sync/errgroup"
)

type Scheduler struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	executor    *workflow.Executor
	matcher     *workflow.TriggerMatcher
	locker      lease.Locker
	config      config.Worker
	now         func() time.Time

	mu       sync.Mutex
	cronFrom time.Time
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(
	logger *slog.Logger,
	persistence persistence.Persistence,
	executor *workflow.Executor,
	matcher *workflow.TriggerMatcher,
	locker lease.Locker,
	cfg config.Worker,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		logger:      logger.With("module", "scheduler"),
		persistence: persistence,
		executor:    executor,
		matcher:     matcher,
		locker:      locker,
		config:      cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	s.cronFrom = s.now()

	return s
}

// Run scans every poll interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Scheduler started",
		"poll_interval", s.config.PollInterval,
		"concurrency", s.config.Concurrency,
		"batch_size", s.config.BatchSize)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "Scheduler tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")

			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one scan: scheduled triggers first so their executions are
// picked up by the same pass, then expired waits, then due executions.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	return errors.Join(
		s.fireSchedules(ctx, now),
		s.expireSubscriptions(ctx, now),
		s.advanceDue(ctx, now),
	)
}

func (s *Scheduler) advanceDue(ctx context.Context, now time.Time) error {
	due, err := s.persistence.ExecutionRepository().FindDue(ctx, now, s.config.BatchSize)
	if err != nil {
		return err
	}

	return s.each(ctx, len(due), func(ctx context.Context, i int) error {
		execution := due[i]

		return s.withLease(ctx, "execution:"+execution.ID, s.config.LeaseTTL, func(ctx context.Context) error {
			return s.executor.Advance(ctx, execution.ID)
		})
	})
}

func (s *Scheduler) expireSubscriptions(ctx context.Context, now time.Time) error {
	expired, err := s.persistence.SubscriptionRepository().FindExpired(ctx, now, s.config.BatchSize)
	if err != nil {
		return err
	}

	return s.each(ctx, len(expired), func(ctx context.Context, i int) error {
		subscription := expired[i]

		// the execution lease keeps Expire from racing Advance on the same execution
		return s.withLease(ctx, "execution:"+subscription.ExecutionID, s.config.LeaseTTL, func(ctx context.Context) error {
			resumed, err := s.executor.Expire(ctx, subscription)
			if err != nil {
				return err
			}

			s.logger.DebugContext(ctx, "Subscription expired",
				"subscription_id", subscription.ID,
				"execution_id", subscription.ExecutionID,
				"resumed", resumed)

			return nil
		})
	})
}

// each runs fn for n items with at most config.Concurrency in flight. A
// failing item does not stop the others.
func (s *Scheduler) each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Concurrency)

	for i := range n {
		group.Go(func() error {
			if err := fn(ctx, i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}

			return nil
		})
	}

	_ = group.Wait()

	return errors.Join(errs...)
}

// errLeaseLost cancels work whose lease expired or was taken over.
var errLeaseLost = errors.New("lease lost")

// withLease runs fn only when key can be leased. A key held by another
// worker is skipped silently. The lease is renewed every third of its ttl
// while fn runs; if it is lost, fn's context is cancelled and fn stops before
// its next step.
func (s *Scheduler) withLease(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, ok, err := s.locker.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	if !ok {
		s.logger.DebugContext(ctx, "Lease held elsewhere", "key", key)

		return nil
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	renewing := make(chan struct{})

	go func() {
		defer close(renewing)

		s.renew(leaseCtx, cancel, key, token, ttl)
	}()

	defer func() {
		cancel(nil)
		<-renewing

		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil && !errors.Is(err, lease.ErrNotHeld) {
			s.logger.WarnContext(ctx, "Failed to release lease", "key", key, "error", err)
		}
	}()

	err = fn(leaseCtx)

	if errors.Is(context.Cause(leaseCtx), errLeaseLost) {
		s.logger.WarnContext(ctx, "Lease lost, work stopped", "key", key, "error", err)

		return nil
	}

	return err
}

func (s *Scheduler) renew(ctx context.Context, cancel context.CancelCauseFunc, key, token string, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := s.locker.Extend(ctx, key, token, ttl)

		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, lease.ErrNotHeld):
			cancel(errLeaseLost)

			return
		default:
			s.logger.WarnContext(ctx, "Failed to renew lease", "key", key, "error", err)
		}
	}
}
