package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/config"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/lease"
	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/notify"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/scheduler"
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Worker consumes trigger events and drives the scheduler loop.
type Worker struct {
	id        string
	logger    *slog.Logger
	eventBus  eventbus.EventBus
	scheduler *scheduler.Scheduler
}

func NewWorker(
	id string,
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	locker lease.Locker,
	cfg config.Worker,
	tracer trace.Tracer,
	registerer prometheus.Registerer,
) *Worker {
	logger = logger.With("worker_id", id)

	executor := workflow.NewExecutor(logger, persistence, registry,
		workflow.WithPublisher(eventBus),
		workflow.WithNotifier(notify.NewBusNotifier(eventBus)),
		workflow.WithMetrics(metrics.NewPrometheusCollector(registerer)),
		workflow.WithTracer(tracer),
		workflow.WithStepBudget(cfg.StepBudget),
	)

	matcher := workflow.NewTriggerMatcher(logger, persistence, workflow.WithMatcherTracer(tracer))

	return &Worker{
		id:        id,
		logger:    logger.With("module", "worker"),
		eventBus:  eventBus,
		scheduler: scheduler.New(logger, persistence, executor, matcher, locker, cfg),
	}
}

// Start subscribes to trigger events and blocks in the scheduler loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	if err := w.scheduler.Register(w.eventBus); err != nil {
		return fmt.Errorf("failed to register trigger handler: %w", err)
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	err := w.scheduler.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	w.logger.InfoContext(ctx, "Worker stopped")

	return nil
}
