package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
)

// Register subscribes the scheduler to inbound trigger events on bus.
func (s *Scheduler) Register(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.TriggerReceivedEvent, s.HandleTrigger)
}

// HandleTrigger starts the executions an event matches, resumes the
// executions waiting for it and advances them right away. An execution
// whose lease is taken is left to the next scan.
func (s *Scheduler) HandleTrigger(ctx context.Context, payload any) error {
	var event events.TriggerEvent

	switch e := payload.(type) {
	case *events.TriggerEvent:
		event = *e
	case events.TriggerEvent:
		event = e
	default:
		return fmt.Errorf("unexpected trigger payload %T", payload)
	}

	logger := s.logger.With("event_id", event.ID, "event_type", event.EventType, "workspace_id", event.WorkspaceID)

	started, matchErr := s.matcher.Match(ctx, event)
	resumed, deliverErr := s.executor.DeliverEvent(ctx, event)

	ids := make([]string, 0, len(started)+len(resumed))
	for _, execution := range started {
		ids = append(ids, execution.ID)
	}

	ids = append(ids, resumed...)

	logger.InfoContext(ctx, "Trigger event handled", "started", len(started), "resumed", len(resumed))

	err := s.each(ctx, len(ids), func(ctx context.Context, i int) error {
		return s.withLease(ctx, "execution:"+ids[i], s.config.LeaseTTL, func(ctx context.Context) error {
			return s.executor.Advance(ctx, ids[i])
		})
	})
	if err != nil {
		// the executions are persisted and due, the next scan picks them up
		logger.WarnContext(ctx, "Failed to advance triggered executions", "error", err)
	}

	return errors.Join(matchErr, deliverErr)
}
