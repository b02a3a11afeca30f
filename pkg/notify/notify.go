// Package notify delivers failure notifications for dead-lettered executions.
package notify

import (
	"context"
	"log/slog"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
)

type Notifier interface {
	NotifyFailure(ctx context.Context, notification models.FailureNotification) error
}

// BusNotifier publishes notifications on the notification topic for a
// downstream delivery service (email, chat) to pick up.
type BusNotifier struct {
	publisher eventbus.EventPublisher
}

func NewBusNotifier(publisher eventbus.EventPublisher) *BusNotifier {
	return &BusNotifier{publisher: publisher}
}

func (n *BusNotifier) NotifyFailure(ctx context.Context, notification models.FailureNotification) error {
	return n.publisher.Publish(ctx, notification.ExecutionID, events.NewFailureNotification(notification))
}

// LogNotifier only writes the notification to the log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notify")}
}

func (n *LogNotifier) NotifyFailure(ctx context.Context, notification models.FailureNotification) error {
	n.logger.WarnContext(ctx, "Workflow execution failed",
		"execution_id", notification.ExecutionID,
		"definition_id", notification.DefinitionID,
		"node_id", notification.NodeID,
		"error", notification.ErrorSummary,
		"recipients", notification.Recipients)

	return nil
}
