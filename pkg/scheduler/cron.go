package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/nodes/trigger"
	"github.com/google/uuid"
)

// cronLeaseTTL outlives any scan window. Fire-time leases are never released.
const cronLeaseTTL = time.Hour

// maxFiresPerScan bounds the catch-up after a worker was stalled.
const maxFiresPerScan = 10

// fireSchedules starts an execution of every published definition with a
// scheduled trigger for each fire time in (last scan, now].
func (s *Scheduler) fireSchedules(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	from := s.cronFrom
	s.cronFrom = now
	s.mu.Unlock()

	if !now.After(from) {
		return nil
	}

	definitions, err := s.persistence.DefinitionRepository().ListPublished(ctx, "")
	if err != nil {
		return err
	}

	var scheduled []*models.WorkflowDefinition

	for _, definition := range definitions {
		if entry := definition.EntryNode(); entry != nil && entry.Subtype == trigger.SubtypeScheduled {
			scheduled = append(scheduled, definition)
		}
	}

	return s.each(ctx, len(scheduled), func(ctx context.Context, i int) error {
		return s.fire(ctx, scheduled[i], from, now)
	})
}

func (s *Scheduler) fire(ctx context.Context, definition *models.WorkflowDefinition, from, now time.Time) error {
	entry := definition.EntryNode()

	node, err := trigger.NewNode(entry)
	if err != nil {
		return fmt.Errorf("definition %s: %w", definition.ID, err)
	}

	at := from

	for range maxFiresPerScan {
		next, ok := node.Next(at)
		if !ok || next.After(now) {
			return nil
		}

		at = next
		key := fmt.Sprintf("cron:%s:%d", definition.ID, at.Unix())

		_, acquired, err := s.locker.Acquire(ctx, key, cronLeaseTTL)
		if err != nil {
			return err
		}

		if !acquired {
			continue
		}

		event := events.TriggerEvent{
			ID:          uuid.New().String(),
			EventType:   trigger.SubtypeScheduled,
			WorkspaceID: definition.WorkspaceID,
			EntityContext: map[string]any{
				"scheduled_at": at.Format(time.RFC3339),
			},
			OccurredAt: at,
		}

		execution, err := s.matcher.StartExecution(ctx, definition, event)
		if err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "Scheduled trigger fired",
			"definition_id", definition.ID,
			"execution_id", execution.ID,
			"scheduled_at", at)
	}

	return nil
}
