package file

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

type SubscriptionRepository struct {
	fp *Persistence
}

func (sr *SubscriptionRepository) file(id string) string {
	return sr.fp.path("subscriptions", id+".json")
}

func (sr *SubscriptionRepository) Create(_ context.Context, subscription *models.WorkflowEventSubscription) error {
	if err := validateID(subscription.ID); err != nil {
		return persistence.NewSubscriptionError("Create", subscription.ID, err)
	}

	sr.fp.mu.Lock()
	defer sr.fp.mu.Unlock()

	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = time.Now().UTC()
	}

	if err := writeRecord(sr.file(subscription.ID), subscription); err != nil {
		return persistence.NewSubscriptionError("Create", subscription.ID, err)
	}

	return nil
}

func (sr *SubscriptionRepository) Update(_ context.Context, subscription *models.WorkflowEventSubscription) error {
	if err := validateID(subscription.ID); err != nil {
		return persistence.NewSubscriptionError("Update", subscription.ID, err)
	}

	sr.fp.mu.Lock()
	defer sr.fp.mu.Unlock()

	if _, err := readRecord[models.WorkflowEventSubscription](sr.file(subscription.ID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewSubscriptionError("Update", subscription.ID, persistence.ErrSubscriptionNotFound)
		}

		return persistence.NewSubscriptionError("Update", subscription.ID, err)
	}

	if err := writeRecord(sr.file(subscription.ID), subscription); err != nil {
		return persistence.NewSubscriptionError("Update", subscription.ID, err)
	}

	return nil
}

func (sr *SubscriptionRepository) GetByID(_ context.Context, id string) (*models.WorkflowEventSubscription, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewSubscriptionError("GetByID", id, err)
	}

	subscription, err := readRecord[models.WorkflowEventSubscription](sr.file(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewSubscriptionError("GetByID", id, persistence.ErrSubscriptionNotFound)
		}

		return nil, persistence.NewSubscriptionError("GetByID", id, err)
	}

	return subscription, nil
}

func (sr *SubscriptionRepository) active(match func(*models.WorkflowEventSubscription) bool) ([]*models.WorkflowEventSubscription, error) {
	all, err := readRecords[models.WorkflowEventSubscription](sr.fp.path("subscriptions"))
	if err != nil {
		return nil, persistence.NewSubscriptionError("List", "", err)
	}

	subscriptions := make([]*models.WorkflowEventSubscription, 0)

	for _, subscription := range all {
		if subscription.IsActive && match(subscription) {
			subscriptions = append(subscriptions, subscription)
		}
	}

	sort.SliceStable(subscriptions, func(i, j int) bool {
		return subscriptions[i].CreatedAt.Before(subscriptions[j].CreatedAt)
	})

	return subscriptions, nil
}

func (sr *SubscriptionRepository) FindActiveByEventType(_ context.Context, workspaceID, eventType string) ([]*models.WorkflowEventSubscription, error) {
	return sr.active(func(s *models.WorkflowEventSubscription) bool {
		return s.WorkspaceID == workspaceID && s.EventType == eventType
	})
}

func (sr *SubscriptionRepository) FindActiveByExecution(_ context.Context, executionID string) ([]*models.WorkflowEventSubscription, error) {
	return sr.active(func(s *models.WorkflowEventSubscription) bool {
		return s.ExecutionID == executionID
	})
}

func (sr *SubscriptionRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]*models.WorkflowEventSubscription, error) {
	expired, err := sr.active(func(s *models.WorkflowEventSubscription) bool {
		return s.TimeoutAt != nil && !s.TimeoutAt.After(now)
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	return expired, nil
}

func (sr *SubscriptionRepository) DeactivateByExecution(ctx context.Context, executionID string) error {
	subscriptions, err := sr.FindActiveByExecution(ctx, executionID)
	if err != nil {
		return err
	}

	for _, subscription := range subscriptions {
		subscription.IsActive = false
		if err := sr.Update(ctx, subscription); err != nil {
			return err
		}
	}

	return nil
}
