package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

type SubscriptionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectSubscription = `
	SELECT
		id
	  , workspace_id
	  , execution_id
	  , node_id
	  , event_type
	  , event_filter
	  , timeout_at
	  , is_active
	  , matched_at
	  , matched_event_data
	  , created_at
	FROM workflow_event_subscriptions
`

func scanSubscription(row rowScanner) (*models.WorkflowEventSubscription, error) {
	var (
		subscription         models.WorkflowEventSubscription
		filter, matchedData  []byte
		timeoutAt, matchedAt sql.NullTime
	)

	err := row.Scan(
		&subscription.ID,
		&subscription.WorkspaceID,
		&subscription.ExecutionID,
		&subscription.NodeID,
		&subscription.EventType,
		&filter,
		&timeoutAt,
		&subscription.IsActive,
		&matchedAt,
		&matchedData,
		&subscription.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	subscription.TimeoutAt = timePtr(timeoutAt)
	subscription.MatchedAt = timePtr(matchedAt)

	if err := fromJSON(filter, &subscription.EventFilter); err != nil {
		return nil, err
	}

	if err := fromJSON(matchedData, &subscription.MatchedEventData); err != nil {
		return nil, err
	}

	return &subscription, nil
}

func (r *SubscriptionRepository) Create(ctx context.Context, subscription *models.WorkflowEventSubscription) error {
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = time.Now().UTC()
	}

	filter, err := toJSON(subscription.EventFilter)
	if err != nil {
		return persistence.NewSubscriptionError("Create", subscription.ID, err)
	}

	matchedData, err := toJSON(subscription.MatchedEventData)
	if err != nil {
		return persistence.NewSubscriptionError("Create", subscription.ID, err)
	}

	query := `
		INSERT INTO workflow_event_subscriptions (
			id, workspace_id, execution_id, node_id, event_type, event_filter,
			timeout_at, is_active, matched_at, matched_event_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		subscription.ID,
		subscription.WorkspaceID,
		subscription.ExecutionID,
		subscription.NodeID,
		subscription.EventType,
		filter,
		nullTime(subscription.TimeoutAt),
		subscription.IsActive,
		nullTime(subscription.MatchedAt),
		matchedData,
		subscription.CreatedAt,
	)
	if err != nil {
		return persistence.NewSubscriptionError("Create", subscription.ID, err)
	}

	return nil
}

// Update writes the mutable fields of a subscription.
func (r *SubscriptionRepository) Update(ctx context.Context, subscription *models.WorkflowEventSubscription) error {
	matchedData, err := toJSON(subscription.MatchedEventData)
	if err != nil {
		return persistence.NewSubscriptionError("Update", subscription.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_event_subscriptions
		SET is_active = $2, matched_at = $3, matched_event_data = $4, timeout_at = $5
		WHERE id = $1
	`, subscription.ID, subscription.IsActive, nullTime(subscription.MatchedAt), matchedData, nullTime(subscription.TimeoutAt))
	if err != nil {
		return persistence.NewSubscriptionError("Update", subscription.ID, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return persistence.NewSubscriptionError("Update", subscription.ID, persistence.ErrSubscriptionNotFound)
	}

	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowEventSubscription, error) {
	subscription, err := scanSubscription(r.db.QueryRowContext(ctx, selectSubscription+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSubscriptionError("GetByID", id, persistence.ErrSubscriptionNotFound)
		}

		return nil, persistence.NewSubscriptionError("GetByID", id, err)
	}

	return subscription, nil
}

func (r *SubscriptionRepository) FindActiveByEventType(ctx context.Context, workspaceID, eventType string) ([]*models.WorkflowEventSubscription, error) {
	return r.query(ctx, selectSubscription+" WHERE is_active AND workspace_id = $1 AND event_type = $2 ORDER BY created_at", workspaceID, eventType)
}

func (r *SubscriptionRepository) FindActiveByExecution(ctx context.Context, executionID string) ([]*models.WorkflowEventSubscription, error) {
	return r.query(ctx, selectSubscription+" WHERE is_active AND execution_id = $1 ORDER BY created_at", executionID)
}

func (r *SubscriptionRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowEventSubscription, error) {
	if limit <= 0 {
		limit = 100
	}

	return r.query(ctx, selectSubscription+" WHERE is_active AND timeout_at <= $1 ORDER BY timeout_at LIMIT $2", now, limit)
}

func (r *SubscriptionRepository) DeactivateByExecution(ctx context.Context, executionID string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE workflow_event_subscriptions SET is_active = false WHERE execution_id = $1 AND is_active", executionID)
	if err != nil {
		return persistence.NewSubscriptionError("DeactivateByExecution", executionID, err)
	}

	return nil
}

func (r *SubscriptionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowEventSubscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewSubscriptionError("List", "", err)
	}
	defer closeRows(ctx, r.logger, rows)

	subscriptions := make([]*models.WorkflowEventSubscription, 0)

	for rows.Next() {
		subscription, err := scanSubscription(rows)
		if err != nil {
			return nil, persistence.NewSubscriptionError("List", "", err)
		}

		subscriptions = append(subscriptions, subscription)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewSubscriptionError("List", "", err)
	}

	return subscriptions, nil
}
