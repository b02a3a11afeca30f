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

type DeadLetterRepository struct {
	fp *Persistence
}

func (dr *DeadLetterRepository) file(id string) string {
	return dr.fp.path("dead_letters", id+".json")
}

func (dr *DeadLetterRepository) all() ([]*models.WorkflowDeadLetter, error) {
	return readRecords[models.WorkflowDeadLetter](dr.fp.path("dead_letters"))
}

func (dr *DeadLetterRepository) Create(_ context.Context, deadLetter *models.WorkflowDeadLetter) error {
	if err := validateID(deadLetter.ID); err != nil {
		return persistence.NewDeadLetterError("Create", deadLetter.ID, err)
	}

	dr.fp.mu.Lock()
	defer dr.fp.mu.Unlock()

	existing, err := dr.all()
	if err != nil {
		return persistence.NewDeadLetterError("Create", deadLetter.ID, err)
	}

	for _, other := range existing {
		if other.ExecutionID == deadLetter.ExecutionID {
			return persistence.NewDeadLetterError("Create", deadLetter.ExecutionID, persistence.ErrDeadLetterExists)
		}
	}

	if deadLetter.CreatedAt.IsZero() {
		deadLetter.CreatedAt = time.Now().UTC()
	}

	if err := writeRecord(dr.file(deadLetter.ID), deadLetter); err != nil {
		return persistence.NewDeadLetterError("Create", deadLetter.ID, err)
	}

	return nil
}

func (dr *DeadLetterRepository) GetByID(_ context.Context, id string) (*models.WorkflowDeadLetter, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewDeadLetterError("GetByID", id, err)
	}

	deadLetter, err := readRecord[models.WorkflowDeadLetter](dr.file(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewDeadLetterError("GetByID", id, persistence.ErrDeadLetterNotFound)
		}

		return nil, persistence.NewDeadLetterError("GetByID", id, err)
	}

	return deadLetter, nil
}

func (dr *DeadLetterRepository) GetByExecution(_ context.Context, executionID string) (*models.WorkflowDeadLetter, error) {
	all, err := dr.all()
	if err != nil {
		return nil, persistence.NewDeadLetterError("GetByExecution", executionID, err)
	}

	for _, deadLetter := range all {
		if deadLetter.ExecutionID == executionID {
			return deadLetter, nil
		}
	}

	return nil, persistence.NewDeadLetterError("GetByExecution", executionID, persistence.ErrDeadLetterNotFound)
}

func (dr *DeadLetterRepository) Update(_ context.Context, deadLetter *models.WorkflowDeadLetter) error {
	if err := validateID(deadLetter.ID); err != nil {
		return persistence.NewDeadLetterError("Update", deadLetter.ID, err)
	}

	dr.fp.mu.Lock()
	defer dr.fp.mu.Unlock()

	if _, err := readRecord[models.WorkflowDeadLetter](dr.file(deadLetter.ID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewDeadLetterError("Update", deadLetter.ID, persistence.ErrDeadLetterNotFound)
		}

		return persistence.NewDeadLetterError("Update", deadLetter.ID, err)
	}

	if err := writeRecord(dr.file(deadLetter.ID), deadLetter); err != nil {
		return persistence.NewDeadLetterError("Update", deadLetter.ID, err)
	}

	return nil
}

func (dr *DeadLetterRepository) List(_ context.Context, opts persistence.DeadLetterListOptions) ([]*models.WorkflowDeadLetter, error) {
	all, err := dr.all()
	if err != nil {
		return nil, persistence.NewDeadLetterError("List", opts.WorkspaceID, err)
	}

	deadLetters := make([]*models.WorkflowDeadLetter, 0, len(all))

	for _, deadLetter := range all {
		if opts.WorkspaceID != "" && deadLetter.WorkspaceID != opts.WorkspaceID {
			continue
		}

		if opts.Status != "" && deadLetter.Status != opts.Status {
			continue
		}

		deadLetters = append(deadLetters, deadLetter)
	}

	sort.SliceStable(deadLetters, func(i, j int) bool {
		return deadLetters[i].CreatedAt.After(deadLetters[j].CreatedAt)
	})

	if opts.Limit > 0 && len(deadLetters) > opts.Limit {
		deadLetters = deadLetters[:opts.Limit]
	}

	return deadLetters, nil
}
