package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// DefinitionRepository handles definition-related file operations.
// Definitions live in definitions/{id}.json and snapshots in versions/{id}/{version}.json.
type DefinitionRepository struct {
	fp *Persistence
}

// Save saves a definition to the file system.
func (dr *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	if err := validateID(definition.ID); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	dr.fp.mu.Lock()
	defer dr.fp.mu.Unlock()

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if err := writeRecord(dr.fp.path("definitions", definition.ID+".json"), definition); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// GetByID retrieves a definition by its ID from the file system.
func (dr *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	definition, err := readRecord[models.WorkflowDefinition](dr.fp.path("definitions", id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	return definition, nil
}

func (dr *DefinitionRepository) List(_ context.Context, workspaceID string) ([]*models.WorkflowDefinition, error) {
	return dr.list(workspaceID, false)
}

func (dr *DefinitionRepository) ListPublished(_ context.Context, workspaceID string) ([]*models.WorkflowDefinition, error) {
	return dr.list(workspaceID, true)
}

func (dr *DefinitionRepository) list(workspaceID string, publishedOnly bool) ([]*models.WorkflowDefinition, error) {
	all, err := readRecords[models.WorkflowDefinition](dr.fp.path("definitions"))
	if err != nil {
		return nil, persistence.NewDefinitionError("List", "", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(all))

	for _, definition := range all {
		if workspaceID != "" && definition.WorkspaceID != workspaceID {
			continue
		}

		if publishedOnly && !definition.IsPublished {
			continue
		}

		definitions = append(definitions, definition)
	}

	sort.SliceStable(definitions, func(i, j int) bool {
		if definitions[i].CreatedAt.Equal(definitions[j].CreatedAt) {
			return definitions[i].ID < definitions[j].ID
		}

		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

// Delete removes a definition and its snapshots.
func (dr *DefinitionRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	dr.fp.mu.Lock()
	defer dr.fp.mu.Unlock()

	if err := removeRecord(dr.fp.path("definitions", id+".json")); err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	if err := os.RemoveAll(dr.fp.path("versions", id)); err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	return nil
}

func (dr *DefinitionRepository) SaveVersion(_ context.Context, version *models.WorkflowVersion) error {
	if err := validateID(version.DefinitionID); err != nil {
		return persistence.NewVersionError("SaveVersion", version.DefinitionID, version.Version, err)
	}

	dr.fp.mu.Lock()
	defer dr.fp.mu.Unlock()

	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	path := dr.fp.path("versions", version.DefinitionID, strconv.Itoa(version.Version)+".json")
	if err := writeRecord(path, version); err != nil {
		return persistence.NewVersionError("SaveVersion", version.DefinitionID, version.Version, err)
	}

	return nil
}

func (dr *DefinitionRepository) Versions(_ context.Context, definitionID string) ([]*models.WorkflowVersion, error) {
	if err := validateID(definitionID); err != nil {
		return nil, persistence.NewDefinitionError("Versions", definitionID, err)
	}

	versions, err := readRecords[models.WorkflowVersion](dr.fp.path("versions", definitionID))
	if err != nil {
		return nil, persistence.NewDefinitionError("Versions", definitionID, err)
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})

	return versions, nil
}

func (dr *DefinitionRepository) GetVersion(_ context.Context, definitionID string, version int) (*models.WorkflowVersion, error) {
	if err := validateID(definitionID); err != nil {
		return nil, persistence.NewVersionError("GetVersion", definitionID, version, err)
	}

	snapshot, err := readRecord[models.WorkflowVersion](dr.fp.path("versions", definitionID, strconv.Itoa(version)+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewVersionError("GetVersion", definitionID, version, persistence.ErrVersionNotFound)
		}

		return nil, persistence.NewVersionError("GetVersion", definitionID, version, err)
	}

	return snapshot, nil
}

func (dr *DefinitionRepository) PruneVersions(ctx context.Context, definitionID string, keep int) error {
	versions, err := dr.Versions(ctx, definitionID)
	if err != nil {
		return err
	}

	dr.fp.mu.Lock()
	defer dr.fp.mu.Unlock()

	for i := keep; i < len(versions); i++ {
		path := dr.fp.path("versions", definitionID, strconv.Itoa(versions[i].Version)+".json")
		if err := removeRecord(path); err != nil {
			return persistence.NewVersionError("PruneVersions", definitionID, versions[i].Version, err)
		}
	}

	return nil
}
