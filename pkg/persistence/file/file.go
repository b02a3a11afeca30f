// Package file provides file-based persistence for definitions, executions and their audit trail.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/autoflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Every record is a JSON document under root; a single lock serializes writers
// so the revision check on executions is atomic within one process.
type Persistence struct {
	root string
	mu   sync.Mutex

	definitions   *DefinitionRepository
	executions    *ExecutionRepository
	steps         *StepRepository
	subscriptions *SubscriptionRepository
	deadLetters   *DeadLetterRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	fp := &Persistence{root: strings.Replace(root, "file://", "", 1)}

	fp.definitions = &DefinitionRepository{fp: fp}
	fp.executions = &ExecutionRepository{fp: fp}
	fp.steps = &StepRepository{fp: fp}
	fp.subscriptions = &SubscriptionRepository{fp: fp}
	fp.deadLetters = &DeadLetterRepository{fp: fp}

	return fp
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return fp.definitions
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executions
}

func (fp *Persistence) StepRepository() persistence.StepRepository {
	return fp.steps
}

func (fp *Persistence) SubscriptionRepository() persistence.SubscriptionRepository {
	return fp.subscriptions
}

func (fp *Persistence) DeadLetterRepository() persistence.DeadLetterRepository {
	return fp.deadLetters
}

// validateID validates that an identifier is safe to use as a file name.
func validateID(id string) error {
	if id == "" {
		return errors.New("ID cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("ID %q contains invalid characters", id)
	}

	return nil
}

func (fp *Persistence) path(parts ...string) string {
	return filepath.Join(append([]string{fp.root}, parts...)...)
}

// readRecord decodes the JSON document at path. A missing file returns fs.ErrNotExist.
func readRecord[T any](path string) (*T, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path components are validated by validateID
	if err != nil {
		return nil, err
	}

	var record T
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return &record, nil
}

// readRecords decodes every JSON document in dir. A missing directory yields no records.
func readRecords[T any](dir string) ([]*T, error) {
	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	records := make([]*T, 0, len(files))

	for _, file := range files {
		record, err := readRecord[T](filepath.Join(dir, file))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}

// writeRecord writes value as JSON through a temporary file so readers never see a partial document.
func writeRecord(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	return os.Rename(tmp, path)
}

func removeRecord(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
