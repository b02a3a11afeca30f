// Package config loads worker tuning from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Worker tunes the scheduler loop of autoflow-worker.
type Worker struct {
	// PollInterval is how often due executions and expired subscriptions are scanned.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=10ms"`
	// Concurrency bounds the executions advanced in parallel by one worker.
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=1024"`
	// BatchSize is the maximum number of due items fetched per scan.
	BatchSize int `yaml:"batch_size" validate:"gte=1"`
	// LeaseTTL is how long an execution stays owned by a worker without renewal.
	LeaseTTL time.Duration `yaml:"lease_ttl" validate:"gte=1s"`
	// StepBudget caps the steps run for one execution per lease.
	StepBudget int `yaml:"step_budget" validate:"gte=1"`
}

func DefaultWorker() Worker {
	return Worker{
		PollInterval: time.Second,
		Concurrency:  8,
		BatchSize:    100,
		LeaseTTL:     30 * time.Second,
		StepBudget:   100,
	}
}

// LoadWorker reads path over the defaults. An empty path returns the defaults.
func LoadWorker(path string) (Worker, error) {
	config := DefaultWorker()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Worker{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Worker{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Worker{}, err
	}

	return config, nil
}

func (w Worker) Validate() error {
	if err := validator.New().Struct(w); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fmt.Errorf("invalid worker config: field %s failed on %s", validationErrors[0].Field(), validationErrors[0].Tag())
		}

		return fmt.Errorf("invalid worker config: %w", err)
	}

	if w.LeaseTTL <= w.PollInterval {
		return errors.New("invalid worker config: lease_ttl must be longer than poll_interval")
	}

	return nil
}
