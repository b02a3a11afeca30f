// Package metrics records engine activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

type Collector interface {
	RecordExecutionStarted(definitionID string)
	RecordExecutionFinished(definitionID string, status models.ExecutionStatus, duration time.Duration)
	RecordStep(nodeType models.NodeType, status models.StepStatus, duration time.Duration)
	RecordRetryScheduled(nodeType models.NodeType, category string)
	RecordDeadLetter(definitionID string, errorType string)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordExecutionStarted(string)                                         {}
func (Nop) RecordExecutionFinished(string, models.ExecutionStatus, time.Duration) {}
func (Nop) RecordStep(models.NodeType, models.StepStatus, time.Duration)          {}
func (Nop) RecordRetryScheduled(models.NodeType, string)                          {}
func (Nop) RecordDeadLetter(string, string)                                       {}
