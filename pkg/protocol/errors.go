package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind is the engine-level classification of a failure.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation_error"
	KindConfiguration ErrorKind = "configuration_error"
	KindNodeExecution ErrorKind = "node_execution_error"
	KindTimeout       ErrorKind = "timeout_error"
	KindSystem        ErrorKind = "system_error"
)

var (
	// ErrUnsupportedNode indicates a node type or subtype with no registered implementation.
	ErrUnsupportedNode = errors.New("unsupported node")

	// ErrMissingContext indicates a node requires a context field that is absent.
	ErrMissingContext = errors.New("missing required context field")

	// ErrNonNumericOperand indicates a numeric comparator received a non-numeric value.
	ErrNonNumericOperand = errors.New("non-numeric operand")

	// ErrWaitInParallelRegion indicates a wait node was reached by a parallel continuation.
	ErrWaitInParallelRegion = errors.New("wait node inside parallel region")
)

// Error is a classified workflow failure.
type Error struct {
	Kind     ErrorKind
	Category string // Retry category hint, e.g. "rate_limit"; empty when unknown
	NodeID   string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.NodeID != "" {
		prefix = fmt.Sprintf("%s at node %s", e.Kind, e.NodeID)
	}

	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	default:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports a definition that cannot be published.
func NewValidationError(message string, err error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

// NewConfigurationError reports a failure that is fatal and never retried.
func NewConfigurationError(nodeID, message string, err error) *Error {
	return &Error{Kind: KindConfiguration, NodeID: nodeID, Message: message, Err: err}
}

// NewNodeExecutionError reports a node failure that the retry controller classifies.
func NewNodeExecutionError(nodeID, category, message string, err error) *Error {
	return &Error{Kind: KindNodeExecution, NodeID: nodeID, Category: category, Message: message, Err: err}
}

// NewTimeoutError reports an event wait that elapsed without a match.
func NewTimeoutError(nodeID, message string) *Error {
	return &Error{Kind: KindTimeout, NodeID: nodeID, Message: message}
}

// NewSystemError reports an infrastructure failure. The engine re-polls instead of failing the workflow.
func NewSystemError(message string, err error) *Error {
	return &Error{Kind: KindSystem, Message: message, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are node execution errors.
func KindOf(err error) ErrorKind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}

	return KindNodeExecution
}

// CategoryOf returns the retry category hint carried by err, if any.
func CategoryOf(err error) string {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Category
	}

	return ""
}

// IsFatal reports whether err must terminate the execution without retries.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindConfiguration, KindTimeout:
		return true
	default:
		return false
	}
}
