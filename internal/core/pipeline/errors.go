package pipeline

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// Every failure surfaced by the pipeline is classified into exactly one of
// these categories. Callers match with errors.Is and map the category to an
// exit code or HTTP status.
var (
	// ErrInvalidInput marks locally detectable problems: bad flag values,
	// unreadable key files, malformed port specs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNetworkFailure marks connectivity problems: SSH dial or auth
	// failures, clone failures, unreachable hosts.
	ErrNetworkFailure = errors.New("network failure")

	// ErrRemoteCommandFailure marks commands that ran on the target host
	// and exited non-zero.
	ErrRemoteCommandFailure = errors.New("remote command failed")

	// ErrValidationFailure marks a deployment that completed but did not
	// pass post-deploy checks.
	ErrValidationFailure = errors.New("validation failed")
)

// taxonomy lists the classification sentinels in priority order.
var taxonomy = []error{
	ErrInvalidInput,
	ErrNetworkFailure,
	ErrRemoteCommandFailure,
	ErrValidationFailure,
}

// Classify returns the taxonomy sentinel found in err's chain, or nil when
// the error carries no classification.
func Classify(err error) error {
	for _, kind := range taxonomy {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// =============================================================================
// StageError
// =============================================================================

// StageError records where in the pipeline a failure happened and what kind
// of failure it was. Err is one of the taxonomy sentinels so errors.Is keeps
// working through the wrapper.
type StageError struct {
	Stage   Stage
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("stage %s: %s: %s", e.Stage, e.Op, e.Message)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a stage error. kind should be one of the taxonomy
// sentinels; message carries the human-readable cause.
func NewStageError(stage Stage, op, message string, kind error) *StageError {
	return &StageError{
		Stage:   stage,
		Op:      op,
		Message: message,
		Err:     kind,
	}
}

// WrapStage attaches stage context to an error that already carries a
// classification. The original error text becomes the message so nothing is
// lost when the wrapper is printed.
func WrapStage(stage Stage, op string, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		// Already annotated deeper in the call chain; the inner annotation
		// names the failure more precisely than the outer op would.
		return se
	}
	kind := Classify(err)
	if kind == nil {
		kind = err
	}
	return &StageError{
		Stage:   stage,
		Op:      op,
		Message: err.Error(),
		Err:     kind,
	}
}
