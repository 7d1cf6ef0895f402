// Package pipeline contains the pure state machine for a deployment run.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// A run walks a fixed sequence of stages. Every stage either completes and
// advances the run to the next stage, or fails and moves the run to the
// absorbing Failed stage. There are no backward transitions and no retries.
package pipeline

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stages
// =============================================================================

// Stage identifies one step of the deployment pipeline.
type Stage string

const (
	StageCollectingConfig      Stage = "collecting_config"
	StageSyncingRepo           Stage = "syncing_repo"
	StageVerifyingConnectivity Stage = "verifying_connectivity"
	StageProvisioning          Stage = "provisioning"
	StageDeploying             Stage = "deploying"
	StageConfiguringProxy      Stage = "configuring_proxy"
	StageValidating            Stage = "validating"
	StageDone                  Stage = "done"
	StageFailed                Stage = "failed"
)

// stageOrder is the strict execution order of the pipeline.
var stageOrder = []Stage{
	StageCollectingConfig,
	StageSyncingRepo,
	StageVerifyingConnectivity,
	StageProvisioning,
	StageDeploying,
	StageConfiguringProxy,
	StageValidating,
	StageDone,
}

// Stages returns the pipeline stages in execution order, terminal states
// included. The returned slice is a copy and safe to modify.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// IsTerminal reports whether a stage ends the run.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// String returns the stage name.
func (s Stage) String() string {
	return string(s)
}

// =============================================================================
// State Machine
// =============================================================================

var ErrInvalidTransition = errors.New("invalid stage transition")

// validTransitions defines the allowed stage transitions. Every non-terminal
// stage may advance to exactly one successor or fall into Failed.
var validTransitions = map[Stage][]Stage{
	StageCollectingConfig:      {StageSyncingRepo, StageFailed},
	StageSyncingRepo:           {StageVerifyingConnectivity, StageFailed},
	StageVerifyingConnectivity: {StageProvisioning, StageFailed},
	StageProvisioning:          {StageDeploying, StageFailed},
	StageDeploying:             {StageConfiguringProxy, StageFailed},
	StageConfiguringProxy:      {StageValidating, StageFailed},
	StageValidating:            {StageDone, StageFailed},
	StageDone:                  {},
	StageFailed:                {},
}

// ValidateTransition checks if a stage transition is allowed.
func ValidateTransition(from, to Stage) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Next returns the successor of a stage in the execution order. The second
// return value is false for terminal stages.
func Next(s Stage) (Stage, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return s, false
}

// =============================================================================
// Run
// =============================================================================

// RunStatus summarizes the overall outcome of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusRejected  RunStatus = "rejected"
)

// Run is the transient execution context of one deployment. It tracks which
// stage the pipeline is in and the first unrecoverable error, if any.
type Run struct {
	ID         string
	Stage      Stage
	Err        *StageError
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRun creates a run positioned at the first stage.
func NewRun() *Run {
	return &Run{
		ID:        uuid.New().String(),
		Stage:     StageCollectingConfig,
		StartedAt: time.Now().UTC(),
	}
}

// Advance moves the run to the next stage in order.
func (r *Run) Advance() error {
	next, ok := Next(r.Stage)
	if !ok {
		return ErrInvalidTransition
	}
	if err := ValidateTransition(r.Stage, next); err != nil {
		return err
	}
	r.Stage = next
	if r.Stage == StageDone {
		r.FinishedAt = time.Now().UTC()
	}
	return nil
}

// Fail moves the run into the absorbing Failed stage, recording the stage
// error. Failing a terminal run is rejected.
func (r *Run) Fail(err *StageError) error {
	if err := ValidateTransition(r.Stage, StageFailed); err != nil {
		return err
	}
	r.Stage = StageFailed
	r.Err = err
	r.FinishedAt = time.Now().UTC()
	return nil
}

// Status derives the run status from the current stage.
func (r *Run) Status() RunStatus {
	switch r.Stage {
	case StageDone:
		return RunStatusSucceeded
	case StageFailed:
		return RunStatusFailed
	default:
		return RunStatusRunning
	}
}

// Duration returns the elapsed time of a finished run, or the time since
// start for a run still in flight.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
