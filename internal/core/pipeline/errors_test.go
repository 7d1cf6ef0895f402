package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageErrorFormat(t *testing.T) {
	err := NewStageError(StageProvisioning, "install docker", "apt-get exited 100", ErrRemoteCommandFailure)
	assert.Equal(t, "stage provisioning: install docker: apt-get exited 100", err.Error())

	noOp := &StageError{Stage: StageValidating, Message: "status 502"}
	assert.Equal(t, "stage validating: status 502", noOp.Error())
}

func TestStageErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{
			name: "invalid input surfaces through wrapper",
			err:  NewStageError(StageCollectingConfig, "parse port", "bad spec", ErrInvalidInput),
			kind: ErrInvalidInput,
		},
		{
			name: "network failure surfaces through wrapper",
			err:  NewStageError(StageVerifyingConnectivity, "dial", "timeout", ErrNetworkFailure),
			kind: ErrNetworkFailure,
		},
		{
			name: "remote command failure surfaces through fmt wrapping",
			err:  fmt.Errorf("deploy: %w", NewStageError(StageDeploying, "docker run", "exit 125", ErrRemoteCommandFailure)),
			kind: ErrRemoteCommandFailure,
		},
		{
			name: "validation failure surfaces through wrapper",
			err:  NewStageError(StageValidating, "probe", "connection refused", ErrValidationFailure),
			kind: ErrValidationFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			assert.Equal(t, tt.kind, Classify(tt.err))
		})
	}
}

func TestClassifyUnclassified(t *testing.T) {
	assert.Nil(t, Classify(errors.New("something else")))
	assert.Nil(t, Classify(nil))
}

func TestWrapStage(t *testing.T) {
	t.Run("adds stage context to classified error", func(t *testing.T) {
		cause := fmt.Errorf("git clone: %w", ErrNetworkFailure)
		wrapped := WrapStage(StageSyncingRepo, "sync", cause)

		assert.Equal(t, StageSyncingRepo, wrapped.Stage)
		assert.ErrorIs(t, wrapped, ErrNetworkFailure)
		assert.Contains(t, wrapped.Error(), "git clone")
	})

	t.Run("keeps inner stage error intact", func(t *testing.T) {
		inner := NewStageError(StageProvisioning, "install nginx", "exit 100", ErrRemoteCommandFailure)
		wrapped := WrapStage(StageDeploying, "outer", fmt.Errorf("provision: %w", inner))

		assert.Equal(t, StageProvisioning, wrapped.Stage)
		assert.Equal(t, "install nginx", wrapped.Op)
	})

	t.Run("unclassified cause is preserved", func(t *testing.T) {
		cause := errors.New("disk full")
		wrapped := WrapStage(StageDeploying, "push", cause)

		assert.ErrorIs(t, wrapped, cause)
		assert.Nil(t, Classify(wrapped))
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "applied", OutcomeApplied.String())
	assert.Equal(t, "not_found", OutcomeNotFound.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "unknown", Outcome(42).String())

	assert.True(t, OutcomeApplied.OK())
	assert.True(t, OutcomeNotFound.OK())
	assert.False(t, OutcomeFailed.OK())
}
