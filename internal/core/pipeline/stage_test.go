package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Stage
		to      Stage
		wantErr bool
	}{
		{"collecting to syncing", StageCollectingConfig, StageSyncingRepo, false},
		{"syncing to connectivity", StageSyncingRepo, StageVerifyingConnectivity, false},
		{"connectivity to provisioning", StageVerifyingConnectivity, StageProvisioning, false},
		{"provisioning to deploying", StageProvisioning, StageDeploying, false},
		{"deploying to proxy", StageDeploying, StageConfiguringProxy, false},
		{"proxy to validating", StageConfiguringProxy, StageValidating, false},
		{"validating to done", StageValidating, StageDone, false},
		{"any stage to failed", StageDeploying, StageFailed, false},
		{"no skipping stages", StageCollectingConfig, StageProvisioning, true},
		{"no backward transition", StageDeploying, StageSyncingRepo, true},
		{"done is absorbing", StageDone, StageCollectingConfig, true},
		{"failed is absorbing", StageFailed, StageCollectingConfig, true},
		{"failed cannot complete", StageFailed, StageDone, true},
		{"unknown stage rejected", Stage("bogus"), StageDone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEveryStageCanFail(t *testing.T) {
	for _, s := range Stages() {
		if s.IsTerminal() {
			continue
		}
		t.Run(s.String(), func(t *testing.T) {
			assert.NoError(t, ValidateTransition(s, StageFailed))
		})
	}
}

func TestNext(t *testing.T) {
	order := Stages()
	for i := 0; i < len(order)-1; i++ {
		next, ok := Next(order[i])
		require.True(t, ok, "stage %s should have a successor", order[i])
		assert.Equal(t, order[i+1], next)
	}

	_, ok := Next(StageDone)
	assert.False(t, ok)
	_, ok = Next(StageFailed)
	assert.False(t, ok)
}

func TestRunAdvanceWalksAllStages(t *testing.T) {
	run := NewRun()
	require.NotEmpty(t, run.ID)
	assert.Equal(t, StageCollectingConfig, run.Stage)
	assert.Equal(t, RunStatusRunning, run.Status())

	visited := []Stage{run.Stage}
	for !run.Stage.IsTerminal() {
		require.NoError(t, run.Advance())
		visited = append(visited, run.Stage)
	}

	assert.Equal(t, Stages(), visited)
	assert.Equal(t, StageDone, run.Stage)
	assert.Equal(t, RunStatusSucceeded, run.Status())
	assert.False(t, run.FinishedAt.IsZero())

	// Terminal runs cannot advance further.
	assert.ErrorIs(t, run.Advance(), ErrInvalidTransition)
}

func TestRunFail(t *testing.T) {
	run := NewRun()
	require.NoError(t, run.Advance()) // syncing_repo

	stageErr := NewStageError(StageSyncingRepo, "clone", "remote hung up", ErrNetworkFailure)
	require.NoError(t, run.Fail(stageErr))

	assert.Equal(t, StageFailed, run.Stage)
	assert.Equal(t, RunStatusFailed, run.Status())
	assert.Equal(t, stageErr, run.Err)
	assert.False(t, run.FinishedAt.IsZero())

	// Failed is absorbing.
	assert.ErrorIs(t, run.Fail(stageErr), ErrInvalidTransition)
	assert.ErrorIs(t, run.Advance(), ErrInvalidTransition)
}

func TestRunDuration(t *testing.T) {
	run := NewRun()
	run.StartedAt = time.Now().UTC().Add(-2 * time.Second)
	assert.GreaterOrEqual(t, run.Duration(), 2*time.Second)

	run.FinishedAt = run.StartedAt.Add(5 * time.Second)
	assert.Equal(t, 5*time.Second, run.Duration())
}
