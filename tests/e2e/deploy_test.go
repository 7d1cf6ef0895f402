package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stevedore/internal/core/pipeline"
)

// =============================================================================
// Full Pipeline
// =============================================================================

func TestDeployEndToEnd(t *testing.T) {
	params := e2eParams(t)
	orch, store := newRunner(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	t.Logf("deploying %s to %s", params.RepoURL, params.SSHHost)
	res, err := orch.Execute(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, res.Config)
	assert.Equal(t, pipeline.StageDone, res.Run.Stage)
	assert.Equal(t, pipeline.RunStatusSucceeded, res.Run.Status())

	// The pipeline already validated the endpoint through nginx; hitting it
	// once more from the test machine proves the proxy is reachable from
	// outside, not just from localhost on the target.
	url := res.Config.PublicURL()
	t.Logf("probing %s", url)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Less(t, resp.StatusCode, 500, "expected a non-5xx response through nginx")

	latest, err := store.Latest(ctx, res.Config.AppName)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusSucceeded, latest.Status)
	assert.Equal(t, res.Run.ID, latest.ID)
}

func TestRedeployIsIdempotent(t *testing.T) {
	params := e2eParams(t)
	orch, store := newRunner(t)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Minute)
	defer cancel()

	t.Log("first deployment")
	first, err := orch.Execute(ctx, params)
	require.NoError(t, err)
	require.Equal(t, pipeline.StageDone, first.Run.Stage)

	t.Log("second deployment of the same revision")
	second, err := orch.Execute(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageDone, second.Run.Stage)
	assert.Equal(t, first.Config.ContainerName, second.Config.ContainerName)

	runs, err := store.ListByApp(ctx, first.Config.AppName, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, pipeline.RunStatusSucceeded, run.Status)
	}
}

// =============================================================================
// Failure Paths
// =============================================================================

func TestDeployUnknownBranchFailsDuringSync(t *testing.T) {
	params := e2eParams(t)
	params.Branch = "stevedore-e2e-no-such-branch"
	orch, store := newRunner(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := orch.Execute(ctx, params)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrNetworkFailure)
	assert.Equal(t, pipeline.StageFailed, res.Run.Stage)
	assert.Equal(t, pipeline.StageSyncingRepo, res.Run.Err.Stage)

	latest, err := store.Latest(ctx, res.Config.AppName)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusFailed, latest.Status)
	assert.NotEmpty(t, latest.Error)
}

func TestDeployUnreachableHostFailsPreflight(t *testing.T) {
	params := e2eParams(t)
	// TEST-NET-1 is guaranteed unroutable, so the dial fails without
	// touching the real target.
	params.SSHHost = "192.0.2.1"
	orch, _ := newRunner(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := orch.Execute(ctx, params)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrNetworkFailure)
	assert.Equal(t, pipeline.StageFailed, res.Run.Stage)
	assert.Equal(t, pipeline.StageVerifyingConnectivity, res.Run.Err.Stage)
}
