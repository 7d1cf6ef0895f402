// Package stages implements the remote-facing pipeline stages. Each stage
// holds the validated configuration, a live session, and a logger, and
// exposes one entry point the orchestrator calls. Stages never retry; they
// classify failures and report them up.
package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/shell/remote"
)

// Executor is the slice of the remote session the stages consume. Tests
// substitute a fake; production passes *remote.Session.
type Executor interface {
	Run(ctx context.Context, cmd string) (*remote.Result, error)
	Push(ctx context.Context, content []byte, remotePath, mode string) error
	PushTree(ctx context.Context, localDir, remoteDir string) error
}

// runChecked executes a remote command and converts any failure into a
// classified stage error. Transport errors keep their own classification;
// non-zero exits become remote command failures carrying the captured
// stderr.
func runChecked(ctx context.Context, ex Executor, stage pipeline.Stage, op, cmd string) (*remote.Result, error) {
	res, err := ex.Run(ctx, cmd)
	if err != nil {
		return nil, pipeline.WrapStage(stage, op, err)
	}
	if res.Failed() {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return nil, pipeline.NewStageError(stage, op,
			fmt.Sprintf("exit %d: %s", res.ExitCode, detail),
			pipeline.ErrRemoteCommandFailure)
	}
	return res, nil
}
