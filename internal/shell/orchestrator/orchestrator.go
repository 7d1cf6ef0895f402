// Package orchestrator runs the deployment pipeline: the fixed stage
// sequence, the cross-stage state (validated config, synchronized working
// copy, remote session), and the fail-fast policy. Everything here is
// wiring; the work happens in the stage packages.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/shell/github"
	"github.com/artpar/stevedore/internal/shell/gitrepo"
	"github.com/artpar/stevedore/internal/shell/history"
	"github.com/artpar/stevedore/internal/shell/remote"
	"github.com/artpar/stevedore/internal/shell/stages"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the orchestrator's own settings, as opposed to the
// per-deployment parameters collected at the start of each run.
type Config struct {
	// WorkDir is where local working copies are kept. Defaults to the
	// current directory.
	WorkDir string

	// Session bounds the remote session's network operations.
	Session remote.Config
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		WorkDir: ".",
		Session: remote.DefaultConfig(),
	}
}

// =============================================================================
// Collaborator Seams
// =============================================================================

// Session is the slice of the remote channel the orchestrator manages:
// everything the stages need, plus the probe and the teardown.
type Session interface {
	stages.Executor
	Probe(ctx context.Context) error
	Close() error
}

// Recorder persists run summaries. A nil recorder disables history.
type Recorder interface {
	Append(ctx context.Context, rec *history.Record) error
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator executes deployment runs. One Orchestrator can execute many
// runs, but never concurrently against the same host; callers serialize.
type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	recorder Recorder

	// OnConfigCollected, when set, receives the validated configuration
	// before the pipeline proceeds past collection. The CLI uses it to show
	// the operator a summary of what is about to happen.
	OnConfigCollected func(*config.DeploymentConfig)

	// Collaborators, replaceable in tests.
	sync      func(ctx context.Context, cfg *config.DeploymentConfig) (*gitrepo.Repository, error)
	dial      func(cfg *config.DeploymentConfig) (Session, error)
	preflight func(ctx context.Context, cfg *config.DeploymentConfig) error
}

// New creates an orchestrator. recorder may be nil.
func New(cfg Config, recorder Recorder, logger *slog.Logger) *Orchestrator {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
		recorder: recorder,
	}

	syncer := gitrepo.NewSyncer(cfg.WorkDir, logger)
	o.sync = syncer.Sync
	o.dial = func(c *config.DeploymentConfig) (Session, error) {
		s, err := remote.Dial(remote.Target{
			Host:    c.SSHHost,
			Port:    c.SSHPort,
			User:    c.SSHUser,
			KeyPath: c.KeyPath,
		}, cfg.Session)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	o.preflight = func(ctx context.Context, c *config.DeploymentConfig) error {
		return github.Preflight(ctx, c, logger)
	}

	return o
}

// =============================================================================
// Result
// =============================================================================

// Result is what a run leaves behind for the caller, however far it got.
type Result struct {
	Run    *pipeline.Run
	Config *config.DeploymentConfig
	Repo   *gitrepo.Repository
}

// =============================================================================
// Execution
// =============================================================================

// Execute runs the full pipeline once. The returned error is the first
// stage failure, already classified; the Result reports how far the run got
// either way. The remote session is opened when first needed and closed at
// the end of the run regardless of outcome.
func (o *Orchestrator) Execute(ctx context.Context, params config.Params) (*Result, error) {
	run := pipeline.NewRun()
	res := &Result{Run: run}
	logger := o.logger.With("run_id", run.ID)

	var session Session
	defer func() {
		if session != nil {
			if err := session.Close(); err != nil {
				logger.Warn("closing remote session", "error", err)
			}
		}
	}()

	// ----- CollectingConfig -------------------------------------------------
	logger.Info("stage started", "stage", run.Stage)
	cfg, err := config.Collect(params)
	if err != nil {
		return res, o.fail(ctx, res, params, logger,
			pipeline.NewStageError(run.Stage, "collect parameters", err.Error(), pipeline.ErrInvalidInput))
	}
	res.Config = cfg
	logCollected(logger, cfg)
	if o.OnConfigCollected != nil {
		o.OnConfigCollected(cfg)
	}
	o.advance(run, logger)

	// ----- SyncingRepo ------------------------------------------------------
	logger.Info("stage started", "stage", run.Stage)
	if err := o.preflight(ctx, cfg); err != nil {
		return res, o.fail(ctx, res, params, logger,
			pipeline.WrapStage(run.Stage, "verify repository", err))
	}
	repo, err := o.sync(ctx, cfg)
	if err != nil {
		return res, o.fail(ctx, res, params, logger,
			pipeline.WrapStage(run.Stage, "synchronize repository", err))
	}
	res.Repo = repo
	o.advance(run, logger)

	// ----- VerifyingConnectivity --------------------------------------------
	logger.Info("stage started", "stage", run.Stage, "address", cfg.SSHAddress())
	session, err = o.dial(cfg)
	if err != nil {
		return res, o.fail(ctx, res, params, logger,
			pipeline.WrapStage(run.Stage, "open remote session", err))
	}
	if err := session.Probe(ctx); err != nil {
		return res, o.fail(ctx, res, params, logger,
			pipeline.WrapStage(run.Stage, "probe remote host", err))
	}
	o.advance(run, logger)

	// ----- Provisioning -----------------------------------------------------
	logger.Info("stage started", "stage", run.Stage)
	if err := stages.NewProvisioner(session, cfg, logger).Provision(ctx, repo.Descriptor.Kind); err != nil {
		return res, o.fail(ctx, res, params, logger, pipeline.WrapStage(run.Stage, "provision host", err))
	}
	o.advance(run, logger)

	// ----- Deploying ----------------------------------------------------------
	logger.Info("stage started", "stage", run.Stage)
	if err := stages.NewDeployer(session, cfg, logger).Deploy(ctx, repo); err != nil {
		return res, o.fail(ctx, res, params, logger, pipeline.WrapStage(run.Stage, "deploy release", err))
	}
	o.advance(run, logger)

	// ----- ConfiguringProxy ---------------------------------------------------
	logger.Info("stage started", "stage", run.Stage)
	if err := stages.NewProxyConfigurator(session, cfg, logger).Configure(ctx); err != nil {
		return res, o.fail(ctx, res, params, logger, pipeline.WrapStage(run.Stage, "configure proxy", err))
	}
	o.advance(run, logger)

	// ----- Validating ---------------------------------------------------------
	logger.Info("stage started", "stage", run.Stage)
	if err := stages.NewValidator(session, cfg, logger).Validate(ctx, repo.Descriptor.Kind); err != nil {
		return res, o.fail(ctx, res, params, logger, pipeline.WrapStage(run.Stage, "validate deployment", err))
	}
	o.advance(run, logger)

	logger.Info("pipeline finished",
		"stage", run.Stage,
		"app", cfg.AppName,
		"endpoint", cfg.PublicURL(),
		"duration", run.Duration().Round(time.Millisecond).String())
	o.record(ctx, res, params, logger)
	return res, nil
}

// =============================================================================
// Transition Bookkeeping
// =============================================================================

// advance moves the run to its next stage and logs the completion of the
// stage it leaves behind.
func (o *Orchestrator) advance(run *pipeline.Run, logger *slog.Logger) {
	prev := run.Stage
	if err := run.Advance(); err != nil {
		// The linear flow above cannot trip this; it guards reordering bugs.
		logger.Error("stage transition rejected", "stage", prev, "error", err)
		return
	}
	logger.Info("stage completed", "stage", prev)
}

// fail moves the run into the absorbing Failed stage, records it, and hands
// the classified error back for the caller's exit-code mapping.
func (o *Orchestrator) fail(ctx context.Context, res *Result, params config.Params, logger *slog.Logger, stageErr *pipeline.StageError) error {
	if err := res.Run.Fail(stageErr); err != nil {
		logger.Error("failure transition rejected", "stage", res.Run.Stage, "error", err)
	}
	logger.Error("stage failed",
		"stage", stageErr.Stage,
		"op", stageErr.Op,
		"kind", kindName(stageErr),
		"error", stageErr.Message)
	o.record(ctx, res, params, logger)
	return stageErr
}

// record persists the run summary when a recorder is configured. Recording
// failures are logged, never fatal: history must not break deployments.
func (o *Orchestrator) record(ctx context.Context, res *Result, params config.Params, logger *slog.Logger) {
	if o.recorder == nil {
		return
	}

	rec := &history.Record{
		ID:        res.Run.ID,
		Stage:     res.Run.Stage,
		Status:    res.Run.Status(),
		StartedAt: res.Run.StartedAt,
	}
	if !res.Run.FinishedAt.IsZero() {
		finished := res.Run.FinishedAt
		rec.FinishedAt = &finished
	}
	if res.Run.Err != nil {
		rec.Stage = res.Run.Err.Stage
		rec.Error = res.Run.Err.Error()
	}

	// Prefer validated values; fall back to the raw parameters when the run
	// never got past collection.
	if cfg := res.Config; cfg != nil {
		rec.AppName = cfg.AppName
		rec.RepoURL = cfg.RepoURL
		rec.Branch = cfg.Branch
		rec.Host = cfg.SSHHost
	} else {
		rec.AppName = config.DeriveAppName(params.RepoURL)
		rec.RepoURL = params.RepoURL
		rec.Branch = params.Branch
		rec.Host = params.SSHHost
	}
	if res.Repo != nil {
		rec.Commit = res.Repo.Commit
	}

	if err := o.recorder.Append(ctx, rec); err != nil {
		logger.Warn("recording run history", "error", err)
	}
}

// kindName maps a stage error's classification to its log label.
func kindName(err *pipeline.StageError) string {
	if kind := pipeline.Classify(err); kind != nil {
		return kind.Error()
	}
	return "internal"
}

// logCollected writes one line per validated parameter, the collection
// stage's required side effect. The token itself never reaches a log line.
func logCollected(logger *slog.Logger, cfg *config.DeploymentConfig) {
	token := "(none)"
	if cfg.Token != "" {
		token = "(provided)"
	}
	fields := []struct {
		name  string
		value any
	}{
		{"repo_url", cfg.RepoURL},
		{"access_token", token},
		{"branch", cfg.Branch},
		{"ssh_user", cfg.SSHUser},
		{"ssh_host", cfg.SSHHost},
		{"ssh_port", cfg.SSHPort},
		{"key_path", cfg.KeyPath},
		{"ports", cfg.Ports.String()},
		{"app_name", cfg.AppName},
		{"remote_dir", cfg.RemoteDir},
	}
	for _, f := range fields {
		logger.Info("parameter validated", "field", f.name, "value", f.value)
	}
}
