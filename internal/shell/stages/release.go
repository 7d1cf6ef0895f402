package stages

import (
	"context"
	"log/slog"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/descriptor"
	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/core/remotecmd"
	"github.com/artpar/stevedore/internal/shell/gitrepo"
)

// =============================================================================
// Deployer
// =============================================================================

// Deployer ships the synchronized working tree to the target and (re)starts
// the application container. Redeploys replace the previous release: the old
// instance is stopped and removed before the new one binds the port, so two
// instances never hold the same port, at the cost of a brief window with
// none running.
type Deployer struct {
	session Executor
	cfg     *config.DeploymentConfig
	logger  *slog.Logger
}

// NewDeployer creates a deployer for one run.
func NewDeployer(session Executor, cfg *config.DeploymentConfig, logger *slog.Logger) *Deployer {
	return &Deployer{
		session: session,
		cfg:     cfg,
		logger:  logger.With("component", "deployer"),
	}
}

// Deploy pushes the working tree and rolls the release out. The remote
// application directory is reset first so no stale files from a previous
// release leak into the new build context.
func (d *Deployer) Deploy(ctx context.Context, repo *gitrepo.Repository) error {
	stage := pipeline.StageDeploying

	d.logger.Info("resetting remote application directory", "dir", d.cfg.RemoteDir)
	if _, err := runChecked(ctx, d.session, stage, "reset app directory",
		remotecmd.ResetDir(d.cfg.RemoteDir)); err != nil {
		return err
	}

	d.logger.Info("pushing working tree", "local", repo.Dir, "remote", d.cfg.RemoteDir, "commit", repo.Commit)
	if err := d.session.PushTree(ctx, repo.Dir, d.cfg.RemoteDir); err != nil {
		return pipeline.WrapStage(stage, "push working tree", err)
	}

	switch repo.Descriptor.Kind {
	case descriptor.KindCompose:
		return d.deployCompose(ctx)
	default:
		return d.deployContainer(ctx)
	}
}

// deployContainer is the single-image path: stop and remove any previous
// instance, build the image, run the new instance.
func (d *Deployer) deployContainer(ctx context.Context) error {
	stage := pipeline.StageDeploying
	name := d.cfg.ContainerName()

	if err := d.removePrevious(ctx, "stop previous container", remotecmd.DockerStop(name)); err != nil {
		return err
	}
	if err := d.removePrevious(ctx, "remove previous container", remotecmd.DockerRemove(name)); err != nil {
		return err
	}

	d.logger.Info("building image", "tag", d.cfg.ImageTag(), "context", d.cfg.RemoteDir)
	if _, err := runChecked(ctx, d.session, stage, "build image",
		remotecmd.Sudo(d.cfg.SSHUser, remotecmd.DockerBuild(d.cfg.RemoteDir, d.cfg.ImageTag()))); err != nil {
		return err
	}

	d.logger.Info("starting container", "name", name, "ports", d.cfg.Ports.String())
	if _, err := runChecked(ctx, d.session, stage, "run container",
		remotecmd.Sudo(d.cfg.SSHUser, remotecmd.DockerRun(name, d.cfg.ImageTag(), d.cfg.Ports))); err != nil {
		return err
	}

	return nil
}

// removePrevious runs a stop/remove command and classifies the result. A
// missing container counts as success but is logged distinctly from a clean
// stop, so the log shows what actually happened.
func (d *Deployer) removePrevious(ctx context.Context, op, cmd string) error {
	res, err := d.session.Run(ctx, remotecmd.Sudo(d.cfg.SSHUser, cmd))
	if err != nil {
		return pipeline.WrapStage(pipeline.StageDeploying, op, err)
	}

	outcome := remotecmd.RemovalOutcome(res.ExitCode, res.Stderr)
	d.logger.Info(op, "outcome", outcome.String())

	if !outcome.OK() {
		return pipeline.NewStageError(pipeline.StageDeploying, op,
			res.Stderr, pipeline.ErrRemoteCommandFailure)
	}
	return nil
}

// deployCompose is the multi-service path: tear the project down, then build
// and start every service. compose itself treats an absent project as a
// clean no-op, so no outcome classification is needed.
func (d *Deployer) deployCompose(ctx context.Context) error {
	stage := pipeline.StageDeploying

	d.logger.Info("stopping previous compose project", "dir", d.cfg.RemoteDir)
	if _, err := runChecked(ctx, d.session, stage, "compose down",
		remotecmd.Sudo(d.cfg.SSHUser, remotecmd.ComposeDown(d.cfg.RemoteDir))); err != nil {
		return err
	}

	d.logger.Info("starting compose project", "dir", d.cfg.RemoteDir)
	if _, err := runChecked(ctx, d.session, stage, "compose up",
		remotecmd.Sudo(d.cfg.SSHUser, remotecmd.ComposeUp(d.cfg.RemoteDir))); err != nil {
		return err
	}

	return nil
}
