package stages

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/descriptor"
	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/core/remotecmd"
)

// =============================================================================
// Validator
// =============================================================================

const (
	localProbeTimeoutSeconds = 10
	publicProbeTimeout       = 15 * time.Second
)

// Validator confirms the deployment actually works: runtime service active,
// application instance running, local port answering, and the public
// endpoint returning 200. Failures here are reported distinctly from deploy
// failures - the remote state may be fully deployed but unreachable.
type Validator struct {
	session Executor
	cfg     *config.DeploymentConfig
	logger  *slog.Logger
	client  *http.Client
}

// NewValidator creates a validator for one run.
func NewValidator(session Executor, cfg *config.DeploymentConfig, logger *slog.Logger) *Validator {
	return &Validator{
		session: session,
		cfg:     cfg,
		logger:  logger.With("component", "validator"),
		client:  &http.Client{Timeout: publicProbeTimeout},
	}
}

// Validate runs the post-deploy checks in order from cheapest to most
// end-to-end. The final check leaves the session entirely and probes the
// public endpoint from the operator's machine.
func (v *Validator) Validate(ctx context.Context, kind descriptor.Kind) error {
	if err := v.checkRuntimeActive(ctx); err != nil {
		return err
	}
	if err := v.checkInstanceRunning(ctx, kind); err != nil {
		return err
	}
	if err := v.checkLocalEndpoint(ctx); err != nil {
		return err
	}
	return v.checkPublicEndpoint(ctx)
}

func (v *Validator) checkRuntimeActive(ctx context.Context) error {
	v.logger.Info("checking container runtime service")

	res, err := v.session.Run(ctx, remotecmd.SystemctlIsActive("docker"))
	if err != nil {
		return pipeline.WrapStage(pipeline.StageValidating, "runtime service check", err)
	}
	if res.Failed() {
		return pipeline.NewStageError(pipeline.StageValidating, "runtime service check",
			"container runtime service is not active", pipeline.ErrValidationFailure)
	}
	return nil
}

func (v *Validator) checkInstanceRunning(ctx context.Context, kind descriptor.Kind) error {
	stage := pipeline.StageValidating

	var cmd, op string
	if kind == descriptor.KindCompose {
		op = "compose project check"
		cmd = remotecmd.DockerListComposeProject(v.cfg.AppName)
	} else {
		op = "container check"
		cmd = remotecmd.DockerInspectRunning(v.cfg.ContainerName())
	}

	v.logger.Info("checking application instance", "op", op)
	res, err := v.session.Run(ctx, remotecmd.Sudo(v.cfg.SSHUser, cmd))
	if err != nil {
		return pipeline.WrapStage(stage, op, err)
	}

	out := strings.TrimSpace(res.Stdout)
	if kind == descriptor.KindCompose {
		if res.Failed() || out == "" {
			return pipeline.NewStageError(stage, op,
				fmt.Sprintf("no running containers for project %s", v.cfg.AppName),
				pipeline.ErrValidationFailure)
		}
		return nil
	}

	if res.Failed() || out != "true" {
		return pipeline.NewStageError(stage, op,
			fmt.Sprintf("container %s is not running", v.cfg.ContainerName()),
			pipeline.ErrValidationFailure)
	}
	return nil
}

func (v *Validator) checkLocalEndpoint(ctx context.Context) error {
	stage := pipeline.StageValidating
	localURL := "http://" + v.cfg.Ports.UpstreamAddr() + v.cfg.HealthPath

	v.logger.Info("checking local endpoint", "url", localURL)
	res, err := v.session.Run(ctx, remotecmd.CurlStatus(localURL, localProbeTimeoutSeconds))
	if err != nil {
		return pipeline.WrapStage(stage, "local endpoint check", err)
	}
	if res.Failed() {
		return pipeline.NewStageError(stage, "local endpoint check",
			fmt.Sprintf("application did not answer on %s", localURL),
			pipeline.ErrValidationFailure)
	}

	code, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil || code < 200 || code >= 400 {
		return pipeline.NewStageError(stage, "local endpoint check",
			fmt.Sprintf("unexpected local status %q on %s", strings.TrimSpace(res.Stdout), localURL),
			pipeline.ErrValidationFailure)
	}
	return nil
}

// checkPublicEndpoint probes from the operator's machine. This is the one
// check that can fail with everything deployed correctly - firewalls and
// DNS live between here and the host.
func (v *Validator) checkPublicEndpoint(ctx context.Context) error {
	stage := pipeline.StageValidating
	url := v.cfg.PublicURL()

	v.logger.Info("checking public endpoint", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pipeline.NewStageError(stage, "public endpoint check", err.Error(), pipeline.ErrInvalidInput)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return pipeline.NewStageError(stage, "public endpoint check",
			fmt.Sprintf("request %s: %s", url, err), pipeline.ErrValidationFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pipeline.NewStageError(stage, "public endpoint check",
			fmt.Sprintf("%s returned status %d, want 200", url, resp.StatusCode),
			pipeline.ErrValidationFailure)
	}

	v.logger.Info("public endpoint healthy", "url", url, "status", resp.StatusCode)
	return nil
}
