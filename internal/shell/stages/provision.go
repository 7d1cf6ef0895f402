package stages

import (
	"context"
	"log/slog"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/descriptor"
	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/core/remotecmd"
)

// =============================================================================
// Provisioner
// =============================================================================

// basePackages are required for every deployment; composePackages only when
// the build descriptor is a compose file. curl is what the validator later
// probes the app with from inside the host.
var (
	basePackages    = []string{"docker.io", "nginx", "curl"}
	composePackages = []string{"docker-compose-v2"}

	baseServices = []string{"docker", "nginx"}
)

// Provisioner ensures the container runtime and reverse-proxy daemon are
// installed and enabled on the target. Every operation is a no-op when
// already satisfied, so re-running is safe.
type Provisioner struct {
	session Executor
	cfg     *config.DeploymentConfig
	logger  *slog.Logger
}

// NewProvisioner creates a provisioner for one run.
func NewProvisioner(session Executor, cfg *config.DeploymentConfig, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		session: session,
		cfg:     cfg,
		logger:  logger.With("component", "provisioner"),
	}
}

// Provision installs the required packages and enables their services. Any
// remote command failure is terminal: nothing can deploy without a working
// runtime.
func (p *Provisioner) Provision(ctx context.Context, kind descriptor.Kind) error {
	packages := basePackages
	if kind == descriptor.KindCompose {
		packages = append(append([]string{}, basePackages...), composePackages...)
	}

	steps := []struct {
		op  string
		cmd string
	}{
		{"update package index", remotecmd.AptUpdate()},
		{"install packages", remotecmd.AptInstall(packages...)},
		{"enable services", remotecmd.SystemctlEnableNow(baseServices...)},
	}

	for _, step := range steps {
		p.logger.Info("provisioning", "op", step.op)
		if _, err := runChecked(ctx, p.session, pipeline.StageProvisioning, step.op,
			remotecmd.Sudo(p.cfg.SSHUser, step.cmd)); err != nil {
			return err
		}
	}

	p.logger.Info("host provisioned", "packages", packages, "services", baseServices)
	return nil
}
