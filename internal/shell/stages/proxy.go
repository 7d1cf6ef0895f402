package stages

import (
	"context"
	"log/slog"
	"path"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/core/proxy"
	"github.com/artpar/stevedore/internal/core/remotecmd"
)

// =============================================================================
// Proxy Configurator
// =============================================================================

// stagingDir is where rendered configuration lands before being installed
// into root-owned directories. Relative to the session user's home.
const stagingDir = ".stevedore"

// ProxyConfigurator writes and activates the reverse-proxy site definition
// for the deployed application.
type ProxyConfigurator struct {
	session Executor
	cfg     *config.DeploymentConfig
	logger  *slog.Logger
}

// NewProxyConfigurator creates a proxy configurator for one run.
func NewProxyConfigurator(session Executor, cfg *config.DeploymentConfig, logger *slog.Logger) *ProxyConfigurator {
	return &ProxyConfigurator{
		session: session,
		cfg:     cfg,
		logger:  logger.With("component", "proxy"),
	}
}

// Configure renders the site definition, installs and enables it, removes
// the distribution's default site, then validates and reloads the proxy.
// The reload only runs after validation passes, so the proxy is never left
// serving a syntactically broken configuration.
func (p *ProxyConfigurator) Configure(ctx context.Context) error {
	stage := pipeline.StageConfiguringProxy

	site := proxy.NewSite(p.cfg.AppName, p.cfg.Domain, p.cfg.Ports.UpstreamAddr())
	content, err := site.Render()
	if err != nil {
		return pipeline.NewStageError(stage, "render site", err.Error(), pipeline.ErrInvalidInput)
	}

	staged := path.Join(stagingDir, site.Name+".site")
	p.logger.Info("staging site definition", "path", staged, "upstream", site.UpstreamAddr)
	if err := p.session.Push(ctx, []byte(content), staged, "0644"); err != nil {
		return pipeline.WrapStage(stage, "stage site definition", err)
	}

	steps := []struct {
		op  string
		cmd string
	}{
		{"install site", remotecmd.InstallFile(staged, site.AvailablePath(), "0644")},
		{"enable site", remotecmd.Symlink(site.AvailablePath(), site.EnabledPath())},
		{"remove default site", remotecmd.RemoveFile(proxy.DefaultSitePath)},
		{"validate proxy config", remotecmd.NginxTest()},
		{"reload proxy", remotecmd.SystemctlReload("nginx")},
	}

	for _, step := range steps {
		p.logger.Info("configuring proxy", "op", step.op)
		if _, err := runChecked(ctx, p.session, stage, step.op,
			remotecmd.Sudo(p.cfg.SSHUser, step.cmd)); err != nil {
			return err
		}
	}

	p.logger.Info("proxy route active", "site", site.Name, "listen", site.ListenPort, "upstream", site.UpstreamAddr)
	return nil
}
