package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/shell/history"
	"github.com/artpar/stevedore/internal/shell/orchestrator"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the application to its host",
	Long: `Run the deployment pipeline once: validate parameters, synchronize the
repository, verify SSH connectivity, provision the host, roll out the
container, configure the nginx site, and validate the result.

The pipeline stops at the first failure. Nothing is retried.`,
	RunE: runDeploy,
}

func init() {
	addDeployFlags(deployCmd)
}

// addDeployFlags registers the per-run parameters. serve reuses the same set
// because a webhook deployment takes exactly the inputs a manual one does.
func addDeployFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("repo", "", "Git repository URL (required)")
	f.String("token", "", "access token for private https repositories")
	f.String("branch", "", "branch to deploy (default main)")
	f.StringP("ssh-user", "u", "", "SSH user on the target host (required)")
	f.StringP("host", "H", "", "target host IP or hostname (required)")
	f.Int("ssh-port", 0, "SSH port (default 22)")
	f.StringP("key", "i", "", "SSH private key path (default ~/.ssh/id_rsa)")
	f.StringP("port", "p", "", "application port, host:container accepted (default 5000)")
	f.StringP("app", "a", "", "application name (default repository basename)")
	f.String("remote-dir", "", "remote application directory")
	f.String("domain", "", "public domain probed by the post-deploy check")
	f.String("health-path", "", "path probed after deployment (default /)")
	f.String("workdir", "", "directory local working copies live under")
}

// applyDeployFlags overlays explicitly set flags onto the loaded settings,
// keeping the flags > environment > file precedence.
func applyDeployFlags(cmd *cobra.Command, dep *DeployConfig) {
	f := cmd.Flags()
	set := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	set("repo", &dep.RepoURL)
	set("token", &dep.Token)
	set("branch", &dep.Branch)
	set("ssh-user", &dep.SSHUser)
	set("host", &dep.SSHHost)
	set("key", &dep.KeyPath)
	set("port", &dep.Port)
	set("app", &dep.AppName)
	set("remote-dir", &dep.RemoteDir)
	set("domain", &dep.Domain)
	set("health-path", &dep.HealthPath)
	set("workdir", &dep.WorkDir)
	if f.Changed("ssh-port") {
		dep.SSHPort, _ = f.GetInt("ssh-port")
	}
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}
	applyDeployFlags(cmd, &cfg.Deploy)
	promptForMissing(&cfg.Deploy)

	logger, logClose, err := SetupLogger(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}
	defer logClose.Close()

	var recorder orchestrator.Recorder
	if store := openHistory(cfg, logger); store != nil {
		defer store.Close()
		recorder = store
	}

	orchCfg := orchestrator.DefaultConfig()
	if cfg.Deploy.WorkDir != "" {
		orchCfg.WorkDir = cfg.Deploy.WorkDir
	}

	orch := orchestrator.New(orchCfg, recorder, logger)
	orch.OnConfigCollected = printDeployPlan

	res, err := orch.Execute(cmd.Context(), cfg.Deploy.Params())
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s deployed %s to %s in %s\n",
		green("●"), res.Config.AppName, res.Config.PublicURL(),
		res.Run.Duration().Round(time.Second))
	return nil
}

// printDeployPlan shows the operator the validated parameters before the
// pipeline touches anything.
func printDeployPlan(cfg *config.DeploymentConfig) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n", cyan("=== Deployment Plan ==="))
	fmt.Printf("  App:        %s\n", cfg.AppName)
	fmt.Printf("  Repository: %s %s\n", cfg.RepoURL, gray("("+cfg.Branch+")"))
	fmt.Printf("  Target:     %s@%s %s\n", cfg.SSHUser, cfg.SSHHost,
		gray(fmt.Sprintf("(ssh port %d)", cfg.SSHPort)))
	fmt.Printf("  Ports:      %s\n", cfg.Ports)
	fmt.Printf("  Remote dir: %s\n", cfg.RemoteDir)
	fmt.Printf("  Endpoint:   %s\n", cfg.PublicURL())
	fmt.Println()
}

// openHistory opens the run store, creating the data directory on first use.
// History failures never block a deployment; the store is simply disabled.
func openHistory(cfg *Config, logger *slog.Logger) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	if dir := filepath.Dir(cfg.History.DSN); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("run history disabled", "error", err)
			return nil
		}
	}
	store, err := history.NewStore(cfg.History.DSN)
	if err != nil {
		logger.Warn("run history disabled", "error", err)
		return nil
	}
	return store
}
