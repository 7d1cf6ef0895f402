package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/shell/orchestrator"
	"github.com/artpar/stevedore/internal/shell/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Redeploy on GitHub push events",
	Long: `Start an HTTP server that redeploys the configured application whenever
GitHub delivers a push event for the target branch.

Deliveries are HMAC-verified against the webhook secret. At most one
deployment runs at a time; pushes arriving mid-deployment are rejected,
not queued.`,
	RunE: runServe,
}

func init() {
	addDeployFlags(serveCmd)
	f := serveCmd.Flags()
	f.String("listen-host", "", "address to bind (default 127.0.0.1)")
	f.Int("listen-port", 0, "port to listen on (default 8080)")
	f.String("secret", "", "webhook HMAC secret (required)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}
	applyDeployFlags(cmd, &cfg.Deploy)

	f := cmd.Flags()
	if f.Changed("listen-host") {
		cfg.Server.Host, _ = f.GetString("listen-host")
	}
	if f.Changed("listen-port") {
		cfg.Server.Port, _ = f.GetInt("listen-port")
	}
	if f.Changed("secret") {
		cfg.Server.Secret, _ = f.GetString("secret")
	}

	logger, logClose, err := SetupLogger(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}
	defer logClose.Close()

	// A daemon that cannot deploy should fail at startup, not at the first
	// delivery.
	params := cfg.Deploy.Params()
	if _, err := config.Collect(params); err != nil {
		return err
	}

	var (
		recorder orchestrator.Recorder
		hist     server.History
	)
	if store := openHistory(cfg, logger); store != nil {
		defer store.Close()
		recorder = store
		hist = store
	}

	orchCfg := orchestrator.DefaultConfig()
	if cfg.Deploy.WorkDir != "" {
		orchCfg.WorkDir = cfg.Deploy.WorkDir
	}
	orch := orchestrator.New(orchCfg, recorder, logger)

	srv, err := server.New(server.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Secret: cfg.Server.Secret,
	}, params, orch, hist, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}

	logger.Info("hook endpoint ready",
		"path", "/hooks/"+srv.AppName(),
		"address", cfg.Server.Address())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx)
}
