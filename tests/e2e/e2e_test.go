// Package e2e exercises the full deployment pipeline against a real host.
//
// These tests are destructive for the target machine: they install packages,
// replace containers, and rewrite the nginx default site. Point them at a
// disposable VM only, never at anything carrying traffic.
//
// They are skipped unless STEVEDORE_E2E_HOST is set. Run with:
//
//	STEVEDORE_E2E_HOST=203.0.113.10 \
//	STEVEDORE_E2E_USER=root \
//	STEVEDORE_E2E_REPO=https://github.com/you/sample-app.git \
//	go test -v -timeout 20m ./tests/e2e/...
//
// Optional knobs: STEVEDORE_E2E_KEY (private key path), STEVEDORE_E2E_BRANCH,
// STEVEDORE_E2E_PORT (host:container port spec), STEVEDORE_E2E_TOKEN.
package e2e

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/shell/history"
	"github.com/artpar/stevedore/internal/shell/orchestrator"
)

// =============================================================================
// Environment
// =============================================================================

// e2eParams reads the target from the environment, skipping the test when no
// host is configured so the suite stays green on laptops and in CI.
func e2eParams(t *testing.T) config.Params {
	t.Helper()

	host := os.Getenv("STEVEDORE_E2E_HOST")
	if host == "" {
		t.Skip("STEVEDORE_E2E_HOST not set, skipping end-to-end tests")
	}
	user := os.Getenv("STEVEDORE_E2E_USER")
	repo := os.Getenv("STEVEDORE_E2E_REPO")
	if user == "" || repo == "" {
		t.Fatal("STEVEDORE_E2E_USER and STEVEDORE_E2E_REPO must be set alongside STEVEDORE_E2E_HOST")
	}

	return config.Params{
		RepoURL:  repo,
		Token:    os.Getenv("STEVEDORE_E2E_TOKEN"),
		Branch:   os.Getenv("STEVEDORE_E2E_BRANCH"),
		SSHUser:  user,
		SSHHost:  host,
		KeyPath:  os.Getenv("STEVEDORE_E2E_KEY"),
		PortSpec: os.Getenv("STEVEDORE_E2E_PORT"),
	}
}

// newRunner builds an orchestrator with a throwaway workdir and history
// database so repeated runs never trip over a previous test's state.
func newRunner(t *testing.T) (*orchestrator.Orchestrator, *history.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := history.NewStore(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := orchestrator.DefaultConfig()
	cfg.WorkDir = t.TempDir()

	return orchestrator.New(cfg, store, logger), store
}
