// Package gitrepo keeps the local working copy in sync with the remote
// branch tip. Synchronization is idempotent: an existing copy is fetched and
// hard-reset, a missing one is cloned, and either way the result exactly
// matches the remote branch.
package gitrepo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/descriptor"
	"github.com/artpar/stevedore/internal/core/pipeline"
)

// Repository is a synchronized local working copy bound to one repository
// URL and branch.
type Repository struct {
	Dir        string                 `json:"dir"`
	URL        string                 `json:"url"`
	Branch     string                 `json:"branch"`
	Commit     string                 `json:"commit"`
	Descriptor *descriptor.Descriptor `json:"descriptor"`
}

// commandRunner executes one git invocation. Swapped out in tests.
type commandRunner func(ctx context.Context, dir string, args ...string) ([]byte, error)

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	// Fail outright instead of prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd.CombinedOutput()
}

// Syncer clones or updates working copies under a base directory.
type Syncer struct {
	baseDir string
	logger  *slog.Logger
	run     commandRunner
}

// NewSyncer creates a syncer rooted at baseDir.
func NewSyncer(baseDir string, logger *slog.Logger) *Syncer {
	return &Syncer{
		baseDir: baseDir,
		logger:  logger.With("component", "gitrepo"),
		run:     runGit,
	}
}

// Sync ensures a working copy of the configured branch exists and matches
// the remote tip, then verifies it contains a recognized build descriptor.
// Local divergence is discarded; that is what makes re-running safe.
func (s *Syncer) Sync(ctx context.Context, cfg *config.DeploymentConfig) (*Repository, error) {
	dir := filepath.Join(s.baseDir, cfg.AppName)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if err := s.update(ctx, dir, cfg); err != nil {
			return nil, err
		}
	} else {
		if err := s.clone(ctx, dir, cfg); err != nil {
			return nil, err
		}
	}

	commit, err := s.head(ctx, dir)
	if err != nil {
		return nil, err
	}

	desc, err := descriptor.Detect(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}

	s.logger.Info("working copy synchronized",
		"dir", dir,
		"branch", cfg.Branch,
		"commit", commit,
		"descriptor", desc.Path)

	return &Repository{
		Dir:        dir,
		URL:        cfg.RepoURL,
		Branch:     cfg.Branch,
		Commit:     commit,
		Descriptor: desc,
	}, nil
}

// clone creates a fresh single-branch working copy. The authenticated URL
// goes into the process arguments only; logs and errors carry the plain URL.
func (s *Syncer) clone(ctx context.Context, dir string, cfg *config.DeploymentConfig) error {
	s.logger.Info("cloning repository", "url", cfg.RepoURL, "branch", cfg.Branch, "dir", dir)

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("%w: create workspace %s: %v", pipeline.ErrInvalidInput, s.baseDir, err)
	}

	out, err := s.run(ctx, s.baseDir,
		"clone",
		"--branch", cfg.Branch,
		"--single-branch",
		cfg.AuthenticatedCloneURL(),
		dir,
	)
	if err != nil {
		return fmt.Errorf("%w: git clone %s: %s", pipeline.ErrNetworkFailure, cfg.RepoURL, scrub(out, cfg.Token))
	}
	return nil
}

// update fetches the configured branch and hard-resets the working copy to
// the fetched tip.
func (s *Syncer) update(ctx context.Context, dir string, cfg *config.DeploymentConfig) error {
	s.logger.Info("updating existing working copy", "dir", dir, "branch", cfg.Branch)

	out, err := s.run(ctx, dir, "fetch", "origin", cfg.Branch)
	if err != nil {
		return fmt.Errorf("%w: git fetch origin %s: %s", pipeline.ErrNetworkFailure, cfg.Branch, scrub(out, cfg.Token))
	}

	// FETCH_HEAD rather than origin/<branch>: single-branch clones only
	// track the branch they were created from, so a re-run against a
	// different branch has no remote-tracking ref to reset to.
	out, err = s.run(ctx, dir, "reset", "--hard", "FETCH_HEAD")
	if err != nil {
		return fmt.Errorf("%w: git reset --hard FETCH_HEAD: %s", pipeline.ErrInvalidInput, scrub(out, cfg.Token))
	}
	return nil
}

// head returns the commit the working copy now points at.
func (s *Syncer) head(ctx context.Context, dir string) (string, error) {
	out, err := s.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: git rev-parse HEAD: %s", pipeline.ErrInvalidInput, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// scrub removes the access token from git output before it reaches an error
// message or log line. git happily echoes the remote URL, credentials
// included, on failure.
func scrub(out []byte, token string) string {
	text := strings.TrimSpace(string(out))
	if token == "" {
		return text
	}
	return strings.ReplaceAll(text, token, "****")
}
