// Package github verifies a GitHub-hosted repository before the pipeline
// spends time cloning it. With a token the API can tell apart "repository
// does not exist", "branch does not exist", and "token lacks access" -- all
// of which a failed clone reports as the same unhelpful authentication error.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/pipeline"
)

// Host is the hosting domain this preflight understands.
const Host = "github.com"

// Client wraps an authenticated GitHub API client.
type Client struct {
	gh     *gh.Client
	logger *slog.Logger
}

// NewClient builds an API client from a personal access token.
func NewClient(token string, logger *slog.Logger) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return &Client{
		gh:     gh.NewClient(tc),
		logger: logger.With("component", "github"),
	}
}

// Preflight checks that the configured repository and branch exist and are
// reachable with the configured token. It is a no-op for repositories not
// hosted on github.com and for runs without a token: without credentials the
// API would reject lookups of private repositories that the clone, using
// ambient SSH credentials, might still reach.
func Preflight(ctx context.Context, cfg *config.DeploymentConfig, logger *slog.Logger) error {
	if cfg.Token == "" {
		return nil
	}
	owner, repo, ok := OwnerRepo(cfg.RepoURL)
	if !ok {
		return nil
	}
	return NewClient(cfg.Token, logger).VerifyRepo(ctx, owner, repo, cfg.Branch)
}

// VerifyRepo confirms the repository exists and carries the branch.
func (c *Client) VerifyRepo(ctx context.Context, owner, repo, branch string) error {
	c.logger.Info("verifying repository via API", "owner", owner, "repo", repo, "branch", branch)

	_, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: repository %s/%s not found or token lacks access",
				pipeline.ErrInvalidInput, owner, repo)
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: token rejected for %s/%s", pipeline.ErrInvalidInput, owner, repo)
		}
		return fmt.Errorf("%w: query repository %s/%s: %v", pipeline.ErrNetworkFailure, owner, repo, err)
	}

	_, resp, err = c.gh.Repositories.GetBranch(ctx, owner, repo, branch, 0)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: branch %q not found in %s/%s",
				pipeline.ErrInvalidInput, branch, owner, repo)
		}
		return fmt.Errorf("%w: query branch %q of %s/%s: %v",
			pipeline.ErrNetworkFailure, branch, owner, repo, err)
	}

	c.logger.Info("repository verified", "owner", owner, "repo", repo, "branch", branch)
	return nil
}

// OwnerRepo extracts the owner and repository name from a github.com URL.
// Both https://github.com/owner/repo(.git) and git@github.com:owner/repo(.git)
// forms are understood; anything else reports ok=false.
func OwnerRepo(repoURL string) (owner, repo string, ok bool) {
	var path string
	switch {
	case strings.HasPrefix(repoURL, "git@"+Host+":"):
		path = strings.TrimPrefix(repoURL, "git@"+Host+":")
	default:
		u, err := url.Parse(repoURL)
		if err != nil || !strings.EqualFold(u.Host, Host) {
			return "", "", false
		}
		path = strings.TrimPrefix(u.Path, "/")
	}

	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
