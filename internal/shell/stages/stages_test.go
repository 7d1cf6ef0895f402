package stages

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/shell/remote"
)

// fakeSession records every remote interaction and lets tests script
// responses per command.
type fakeSession struct {
	commands []string
	pushed   map[string][]byte
	trees    [][2]string

	// respond inspects a command and returns a scripted result. Returning
	// (nil, nil) falls back to success with empty output.
	respond     func(cmd string) (*remote.Result, error)
	pushErr     error
	pushTreeErr error
}

func (f *fakeSession) Run(_ context.Context, cmd string) (*remote.Result, error) {
	f.commands = append(f.commands, cmd)
	if f.respond != nil {
		res, err := f.respond(cmd)
		if res != nil || err != nil {
			return res, err
		}
	}
	return &remote.Result{}, nil
}

func (f *fakeSession) Push(_ context.Context, content []byte, remotePath, _ string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	if f.pushed == nil {
		f.pushed = make(map[string][]byte)
	}
	f.pushed[remotePath] = content
	return nil
}

func (f *fakeSession) PushTree(_ context.Context, localDir, remoteDir string) error {
	if f.pushTreeErr != nil {
		return f.pushTreeErr
	}
	f.trees = append(f.trees, [2]string{localDir, remoteDir})
	return nil
}

// indexOf returns the position of the first recorded command containing
// needle, or -1.
func (f *fakeSession) indexOf(needle string) int {
	for i, cmd := range f.commands {
		if strings.Contains(cmd, needle) {
			return i
		}
	}
	return -1
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeployConfig(t *testing.T) *config.DeploymentConfig {
	t.Helper()
	return &config.DeploymentConfig{
		RepoURL:    "https://github.com/acme/app.git",
		Branch:     "main",
		SSHUser:    "deploy",
		SSHHost:    "203.0.113.10",
		SSHPort:    22,
		Ports:      config.PortMap{HostPort: 8080, ContainerPort: 5000},
		AppName:    "app",
		RemoteDir:  "apps/app",
		HealthPath: "/",
	}
}
