package stages

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/shell/remote"
)

func TestConfigureWritesAndActivatesSite(t *testing.T) {
	fake := &fakeSession{}
	p := NewProxyConfigurator(fake, testDeployConfig(t), testLogger())

	require.NoError(t, p.Configure(context.Background()))

	// The rendered definition is staged in the session user's home.
	staged, ok := fake.pushed[".stevedore/app.site"]
	require.True(t, ok, "expected a staged site definition, got %v", fake.pushed)
	assert.Contains(t, string(staged), "listen 80;")
	assert.Contains(t, string(staged), "proxy_pass http://127.0.0.1:8080;")

	install := fake.indexOf("install -m 0644 .stevedore/app.site /etc/nginx/sites-available/app")
	enable := fake.indexOf("ln -sf /etc/nginx/sites-available/app /etc/nginx/sites-enabled/app")
	removeDefault := fake.indexOf("rm -f /etc/nginx/sites-enabled/default")
	test := fake.indexOf("nginx -t")
	reload := fake.indexOf("systemctl reload nginx")

	for name, idx := range map[string]int{
		"install": install, "enable": enable, "remove default": removeDefault,
		"test": test, "reload": reload,
	} {
		require.NotEqual(t, -1, idx, "missing %s command", name)
	}

	// Validation gates the reload.
	assert.Less(t, install, enable)
	assert.Less(t, enable, removeDefault)
	assert.Less(t, removeDefault, test)
	assert.Less(t, test, reload)
}

func TestConfigureBrokenConfigNeverReloads(t *testing.T) {
	fake := &fakeSession{
		respond: func(cmd string) (*remote.Result, error) {
			if strings.Contains(cmd, "nginx -t") {
				return &remote.Result{ExitCode: 1, Stderr: "nginx: configuration file test failed"}, nil
			}
			return nil, nil
		},
	}
	p := NewProxyConfigurator(fake, testDeployConfig(t), testLogger())

	err := p.Configure(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrRemoteCommandFailure)

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageConfiguringProxy, stageErr.Stage)

	assert.Equal(t, -1, fake.indexOf("systemctl reload"))
}

func TestConfigureStagingFailure(t *testing.T) {
	fake := &fakeSession{pushErr: pipeline.ErrNetworkFailure}
	p := NewProxyConfigurator(fake, testDeployConfig(t), testLogger())

	err := p.Configure(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrNetworkFailure)
	assert.Empty(t, fake.commands)
}

func TestConfigureUsesDomainWhenSet(t *testing.T) {
	fake := &fakeSession{}
	cfg := testDeployConfig(t)
	cfg.Domain = "app.example.com"
	p := NewProxyConfigurator(fake, cfg, testLogger())

	require.NoError(t, p.Configure(context.Background()))
	assert.Contains(t, string(fake.pushed[".stevedore/app.site"]), "server_name app.example.com;")
}
