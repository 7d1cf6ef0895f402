package stages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stevedore/internal/core/descriptor"
	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/shell/remote"
)

// healthyFake scripts the remote side of a fully healthy deployment.
func healthyFake() *fakeSession {
	return &fakeSession{
		respond: func(cmd string) (*remote.Result, error) {
			switch {
			case strings.Contains(cmd, "docker inspect"):
				return &remote.Result{Stdout: "true\n"}, nil
			case strings.Contains(cmd, "docker ps"):
				return &remote.Result{Stdout: "app-web-1\napp-cache-1\n"}, nil
			case strings.Contains(cmd, "curl"):
				return &remote.Result{Stdout: "200"}, nil
			default:
				return nil, nil
			}
		},
	}
}

// validatorAgainst points the public endpoint check at a local test server.
func validatorAgainst(t *testing.T, fake *fakeSession, srv *httptest.Server) *Validator {
	t.Helper()
	cfg := testDeployConfig(t)
	cfg.Domain = strings.TrimPrefix(srv.URL, "http://")
	return NewValidator(fake, cfg, testLogger())
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidateHealthyDeployment(t *testing.T) {
	fake := healthyFake()
	v := validatorAgainst(t, fake, okServer(t))

	require.NoError(t, v.Validate(context.Background(), descriptor.KindDockerfile))

	assert.NotEqual(t, -1, fake.indexOf("systemctl is-active --quiet docker"))
	assert.NotEqual(t, -1, fake.indexOf("docker inspect"))
	assert.NotEqual(t, -1, fake.indexOf("curl"))
	assert.NotEqual(t, -1, fake.indexOf("http://127.0.0.1:8080/"))
}

func TestValidateComposeChecksProjectContainers(t *testing.T) {
	fake := healthyFake()
	v := validatorAgainst(t, fake, okServer(t))

	require.NoError(t, v.Validate(context.Background(), descriptor.KindCompose))
	assert.NotEqual(t, -1, fake.indexOf("label=com.docker.compose.project=app"))
	assert.Equal(t, -1, fake.indexOf("docker inspect"))
}

func TestValidateRuntimeInactive(t *testing.T) {
	fake := &fakeSession{
		respond: func(cmd string) (*remote.Result, error) {
			if strings.Contains(cmd, "is-active") {
				return &remote.Result{ExitCode: 3}, nil
			}
			return nil, nil
		},
	}
	v := validatorAgainst(t, fake, okServer(t))

	err := v.Validate(context.Background(), descriptor.KindDockerfile)
	assert.ErrorIs(t, err, pipeline.ErrValidationFailure)
	assert.Equal(t, -1, fake.indexOf("docker inspect"), "checks past the failure must not run")
}

func TestValidateContainerNotRunning(t *testing.T) {
	fake := &fakeSession{
		respond: func(cmd string) (*remote.Result, error) {
			if strings.Contains(cmd, "docker inspect") {
				return &remote.Result{Stdout: "false\n"}, nil
			}
			if strings.Contains(cmd, "curl") {
				return &remote.Result{Stdout: "200"}, nil
			}
			return nil, nil
		},
	}
	v := validatorAgainst(t, fake, okServer(t))

	err := v.Validate(context.Background(), descriptor.KindDockerfile)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrValidationFailure)

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Contains(t, stageErr.Message, "not running")
}

func TestValidateLocalEndpointBadStatus(t *testing.T) {
	fake := &fakeSession{
		respond: func(cmd string) (*remote.Result, error) {
			switch {
			case strings.Contains(cmd, "docker inspect"):
				return &remote.Result{Stdout: "true"}, nil
			case strings.Contains(cmd, "curl"):
				return &remote.Result{Stdout: "502"}, nil
			default:
				return nil, nil
			}
		},
	}
	v := validatorAgainst(t, fake, okServer(t))

	err := v.Validate(context.Background(), descriptor.KindDockerfile)
	assert.ErrorIs(t, err, pipeline.ErrValidationFailure)
}

func TestValidatePublicEndpointNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	fake := healthyFake()
	v := validatorAgainst(t, fake, srv)

	err := v.Validate(context.Background(), descriptor.KindDockerfile)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrValidationFailure)

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "public endpoint check", stageErr.Op)
	assert.Contains(t, stageErr.Message, "502")
}

func TestValidatePublicEndpointUnreachable(t *testing.T) {
	fake := healthyFake()
	cfg := testDeployConfig(t)
	// Port 1 on loopback is closed, so the probe fails fast with a refusal
	// instead of waiting out a timeout.
	cfg.Domain = "127.0.0.1:1"
	v := NewValidator(fake, cfg, testLogger())

	err := v.Validate(context.Background(), descriptor.KindDockerfile)
	assert.ErrorIs(t, err, pipeline.ErrValidationFailure)
}

func TestValidateReportsDistinctKind(t *testing.T) {
	// A validation failure must never look like a provisioning or deploy
	// failure to the caller.
	fake := &fakeSession{
		respond: func(cmd string) (*remote.Result, error) {
			if strings.Contains(cmd, "is-active") {
				return &remote.Result{ExitCode: 3}, nil
			}
			return nil, nil
		},
	}
	cfg := testDeployConfig(t)
	v := NewValidator(fake, cfg, testLogger())

	err := v.Validate(context.Background(), descriptor.KindDockerfile)
	assert.ErrorIs(t, err, pipeline.ErrValidationFailure)
	assert.NotErrorIs(t, err, pipeline.ErrRemoteCommandFailure)
	assert.NotErrorIs(t, err, pipeline.ErrNetworkFailure)
}
