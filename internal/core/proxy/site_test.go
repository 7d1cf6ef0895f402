package proxy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSiteDefaults(t *testing.T) {
	s := NewSite("app", "", "127.0.0.1:8080")
	assert.Equal(t, "app", s.Name)
	assert.Equal(t, "_", s.ServerName)
	assert.Equal(t, 80, s.ListenPort)
	assert.Equal(t, "/etc/nginx/sites-available/app", s.AvailablePath())
	assert.Equal(t, "/etc/nginx/sites-enabled/app", s.EnabledPath())
}

func TestRenderForwardsToUpstream(t *testing.T) {
	s := NewSite("app", "app.example.com", "127.0.0.1:8080")
	content, err := s.Render()
	require.NoError(t, err)

	assert.Contains(t, content, "listen 80;")
	assert.Contains(t, content, "server_name app.example.com;")
	assert.Contains(t, content, "proxy_pass http://127.0.0.1:8080;")

	// Host, client address, and scheme must reach the upstream.
	assert.Contains(t, content, "proxy_set_header Host $host;")
	assert.Contains(t, content, "proxy_set_header X-Real-IP $remote_addr;")
	assert.Contains(t, content, "proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;")
	assert.Contains(t, content, "proxy_set_header X-Forwarded-Proto $scheme;")

	// Exactly one server block with one location.
	assert.Equal(t, 1, strings.Count(content, "server {"))
	assert.Equal(t, 1, strings.Count(content, "location / {"))
}

func TestRenderCatchAllWhenNoDomain(t *testing.T) {
	s := NewSite("app", "", "127.0.0.1:5000")
	content, err := s.Render()
	require.NoError(t, err)
	assert.Contains(t, content, "server_name _;")
}

func TestRenderValidation(t *testing.T) {
	_, err := Site{UpstreamAddr: "127.0.0.1:80"}.Render()
	assert.ErrorIs(t, err, ErrSiteNameRequired)

	_, err = Site{Name: "app"}.Render()
	assert.ErrorIs(t, err, ErrUpstreamRequired)
}

func TestRenderZeroValuesFilled(t *testing.T) {
	content, err := Site{Name: "app", UpstreamAddr: "127.0.0.1:5000"}.Render()
	require.NoError(t, err)
	assert.Contains(t, content, "listen 80;")
	assert.Contains(t, content, "server_name _;")
}
