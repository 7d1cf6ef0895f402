// Package proxy renders reverse-proxy site definitions. Rendering is pure;
// writing the file and reloading the daemon happen remotely through the
// session.
package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"text/template"
)

// =============================================================================
// Site
// =============================================================================

var (
	ErrSiteNameRequired = errors.New("site name is required")
	ErrUpstreamRequired = errors.New("upstream address is required")
)

// Paths of the proxy daemon's site definition directories on the target.
const (
	sitesAvailableDir = "/etc/nginx/sites-available"
	sitesEnabledDir   = "/etc/nginx/sites-enabled"

	// DefaultSitePath is the distribution's catch-all site. It is removed
	// when a deployment's site is enabled, otherwise both match port 80
	// and routing becomes ambiguous.
	DefaultSitePath = "/etc/nginx/sites-enabled/default"
)

// Site is one reverse-proxy site definition: a server block forwarding the
// public listen port to the application's local address.
type Site struct {
	Name         string // file name under sites-available
	ServerName   string // virtual host; "_" matches any host
	ListenPort   int    // public port, 80 unless overridden
	UpstreamAddr string // host:port the application answers on
}

// NewSite builds a site definition for an application. An empty domain
// yields a catch-all server name, which matches how a fresh host with no DNS
// record is reached by IP.
func NewSite(appName, domain, upstreamAddr string) Site {
	serverName := domain
	if serverName == "" {
		serverName = "_"
	}
	return Site{
		Name:         appName,
		ServerName:   serverName,
		ListenPort:   ListenPort,
		UpstreamAddr: upstreamAddr,
	}
}

// AvailablePath is where the rendered definition is installed.
func (s Site) AvailablePath() string {
	return path.Join(sitesAvailableDir, s.Name)
}

// EnabledPath is the symlink that activates the site.
func (s Site) EnabledPath() string {
	return path.Join(sitesEnabledDir, s.Name)
}

// =============================================================================
// Rendering
// =============================================================================

// siteTemplate forwards the original host header, the client address chain,
// and the scheme to the upstream. The $-variables belong to nginx and are
// expanded at request time, not render time.
const siteTemplate = `server {
    listen {{.ListenPort}};
    server_name {{.ServerName}};

    location / {
        proxy_pass http://{{.UpstreamAddr}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`

var siteTmpl = template.Must(template.New("site").Parse(siteTemplate))

// Render produces the site definition content.
func (s Site) Render() (string, error) {
	if s.Name == "" {
		return "", ErrSiteNameRequired
	}
	if s.UpstreamAddr == "" {
		return "", ErrUpstreamRequired
	}
	if s.ListenPort == 0 {
		s.ListenPort = ListenPort
	}
	if s.ServerName == "" {
		s.ServerName = "_"
	}

	var buf bytes.Buffer
	if err := siteTmpl.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("render site %s: %w", s.Name, err)
	}
	return buf.String(), nil
}
