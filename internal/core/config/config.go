// Package config defines the validated parameter set a deployment run
// operates on. Collect gathers raw operator input, applies defaults, and
// produces an immutable DeploymentConfig; nothing past the collector stage
// ever sees an unvalidated value.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/artpar/stevedore/internal/core/proxy"
)

// =============================================================================
// Validation Errors
// =============================================================================

var (
	// Repository URL validation errors
	ErrRepoURLRequired = errors.New("repository URL is required")
	ErrRepoURLInvalid  = errors.New("repository URL must be an http(s), ssh, or git@ URL")

	// Access token validation errors
	ErrTokenTooShort = errors.New("access token must be at least 8 characters")

	// SSH validation errors
	ErrSSHUserRequired = errors.New("SSH user is required")
	ErrSSHHostRequired = errors.New("SSH host is required")
	ErrSSHHostInvalid  = errors.New("SSH host must be a valid hostname or IP address")
	ErrSSHPortInvalid  = errors.New("SSH port must be between 1 and 65535")

	// Key file validation errors
	ErrKeyPathRequired = errors.New("private key path is required")
	ErrKeyNotReadable  = errors.New("private key file is not readable")

	// Port mapping validation errors
	ErrPortSpecInvalid = errors.New("invalid port specification")

	// Derived field errors
	ErrAppNameInvalid = errors.New("application name must contain at least one letter or digit")
)

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultBranch     = "main"
	DefaultSSHPort    = 22
	DefaultKeyPath    = "~/.ssh/id_rsa"
	DefaultPortSpec   = "5000"
	DefaultHealthPath = "/"

	// remoteDirPrefix is relative to the SSH user's home directory so file
	// transfer and image builds never need elevated permissions. Root
	// sessions get a system path instead.
	remoteDirPrefix     = "apps"
	rootRemoteDirPrefix = "/opt/stevedore"
)

// minTokenLength is a typo guard, not a security check: real hosting tokens
// are far longer than this.
const minTokenLength = 8

// =============================================================================
// Port Mapping
// =============================================================================

// PortMap binds one host port to the container port the application listens
// on. HostIP is empty unless the operator pinned the binding to an address.
type PortMap struct {
	HostIP        string `json:"host_ip,omitempty"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
}

// String renders the mapping in the runtime's -p syntax.
func (p PortMap) String() string {
	spec := fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
	if p.HostIP != "" {
		spec = p.HostIP + ":" + spec
	}
	return spec
}

// UpstreamAddr returns the local address the reverse proxy forwards to.
func (p PortMap) UpstreamAddr() string {
	host := p.HostIP
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(p.HostPort))
}

// =============================================================================
// DeploymentConfig
// =============================================================================

// DeploymentConfig is the full, validated parameter set for one deployment.
// Treat it as immutable once Collect returns it.
type DeploymentConfig struct {
	RepoURL    string  `json:"repo_url"`
	Token      string  `json:"-"` // Never serialize
	Branch     string  `json:"branch"`
	SSHUser    string  `json:"ssh_user"`
	SSHHost    string  `json:"ssh_host"`
	SSHPort    int     `json:"ssh_port"`
	KeyPath    string  `json:"key_path"`
	Ports      PortMap `json:"ports"`
	AppName    string  `json:"app_name"`
	RemoteDir  string  `json:"remote_dir"`
	Domain     string  `json:"domain,omitempty"`
	HealthPath string  `json:"health_path"`
}

// SSHAddress returns the host:port dial address for the target.
func (c *DeploymentConfig) SSHAddress() string {
	return net.JoinHostPort(c.SSHHost, strconv.Itoa(c.SSHPort))
}

// ContainerName is the fixed name the application container runs under.
// Exactly one container with this name exists per host.
func (c *DeploymentConfig) ContainerName() string {
	return c.AppName
}

// ImageTag is the tag new images are built under.
func (c *DeploymentConfig) ImageTag() string {
	return c.AppName + ":latest"
}

// PublicURL is the endpoint the post-deploy check probes from the operator's
// machine.
func (c *DeploymentConfig) PublicURL() string {
	host := c.SSHHost
	if c.Domain != "" {
		host = c.Domain
	}
	return "http://" + host + c.HealthPath
}

// AuthenticatedCloneURL returns the repository URL with the access token
// inserted as basic-auth credentials. Only http(s) URLs are rewritten; ssh
// and git@ URLs rely on ambient credentials. The result goes into process
// arguments only and must never be logged.
func (c *DeploymentConfig) AuthenticatedCloneURL() string {
	if c.Token == "" {
		return c.RepoURL
	}
	u, err := url.Parse(c.RepoURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return c.RepoURL
	}
	u.User = url.User(c.Token)
	return u.String()
}

// =============================================================================
// Collection
// =============================================================================

// Params is raw operator input before defaults and validation.
type Params struct {
	RepoURL    string
	Token      string
	Branch     string
	SSHUser    string
	SSHHost    string
	SSHPort    int
	KeyPath    string
	PortSpec   string
	AppName    string
	RemoteDir  string
	Domain     string
	HealthPath string
}

// Collect applies defaults to raw parameters, validates every field, and
// derives the fields the operator left implicit. Any validation failure is
// terminal for the run.
func Collect(p Params) (*DeploymentConfig, error) {
	if p.Branch == "" {
		p.Branch = DefaultBranch
	}
	if p.SSHPort == 0 {
		p.SSHPort = DefaultSSHPort
	}
	if p.KeyPath == "" {
		p.KeyPath = DefaultKeyPath
	}
	if p.PortSpec == "" {
		p.PortSpec = DefaultPortSpec
	}
	if p.HealthPath == "" {
		p.HealthPath = DefaultHealthPath
	}

	if err := ValidateRepoURL(p.RepoURL); err != nil {
		return nil, err
	}
	if err := ValidateToken(p.Token); err != nil {
		return nil, err
	}
	if p.SSHUser == "" {
		return nil, ErrSSHUserRequired
	}
	if err := ValidateSSHHost(p.SSHHost); err != nil {
		return nil, err
	}
	if p.SSHPort < 1 || p.SSHPort > 65535 {
		return nil, ErrSSHPortInvalid
	}

	keyPath, err := ExpandTilde(p.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotReadable, err)
	}
	if err := checkReadable(keyPath); err != nil {
		return nil, err
	}

	ports, err := ParsePortSpec(p.PortSpec)
	if err != nil {
		return nil, err
	}
	if err := proxy.CheckHostPort(ports.HostPort, p.SSHPort); err != nil {
		return nil, err
	}

	appName := p.AppName
	if appName == "" {
		appName = DeriveAppName(p.RepoURL)
	} else {
		appName = Slugify(appName)
	}
	if appName == "" {
		return nil, ErrAppNameInvalid
	}

	remoteDir := p.RemoteDir
	if remoteDir == "" {
		if p.SSHUser == "root" {
			remoteDir = path.Join(rootRemoteDirPrefix, appName)
		} else {
			remoteDir = path.Join(remoteDirPrefix, appName)
		}
	}

	return &DeploymentConfig{
		RepoURL:    p.RepoURL,
		Token:      p.Token,
		Branch:     p.Branch,
		SSHUser:    p.SSHUser,
		SSHHost:    p.SSHHost,
		SSHPort:    p.SSHPort,
		KeyPath:    keyPath,
		Ports:      ports,
		AppName:    appName,
		RemoteDir:  remoteDir,
		Domain:     p.Domain,
		HealthPath: p.HealthPath,
	}, nil
}

// =============================================================================
// Validation Functions
// =============================================================================

// hostingDomains are recognized even when the URL carries no scheme, so bare
// "github.com/acme/app" input still passes.
var hostingDomains = []string{"github.com", "gitlab.com", "bitbucket.org", "codeberg.org"}

// ValidateRepoURL accepts http(s) and ssh URLs, scp-like git@ addresses, and
// scheme-less URLs on a recognized hosting domain.
func ValidateRepoURL(raw string) error {
	if raw == "" {
		return ErrRepoURLRequired
	}
	if strings.HasPrefix(raw, "git@") && strings.Contains(raw, ":") {
		return nil
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		switch u.Scheme {
		case "http", "https", "ssh":
			return nil
		}
	}
	for _, domain := range hostingDomains {
		if strings.Contains(raw, domain+"/") {
			return nil
		}
	}
	return ErrRepoURLInvalid
}

// ValidateToken rejects obviously truncated tokens. An empty token is valid:
// it means the repository is public or ambient credentials apply.
func ValidateToken(token string) error {
	if token != "" && len(token) < minTokenLength {
		return ErrTokenTooShort
	}
	return nil
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)

// ValidateSSHHost validates a hostname or IP address.
func ValidateSSHHost(host string) error {
	if host == "" {
		return ErrSSHHostRequired
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	if hostnameRegex.MatchString(host) {
		return nil
	}
	return ErrSSHHostInvalid
}

// ParsePortSpec parses a docker-style port specification: "5000" publishes
// the container port on the same host port, "8080:5000" maps host 8080 to
// container 5000, and "127.0.0.1:8080:5000" additionally pins the bind
// address. Ranges and non-tcp protocols are rejected.
func ParsePortSpec(spec string) (PortMap, error) {
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return PortMap{}, fmt.Errorf("%w: %s", ErrPortSpecInvalid, err)
	}
	if len(mappings) != 1 {
		return PortMap{}, fmt.Errorf("%w: port ranges are not supported", ErrPortSpecInvalid)
	}

	m := mappings[0]
	if m.Port.Proto() != "tcp" {
		return PortMap{}, fmt.Errorf("%w: only tcp ports are supported", ErrPortSpecInvalid)
	}

	container := m.Port.Int()
	host := container
	if m.Binding.HostPort != "" {
		host, err = strconv.Atoi(m.Binding.HostPort)
		if err != nil {
			return PortMap{}, fmt.Errorf("%w: host port %q", ErrPortSpecInvalid, m.Binding.HostPort)
		}
	}
	if container < 1 || container > 65535 || host < 1 || host > 65535 {
		return PortMap{}, fmt.Errorf("%w: ports must be between 1 and 65535", ErrPortSpecInvalid)
	}

	return PortMap{
		HostIP:        m.Binding.HostIP,
		HostPort:      host,
		ContainerPort: container,
	}, nil
}

// =============================================================================
// Derivation Helpers
// =============================================================================

// DeriveAppName produces the deployment name from the repository URL: the
// path basename with any ".git" suffix stripped, slugified.
func DeriveAppName(repoURL string) string {
	trimmed := strings.TrimSuffix(repoURL, "/")
	// scp-like addresses keep the path after the colon.
	if at := strings.Index(trimmed, "@"); at != -1 && !strings.Contains(trimmed, "://") {
		if colon := strings.Index(trimmed, ":"); colon != -1 {
			trimmed = trimmed[colon+1:]
		}
	}
	base := path.Base(trimmed)
	base = strings.TrimSuffix(base, ".git")
	return Slugify(base)
}

// ExpandTilde resolves a leading "~" or "~/" against the current user's home
// directory. Paths without a tilde pass through unchanged.
func ExpandTilde(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// checkReadable verifies the key path names a regular file the process can
// open.
func checkReadable(p string) error {
	if p == "" {
		return ErrKeyPathRequired
	}
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrKeyNotReadable, p)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrKeyNotReadable, p)
	}
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrKeyNotReadable, p)
	}
	f.Close()
	return nil
}
