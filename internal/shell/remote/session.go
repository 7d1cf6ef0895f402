// Package remote implements the authenticated SSH channel every
// remote-facing stage runs through. One Session is opened per pipeline run
// and reused; each command executes in its own SSH exec session.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/core/remotecmd"
)

// =============================================================================
// Configuration
// =============================================================================

// Config bounds the session's network operations. Zero command timeout means
// unbounded: image builds legitimately take minutes and the operator is
// present.
type Config struct {
	ConnectTimeout time.Duration // Default: 10 seconds
	ProbeTimeout   time.Duration // Default: 10 seconds
	CommandTimeout time.Duration // Default: 0 (unbounded)
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		ProbeTimeout:   10 * time.Second,
		CommandTimeout: 0,
	}
}

// =============================================================================
// Session
// =============================================================================

// Target identifies the host a session authenticates against.
type Target struct {
	Host    string
	Port    int
	User    string
	KeyPath string
}

// Addr returns the dial address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Session is an authenticated channel to one target host. Safe for use from
// one goroutine at a time; the mutex only guards reconnects.
type Session struct {
	target Target
	signer ssh.Signer
	cfg    Config

	mu     sync.Mutex
	client *ssh.Client
}

// Result carries everything a remote command produced. A non-zero exit code
// is not an error at this layer: callers decide what a failure means (a
// missing container on "docker stop" is expected, a failed build is not).
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Failed reports a non-zero exit.
func (r *Result) Failed() bool {
	return r.ExitCode != 0
}

// Dial prepares a session for a target. The private key is read and parsed
// eagerly so credential problems surface before any network traffic; the TCP
// connection itself is established lazily on first use.
func Dial(target Target, cfg Config) (*Session, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}

	keyData, err := os.ReadFile(target.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key %s: %v", pipeline.ErrInvalidInput, target.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key %s: %v", pipeline.ErrInvalidInput, target.KeyPath, err)
	}

	return &Session{
		target: target,
		signer: signer,
		cfg:    cfg,
	}, nil
}

// connect establishes the SSH connection if not already connected, checking
// liveness of an existing connection with a keepalive request.
func (s *Session) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		_, _, err := s.client.SendRequest("keepalive@stevedore", true, nil)
		if err == nil {
			return nil
		}
		s.client.Close()
		s.client = nil
	}

	config := &ssh.ClientConfig{
		User:            s.target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(s.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: optional known_hosts verification
		Timeout:         s.cfg.ConnectTimeout,
	}

	client, err := ssh.Dial("tcp", s.target.Addr(), config)
	if err != nil {
		return fmt.Errorf("%w: ssh dial %s: %v", pipeline.ErrNetworkFailure, s.target.Addr(), err)
	}

	s.client = client
	return nil
}

// Close tears down the connection. Safe to call on a never-connected or
// already-closed session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

// =============================================================================
// Liveness Probe
// =============================================================================

// Probe connects and runs a trivial command with a bounded timeout. No stage
// that mutates remote state runs before this succeeds.
func (s *Session) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	res, err := s.run(probeCtx, remotecmd.Probe(), nil, s.cfg.ProbeTimeout)
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("%w: probe exited %d: %s", pipeline.ErrNetworkFailure, res.ExitCode, res.Stderr)
	}
	return nil
}

// =============================================================================
// Command Execution
// =============================================================================

// Run executes one command on the target and blocks until its exit status is
// known. Transport-level failures return an error; command failures return a
// Result with the non-zero exit code and captured stderr.
func (s *Session) Run(ctx context.Context, cmd string) (*Result, error) {
	return s.run(ctx, cmd, nil, s.cfg.CommandTimeout)
}

// RunWithInput executes a command with the given bytes streamed to its
// stdin.
func (s *Session) RunWithInput(ctx context.Context, cmd string, input []byte) (*Result, error) {
	return s.run(ctx, cmd, bytes.NewReader(input), s.cfg.CommandTimeout)
}

func (s *Session) run(ctx context.Context, cmd string, stdin *bytes.Reader, timeout time.Duration) (*Result, error) {
	if err := s.connect(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	session, err := s.client.NewSession()
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: create ssh session: %v", pipeline.ErrNetworkFailure, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", pipeline.ErrNetworkFailure, ctx.Err())
	case <-timeoutCh:
		return nil, fmt.Errorf("%w: command timed out after %v", pipeline.ErrNetworkFailure, timeout)
	case err := <-done:
		res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return nil, fmt.Errorf("%w: run remote command: %v", pipeline.ErrNetworkFailure, err)
	}
}

// =============================================================================
// File Transfer
// =============================================================================

// Push writes content to a path on the target by streaming it through the
// remote shell, creating parent directories as needed. Paths are relative to
// the session user's home unless absolute.
func (s *Session) Push(ctx context.Context, content []byte, remotePath, mode string) error {
	res, err := s.RunWithInput(ctx, remotecmd.StageFile(remotePath, mode), content)
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("%w: push %s exited %d: %s", pipeline.ErrRemoteCommandFailure, remotePath, res.ExitCode, res.Stderr)
	}
	return nil
}

// PushTree streams a local directory to the target as a gzipped tar archive
// extracted into remoteDir. The .git directory is skipped: the remote build
// context needs the working tree, not the repository history.
func (s *Session) PushTree(ctx context.Context, localDir, remoteDir string) error {
	var buf bytes.Buffer
	if err := writeTree(&buf, localDir); err != nil {
		return fmt.Errorf("%w: archive %s: %v", pipeline.ErrInvalidInput, localDir, err)
	}

	res, err := s.RunWithInput(ctx, remotecmd.ExtractTar(remoteDir), buf.Bytes())
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("%w: extract tree into %s exited %d: %s", pipeline.ErrRemoteCommandFailure, remoteDir, res.ExitCode, res.Stderr)
	}
	return nil
}
