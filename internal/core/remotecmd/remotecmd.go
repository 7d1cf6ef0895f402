// Package remotecmd renders the shell commands the pipeline executes on the
// target host. Every operator-influenced value passes through shell quoting,
// so branch names, ports, and directories can never splice extra commands
// into the remote shell. All functions are pure string builders.
package remotecmd

import (
	"fmt"
	"path"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/core/pipeline"
)

// =============================================================================
// Privilege Handling
// =============================================================================

// Sudo prefixes a command with non-interactive sudo when the session user is
// not root. -n makes a missing sudoers entry fail immediately instead of
// hanging on a password prompt.
func Sudo(user, cmd string) string {
	if user == "root" {
		return cmd
	}
	return "sudo -n " + cmd
}

// =============================================================================
// Probe
// =============================================================================

// Probe is the trivial command used for the liveness check before any stage
// mutates remote state.
func Probe() string {
	return "echo connection-ok"
}

// =============================================================================
// Package and Service Management
// =============================================================================

// AptUpdate refreshes the package index.
func AptUpdate() string {
	return "DEBIAN_FRONTEND=noninteractive apt-get update -q"
}

// AptInstall installs packages without prompting. Already-installed packages
// make this a no-op, which keeps provisioning idempotent.
func AptInstall(pkgs ...string) string {
	args := append([]string{"apt-get", "install", "-y", "-q"}, pkgs...)
	return "DEBIAN_FRONTEND=noninteractive " + shellquote.Join(args...)
}

// SystemctlEnableNow enables units and starts them in one call.
func SystemctlEnableNow(units ...string) string {
	args := append([]string{"systemctl", "enable", "--now"}, units...)
	return shellquote.Join(args...)
}

// SystemctlIsActive exits zero only when the unit is running.
func SystemctlIsActive(unit string) string {
	return shellquote.Join("systemctl", "is-active", "--quiet", unit)
}

// SystemctlReload reloads a unit's configuration without restarting it.
func SystemctlReload(unit string) string {
	return shellquote.Join("systemctl", "reload", unit)
}

// =============================================================================
// Container Runtime
// =============================================================================

// DockerBuild builds an image from a context directory.
func DockerBuild(contextDir, tag string) string {
	return shellquote.Join("docker", "build", "-t", tag, contextDir)
}

// DockerStop stops a named container.
func DockerStop(name string) string {
	return shellquote.Join("docker", "stop", name)
}

// DockerRemove removes a named container.
func DockerRemove(name string) string {
	return shellquote.Join("docker", "rm", name)
}

// DockerRun starts a detached container under a fixed name, publishing the
// configured port mapping. The restart policy keeps the application up
// across host reboots.
func DockerRun(name, tag string, ports config.PortMap) string {
	return shellquote.Join(
		"docker", "run", "-d",
		"--name", name,
		"--restart", "unless-stopped",
		"-p", ports.String(),
		tag,
	)
}

// DockerInspectRunning prints "true" when the named container is running.
func DockerInspectRunning(name string) string {
	return shellquote.Join("docker", "inspect", "-f", "{{.State.Running}}", name)
}

// DockerListRunning prints the names of running containers matching an exact
// name filter, one per line.
func DockerListRunning(name string) string {
	return shellquote.Join(
		"docker", "ps",
		"--filter", "name=^"+name+"$",
		"--format", "{{.Names}}",
	)
}

// DockerListComposeProject prints the names of running containers belonging
// to a compose project. Empty output means nothing of the project survived
// startup.
func DockerListComposeProject(project string) string {
	return shellquote.Join(
		"docker", "ps",
		"--filter", "label=com.docker.compose.project="+project,
		"--format", "{{.Names}}",
	)
}

// ComposeUp builds and starts every service of a compose project. A single
// argv (no shell chaining) so the whole command survives a sudo prefix, with
// --project-directory standing in for a cd.
func ComposeUp(dir string) string {
	return shellquote.Join("docker", "compose", "--project-directory", dir, "up", "-d", "--build")
}

// ComposeDown stops and removes a compose project's containers. Missing
// project state is not an error for compose, so no outcome classification is
// needed here.
func ComposeDown(dir string) string {
	return shellquote.Join("docker", "compose", "--project-directory", dir, "down", "--remove-orphans")
}

// =============================================================================
// Release Directory
// =============================================================================

// ResetDir removes a directory and recreates it empty, guaranteeing no stale
// files from a previous release leak into the new build context.
func ResetDir(dir string) string {
	return shellquote.Join("rm", "-rf", dir) + " && " + shellquote.Join("mkdir", "-p", dir)
}

// ExtractTar unpacks a gzipped tar stream from stdin into a directory.
func ExtractTar(dir string) string {
	return shellquote.Join("mkdir", "-p", dir) + " && " + shellquote.Join("tar", "-xzf", "-", "-C", dir)
}

// =============================================================================
// File Placement
// =============================================================================

// StageFile writes stdin to a path and sets its mode, creating the parent
// directory first. Used with content streamed over the session's stdin.
func StageFile(p, mode string) string {
	var cmd string
	if dir := path.Dir(p); dir != "." && dir != "/" {
		cmd = shellquote.Join("mkdir", "-p", dir) + " && "
	}
	return cmd + "cat > " + shellquote.Join(p) + " && " + shellquote.Join("chmod", mode, p)
}

// InstallFile copies a staged file into its final location with the given
// mode. Used to move proxy configuration from the session user's home into
// root-owned directories.
func InstallFile(src, dst, mode string) string {
	return shellquote.Join("install", "-m", mode, src, dst)
}

// Symlink force-creates a symbolic link.
func Symlink(target, link string) string {
	return shellquote.Join("ln", "-sf", target, link)
}

// RemoveFile deletes a file, succeeding when it is already absent.
func RemoveFile(path string) string {
	return shellquote.Join("rm", "-f", path)
}

// =============================================================================
// Proxy and Endpoint Checks
// =============================================================================

// NginxTest validates the proxy configuration syntactically.
func NginxTest() string {
	return "nginx -t"
}

// CurlStatus requests a URL and prints only the HTTP status code. The exit
// code stays zero for non-2xx responses; callers inspect the printed code.
func CurlStatus(url string, timeoutSeconds int) string {
	return shellquote.Join(
		"curl", "-s", "-o", "/dev/null",
		"-w", "%{http_code}",
		"--max-time", fmt.Sprintf("%d", timeoutSeconds),
		url,
	)
}

// =============================================================================
// Outcome Classification
// =============================================================================

// RemovalOutcome classifies the result of a container stop/remove. The
// runtime reports absence with a "No such container" diagnostic and a
// non-zero exit; that counts as success for a redeploy but is reported
// distinctly in logs.
func RemovalOutcome(exitCode int, stderr string) pipeline.Outcome {
	if exitCode == 0 {
		return pipeline.OutcomeApplied
	}
	if strings.Contains(strings.ToLower(stderr), "no such container") {
		return pipeline.OutcomeNotFound
	}
	return pipeline.OutcomeFailed
}
