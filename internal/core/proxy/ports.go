package proxy

import (
	"errors"
	"fmt"
)

// ErrPortReserved marks a host port the deployment infrastructure itself
// occupies.
var ErrPortReserved = errors.New("host port is reserved")

// ListenPort is the public port every site definition listens on.
const ListenPort = 80

// CheckHostPort rejects host ports the deployment cannot publish on: the
// proxy's public listen port and the SSH port the session runs over. A
// container bound to the former would race the proxy for the socket; one
// bound to the latter would knock out the channel used to manage the host.
// The container-side port is unconstrained, only the host side can collide.
func CheckHostPort(hostPort, sshPort int) error {
	switch hostPort {
	case ListenPort:
		return fmt.Errorf("%w: %d is the reverse proxy's public listen port", ErrPortReserved, hostPort)
	case sshPort:
		return fmt.Errorf("%w: %d is the SSH port for this host", ErrPortReserved, hostPort)
	}
	return nil
}
