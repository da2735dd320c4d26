package enclave

import (
	"fmt"
	"net"

	"github.com/mdlayher/vsock"
)

const (
	// ListenModeTCP serves over TCP, for local development and tests.
	ListenModeTCP = "tcp"
	// ListenModeVsock serves over AF_VSOCK, the only transport a Nitro
	// enclave exposes to its parent instance.
	ListenModeVsock = "vsock"

	// VsockParentCID is the fixed context ID of the parent EC2 instance.
	VsockParentCID = 3
)

// Listen opens a listener for the given transport mode. host is only
// meaningful for TCP; vsock listeners are addressed by port alone.
func Listen(mode, host string, port uint32) (net.Listener, error) {
	switch mode {
	case ListenModeTCP:
		listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			return nil, fmt.Errorf("listen tcp port %d: %w", port, err)
		}
		return listener, nil
	case ListenModeVsock:
		listener, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, fmt.Errorf("listen vsock port %d: %w", port, err)
		}
		return listener, nil
	default:
		return nil, fmt.Errorf("unknown listen mode %q", mode)
	}
}

// DialVsock connects to an enclave service from inside the parent
// instance.
func DialVsock(cid, port uint32) (net.Conn, error) {
	conn, err := vsock.Dial(cid, port, nil)
	if err != nil {
		return nil, fmt.Errorf("dial vsock cid %d port %d: %w", cid, port, err)
	}
	return conn, nil
}
