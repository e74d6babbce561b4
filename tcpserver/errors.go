package tcpserver

import (
	"errors"
	"net"
	"syscall"
)

var (
	// ErrBindFailure wraps errors from creating or binding the listening socket.
	ErrBindFailure = errors.New("bind failure")
	// ErrAcceptFailure wraps a non-transient accept error that stopped the server.
	ErrAcceptFailure = errors.New("accept failure")
	// ErrServerRunning is returned by Start on a server that is already running.
	ErrServerRunning = errors.New("server already running")
	// ErrInvalidConfig wraps Config validation failures.
	ErrInvalidConfig = errors.New("invalid config")
)

// isTransientAcceptError reports whether an accept error is worth retrying
// after a short backoff, such as file-descriptor exhaustion or a connection
// aborted before it was accepted.
func isTransientAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EINTR)
}
