//go:build linux

package tcpserver

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenerTuned reports whether listen applies Backlog and the socket buffer
// sizes to the listening socket.
var listenerTuned = true

// listen builds the listening socket by hand so the backlog and the socket
// buffer sizes are applied before listen(2). Accepted sockets inherit
// SO_RCVBUF and SO_SNDBUF, which lets TCP negotiate a matching window scale.
func listen(cfg Config) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Address(), err)
	}

	family, sa := sockaddr(addr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	keep := false
	defer func() {
		if !keep {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if cfg.ReceiveBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.ReceiveBufferSize); err != nil {
			return nil, fmt.Errorf("setsockopt SO_RCVBUF: %w", err)
		}
	}

	if cfg.SendBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBufferSize); err != nil {
			return nil, fmt.Errorf("setsockopt SO_SNDBUF: %w", err)
		}
	}

	if err := unix.Bind(fd, sa); err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.Address(), err)
	}

	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Address(), err)
	}

	// net.FileListener dups the descriptor, so the file is closed either way.
	f := os.NewFile(uintptr(fd), "tcp-listener")
	keep = true
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}

	return ln, nil
}

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}

		return unix.AF_INET, sa
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.AF_INET6, sa
}
