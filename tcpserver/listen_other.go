//go:build !linux

package tcpserver

import (
	"context"
	"net"
)

// listenerTuned reports whether listen applies Backlog and the socket buffer
// sizes to the listening socket.
var listenerTuned = false

// listen falls back to the runtime's listener. The backlog is the platform
// default here; socket buffers are still applied per accepted connection.
func listen(cfg Config) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(context.Background(), "tcp", cfg.Address())
}
