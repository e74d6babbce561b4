package tcpserver

import (
	"fmt"
	"math"
	"net"
	"runtime"
	"strconv"
	"time"

	"github.com/cyberinferno/frame-ingest/framecodec"
)

// DispatchMode selects how accepted connections reach a handler goroutine.
type DispatchMode string

const (
	// DispatchPool hands connections to a fixed pool of long-lived workers
	// through a bounded queue. The acceptor blocks while the queue is full.
	DispatchPool DispatchMode = "pool"

	// DispatchPerConn starts one goroutine per connection, capped by a
	// semaphore of WorkerPoolSize. The acceptor blocks while the cap is reached.
	DispatchPerConn DispatchMode = "conn"
)

// Config is the listener and handler configuration for a Server.
type Config struct {
	// Host is the interface address to bind; empty binds all IPv4 interfaces.
	Host string `yaml:"host" toml:"host"`
	// Port is the TCP port to bind; 0 picks an ephemeral port.
	Port int `yaml:"port" toml:"port"`
	// MaxFrameSize is the upper bound on a declared frame length.
	MaxFrameSize int `yaml:"max_frame_size" toml:"max_frame_size"`
	// Backlog is the listen queue depth.
	Backlog int `yaml:"backlog" toml:"backlog"`
	// TCPNoDelay disables Nagle's algorithm on accepted sockets.
	TCPNoDelay bool `yaml:"tcp_no_delay" toml:"tcp_no_delay"`
	// ReceiveBufferSize is the per-socket receive buffer (SO_RCVBUF).
	ReceiveBufferSize int `yaml:"rcv_buf" toml:"rcv_buf"`
	// SendBufferSize is the per-socket send buffer (SO_SNDBUF).
	SendBufferSize int `yaml:"snd_buf" toml:"snd_buf"`
	// WorkerPoolSize is the number of connections handled concurrently.
	WorkerPoolSize int `yaml:"worker_pool_size" toml:"worker_pool_size"`
	// ReadChunkSize is the size of each connection's read buffer.
	ReadChunkSize int `yaml:"read_chunk_size" toml:"read_chunk_size"`
	// Dispatch selects the worker strategy.
	Dispatch DispatchMode `yaml:"dispatch" toml:"dispatch"`
	// StatsRetention is how long closed-connection stats are kept.
	StatsRetention time.Duration `yaml:"stats_retention" toml:"stats_retention"`
}

// DefaultConfig returns the configuration used by the benchmark: port 3000,
// 3000-byte frames, backlog 1000, TCP_NODELAY and 1 MiB socket buffers.
func DefaultConfig() Config {
	return Config{
		Port:              3000,
		MaxFrameSize:      framecodec.DefaultMaxFrameSize,
		Backlog:           1000,
		TCPNoDelay:        true,
		ReceiveBufferSize: 1 << 20,
		SendBufferSize:    1 << 20,
		WorkerPoolSize:    defaultWorkerPoolSize(),
		ReadChunkSize:     32 << 10,
		Dispatch:          DispatchPool,
		StatsRetention:    5 * time.Minute,
	}
}

func defaultWorkerPoolSize() int {
	n := 8 * runtime.NumCPU()
	if n < 16 {
		n = 16
	}

	return n
}

// Address returns the host:port string the listener binds.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.MaxFrameSize < 0:
		return fmt.Errorf("%w: max frame size %d is negative", ErrInvalidConfig, c.MaxFrameSize)
	case uint64(c.MaxFrameSize) > math.MaxUint32:
		return fmt.Errorf("%w: max frame size %d exceeds the 4-byte length prefix", ErrInvalidConfig, c.MaxFrameSize)
	case c.Backlog <= 0:
		return fmt.Errorf("%w: backlog must be positive, got %d", ErrInvalidConfig, c.Backlog)
	case c.ReceiveBufferSize < 0:
		return fmt.Errorf("%w: receive buffer size %d is negative", ErrInvalidConfig, c.ReceiveBufferSize)
	case c.SendBufferSize < 0:
		return fmt.Errorf("%w: send buffer size %d is negative", ErrInvalidConfig, c.SendBufferSize)
	case c.WorkerPoolSize <= 0:
		return fmt.Errorf("%w: worker pool size must be positive, got %d", ErrInvalidConfig, c.WorkerPoolSize)
	case c.ReadChunkSize <= 0:
		return fmt.Errorf("%w: read chunk size must be positive, got %d", ErrInvalidConfig, c.ReadChunkSize)
	case c.StatsRetention < 0:
		return fmt.Errorf("%w: stats retention %s is negative", ErrInvalidConfig, c.StatsRetention)
	}

	switch c.Dispatch {
	case DispatchPool, DispatchPerConn:
	default:
		return fmt.Errorf("%w: unknown dispatch mode %q", ErrInvalidConfig, c.Dispatch)
	}

	return nil
}
