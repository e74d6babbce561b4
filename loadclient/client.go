// Package loadclient provides the benchmark side of the ingest endpoint: a
// Client that writes length-prefixed frames over TCP and RunLoad, which drives
// many concurrent clients and reports the achieved throughput.
package loadclient

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/frame-ingest/framecodec"
)

// ConnectionState represents the current state of the client connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Ready to send
	Closed                              // Closed by Close; the client cannot reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var (
	// ErrNotConnected is returned when sending on a client that has no connection.
	ErrNotConnected = errors.New("not connected")
	// ErrClientClosed is returned by Connect after Close.
	ErrClientClosed = errors.New("client is closed")
)

// Config holds configuration for a Client.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// ConnectionTimeout is the max duration for establishing the connection.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds each flush to the socket; 0 means no timeout.
	WriteTimeout time.Duration
	// WriteBufferSize is the size of the buffer frames are batched in before
	// reaching the socket.
	WriteBufferSize int
	// NoDelay disables Nagle's algorithm on the client socket.
	NoDelay bool
}

// DefaultConfig returns a Config for address with a 10s connection timeout,
// no write timeout, a 64 KiB write buffer and TCP_NODELAY enabled.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteBufferSize:   64 << 10,
		NoDelay:           true,
	}
}

// Client writes length-prefixed frames to an ingest server. Frames are
// buffered and reach the socket on Flush, when the buffer fills, or on Close.
// It is safe for concurrent use.
type Client struct {
	config Config

	mu    sync.Mutex
	conn  net.Conn
	w     *bufio.Writer
	state ConnectionState

	frames atomic.Uint64
	bytes  atomic.Uint64
}

// NewClient creates a Client in the Disconnected state.
func NewClient(config Config) *Client {
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = 64 << 10
	}

	return &Client{
		config: config,
		state:  Disconnected,
	}
}

// Connect dials the configured address.
//
// Parameters:
//   - ctx: Cancels the dial
//
// Returns:
//   - nil on success; ErrClientClosed after Close, or the dial error
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed:
		return ErrClientClosed
	case Connected:
		return fmt.Errorf("already connected to %s", c.config.Address)
	}

	c.state = Connecting
	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.state = Disconnected
		return fmt.Errorf("dial %s: %w", c.config.Address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(c.config.NoDelay)
	}

	c.conn = conn
	c.w = bufio.NewWriterSize(conn, c.config.WriteBufferSize)
	c.state = Connected
	return nil
}

// SendFrame buffers one length-prefixed frame.
//
// Parameters:
//   - payload: The frame payload; not retained
//
// Returns:
//   - ErrNotConnected, or the write error if the buffer had to be flushed
func (c *Client) SendFrame(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrNotConnected
	}

	var hdr [framecodec.HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))

	if err := c.write(hdr[:]); err != nil {
		return err
	}

	if err := c.write(payload); err != nil {
		return err
	}

	c.frames.Add(1)
	return nil
}

// SendRaw flushes any buffered frames and then writes b to the socket as is.
// It is used to send partial headers or malformed streams.
//
// Parameters:
//   - b: Bytes to write
//
// Returns:
//   - ErrNotConnected, or the write error
func (c *Client) SendRaw(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrNotConnected
	}

	if err := c.write(b); err != nil {
		return err
	}

	return c.flush()
}

// Flush writes buffered frames to the socket.
func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return ErrNotConnected
	}

	return c.flush()
}

func (c *Client) write(b []byte) error {
	if c.config.WriteTimeout > 0 && c.w.Available() < len(b) {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	n, err := c.w.Write(b)
	c.bytes.Add(uint64(n))
	return err
}

func (c *Client) flush() error {
	if c.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	return c.w.Flush()
}

// WaitServerClose blocks until the server closes the connection or timeout
// elapses. The server never writes, so any read completion means closure.
//
// Parameters:
//   - timeout: How long to wait
//
// Returns:
//   - nil if the server closed the connection; an error on timeout
func (c *Client) WaitServerClose(timeout time.Duration) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	// EOF and connection reset both mean the server closed its end.
	var one [1]byte
	_, err := conn.Read(one[:])
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("connection still open after %s", timeout)
	}

	return nil
}

// Close flushes buffered frames, closes the connection and moves the client
// to Closed. It is idempotent.
//
// Returns:
//   - The flush or close error, if any
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return nil
	}

	var err error
	if c.state == Connected {
		err = c.flush()
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}

	c.conn = nil
	c.w = nil
	c.state = Closed
	return err
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// FramesSent returns the number of frames accepted by SendFrame.
func (c *Client) FramesSent() uint64 {
	return c.frames.Load()
}

// BytesSent returns the number of bytes accepted into the write buffer,
// including raw writes.
func (c *Client) BytesSent() uint64 {
	return c.bytes.Load()
}
