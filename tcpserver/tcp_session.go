package tcpserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/frame-ingest/counter"
	"github.com/cyberinferno/frame-ingest/framecodec"
	"github.com/cyberinferno/frame-ingest/logger"
)

// Session is the handler for one accepted connection. It owns the socket and
// the connection's frame decoder from accept to close; only the sink is
// shared with other sessions.
type Session struct {
	id         uint32
	conn       net.Conn
	remoteAddr string
	decoder    *framecodec.Decoder
	sink       counter.Sink
	log        logger.Logger
	openedAt   time.Time

	frames    atomic.Uint64
	bytes     atomic.Uint64
	stopping  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newSession(id uint32, conn net.Conn, maxFrameSize int, sink counter.Sink, log logger.Logger) *Session {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &Session{
		id:         id,
		conn:       conn,
		remoteAddr: remote,
		decoder:    framecodec.NewDecoder(maxFrameSize),
		sink:       sink,
		log:        log.With(logger.Field{Key: "session_id", Value: id}, logger.Field{Key: "remote_addr", Value: remote}),
		openedAt:   time.Now(),
	}
}

// ID returns the session's identifier, unique within its server.
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the peer address as reported by the socket.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Frames returns the number of frames delivered to the sink so far.
func (s *Session) Frames() uint64 {
	return s.frames.Load()
}

// Bytes returns the number of bytes read from the socket so far.
func (s *Session) Bytes() uint64 {
	return s.bytes.Load()
}

// Handle drives the connection to completion: it reads chunks into buf,
// feeds them to the decoder and increments the sink once per decoded frame.
// It returns when the peer closes, a frame is too large, a read fails or the
// session is shut down. The socket is closed before Handle returns.
//
// Parameters:
//   - buf: Read buffer owned by the calling worker; its length is the read chunk size
//
// Returns:
//   - The connection's final stats
func (s *Session) Handle(buf []byte) ConnStats {
	reason := s.readLoop(buf)
	s.decoder.Reset()
	_ = s.Close()

	return s.stats(reason)
}

// stats snapshots the session's counters as closed now for reason.
func (s *Session) stats(reason CloseReason) ConnStats {
	return ConnStats{
		ID:          s.id,
		RemoteAddr:  s.remoteAddr,
		Frames:      s.frames.Load(),
		Bytes:       s.bytes.Load(),
		OpenedAt:    s.openedAt,
		ClosedAt:    time.Now(),
		CloseReason: reason,
	}
}

func (s *Session) readLoop(buf []byte) CloseReason {
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.bytes.Add(uint64(n))

			frames, ferr := s.decoder.Feed(buf[:n])
			for range frames {
				s.sink.Increment()
			}
			s.frames.Add(uint64(len(frames)))

			if ferr != nil {
				s.log.Warn("protocol violation, closing connection", logger.Field{Key: "error", Value: ferr.Error()})
				return CloseFrameTooLarge
			}
		}

		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return CloseServerStopped
			}

			if errors.Is(err, io.EOF) {
				return CloseEOF
			}

			s.log.Warn("connection read failed", logger.Field{Key: "error", Value: err.Error()})
			return CloseIOError
		}
	}
}

// Close closes the socket. It is safe to call multiple times and from any
// goroutine; a blocked Handle returns once the socket is closed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}

// shutdown marks the session as stopped by the server and closes it.
func (s *Session) shutdown() error {
	s.stopping.Store(true)
	return s.Close()
}
