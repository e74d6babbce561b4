// Package tcpserver implements the ingest endpoint: an acceptor that binds a
// TCP port with tuned socket options and dispatches every accepted connection
// to a Session on a bounded set of goroutines. Each Session decodes the
// length-prefixed frame stream and increments a shared sink once per frame.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/frame-ingest/counter"
	"github.com/cyberinferno/frame-ingest/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server accepts connections and hands each one to a Session running on the
// configured dispatch strategy. A Server may be started again after Stop.
type Server struct {
	cfg  Config
	sink counter.Sink
	log  logger.Logger

	// listen is replaced in tests to inject accept failures.
	listen func(Config) (net.Listener, error)

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	running  atomic.Bool

	sessions *sessionRegistry
	stats    *statsStore
	bufs     sync.Pool
}

// NewServer creates a Server. Nothing is bound until Start.
//
// Parameters:
//   - cfg: Listener and handler configuration (see DefaultConfig)
//   - sink: Receives one Increment per decoded frame; must be safe for concurrent use
//   - log: Logger for lifecycle and connection events; nil selects a no-op logger
//
// Returns:
//   - A new *Server
func NewServer(cfg Config, sink counter.Sink, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Server{
		cfg:      cfg,
		sink:     sink,
		log:      log.With(logger.Field{Key: "component", Value: "tcpserver"}),
		listen:   listen,
		sessions: newSessionRegistry(),
		stats:    newStatsStore(cfg.StatsRetention),
	}

	s.bufs.New = func() any {
		b := make([]byte, s.cfg.ReadChunkSize)
		return &b
	}

	return s
}

// Start validates the configuration, binds the listening socket and begins
// accepting in the background. It returns once the socket is listening.
//
// Returns:
//   - An error wrapping ErrInvalidConfig, ErrServerRunning or ErrBindFailure
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		s.log.Error("server already running")
		return ErrServerRunning
	}

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	if s.sink == nil {
		return fmt.Errorf("%w: sink is required", ErrInvalidConfig)
	}

	ln, err := s.listen(s.cfg)
	if err != nil {
		s.log.Error("server failed to start", logger.Field{Key: "addr", Value: s.cfg.Address()}, logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("%w: %w", ErrBindFailure, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	s.listener = ln
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	s.running.Store(true)

	var handoff chan *Session
	if s.cfg.Dispatch == DispatchPool {
		handoff = make(chan *Session, s.cfg.WorkerPoolSize)
		for i := 0; i < s.cfg.WorkerPoolSize; i++ {
			g.Go(func() error {
				s.worker(handoff)
				return nil
			})
		}
	}

	g.Go(func() error {
		return s.acceptLoop(gctx, ln, g, handoff)
	})

	go s.wait(g, cancel, ln, s.done)

	s.log.Info("server started",
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "dispatch", Value: string(s.cfg.Dispatch)},
		logger.Field{Key: "worker_pool_size", Value: s.cfg.WorkerPoolSize},
		logger.Field{Key: "max_frame_size", Value: s.cfg.MaxFrameSize},
		logger.Field{Key: "listener_tuned", Value: listenerTuned},
	)

	if !listenerTuned {
		s.log.Debug("listener uses platform defaults",
			logger.Field{Key: "backlog", Value: s.cfg.Backlog},
			logger.Field{Key: "rcv_buf", Value: s.cfg.ReceiveBufferSize},
			logger.Field{Key: "snd_buf", Value: s.cfg.SendBufferSize},
		)
	}

	return nil
}

// Stop closes the listener, closes every accepted socket and returns once all
// handlers have exited. It is safe to call more than once and on a server
// that was never started.
//
// Returns:
//   - The accept error that terminated the server, if any (wraps ErrAcceptFailure)
func (s *Server) Stop() error {
	s.mu.Lock()
	done, cancel, ln := s.done, s.cancel, s.listener
	s.mu.Unlock()

	if done == nil {
		s.log.Info("server not running")
		return nil
	}

	cancel()
	_ = ln.Close()
	<-done

	s.mu.Lock()
	err := s.err
	s.mu.Unlock()

	s.log.Info("server stopped")
	return err
}

// wait collects the goroutine group and marks the server stopped. A fatal
// accept error reaches here without Stop, so the listener is closed again.
func (s *Server) wait(g *errgroup.Group, cancel context.CancelFunc, ln net.Listener, done chan struct{}) {
	err := g.Wait()
	cancel()
	_ = ln.Close()

	if err != nil {
		s.log.Error("server terminated", logger.Field{Key: "error", Value: err.Error()})
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.running.Store(false)
	close(done)
}

// acceptLoop accepts until the listener closes or a non-transient error
// occurs. On exit it stops the worker pool's intake and closes every live
// session, so handlers blocked in Read return.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, g *errgroup.Group, handoff chan<- *Session) error {
	var sem *semaphore.Weighted
	if handoff == nil {
		sem = semaphore.NewWeighted(int64(s.cfg.WorkerPoolSize))
	}

	defer func() {
		if handoff != nil {
			close(handoff)
		}

		s.sessions.closeAll()
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if isTransientAcceptError(err) {
				backoff = nextBackoff(backoff)
				s.log.Warn("accept error, retrying",
					logger.Field{Key: "error", Value: err.Error()},
					logger.Field{Key: "backoff_ms", Value: backoff.Milliseconds()},
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
				}

				continue
			}

			s.log.Error("accept failed", logger.Field{Key: "error", Value: err.Error()})
			return fmt.Errorf("%w: %w", ErrAcceptFailure, err)
		}

		backoff = 0
		sess := s.accept(conn)

		if handoff != nil {
			select {
			case handoff <- sess:
			case <-ctx.Done():
				s.discard(sess)
				return nil
			}

			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			s.discard(sess)
			return nil
		}

		g.Go(func() error {
			defer sem.Release(1)

			bp := s.bufs.Get().(*[]byte)
			s.serve(sess, *bp)
			s.bufs.Put(bp)
			return nil
		})
	}
}

// accept applies per-connection socket options and registers a new session.
func (s *Server) accept(conn net.Conn) *Session {
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(s.cfg.TCPNoDelay); err != nil {
			s.log.Debug("set TCP_NODELAY failed", logger.Field{Key: "error", Value: err.Error()})
		}

		if s.cfg.ReceiveBufferSize > 0 {
			if err := tc.SetReadBuffer(s.cfg.ReceiveBufferSize); err != nil {
				s.log.Debug("set SO_RCVBUF failed", logger.Field{Key: "error", Value: err.Error()})
			}
		}

		if s.cfg.SendBufferSize > 0 {
			if err := tc.SetWriteBuffer(s.cfg.SendBufferSize); err != nil {
				s.log.Debug("set SO_SNDBUF failed", logger.Field{Key: "error", Value: err.Error()})
			}
		}
	}

	sess := newSession(s.sessions.nextID(), conn, s.cfg.MaxFrameSize, s.sink, s.log)
	s.sessions.add(sess)
	sess.log.Debug("connection accepted")
	return sess
}

// discard drops a session that never reached a handler. It is still recorded
// so every accepted connection appears in RecentConnections.
func (s *Server) discard(sess *Session) {
	_ = sess.shutdown()
	s.sessions.remove(sess.ID())
	s.stats.record(sess.stats(CloseServerStopped))
}

// worker services sessions from the hand-off queue one at a time, reusing a
// single read buffer, until the queue is closed and drained.
func (s *Server) worker(handoff <-chan *Session) {
	buf := make([]byte, s.cfg.ReadChunkSize)
	for sess := range handoff {
		s.serve(sess, buf)
	}
}

func (s *Server) serve(sess *Session, buf []byte) {
	st := sess.Handle(buf)
	s.sessions.remove(sess.ID())
	s.stats.record(st)

	sess.log.Debug("connection closed",
		logger.Field{Key: "reason", Value: string(st.CloseReason)},
		logger.Field{Key: "frames", Value: st.Frames},
		logger.Field{Key: "bytes", Value: st.Bytes},
	)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}

	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}

	return d
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Port returns the bound TCP port, which differs from Config.Port when that
// is 0. Before the first Start it returns the configured port.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return s.cfg.Port
	}

	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return s.cfg.Port
}

// Addr returns the bound listener address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return s.cfg.Address()
	}

	return s.listener.Addr().String()
}

// Config returns the server's configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Done returns a channel closed when the current run has fully stopped,
// either through Stop or a fatal accept error. It is nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that terminated the last run, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ActiveSessions returns the number of connections currently open.
func (s *Server) ActiveSessions() int {
	return s.sessions.len()
}

// Session returns the live session with the given ID, if any.
func (s *Server) Session(id uint32) (*Session, bool) {
	return s.sessions.get(id)
}

// ConnectionStats returns the record of a closed connection while it is
// within the retention window.
func (s *Server) ConnectionStats(id uint32) (ConnStats, bool) {
	return s.stats.get(id)
}

// RecentConnections returns the records of connections closed within the
// retention window, ordered by session ID.
func (s *Server) RecentConnections() []ConnStats {
	return s.stats.list()
}

// ResetConnectionStats forgets every closed-connection record.
func (s *Server) ResetConnectionStats() {
	s.stats.flush()
}
