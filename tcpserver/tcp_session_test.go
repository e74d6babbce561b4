package tcpserver

import (
	"net"
	"testing"
	"time"

	"github.com/cyberinferno/frame-ingest/counter"
	"github.com/cyberinferno/frame-ingest/framecodec"
	"github.com/cyberinferno/frame-ingest/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runSession handles a pipe-backed session while writes are sent from the
// client end in order, then closes the client end.
func runSession(t *testing.T, maxFrameSize int, writes ...[]byte) (ConnStats, *counter.Counter) {
	t.Helper()

	server, client := net.Pipe()
	c := counter.NewCounter()
	s := newSession(1, server, maxFrameSize, c, logger.NewNopLogger())

	done := make(chan ConnStats, 1)
	go func() {
		done <- s.Handle(make([]byte, 16))
	}()

	for _, w := range writes {
		if _, err := client.Write(w); err != nil {
			break
		}
	}
	_ = client.Close()

	select {
	case st := <-done:
		return st, c
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return ConnStats{}, nil
	}
}

func TestSession_Handle(t *testing.T) {
	t.Run("counts every frame until eof", func(t *testing.T) {
		stream := framecodec.EncodeFrames([]byte("Hello"), []byte("A"), []byte("BC"), []byte{})

		st, c := runSession(t, 3000, stream)

		assert.Equal(t, uint64(4), c.Count())
		assert.Equal(t, uint64(4), st.Frames)
		assert.Equal(t, uint64(len(stream)), st.Bytes)
		assert.Equal(t, CloseEOF, st.CloseReason)
		assert.Equal(t, uint32(1), st.ID)
		assert.False(t, st.ClosedAt.Before(st.OpenedAt))
	})

	t.Run("frames larger than the read chunk are reassembled", func(t *testing.T) {
		payload := make([]byte, 100)
		st, c := runSession(t, 3000, framecodec.AppendFrame(nil, payload))

		assert.Equal(t, uint64(1), c.Count())
		assert.Equal(t, CloseEOF, st.CloseReason)
	})

	t.Run("split header across writes", func(t *testing.T) {
		st, c := runSession(t, 3000, []byte{0x00, 0x00}, []byte{0x00, 0x03, 0x58, 0x59, 0x5A})

		assert.Equal(t, uint64(1), c.Count())
		assert.Equal(t, CloseEOF, st.CloseReason)
	})

	t.Run("partial frame at eof is not counted", func(t *testing.T) {
		st, c := runSession(t, 3000, framecodec.AppendFrame(nil, []byte("whole")), []byte{0x00, 0x00, 0x00, 0x09, 'p'})

		assert.Equal(t, uint64(1), c.Count())
		assert.Equal(t, uint64(1), st.Frames)
	})

	t.Run("oversize header closes before later frames", func(t *testing.T) {
		stream := framecodec.AppendFrame(nil, []byte("ok"))
		stream = append(stream, 0x00, 0x00, 0x0B, 0xB9)
		stream = framecodec.AppendFrame(stream, []byte("late"))

		st, c := runSession(t, 3000, stream)

		assert.Equal(t, uint64(1), c.Count())
		assert.Equal(t, CloseFrameTooLarge, st.CloseReason)
	})

	t.Run("shutdown reports server stopped", func(t *testing.T) {
		server, client := net.Pipe()
		defer client.Close()
		s := newSession(7, server, 3000, counter.NewCounter(), logger.NewNopLogger())

		done := make(chan ConnStats, 1)
		go func() {
			done <- s.Handle(make([]byte, 16))
		}()

		require.NoError(t, s.shutdown())
		select {
		case st := <-done:
			assert.Equal(t, CloseServerStopped, st.CloseReason)
		case <-time.After(2 * time.Second):
			t.Fatal("session did not finish")
		}

		assert.NoError(t, s.Close(), "close is idempotent")
	})
}

func TestSession_accessors(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := newSession(42, server, 3000, counter.NewCounter(), logger.NewNopLogger())
	assert.Equal(t, uint32(42), s.ID())
	assert.Equal(t, "pipe", s.RemoteAddr())
	assert.Equal(t, uint64(0), s.Frames())
	assert.Equal(t, uint64(0), s.Bytes())
}
