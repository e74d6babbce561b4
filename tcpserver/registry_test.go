package tcpserver

import (
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/frame-ingest/counter"
	"github.com/cyberinferno/frame-ingest/idgenerator"
	"github.com/cyberinferno/frame-ingest/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeSession(t *testing.T, id uint32) (*Session, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	return newSession(id, server, 3000, counter.NewCounter(), logger.NewNopLogger()), client
}

func TestSessionRegistry_ids(t *testing.T) {
	t.Run("ids start at one and increase", func(t *testing.T) {
		r := newSessionRegistry()
		for want := uint32(1); want <= 5; want++ {
			assert.Equal(t, want, r.nextID())
		}
	})

	t.Run("ids skip zero after wrapping", func(t *testing.T) {
		r := newSessionRegistry()
		r.ids = idgenerator.NewIdGenerator(math.MaxUint32 - 1)

		assert.Equal(t, uint32(math.MaxUint32), r.nextID())
		assert.Equal(t, uint32(1), r.nextID())
	})

	t.Run("concurrent ids are unique", func(t *testing.T) {
		r := newSessionRegistry()
		const n = 500
		ids := make([]uint32, n)

		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(idx int) {
				defer wg.Done()
				ids[idx] = r.nextID()
			}(i)
		}
		wg.Wait()

		seen := make(map[uint32]bool, n)
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)
	})
}

func TestSessionRegistry_membership(t *testing.T) {
	t.Run("add, get and remove", func(t *testing.T) {
		r := newSessionRegistry()
		s, _ := pipeSession(t, r.nextID())

		r.add(s)
		assert.Equal(t, 1, r.len())

		got, ok := r.get(s.ID())
		require.True(t, ok)
		assert.Same(t, s, got)

		r.remove(s.ID())
		assert.Equal(t, 0, r.len())
		_, ok = r.get(s.ID())
		assert.False(t, ok)
	})

	t.Run("duplicate add and unknown remove keep the count", func(t *testing.T) {
		r := newSessionRegistry()
		s, _ := pipeSession(t, r.nextID())

		r.add(s)
		r.add(s)
		r.remove(999)
		assert.Equal(t, 1, r.len())
		assert.Equal(t, r.sessions.Len(), r.len(), "count tracks the map")
	})

	t.Run("closeAll unblocks handlers", func(t *testing.T) {
		r := newSessionRegistry()
		s1, _ := pipeSession(t, r.nextID())
		s2, _ := pipeSession(t, r.nextID())
		r.add(s1)
		r.add(s2)

		results := make(chan ConnStats, 2)
		for _, s := range []*Session{s1, s2} {
			go func(s *Session) {
				results <- s.Handle(make([]byte, 64))
			}(s)
		}

		r.closeAll()

		for i := 0; i < 2; i++ {
			select {
			case st := <-results:
				assert.Equal(t, CloseServerStopped, st.CloseReason)
			case <-time.After(2 * time.Second):
				t.Fatal("handler did not exit after closeAll")
			}
		}
	})
}
