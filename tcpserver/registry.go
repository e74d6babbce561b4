package tcpserver

import (
	"sync/atomic"

	"github.com/cyberinferno/frame-ingest/idgenerator"
	"github.com/cyberinferno/frame-ingest/safemap"
)

// sessionRegistry tracks live sessions by ID so Stop can close every accepted
// socket. IDs start at 1; 0 never names a session. The live count is kept
// beside the map because SafeMap.Len walks every entry.
type sessionRegistry struct {
	ids      *idgenerator.IdGenerator
	sessions *safemap.SafeMap[uint32, *Session]
	count    atomic.Int64
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		ids:      idgenerator.NewIdGenerator(0),
		sessions: safemap.NewSafeMap[uint32, *Session](),
	}
}

// nextID returns the next unique session ID. It is safe for concurrent use.
func (r *sessionRegistry) nextID() uint32 {
	return r.ids.Id()
}

// add stores a session under its ID.
func (r *sessionRegistry) add(s *Session) {
	if _, loaded := r.sessions.LoadOrStore(s.ID(), s); !loaded {
		r.count.Add(1)
	}
}

// remove deletes the session with the given ID; unknown IDs are ignored.
func (r *sessionRegistry) remove(id uint32) {
	if _, loaded := r.sessions.LoadAndDelete(id); loaded {
		r.count.Add(-1)
	}
}

func (r *sessionRegistry) get(id uint32) (*Session, bool) {
	return r.sessions.Load(id)
}

// len returns the number of live sessions.
func (r *sessionRegistry) len() int {
	return int(r.count.Load())
}

// closeAll shuts down every registered session. Sessions remove themselves
// once their handler exits, so entries may disappear during the walk.
func (r *sessionRegistry) closeAll() {
	r.sessions.Range(func(_ uint32, s *Session) bool {
		_ = s.shutdown()
		return true
	})
}
