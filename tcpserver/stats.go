package tcpserver

import (
	"sort"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// CloseReason says why a connection handler exited.
type CloseReason string

const (
	CloseEOF           CloseReason = "eof"             // Peer closed the stream
	CloseFrameTooLarge CloseReason = "frame_too_large" // Declared length above MaxFrameSize
	CloseIOError       CloseReason = "io_error"        // Read failed
	CloseServerStopped CloseReason = "server_stopped"  // Stop closed the socket
)

// ConnStats is the record of one finished connection.
type ConnStats struct {
	ID          uint32
	RemoteAddr  string
	Frames      uint64 // Frames delivered to the sink
	Bytes       uint64 // Bytes read from the socket
	OpenedAt    time.Time
	ClosedAt    time.Time
	CloseReason CloseReason
}

// statsStore keeps closed-connection records for a retention window. A zero
// retention disables recording.
type statsStore struct {
	cache *cache.Cache
}

func newStatsStore(retention time.Duration) *statsStore {
	if retention <= 0 {
		return &statsStore{}
	}

	return &statsStore{cache: cache.New(retention, retention)}
}

func (s *statsStore) record(st ConnStats) {
	if s.cache == nil {
		return
	}

	s.cache.Set(strconv.FormatUint(uint64(st.ID), 10), st, cache.DefaultExpiration)
}

func (s *statsStore) get(id uint32) (ConnStats, bool) {
	if s.cache == nil {
		return ConnStats{}, false
	}

	v, ok := s.cache.Get(strconv.FormatUint(uint64(id), 10))
	if !ok {
		return ConnStats{}, false
	}

	return v.(ConnStats), true
}

// list returns unexpired records ordered by session ID.
func (s *statsStore) list() []ConnStats {
	if s.cache == nil {
		return nil
	}

	items := s.cache.Items()
	out := make([]ConnStats, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(ConnStats))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *statsStore) flush() {
	if s.cache != nil {
		s.cache.Flush()
	}
}
