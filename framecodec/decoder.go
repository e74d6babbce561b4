// Package framecodec decodes and encodes length-prefixed frames. Each frame on
// the wire is a 4-byte unsigned big-endian payload length followed by that
// many opaque payload bytes. There is no magic number, escape or checksum.
package framecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// HeaderSize is the size in bytes of the length prefix.
	HeaderSize = 4

	// DefaultMaxFrameSize is the default upper bound on a declared payload length.
	DefaultMaxFrameSize = 3000
)

// ErrFrameTooLarge is returned when a frame header declares a payload length
// above the decoder's maximum. Use errors.Is to match it.
var ErrFrameTooLarge = errors.New("frame too large")

// FrameTooLargeError carries the offending declared length and the configured
// maximum. It matches ErrFrameTooLarge with errors.Is.
type FrameTooLargeError struct {
	Length uint32
	Max    uint32
}

// Error implements error.
func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("declared frame length %d exceeds maximum %d", e.Length, e.Max)
}

// Is reports whether target is ErrFrameTooLarge.
func (e *FrameTooLargeError) Is(target error) bool {
	return target == ErrFrameTooLarge
}

// State is the decoder's position within the current frame.
type State int

const (
	AwaitingLength  State = iota // Waiting for the 4 header bytes
	AwaitingPayload              // Header read; waiting for Expected() payload bytes
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case AwaitingLength:
		return "AwaitingLength"
	case AwaitingPayload:
		return "AwaitingPayload"
	default:
		return "Unknown"
	}
}

// Decoder is a stateful decoder over an append-only byte stream. Bytes are
// fed in arbitrary chunks and complete frames are returned in stream order.
// A Decoder is owned by a single connection and is not safe for concurrent use.
type Decoder struct {
	maxFrameSize uint32
	state        State
	expected     uint32

	// buf holds the unconsumed bytes of a partial header or payload carried
	// between feeds. spare takes over as buf once a carried frame completes,
	// so the returned frame keeps its bytes until the next Feed.
	buf   []byte
	spare []byte

	frames [][]byte
	err    error
}

// NewDecoder creates a Decoder in the AwaitingLength state that rejects frames
// whose declared length exceeds maxFrameSize.
//
// Parameters:
//   - maxFrameSize: Upper bound on declared payload length; negative selects
//     DefaultMaxFrameSize and values above math.MaxUint32 are clamped to it
//
// Returns:
//   - A new *Decoder
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize < 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	limit := uint32(math.MaxUint32)
	if uint64(maxFrameSize) < math.MaxUint32 {
		limit = uint32(maxFrameSize)
	}

	return &Decoder{
		maxFrameSize: limit,
		state:        AwaitingLength,
	}
}

// Feed appends p to the stream and returns every frame completed by it, in
// stream order. The returned slice and the payloads it holds alias memory owned
// by the decoder or by p; they are valid only until the next Feed or Reset.
//
// When a header declares a length above the maximum, Feed returns the frames
// completed before that header together with a *FrameTooLargeError. The error
// is sticky: later feeds return it without consuming input until Reset.
//
// Parameters:
//   - p: The next chunk of the stream; an empty chunk is a no-op
//
// Returns:
//   - The frames completed by this chunk (possibly empty)
//   - A *FrameTooLargeError if a declared length exceeds the maximum
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	if d.err != nil {
		return nil, d.err
	}

	if len(p) == 0 {
		return nil, nil
	}

	d.frames = d.frames[:0]

	// Finish the carried header or payload with only the bytes it still
	// needs; the rest of the chunk is decoded in place.
	for len(d.buf) > 0 && len(p) > 0 {
		want := HeaderSize
		if d.state == AwaitingPayload {
			want = int(d.expected)
		}

		n := min(want-len(d.buf), len(p))
		d.buf = append(d.buf, p[:n]...)
		p = p[n:]
		if len(d.buf) < want {
			break
		}

		if d.state == AwaitingLength {
			if !d.readHeader(d.buf) {
				return d.frames, d.err
			}

			d.buf = d.buf[:0]
			continue
		}

		d.frames = append(d.frames, d.buf[:want:want])
		d.buf, d.spare = d.spare[:0], d.buf
		d.state = AwaitingLength
		d.expected = 0
	}

	off := 0
	for {
		if d.state == AwaitingLength {
			if len(p)-off < HeaderSize {
				break
			}

			if !d.readHeader(p[off:]) {
				return d.frames, d.err
			}

			off += HeaderSize
		}

		if uint64(len(p)-off) < uint64(d.expected) {
			break
		}

		end := off + int(d.expected)
		d.frames = append(d.frames, p[off:end:end])
		off = end
		d.state = AwaitingLength
		d.expected = 0
	}

	if off < len(p) {
		d.buf = append(d.buf[:0], p[off:]...)
	}

	return d.frames, nil
}

// readHeader parses the length prefix at the start of b and moves to
// AwaitingPayload. It records the sticky error and returns false when the
// declared length is above the maximum.
func (d *Decoder) readHeader(b []byte) bool {
	length := binary.BigEndian.Uint32(b)
	if length > d.maxFrameSize {
		d.err = &FrameTooLargeError{Length: length, Max: d.maxFrameSize}
		return false
	}

	d.state = AwaitingPayload
	d.expected = length
	return true
}

// Reset drops buffered bytes, clears any sticky error and returns the decoder
// to AwaitingLength.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.frames = d.frames[:0]
	d.state = AwaitingLength
	d.expected = 0
	d.err = nil
}

// State returns the current decode phase.
func (d *Decoder) State() State {
	return d.state
}

// Expected returns the payload length awaited in AwaitingPayload, or 0.
func (d *Decoder) Expected() uint32 {
	return d.expected
}

// Buffered returns the number of received bytes not yet consumed by a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// MaxFrameSize returns the configured upper bound on declared payload length.
func (d *Decoder) MaxFrameSize() int {
	return int(d.maxFrameSize)
}
