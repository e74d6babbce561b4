package framecodec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// AppendFrame appends the length-prefixed encoding of payload to dst.
//
// Parameters:
//   - dst: The buffer to append to; may be nil
//   - payload: The frame payload
//
// Returns:
//   - The extended buffer
func AppendFrame(dst []byte, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// EncodeFrames encodes the given payloads back to back into a single buffer.
//
// Parameters:
//   - payloads: Zero or more frame payloads in stream order
//
// Returns:
//   - A new buffer holding every encoded frame
func EncodeFrames(payloads ...[]byte) []byte {
	n := 0
	for _, p := range payloads {
		n += HeaderSize + len(p)
	}

	b := make([]byte, 0, n)
	for _, p := range payloads {
		b = AppendFrame(b, p)
	}

	return b
}

// WriteFrame writes a single length-prefixed frame to w in one Write call.
//
// Parameters:
//   - w: The destination writer
//   - payload: The frame payload
//
// Returns:
//   - An error if the payload does not fit the length prefix or the write fails
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("payload of %d bytes does not fit a 32-bit length prefix", len(payload))
	}

	_, err := w.Write(AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload))
	return err
}
