// Package idgenerator hands out uint32 IDs from a shared atomic counter.
package idgenerator

import "sync/atomic"

// IdGenerator issues increasing uint32 IDs and is safe for concurrent use.
// Zero is never issued, so callers can use it to mean "no ID". After
// math.MaxUint32 the sequence wraps to 1.
type IdGenerator struct {
	last atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id is startValue+1.
//
// Parameters:
//   - startValue: The value the counter starts from
//
// Returns:
//   - A new IdGenerator
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.last.Store(startValue)
	return gen
}

// Id returns the next ID.
//
// Returns:
//   - A non-zero uint32 ID
func (g *IdGenerator) Id() uint32 {
	for {
		if id := g.last.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued ID, or the start value if Id has not
// been called.
func (g *IdGenerator) Last() uint32 {
	return g.last.Load()
}
