// Package counter provides the sinks that record frame arrivals: a lock-free
// in-process Counter, a fan-out Tee, a batching RedisSink for aggregating
// several servers, and a Reporter that logs throughput.
package counter

import "sync/atomic"

// Sink records frame arrivals. Increment is called once per decoded frame
// from many connection goroutines at once; implementations must be safe for
// concurrent use and must not block.
type Sink interface {
	Increment()
}

// Countable is implemented by sinks that can report their running total.
type Countable interface {
	Count() uint64
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func()

// Increment implements Sink.
func (f SinkFunc) Increment() {
	f()
}

// Counter is a monotonically increasing, lock-free frame counter.
type Counter struct {
	n atomic.Uint64
}

// NewCounter returns a Counter starting at zero.
func NewCounter() *Counter {
	return &Counter{}
}

// Increment implements Sink. It is a single atomic add.
func (c *Counter) Increment() {
	c.n.Add(1)
}

// Count returns the current total.
func (c *Counter) Count() uint64 {
	return c.n.Load()
}

// Reset sets the total back to zero and returns the value it held.
func (c *Counter) Reset() uint64 {
	return c.n.Swap(0)
}

type tee []Sink

// Tee returns a Sink that forwards every Increment to each of sinks in order.
// Nil sinks are skipped.
//
// Parameters:
//   - sinks: The sinks to fan out to
//
// Returns:
//   - A Sink incrementing every non-nil sink
func Tee(sinks ...Sink) Sink {
	t := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			t = append(t, s)
		}
	}

	if len(t) == 1 {
		return t[0]
	}

	return t
}

// Increment implements Sink.
func (t tee) Increment() {
	for _, s := range t {
		s.Increment()
	}
}
