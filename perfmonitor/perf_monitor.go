// Package perfmonitor provides a small stopwatch used to time benchmark
// windows and turn event counts into per-second rates.
package perfmonitor

import (
	"sync"
	"time"
)

// PerformanceMonitor measures the wall-clock time between Start and Stop.
// Stop may be called repeatedly to extend the measured window. It is safe
// for concurrent use.
type PerformanceMonitor struct {
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no recorded window.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start of a window, overwriting any previous start. The
// end time is left untouched until the next Stop.
func (p *PerformanceMonitor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Now()
}

// Stop records the end of the window. It does nothing if Start has not been
// called since the last Reset.
func (p *PerformanceMonitor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startTime.IsZero() {
		return
	}

	p.endTime = time.Now()
}

// Reset clears both the start and end of the window.
func (p *PerformanceMonitor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Time{}
	p.endTime = time.Time{}
}

// Elapsed returns the measured window, or 0 if Start or Stop is missing.
func (p *PerformanceMonitor) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startTime.IsZero() || p.endTime.IsZero() {
		return 0
	}

	return p.endTime.Sub(p.startTime)
}

// ElapsedMilliseconds returns the measured window in fractional milliseconds.
//
// Returns:
//   - The window length in milliseconds, or 0 if Start or Stop is missing
func (p *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(p.Elapsed()) / float64(time.Millisecond)
}

// Rate converts an event count observed during the window into events per
// second.
//
// Parameters:
//   - count: Number of events observed between Start and Stop
//
// Returns:
//   - Events per second, or 0 if the window is empty
func (p *PerformanceMonitor) Rate(count uint64) float64 {
	elapsed := p.Elapsed()
	if elapsed <= 0 {
		return 0
	}

	return float64(count) / elapsed.Seconds()
}
