package counter

import (
	"context"
	"sync"
	"time"

	"github.com/cyberinferno/frame-ingest/logger"
	"github.com/cyberinferno/frame-ingest/perfmonitor"
)

// Report is one throughput sample.
type Report struct {
	Count uint64        // Total frames counted so far
	Delta uint64        // Frames counted during this window
	Rate  float64       // Frames per second during this window
	Since time.Duration // Length of this window
}

// Summary describes the whole reporting run.
type Summary struct {
	Count   uint64
	Elapsed time.Duration
	Rate    float64
}

// Reporter periodically samples a Countable sink and logs the throughput of
// each window as well as an overall summary when it stops.
type Reporter struct {
	source   Countable
	interval time.Duration
	log      logger.Logger

	mu     sync.Mutex
	window *perfmonitor.PerformanceMonitor
	total  *perfmonitor.PerformanceMonitor
	last   uint64
	base   uint64
}

// NewReporter creates a Reporter over source. The first window starts
// immediately.
//
// Parameters:
//   - source: The sink whose total is sampled
//   - interval: Report period; values <= 0 select one second
//   - log: Logger receiving the throughput entries; nil selects a no-op logger
//
// Returns:
//   - A new *Reporter
func NewReporter(source Countable, interval time.Duration, log logger.Logger) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	r := &Reporter{
		source:   source,
		interval: interval,
		log:      log.With(logger.Field{Key: "component", Value: "reporter"}),
		window:   perfmonitor.NewPerformanceMonitor(),
		total:    perfmonitor.NewPerformanceMonitor(),
	}

	r.base = source.Count()
	r.last = r.base
	r.window.Start()
	r.total.Start()
	return r
}

// Sample closes the current window, logs it and opens the next one.
//
// Returns:
//   - The sample for the window just closed
func (r *Reporter) Sample() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.source.Count()
	r.window.Stop()

	rep := Report{
		Count: count,
		Delta: count - r.last,
		Since: r.window.Elapsed(),
	}
	rep.Rate = r.window.Rate(rep.Delta)

	r.last = count
	r.window.Start()

	r.log.Info("throughput",
		logger.Field{Key: "count", Value: rep.Count},
		logger.Field{Key: "delta", Value: rep.Delta},
		logger.Field{Key: "rate_per_sec", Value: rep.Rate},
		logger.Field{Key: "window_ms", Value: rep.Since.Milliseconds()},
	)

	return rep
}

// Summary returns the frames counted since the Reporter was created and the
// overall rate.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total.Stop()
	count := r.source.Count() - r.base
	return Summary{
		Count:   count,
		Elapsed: r.total.Elapsed(),
		Rate:    r.total.Rate(count),
	}
}

// Run samples every interval until ctx is done and then logs the summary.
//
// Parameters:
//   - ctx: Controls the lifetime of the reporting loop
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s := r.Summary()
			r.log.Info("throughput summary",
				logger.Field{Key: "count", Value: s.Count},
				logger.Field{Key: "elapsed_ms", Value: s.Elapsed.Milliseconds()},
				logger.Field{Key: "rate_per_sec", Value: s.Rate},
			)
			return
		case <-ticker.C:
			r.Sample()
		}
	}
}
