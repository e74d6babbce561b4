package loadclient

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/frame-ingest/logger"
	"github.com/cyberinferno/frame-ingest/perfmonitor"
	"golang.org/x/sync/errgroup"
)

// LoadConfig describes one load run.
type LoadConfig struct {
	// Address is the ingest server "host:port".
	Address string
	// Connections is the number of concurrent client connections.
	Connections int
	// FramesPerConnection is the number of frames each connection sends.
	FramesPerConnection int
	// PayloadSize is the payload length of every frame.
	PayloadSize int
	// BatchSize is the number of frames buffered between flushes; 0 flushes
	// only when the write buffer fills and on close.
	BatchSize int
	// ConnectionTimeout bounds each dial.
	ConnectionTimeout time.Duration
	// Seed makes payload bytes reproducible; connection i uses Seed+i.
	Seed int64
}

// DefaultLoadConfig returns a LoadConfig for 100 connections of 1000
// 100-byte frames against address.
func DefaultLoadConfig(address string) LoadConfig {
	return LoadConfig{
		Address:             address,
		Connections:         100,
		FramesPerConnection: 1000,
		PayloadSize:         100,
		ConnectionTimeout:   10 * time.Second,
		Seed:                1,
	}
}

// LoadResult summarises a load run.
type LoadResult struct {
	Connections int
	Frames      uint64
	Bytes       uint64
	Elapsed     time.Duration
}

// FramesPerSecond returns the achieved send rate.
func (r LoadResult) FramesPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}

	return float64(r.Frames) / r.Elapsed.Seconds()
}

// RunLoad opens cfg.Connections clients concurrently and has each send
// cfg.FramesPerConnection frames before closing. The first connection
// failure cancels the remaining connections.
//
// Parameters:
//   - ctx: Cancels the run
//   - cfg: Load shape
//   - log: Logger for per-connection failures; nil selects a no-op logger
//
// Returns:
//   - Totals for the frames and bytes handed to the sockets
//   - The first connection error, if any
func RunLoad(ctx context.Context, cfg LoadConfig, log logger.Logger) (LoadResult, error) {
	if cfg.Connections <= 0 || cfg.FramesPerConnection < 0 || cfg.PayloadSize < 0 {
		return LoadResult{}, fmt.Errorf("invalid load config: connections=%d frames=%d payload=%d",
			cfg.Connections, cfg.FramesPerConnection, cfg.PayloadSize)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	var frames, bytes atomic.Uint64
	pm := perfmonitor.NewPerformanceMonitor()
	g, gctx := errgroup.WithContext(ctx)

	pm.Start()
	for i := 0; i < cfg.Connections; i++ {
		i := i
		g.Go(func() error {
			c := NewClient(Config{
				Address:           cfg.Address,
				ConnectionTimeout: cfg.ConnectionTimeout,
				NoDelay:           true,
			})

			err := sendAll(gctx, c, cfg, rand.New(rand.NewSource(cfg.Seed+int64(i))))
			frames.Add(c.FramesSent())
			bytes.Add(c.BytesSent())
			if err != nil {
				log.Warn("load connection failed", logger.Field{Key: "connection", Value: i}, logger.Field{Key: "error", Value: err.Error()})
				return fmt.Errorf("connection %d: %w", i, err)
			}

			return nil
		})
	}

	err := g.Wait()
	pm.Stop()

	return LoadResult{
		Connections: cfg.Connections,
		Frames:      frames.Load(),
		Bytes:       bytes.Load(),
		Elapsed:     pm.Elapsed(),
	}, err
}

func sendAll(ctx context.Context, c *Client, cfg LoadConfig, rng *rand.Rand) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	payload := make([]byte, cfg.PayloadSize)
	rng.Read(payload)

	for n := 1; n <= cfg.FramesPerConnection; n++ {
		if err := ctx.Err(); err != nil {
			_ = c.Close()
			return err
		}

		if err := c.SendFrame(payload); err != nil {
			_ = c.Close()
			return err
		}

		if cfg.BatchSize > 0 && n%cfg.BatchSize == 0 {
			if err := c.Flush(); err != nil {
				_ = c.Close()
				return err
			}
		}
	}

	return c.Close()
}
