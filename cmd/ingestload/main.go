// ingestload drives an ingest server with concurrent connections, each
// sending a fixed number of frames, and prints the achieved throughput.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cyberinferno/frame-ingest/loadclient"
	"github.com/cyberinferno/frame-ingest/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadclient.DefaultLoadConfig("127.0.0.1:3000")
	var logLevel string

	flagSet := pflag.NewFlagSet("ingestload", pflag.ContinueOnError)
	flagSet.StringVarP(&cfg.Address, "addr", "a", cfg.Address, "ingest server host:port")
	flagSet.IntVarP(&cfg.Connections, "connections", "n", cfg.Connections, "concurrent connections")
	flagSet.IntVarP(&cfg.FramesPerConnection, "frames", "f", cfg.FramesPerConnection, "frames sent per connection")
	flagSet.IntVar(&cfg.PayloadSize, "payload-size", cfg.PayloadSize, "payload bytes per frame")
	flagSet.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "frames buffered between flushes (0 flushes when the buffer fills)")
	flagSet.DurationVar(&cfg.ConnectionTimeout, "timeout", cfg.ConnectionTimeout, "dial timeout")
	flagSet.Int64Var(&cfg.Seed, "seed", cfg.Seed, "payload seed")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return err
	}

	log := logger.NewConsoleLogger(os.Stderr, "ingestload", level)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := loadclient.RunLoad(ctx, cfg, log)
	fmt.Printf("connections: %d\nframes:      %d\nbytes:       %d\nelapsed:     %s\nrate:        %.0f frames/s\n",
		res.Connections, res.Frames, res.Bytes, res.Elapsed.Round(time.Millisecond), res.FramesPerSecond())

	return err
}
