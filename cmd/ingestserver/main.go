// ingestserver listens for length-prefixed frames over TCP and counts them.
//
// Settings come from an optional TOML or YAML file (--config) layered over
// the defaults; flags given on the command line override both. With
// --log-dir, log entries are also appended to daily files. The running
// total and throughput are logged every --report-interval. With --redis-addr
// the count is also aggregated into a shared Redis key.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/frame-ingest/config"
	"github.com/cyberinferno/frame-ingest/counter"
	"github.com/cyberinferno/frame-ingest/logger"
	"github.com/cyberinferno/frame-ingest/tcpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		host       string
		port       int
		dispatch   string
		workers    int
		maxFrame   int
		logLevel   string
		logFormat  string
		logDir     string
		report     time.Duration
		redisAddr  string
		redisKey   string
	)

	flagSet := pflag.NewFlagSet("ingestserver", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a .toml or .yaml config file")
	flagSet.StringVar(&host, "host", "", "interface address to bind")
	flagSet.IntVarP(&port, "port", "p", 3000, "TCP port to listen on (0 picks a free port)")
	flagSet.StringVar(&dispatch, "dispatch", string(tcpserver.DispatchPool), "connection dispatch: pool or conn")
	flagSet.IntVar(&workers, "workers", 0, "connections handled concurrently (default 8 x CPUs, min 16)")
	flagSet.IntVar(&maxFrame, "max-frame-size", 3000, "largest accepted frame payload in bytes")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "console", "log format: console or json")
	flagSet.StringVar(&logDir, "log-dir", "", "also write JSON logs to daily files in this directory")
	flagSet.DurationVar(&report, "report-interval", 10*time.Second, "throughput log period (0 disables)")
	flagSet.StringVar(&redisAddr, "redis-addr", "", "Redis address for the shared counter")
	flagSet.StringVar(&redisKey, "redis-key", "", "Redis key for the shared counter")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if flagSet.Changed("host") {
		cfg.Server.Host = host
	}
	if flagSet.Changed("port") {
		cfg.Server.Port = port
	}
	if flagSet.Changed("dispatch") {
		cfg.Server.Dispatch = tcpserver.DispatchMode(dispatch)
	}
	if flagSet.Changed("workers") {
		cfg.Server.WorkerPoolSize = workers
	}
	if flagSet.Changed("max-frame-size") {
		cfg.Server.MaxFrameSize = maxFrame
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flagSet.Changed("log-dir") {
		cfg.LogDir = logDir
	}
	if flagSet.Changed("report-interval") {
		cfg.ReportInterval = report
	}
	if flagSet.Changed("redis-addr") {
		cfg.Redis.Addr = redisAddr
	}
	if flagSet.Changed("redis-key") {
		cfg.Redis.Key = redisKey
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func newLogger(cfg config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.LogDir == "" {
		if cfg.LogFormat == "json" {
			return logger.NewJSONLogger(os.Stderr, "ingestserver", level), nil
		}
		return logger.NewConsoleLogger(os.Stderr, "ingestserver", level), nil
	}

	out := io.Writer(os.Stderr)
	if cfg.LogFormat != "json" {
		out = logger.ConsoleWriter(os.Stderr)
	}

	return logger.NewFileLogger(out, "ingestserver", cfg.LogDir, level)
}

// serve runs the server and its background reporters until ctx is cancelled
// or the server terminates on its own.
func serve(ctx context.Context, cfg config.Config, log logger.Logger) error {
	local := counter.NewCounter()
	sink := counter.Sink(local)

	var remote *counter.RedisSink
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}

		remote = counter.NewRedisSink(client, cfg.Redis.Key, cfg.Redis.FlushInterval, log)
		sink = counter.Tee(local, remote)
	}

	srv := tcpserver.NewServer(cfg.Server, sink, log)
	if err := srv.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if remote != nil {
		g.Go(func() error {
			remote.Run(gctx)
			return nil
		})
	}

	if cfg.ReportInterval > 0 {
		reporter := counter.NewReporter(local, cfg.ReportInterval, log)
		g.Go(func() error {
			reporter.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-srv.Done():
			// A fatal accept error ended the run; Stop reports it.
		}

		return srv.Stop()
	})

	err := g.Wait()

	// Frames counted while the server drained are still pending.
	if remote != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if ferr := remote.Flush(flushCtx); ferr != nil {
			log.Error("final redis flush failed", logger.Field{Key: "error", Value: ferr.Error()})
		}
		cancel()
	}

	log.Info("frames received", logger.Field{Key: "count", Value: local.Count()})
	return err
}
