package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rgbd-stream-go/internal/config"
	"rgbd-stream-go/internal/handoff"
	"rgbd-stream-go/internal/logging"
	"rgbd-stream-go/internal/output"
	"rgbd-stream-go/internal/processing"
	"rgbd-stream-go/internal/publish"
	"rgbd-stream-go/internal/server"
	"rgbd-stream-go/internal/simulator"
	"rgbd-stream-go/internal/stream"
)

func main() {
	defaults := config.Default()
	var (
		configPath    = flag.String("config", "", "YAML config file; flags given explicitly override it")
		port          = flag.Int("port", defaults.Port, "HTTP port for websocket clients")
		width         = flag.Uint("width", uint(defaults.Width), "Image width in pixels")
		height        = flag.Uint("height", uint(defaults.Height), "Image height in pixels")
		fov           = flag.Float64("fov", float64(defaults.FieldOfView), "Field of view in degrees along the larger image axis")
		tickRate      = flag.Float64("tick-rate", defaults.TickRate, "Frames produced per second")
		objects       = flag.Int("objects", defaults.Objects, "Number of simulated objects")
		seed          = flag.Int64("seed", defaults.Seed, "Simulator random seed")
		zmqEndpoint   = flag.String("zmq-endpoint", defaults.ZMQEndpoint, "Bind a ZMQ PUSH socket here (empty disables)")
		previewEvery  = flag.Int("preview-every", defaults.PreviewEvery, "Attach a depth preview to every Nth ZMQ frame (0 disables)")
		rawLogEnabled = flag.Bool("raw-log", defaults.RawLogEnabled, "Record every packet to a raw log")
		rawLogDir     = flag.String("raw-log-dir", defaults.RawLogDir, "Directory for raw packet logs")
		outputDir     = flag.String("output-dir", defaults.OutputDir, "Directory for frame annotations")
		annotateEvery = flag.Int("annotate-every", defaults.AnnotateEvery, "Annotate every Nth frame (0 disables)")
		statsInterval = flag.Duration("stats-interval", defaults.StatsInterval, "Interval between stats log lines")
		logLevel      = flag.String("log-level", defaults.LogLevel, "debug, info, warn or error")
		logEncoding   = flag.String("log-encoding", defaults.LogEncoding, "json or console")
	)
	flag.Parse()

	cfg := defaults
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "width":
			cfg.Width = uint32(*width)
		case "height":
			cfg.Height = uint32(*height)
		case "fov":
			cfg.FieldOfView = float32(*fov)
		case "tick-rate":
			cfg.TickRate = *tickRate
		case "objects":
			cfg.Objects = *objects
		case "seed":
			cfg.Seed = *seed
		case "zmq-endpoint":
			cfg.ZMQEndpoint = *zmqEndpoint
		case "preview-every":
			cfg.PreviewEvery = *previewEvery
		case "raw-log":
			cfg.RawLogEnabled = *rawLogEnabled
		case "raw-log-dir":
			cfg.RawLogDir = *rawLogDir
		case "output-dir":
			cfg.OutputDir = *outputDir
		case "annotate-every":
			cfg.AnnotateEvery = *annotateEvery
		case "stats-interval":
			cfg.StatsInterval = *statsInterval
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-encoding":
			cfg.LogEncoding = *logEncoding
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("stream stopped", zap.Error(err))
	}
	logger.Info("stream stopped")
}

func run(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) error {
	db, err := handoff.New(cfg.Width, cfg.Height, cfg.FieldOfView, handoff.WithLogger(logger.Named("handoff")))
	if err != nil {
		return err
	}
	writer, err := db.Writer()
	if err != nil {
		return err
	}
	reader, err := db.Reader()
	if err != nil {
		return err
	}
	scene, err := simulator.NewScene(db.Layout(), cfg.Objects, cfg.Seed)
	if err != nil {
		return err
	}

	runTimestamp := processing.Timestamp()
	agg := processing.NewAggregator()
	var metrics stream.Metrics
	consumer := stream.NewConsumer(reader, agg, &metrics, stream.Options{
		AnnotateEvery: cfg.AnnotateEvery,
		AnnotateDir:   cfg.OutputDir,
		RunTimestamp:  runTimestamp,
		MaxDepth:      simulator.BackgroundDepth,
		SinkLogEvery:  cfg.IngestLogEvery,
	}, logger.Named("stream"))

	var (
		pub       *publish.Publisher
		rawLog    *output.RawLogWriter
		sinkMu    sync.Mutex
		lastFrame time.Time
	)
	statusFn := func() map[string]any {
		status := map[string]any{
			"run":        runTimestamp,
			"metrics":    metrics.Snapshot(),
			"handoff":    db.Stats(),
			"last_frame": agg.Last(),
		}
		sinkMu.Lock()
		if !lastFrame.IsZero() {
			status["last_frame_at"] = lastFrame.Format(time.RFC3339Nano)
		}
		sinkMu.Unlock()
		if pub != nil {
			sent, dropped := pub.Stats()
			status["zmq"] = map[string]any{"session": pub.Session(), "sent": sent, "dropped": dropped}
		}
		if rawLog != nil {
			status["raw_log"] = map[string]any{"path": rawLog.Path(), "records": rawLog.Records()}
		}
		return status
	}
	snapshotFn := func() any {
		if agg.Frames() == 0 {
			return nil
		}
		return agg.SnapshotCopy()
	}
	srv := server.New(cfg, logger.Named("server"), statusFn, snapshotFn)
	srv.OnReset(agg.Reset)

	consumer.AddSink("websocket", stream.SinkFunc(func(_ uint64, pkt []byte) error {
		sinkMu.Lock()
		lastFrame = time.Now()
		sinkMu.Unlock()
		return srv.Broadcast(pkt)
	}))

	if cfg.ZMQEndpoint != "" {
		pub, err = publish.New(cfg.ZMQEndpoint, publish.Options{PreviewEvery: cfg.PreviewEvery}, logger.Named("publish"))
		if err != nil {
			return fmt.Errorf("bind %s: %w", cfg.ZMQEndpoint, err)
		}
		defer pub.Close()
		if err := pub.Start(db.Layout()); err != nil {
			return err
		}
		defer func() {
			if err := pub.End(); err != nil {
				logger.Warn("publish end failed", zap.Error(err))
			}
		}()
		consumer.AddSink("zmq", stream.SinkFunc(func(_ uint64, pkt []byte) error {
			return pub.Frame(pkt)
		}))
	}

	if cfg.RawLogEnabled {
		rawLog, err = output.NewRawLogWriter(cfg.RawLogDir, "rgbd")
		if err != nil {
			return fmt.Errorf("start raw log: %w", err)
		}
		defer func() {
			if err := rawLog.Close(); err != nil {
				logger.Warn("raw log close failed", zap.Error(err))
			}
		}()
		logger.Info("raw log enabled", zap.String("path", rawLog.Path()))
		consumer.AddSink("rawlog", stream.SinkFunc(func(_ uint64, pkt []byte) error {
			return rawLog.Record(pkt)
		}))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer db.Shutdown()
		return simulator.Run(gctx, writer, scene, cfg.TickRate, logger.Named("simulator"))
	})
	g.Go(func() error {
		<-gctx.Done()
		db.Shutdown()
		return nil
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		logStats(gctx, cfg.StatsInterval, logger, &metrics, db)
		return nil
	})
	return g.Wait()
}

func logStats(ctx context.Context, interval time.Duration, logger *zap.Logger, metrics *stream.Metrics, db *handoff.DoubleBuffer) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := db.Stats()
			logger.Info("stream stats",
				zap.Uint64("published", st.Published),
				zap.Uint64("dropped", st.Dropped),
				zap.Uint64("consumed", metrics.Frames.Load()),
				zap.Uint64("bytes", metrics.Bytes.Load()),
				zap.Uint64("sink_errors", metrics.SinkErrors.Load()),
				zap.Float64("latency_ms", float64(metrics.LatencyNs.Load())/1e6),
				zap.Uint64("buffers", st.Buffers),
			)
		}
	}
}
