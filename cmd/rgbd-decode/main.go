package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"rgbd-stream-go/internal/ingest"
	"rgbd-stream-go/internal/logging"
	"rgbd-stream-go/internal/processing"
)

func main() {
	var (
		endpoint = flag.String("endpoint", "tcp://localhost:5555", "ZMQ endpoint of a running rgbd-stream")
		limit    = flag.Int("limit", 5, "Frames to summarize before exiting (0 runs until interrupted)")
		logEvery = flag.Int("log-every", 100, "Log every Nth receive or decode error")
		maxDepth = flag.Float64("max-depth", 100, "Depth treated as background in stats")
	)
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frames, err := ingest.Stream(ctx, *endpoint, *logEvery, logger)
	if err != nil {
		logger.Fatal("connect", zap.String("endpoint", *endpoint), zap.Error(err))
	}

	count := summarize(os.Stdout, frames, *limit, float32(*maxDepth))
	stop()
	fmt.Printf("summary: frames=%d\n", count)
}

// summarize prints frames until limit is reached (limit <= 0 means until the
// channel closes) and returns how many it printed.
func summarize(w io.Writer, frames <-chan ingest.Frame, limit int, maxDepth float32) int {
	count := 0
	for frame := range frames {
		count++
		h := frame.Packet.Header
		fmt.Fprintf(w, "frame %d session=%s size=%d %dx%d fov=%.2f/%.2f objects=%d relations=%d latency_ns=%d\n",
			frame.Seq, frame.Session, h.Size, h.Width, h.Height, h.FieldOfViewX, h.FieldOfViewY,
			h.NumberOfObjects, h.NumberOfRelations, int64(h.TimestampSent-h.TimestampCapture))

		if stats, ok := processing.ProcessPacket(frame.Packet, maxDepth); ok {
			fmt.Fprintf(w, "  depth: valid=%d min=%.3f max=%.3f mean=%.3f\n",
				stats.Depth.Valid, stats.Depth.Min, stats.Depth.Max, stats.Depth.Mean)
			names := make([]string, 0, len(stats.Coverage))
			for name := range stats.Coverage {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "  %s: %d px\n", name, stats.Coverage[name])
			}
		}
		if len(frame.Preview) > 0 {
			fmt.Fprintf(w, "  preview: %dx%d\n", len(frame.Preview[0]), len(frame.Preview))
		}
		if limit > 0 && count >= limit {
			break
		}
	}
	return count
}
