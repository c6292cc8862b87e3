package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"rgbd-stream-go/internal/logging"
	"rgbd-stream-go/internal/output"
	"rgbd-stream-go/internal/packet"
	"rgbd-stream-go/internal/processing"
	"rgbd-stream-go/internal/types"
)

type recordSummary struct {
	Record     int              `json:"record"`
	Timestamp  string           `json:"timestamp"`
	Header     packet.Header    `json:"header"`
	MapEntries []string         `json:"map_entries"`
	Stats      types.FrameStats `json:"stats"`
	// Only filled with -scene-graph.
	SceneGraph *types.SceneGraph `json:"scene_graph,omitempty"`
}

func main() {
	var (
		path       = flag.String("path", "", "Path to raw log .bin file")
		limit      = flag.Int("limit", 1, "Number of records to dump (0 for all)")
		sceneGraph = flag.Bool("scene-graph", false, "Include the full scene graph")
		maxDepth   = flag.Float64("max-depth", 100, "Depth treated as background in stats")
	)
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if *path == "" {
		logger.Fatal("path is required")
	}

	r, err := output.OpenRawLog(*path)
	if err != nil {
		logger.Fatal("open raw log", zap.Error(err))
	}
	defer r.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for count := 0; *limit <= 0 || count < *limit; count++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logger.Error("read record", zap.Int("record", count), zap.Error(err))
			return
		}

		p, err := packet.Decode(rec.Payload)
		if err != nil {
			logger.Warn("packet decode error", zap.Int("record", count), zap.Int("size", len(rec.Payload)), zap.Error(err))
			continue
		}

		summary := recordSummary{
			Record:    count,
			Timestamp: rec.Time.Format(time.RFC3339Nano),
			Header:    p.Header,
		}
		for _, e := range p.MapEntries {
			summary.MapEntries = append(summary.MapEntries, e.Name)
		}
		if stats, ok := processing.ProcessPacket(p, float32(*maxDepth)); ok {
			summary.Stats = stats
		}
		if *sceneGraph {
			summary.SceneGraph = &p.SceneGraph
		}
		if err := enc.Encode(summary); err != nil {
			logger.Fatal("json encode", zap.Error(err))
		}
	}
}
