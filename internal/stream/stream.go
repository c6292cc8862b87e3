// Package stream is the consumer side of the pipeline: it takes each packet
// out of the double buffer, stamps its send time and fans a private copy out
// to the configured sinks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"rgbd-stream-go/internal/handoff"
	"rgbd-stream-go/internal/logging"
	"rgbd-stream-go/internal/output"
	"rgbd-stream-go/internal/packet"
	"rgbd-stream-go/internal/processing"
)

// Sink receives every consumed packet. pkt is only valid for the duration of
// the call.
type Sink interface {
	Send(seq uint64, pkt []byte) error
}

type SinkFunc func(seq uint64, pkt []byte) error

func (f SinkFunc) Send(seq uint64, pkt []byte) error { return f(seq, pkt) }

type namedSink struct {
	name string
	sink Sink
	warn func(msg string, fields ...zap.Field)
}

type Metrics struct {
	Frames     atomic.Uint64
	Bytes      atomic.Uint64
	SinkErrors atomic.Uint64
	Corrupt    atomic.Uint64
	// LatencyNs is capture-to-send time of the latest frame.
	LatencyNs atomic.Uint64
}

func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"frames":      m.Frames.Load(),
		"bytes":       m.Bytes.Load(),
		"sink_errors": m.SinkErrors.Load(),
		"corrupt":     m.Corrupt.Load(),
		"latency_ms":  float64(m.LatencyNs.Load()) / 1e6,
	}
}

type Options struct {
	// AnnotateEvery writes a text annotation for every nth frame into
	// AnnotateDir. Zero disables annotations.
	AnnotateEvery int
	AnnotateDir   string
	RunTimestamp  string
	// MaxDepth is the depth beyond which samples count as background in
	// frame statistics.
	MaxDepth float32
	// SinkLogEvery throttles repeated sink failures in the log.
	SinkLogEvery int
}

type Consumer struct {
	reader  *handoff.Reader
	sinks   []namedSink
	agg     *processing.Aggregator
	opts    Options
	logger  *zap.Logger
	metrics *Metrics
	buf     []byte
}

func NewConsumer(reader *handoff.Reader, agg *processing.Aggregator, metrics *Metrics, opts Options, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	if opts.RunTimestamp == "" {
		opts.RunTimestamp = processing.Timestamp()
	}
	return &Consumer{
		reader:  reader,
		agg:     agg,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// AddSink registers a sink. Sinks are called in registration order; a failing
// sink is logged and counted and does not stop the others.
func (c *Consumer) AddSink(name string, sink Sink) {
	c.sinks = append(c.sinks, namedSink{
		name: name,
		sink: sink,
		warn: logging.EveryN(c.logger.With(zap.String("sink", name)), c.opts.SinkLogEvery),
	})
}

func (c *Consumer) Metrics() *Metrics { return c.metrics }

// Run consumes frames until the double buffer is shut down or ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		seq, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, handoff.ErrClosed) || errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopped", zap.Uint64("frames", c.metrics.Frames.Load()))
				return nil
			}
			return err
		}
		c.fanOut(seq)
	}
}

// Next acquires one frame, stamps it, copies it out and releases the buffer.
// It returns the frame's sequence number; the copy stays in c.buf until the
// next call.
func (c *Consumer) Next(ctx context.Context) (uint64, error) {
	view, err := c.reader.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	err = view.StampSent(packet.Ticks())
	if err == nil {
		c.buf, err = view.CopyBytes(c.buf[:0])
	}
	if rerr := c.reader.Release(); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return 0, fmt.Errorf("consume frame: %w", err)
	}
	seq := c.metrics.Frames.Add(1)
	c.metrics.Bytes.Add(uint64(len(c.buf)))
	return seq, nil
}

func (c *Consumer) fanOut(seq uint64) {
	for _, s := range c.sinks {
		if err := s.sink.Send(seq, c.buf); err != nil {
			c.metrics.SinkErrors.Add(1)
			s.warn("sink failed", zap.Uint64("seq", seq), zap.Error(err))
		}
	}

	p, err := packet.Decode(c.buf)
	if err != nil {
		c.metrics.Corrupt.Add(1)
		c.logger.Error("consumed packet does not decode", zap.Uint64("seq", seq), zap.Error(err))
		return
	}
	if p.Header.TimestampSent >= p.Header.TimestampCapture {
		c.metrics.LatencyNs.Store(p.Header.TimestampSent - p.Header.TimestampCapture)
	}
	if c.agg != nil {
		if stats, ok := processing.ProcessPacket(p, c.opts.MaxDepth); ok {
			c.agg.AddFrame(stats)
		}
	}
	if c.opts.AnnotateEvery > 0 && seq%uint64(c.opts.AnnotateEvery) == 0 {
		path, err := output.WriteAnnotation(c.opts.AnnotateDir, c.opts.RunTimestamp, seq, p)
		if err != nil {
			c.logger.Warn("annotation failed", zap.Uint64("seq", seq), zap.Error(err))
			return
		}
		c.logger.Debug("annotation written", zap.String("path", path))
	}
}
