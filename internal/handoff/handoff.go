// Package handoff passes finished packets from one producer goroutine to one
// consumer goroutine.
//
// The producer fills a packet.Buffer through its Writer, finalizes it and
// publishes it. Publishing drops the buffer into a single-slot mailbox and
// hands the producer a fresh buffer; it never waits for the consumer. If the
// previous packet is still in the mailbox it is replaced (latest wins) and
// counted as a drop. The consumer blocks in Acquire until a packet arrives or
// the DoubleBuffer is shut down, which it observes as ErrClosed rather than as
// a frame.
//
// Buffers change hands, they are never copied. Two are allocated up front. A
// third is allocated the first time the producer publishes while the consumer
// still holds a packet, so at most three exist: one being written, one waiting
// in the mailbox, one being read.
package handoff

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"rgbd-stream-go/internal/packet"
)

const maxBuffers = 3

var (
	ErrClosed           = errors.New("handoff: closed")
	ErrWriterClaimed    = errors.New("handoff: writer already claimed")
	ErrReaderClaimed    = errors.New("handoff: reader already claimed")
	ErrNotFinalized     = errors.New("handoff: publish before finalize")
	ErrFrameHeld        = errors.New("handoff: previous frame not released")
	ErrNoFrameHeld      = errors.New("handoff: no frame to release")
	ErrConcurrentAccess = errors.New("handoff: concurrent use of a single-owner handle")
	ErrStaleView        = errors.New("handoff: view used after release")
)

type frame struct {
	buf *packet.Buffer
	gen uint64
}

type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Acquired  uint64 `json:"acquired"`
	Buffers   uint64 `json:"buffers"`
}

type DoubleBuffer struct {
	layout packet.Layout
	logger *zap.Logger

	slot   chan *frame
	spare  chan *frame
	closed chan struct{}

	closeOnce     sync.Once
	writerClaimed atomic.Bool
	readerClaimed atomic.Bool

	published atomic.Uint64
	dropped   atomic.Uint64
	acquired  atomic.Uint64
	buffers   atomic.Uint64
}

type Option func(*DoubleBuffer)

func WithLogger(logger *zap.Logger) Option {
	return func(d *DoubleBuffer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New builds a double buffer for frames of the given size. Width, height and
// field of view are fixed for its lifetime.
func New(width, height uint32, fov float32, opts ...Option) (*DoubleBuffer, error) {
	layout, err := packet.NewLayout(width, height, fov)
	if err != nil {
		return nil, err
	}
	d := &DoubleBuffer{
		layout: layout,
		logger: zap.NewNop(),
		slot:   make(chan *frame, 1),
		spare:  make(chan *frame, maxBuffers),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.spare <- d.allocate()
	d.spare <- d.allocate()
	d.logger.Debug("double buffer ready",
		zap.Uint32("width", width),
		zap.Uint32("height", height),
		zap.Float32("fov_x", layout.FOVX),
		zap.Float32("fov_y", layout.FOVY),
		zap.Int("fixed_size", layout.FixedSize()),
	)
	return d, nil
}

func (d *DoubleBuffer) Layout() packet.Layout { return d.layout }

// Writer claims the producer handle. It can be claimed once.
func (d *DoubleBuffer) Writer() (*Writer, error) {
	if !d.writerClaimed.CompareAndSwap(false, true) {
		return nil, ErrWriterClaimed
	}
	return &Writer{d: d, cur: d.next()}, nil
}

// Reader claims the consumer handle. It can be claimed once.
func (d *DoubleBuffer) Reader() (*Reader, error) {
	if !d.readerClaimed.CompareAndSwap(false, true) {
		return nil, ErrReaderClaimed
	}
	return &Reader{d: d}, nil
}

// Shutdown wakes a consumer blocked in Acquire with ErrClosed and makes
// further Publish calls fail. Safe to call more than once and from any
// goroutine.
func (d *DoubleBuffer) Shutdown() {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.logger.Debug("double buffer shut down", zap.Uint64("published", d.published.Load()))
	})
}

func (d *DoubleBuffer) Closed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

func (d *DoubleBuffer) Stats() Stats {
	return Stats{
		Published: d.published.Load(),
		Dropped:   d.dropped.Load(),
		Acquired:  d.acquired.Load(),
		Buffers:   d.buffers.Load(),
	}
}

func (d *DoubleBuffer) allocate() *frame {
	d.buffers.Add(1)
	return &frame{buf: packet.NewBuffer(d.layout)}
}

// next returns a recycled buffer, or allocates the third one when the other
// is still held by the consumer.
func (d *DoubleBuffer) next() *frame {
	select {
	case f := <-d.spare:
		return f
	default:
	}
	d.logger.Debug("allocating extra frame buffer", zap.Uint64("buffers", d.buffers.Load()+1))
	return d.allocate()
}

func (d *DoubleBuffer) recycle(f *frame) {
	select {
	case d.spare <- f:
	default:
		// Only reachable if more than maxBuffers were allocated; let it go.
	}
}
