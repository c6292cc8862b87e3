package handoff

import (
	"fmt"

	"go.uber.org/zap"

	"rgbd-stream-go/internal/packet"
	"rgbd-stream-go/internal/types"
)

// Writer is the producer side. It must be used from one goroutine.
type Writer struct {
	d         *DoubleBuffer
	cur       *frame
	finalized bool
}

func (w *Writer) Layout() packet.Layout { return w.d.layout }

// Write copies src into an image section of the frame being built.
func (w *Writer) Write(kind packet.Kind, src []byte) error {
	w.finalized = false
	return w.cur.buf.Write(kind, src)
}

// Fill gives fn direct access to an image section of the frame being built.
// The slice is only valid until fn returns.
func (w *Writer) Fill(kind packet.Kind, fn func(dst []byte)) error {
	w.finalized = false
	return w.cur.buf.Fill(kind, fn)
}

func (w *Writer) SetPose(translation types.Vector, rotation types.Quaternion) {
	w.cur.buf.SetPose(translation, rotation)
}

func (w *Writer) SetCaptureTime(ts uint64) {
	w.cur.buf.SetCaptureTime(ts)
}

// Finalize encodes the color map and scene graph into the frame being built
// and updates its header. The scene graph is copied; the caller may reuse it.
func (w *Writer) Finalize(cm types.ColorMap, sg types.SceneGraph) error {
	grows := w.cur.buf.Grows()
	if err := w.cur.buf.Finalize(cm, sg); err != nil {
		return fmt.Errorf("finalize frame: %w", err)
	}
	if w.cur.buf.Grows() != grows {
		w.d.logger.Debug("frame buffer grown",
			zap.Int("capacity", w.cur.buf.Cap()),
			zap.Uint32("packet_size", w.cur.buf.Header().Size),
		)
	}
	w.finalized = true
	return nil
}

// Publish makes the finalized frame available to the reader and starts a new
// one. An unread frame still in the mailbox is replaced and counted as
// dropped. Publish never waits for the reader.
func (w *Writer) Publish() error {
	if !w.finalized {
		return ErrNotFinalized
	}
	d := w.d
	if d.Closed() {
		return ErrClosed
	}

	select {
	case stale := <-d.slot:
		d.dropped.Add(1)
		d.recycle(stale)
	default:
	}
	// Only the writer sends on slot and it was just drained, so this never
	// blocks.
	d.slot <- w.cur
	d.published.Add(1)

	w.cur = d.next()
	w.finalized = false
	return nil
}
