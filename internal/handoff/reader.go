package handoff

import (
	"context"
	"sync/atomic"

	"rgbd-stream-go/internal/packet"
)

// Reader is the consumer side. Acquire and Release must alternate.
type Reader struct {
	d    *DoubleBuffer
	busy atomic.Bool
	held *frame
}

// Acquire blocks until a frame is published and returns a view of it. It
// returns ErrClosed once the DoubleBuffer is shut down, and ctx.Err() if ctx
// ends first.
func (r *Reader) Acquire(ctx context.Context) (*View, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrConcurrentAccess
	}
	defer r.busy.Store(false)

	if r.held != nil {
		return nil, ErrFrameHeld
	}
	d := r.d
	if d.Closed() {
		return nil, ErrClosed
	}

	select {
	case f := <-d.slot:
		r.held = f
		d.acquired.Add(1)
		return &View{f: f, gen: f.gen}, nil
	case <-d.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns the held frame for reuse. Views of it become stale.
func (r *Reader) Release() error {
	if !r.busy.CompareAndSwap(false, true) {
		return ErrConcurrentAccess
	}
	defer r.busy.Store(false)

	if r.held == nil {
		return ErrNoFrameHeld
	}
	r.held.gen++
	r.d.recycle(r.held)
	r.held = nil
	return nil
}

// View is read access to an acquired frame, valid until Release.
type View struct {
	f   *frame
	gen uint64
}

func (v *View) buffer() (*packet.Buffer, error) {
	if v == nil || v.f == nil || v.f.gen != v.gen {
		return nil, ErrStaleView
	}
	return v.f.buf, nil
}

func (v *View) Header() (packet.Header, error) {
	buf, err := v.buffer()
	if err != nil {
		return packet.Header{}, err
	}
	return buf.Header(), nil
}

// Section returns the bytes of one section. The slice must not be used after
// Release.
func (v *View) Section(kind packet.Kind) ([]byte, error) {
	buf, err := v.buffer()
	if err != nil {
		return nil, err
	}
	return buf.Section(kind).Slice(buf.Bytes())
}

// Bytes returns the whole packet. The slice must not be used after Release.
func (v *View) Bytes() ([]byte, error) {
	buf, err := v.buffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CopyBytes appends the whole packet to dst, so it can outlive Release.
func (v *View) CopyBytes(dst []byte) ([]byte, error) {
	b, err := v.Bytes()
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

func (v *View) Decode() (*packet.Packet, error) {
	b, err := v.Bytes()
	if err != nil {
		return nil, err
	}
	return packet.Decode(b)
}

// StampSent records the send time in the frame's header. It is the only
// change a reader may make.
func (v *View) StampSent(ts uint64) error {
	buf, err := v.buffer()
	if err != nil {
		return err
	}
	buf.SetSentTime(ts)
	return nil
}
