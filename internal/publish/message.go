package publish

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"

	"rgbd-stream-go/internal/packet"
)

const (
	TypeStart = "start"
	TypeFrame = "frame"
	TypeEnd   = "end"
)

// RFC 8746 typed-array tags used for previews.
const (
	TagMultiDimArray = 40
	TagUint8         = 64
	TagFloat16LE     = 84
	TagFloat32LE     = 85
)

// Message is the CBOR envelope sent on the PUSH socket. A session is a start
// message, any number of frame messages with increasing Seq, and an end
// message.
type Message struct {
	Type    string  `cbor:"type"`
	Session string  `cbor:"session"`
	Seq     uint64  `cbor:"seq,omitempty"`
	Width   uint32  `cbor:"width,omitempty"`
	Height  uint32  `cbor:"height,omitempty"`
	FOVX    float32 `cbor:"fov_x,omitempty"`
	FOVY    float32 `cbor:"fov_y,omitempty"`
	Digest  uint64  `cbor:"digest,omitempty"`
	Packet  []byte  `cbor:"packet,omitempty"`
	Preview any     `cbor:"preview,omitempty"`
	Frames  uint64  `cbor:"frames,omitempty"`
}

func Digest(pkt []byte) uint64 {
	return xxhash.Sum64(pkt)
}

func StartMessage(session string, layout packet.Layout) Message {
	return Message{
		Type:    TypeStart,
		Session: session,
		Width:   layout.Width,
		Height:  layout.Height,
		FOVX:    layout.FOVX,
		FOVY:    layout.FOVY,
	}
}

func FrameMessage(session string, seq uint64, pkt []byte) Message {
	return Message{
		Type:    TypeFrame,
		Session: session,
		Seq:     seq,
		Digest:  Digest(pkt),
		Packet:  pkt,
	}
}

func EndMessage(session string, frames uint64) Message {
	return Message{Type: TypeEnd, Session: session, Frames: frames}
}

func Encode(m Message) ([]byte, error) {
	return cbor.Marshal(m)
}

// DepthPreview subsamples the depth section of pkt so neither side exceeds
// maxSide and wraps it as a [rows, cols] half-float typed array.
func DepthPreview(pkt []byte, maxSide int) (cbor.Tag, error) {
	if maxSide < 1 {
		return cbor.Tag{}, fmt.Errorf("preview side %d must be positive", maxSide)
	}
	h, err := packet.DecodeHeader(pkt)
	if err != nil {
		return cbor.Tag{}, err
	}
	layout, err := packet.NewLayout(h.Width, h.Height, h.FieldOfViewX)
	if err != nil {
		return cbor.Tag{}, err
	}
	depth, err := layout.Depth.Slice(pkt)
	if err != nil {
		return cbor.Tag{}, err
	}

	w, ht := int(h.Width), int(h.Height)
	step := (max(w, ht) + maxSide - 1) / maxSide
	rows, cols := (ht+step-1)/step, (w+step-1)/step
	out := make([]byte, 0, rows*cols*2)
	for y := 0; y < ht; y += step {
		for x := 0; x < w; x += step {
			i := (y*w + x) * 2
			out = append(out, depth[i], depth[i+1])
		}
	}
	return cbor.Tag{
		Number: TagMultiDimArray,
		Content: []any{
			[]int{rows, cols},
			cbor.Tag{Number: TagFloat16LE, Content: out},
		},
	}, nil
}
