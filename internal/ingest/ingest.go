// Package ingest is the receiving end of the publish package: it pulls CBOR
// envelopes from a ZMQ endpoint, verifies them and decodes the packets.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"rgbd-stream-go/internal/logging"
	"rgbd-stream-go/internal/packet"
	"rgbd-stream-go/internal/publish"
)

var (
	ErrDigest   = errors.New("ingest: packet digest mismatch")
	ErrSequence = errors.New("ingest: frame out of sequence")
)

const recvTimeout = 200 * time.Millisecond

type Frame struct {
	Session string
	Seq     uint64
	Raw     []byte
	Packet  *packet.Packet
	// Preview is the subsampled depth image, when the publisher sent one.
	Preview [][]float32
}

// Decoder tracks one publisher's session across messages.
type Decoder struct {
	session string
	lastSeq uint64
	gaps    uint64
	frames  uint64
	logger  *zap.Logger
}

func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// Gaps counts frames missing from the sequence since the session started.
func (d *Decoder) Gaps() uint64 { return d.gaps }

func (d *Decoder) Frames() uint64 { return d.frames }

// Decode handles one envelope. ok is false for control messages.
func (d *Decoder) Decode(msg []byte) (Frame, bool, error) {
	var m publish.Message
	if err := cbor.Unmarshal(msg, &m); err != nil {
		return Frame{}, false, fmt.Errorf("cbor decode: %w", err)
	}

	switch m.Type {
	case publish.TypeStart:
		d.begin(m.Session)
		d.logger.Info("ingest session started",
			zap.String("session", m.Session),
			zap.Uint32("width", m.Width),
			zap.Uint32("height", m.Height),
		)
		return Frame{}, false, nil
	case publish.TypeEnd:
		d.logger.Info("ingest session ended",
			zap.String("session", m.Session),
			zap.Uint64("published", m.Frames),
			zap.Uint64("received", d.frames),
			zap.Uint64("gaps", d.gaps),
		)
		d.session = ""
		return Frame{}, false, nil
	case publish.TypeFrame:
	default:
		return Frame{}, false, fmt.Errorf("unknown message type %q", m.Type)
	}

	// Publishers number frames from 1.
	if m.Seq == 0 {
		return Frame{}, false, fmt.Errorf("%w: seq 0 in session %q", ErrSequence, m.Session)
	}
	// The start message is lost when we connect mid-session; adopt the
	// session from its first frame instead.
	if m.Session != d.session {
		d.logger.Info("ingest joined session", zap.String("session", m.Session), zap.Uint64("seq", m.Seq))
		d.begin(m.Session)
		d.lastSeq = m.Seq - 1
	}
	if m.Seq <= d.lastSeq {
		return Frame{}, false, fmt.Errorf("%w: %d not after %d", ErrSequence, m.Seq, d.lastSeq)
	}
	if got := publish.Digest(m.Packet); got != m.Digest {
		return Frame{}, false, fmt.Errorf("%w: seq %d got %016x want %016x", ErrDigest, m.Seq, got, m.Digest)
	}
	p, err := packet.Decode(m.Packet)
	if err != nil {
		return Frame{}, false, fmt.Errorf("seq %d: %w", m.Seq, err)
	}

	d.gaps += m.Seq - d.lastSeq - 1
	d.lastSeq = m.Seq
	d.frames++

	frame := Frame{Session: m.Session, Seq: m.Seq, Raw: m.Packet, Packet: p}
	if m.Preview != nil {
		preview, err := decodeMultiDimArray(m.Preview)
		if err != nil {
			d.logger.Debug("ingest preview skipped", zap.Error(err))
		} else if depth, ok := preview.([][]float32); ok {
			frame.Preview = depth
		}
	}
	return frame, true, nil
}

func (d *Decoder) begin(session string) {
	d.session = session
	d.lastSeq = 0
	d.gaps = 0
	d.frames = 0
}

// Stream connects a PULL socket to endpoint and returns decoded frames until
// ctx ends. Receive and decode errors are logged every logEvery occurrences
// and otherwise skipped.
func Stream(ctx context.Context, endpoint string, logEvery int, logger *zap.Logger) (<-chan Frame, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}

	warn := logging.EveryN(logger, logEvery)
	dec := NewDecoder(logger)
	out := make(chan Frame, 16)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				warn("ingest recv error", zap.Error(err))
				continue
			}

			frame, ok, err := dec.Decode(msg)
			if err != nil {
				warn("ingest decode skipped message", zap.Error(err))
				continue
			}
			if !ok {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- frame:
			}
		}
	}()

	return out, nil
}
