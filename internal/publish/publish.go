// Package publish sends finished packets to downstream consumers over a ZMQ
// PUSH socket.
package publish

import (
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"rgbd-stream-go/internal/packet"
)

var ErrNotStarted = errors.New("publish: session not started")

type sender interface {
	SendBytes(data []byte, flags zmq4.Flag) (int, error)
	Close() error
}

type Options struct {
	// PreviewEvery attaches a depth preview to every nth frame. Zero disables
	// previews.
	PreviewEvery int
	PreviewSide  int
	HighWater    int
}

// Publisher is safe for use from multiple goroutines.
type Publisher struct {
	mu      sync.Mutex
	sock    sender
	opts    Options
	logger  *zap.Logger
	session string
	seq     uint64
	sent    uint64
	dropped uint64
}

// New binds a PUSH socket on endpoint. Sends never block: a frame that finds
// the send queue full, or no peer connected, is dropped and counted.
func New(endpoint string, opts Options, logger *zap.Logger) (*Publisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		return nil, err
	}
	if opts.HighWater <= 0 {
		opts.HighWater = 16
	}
	if err := socket.SetSndhwm(opts.HighWater); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.SetLinger(time.Second); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}
	return newPublisher(socket, opts, logger), nil
}

func newPublisher(sock sender, opts Options, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PreviewSide <= 0 {
		opts.PreviewSide = 64
	}
	return &Publisher{sock: sock, opts: opts, logger: logger}
}

// Start opens a new session for frames with the given layout.
func (p *Publisher) Start(layout packet.Layout) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = uuid.NewString()
	p.seq = 0
	p.logger.Info("publish session started", zap.String("session", p.session))
	return p.send(StartMessage(p.session, layout))
}

// Frame sends one packet. pkt is encoded before Frame returns and may be
// reused afterwards.
func (p *Publisher) Frame(pkt []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == "" {
		return ErrNotStarted
	}
	p.seq++
	msg := FrameMessage(p.session, p.seq, pkt)
	if p.opts.PreviewEvery > 0 && p.seq%uint64(p.opts.PreviewEvery) == 0 {
		preview, err := DepthPreview(pkt, p.opts.PreviewSide)
		if err != nil {
			p.logger.Warn("depth preview skipped", zap.Uint64("seq", p.seq), zap.Error(err))
		} else {
			msg.Preview = preview
		}
	}
	return p.send(msg)
}

// End closes the session. Frames after End fail with ErrNotStarted.
func (p *Publisher) End() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == "" {
		return ErrNotStarted
	}
	err := p.send(EndMessage(p.session, p.seq))
	p.logger.Info("publish session ended",
		zap.String("session", p.session),
		zap.Uint64("frames", p.seq),
		zap.Uint64("dropped", p.dropped),
	)
	p.session = ""
	return err
}

func (p *Publisher) Session() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Stats reports sent and dropped frame messages.
func (p *Publisher) Stats() (sent, dropped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.dropped
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Close()
}

func (p *Publisher) send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := p.sock.SendBytes(data, zmq4.DONTWAIT); err != nil {
		if zmq4.AsErrno(err) != zmq4.Errno(syscall.EAGAIN) {
			return err
		}
		if msg.Type != TypeFrame {
			p.logger.Warn("no peer for control message", zap.String("type", msg.Type))
			return nil
		}
		p.dropped++
		return nil
	}
	if msg.Type == TypeFrame {
		p.sent++
	}
	return nil
}
