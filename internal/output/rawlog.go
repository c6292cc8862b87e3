package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	rawLogMagic        = "RGBDRAW1"
	rawLogRecordHeader = 12

	// MaxRecordSize bounds a single record when reading, so a damaged length
	// field cannot trigger an enormous allocation.
	MaxRecordSize = 1 << 30
)

var ErrBadMagic = errors.New("output: not a raw packet log")

// RawLogWriter appends packets to a file, each preceded by a 12-byte record
// header: receive time in Unix nanoseconds (u64) and payload length (u32).
type RawLogWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
	n    int
}

func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(rawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{
		f:    f,
		w:    w,
		path: filename,
	}, nil
}

func (r *RawLogWriter) Path() string { return r.path }

// Records is the number of records written so far.
func (r *RawLogWriter) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *RawLogWriter) Record(payload []byte) error {
	return r.RecordAt(time.Now(), payload)
}

func (r *RawLogWriter) RecordAt(ts time.Time, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	if uint64(len(payload)) > MaxRecordSize {
		return fmt.Errorf("record of %d bytes exceeds %d", len(payload), MaxRecordSize)
	}
	var header [rawLogRecordHeader]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(ts.UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	r.n++
	return r.w.Flush()
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

type RawRecord struct {
	Time    time.Time
	Payload []byte
}

// RawLogReader iterates the records of a file written by RawLogWriter.
type RawLogReader struct {
	r      *bufio.Reader
	closer io.Closer
}

func OpenRawLog(path string) (*RawLogReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd, err := NewRawLogReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rd.closer = f
	return rd, nil
}

// NewRawLogReader checks the magic and positions r at the first record.
func NewRawLogReader(r io.Reader) (*RawLogReader, error) {
	br := bufio.NewReaderSize(r, 1024*1024)
	magic := make([]byte, len(rawLogMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(magic) != rawLogMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadMagic, magic)
	}
	return &RawLogReader{r: br}, nil
}

// Next returns the next record, or io.EOF after the last complete one. A
// record cut short by a crash yields io.ErrUnexpectedEOF.
func (r *RawLogReader) Next() (RawRecord, error) {
	var header [rawLogRecordHeader]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return RawRecord{}, err
	}
	size := binary.LittleEndian.Uint32(header[8:12])
	if size > MaxRecordSize {
		return RawRecord{}, fmt.Errorf("record length %d exceeds %d", size, MaxRecordSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return RawRecord{}, err
	}
	return RawRecord{
		Time:    time.Unix(0, int64(binary.LittleEndian.Uint64(header[:8]))),
		Payload: payload,
	}, nil
}

func (r *RawLogReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
