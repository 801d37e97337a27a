package capture

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// Writer appends records to a capture file. It is safe for concurrent use
// by every connection worker.
type Writer struct {
	path string

	mu      sync.Mutex
	file    *os.File
	enc     *zstd.Encoder
	records uint64
	closed  bool
}

// Create truncates path and starts a new capture there.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	if err := writeHeader(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("init capture encoder: %w", err)
	}
	return &Writer{path: path, file: f, enc: enc}, nil
}

// Record appends one exchange and flushes it to the file, so a capture cut
// short by a crash stays readable up to the last complete record.
func (w *Writer) Record(session string, seq uint64, request, reply string, at time.Time) error {
	body := Record{
		Session: session,
		Seq:     seq,
		Time:    at,
		Request: request,
		Reply:   reply,
	}.marshal()
	frame := protowire.AppendVarint(make([]byte, 0, len(body)+binary.MaxVarintLen64), uint64(len(body)))
	frame = append(frame, body...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if _, err := w.enc.Write(frame); err != nil {
		return fmt.Errorf("write capture record: %w", err)
	}
	if err := w.enc.Flush(); err != nil {
		return fmt.Errorf("flush capture record: %w", err)
	}
	w.records++
	return nil
}

// Records is the number of records written so far.
func (w *Writer) Records() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

func (w *Writer) Path() string { return w.path }

// Close finishes the zstd stream and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.enc.Close()
	if err := w.file.Sync(); err != nil && encErr == nil {
		encErr = err
	}
	if err := w.file.Close(); err != nil && encErr == nil {
		encErr = err
	}
	return encErr
}
