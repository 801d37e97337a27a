package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// maxRecordSize bounds a single record on read.
const maxRecordSize = 8 << 20

// Reader iterates the records of a capture file.
type Reader struct {
	file *os.File
	dec  *zstd.Decoder
	br   *bufio.Reader
}

// Open validates the header of the capture at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if err := readHeader(f); err != nil {
		f.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("init capture decoder: %w", err)
	}
	return &Reader{file: f, dec: dec, br: bufio.NewReader(dec)}, nil
}

// Next returns the next record, or io.EOF after the last one. A record cut
// off mid-way reports io.ErrUnexpectedEOF.
func (r *Reader) Next() (Record, error) {
	size, err := binary.ReadUvarint(r.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record size: %w", err)
	}
	if size > maxRecordSize {
		return Record{}, fmt.Errorf("%w: record of %d bytes", ErrCorrupt, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r.br, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	return unmarshal(body)
}

// All reads every remaining record.
func (r *Reader) All() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func (r *Reader) Close() error {
	r.dec.Close()
	return r.file.Close()
}
