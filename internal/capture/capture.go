// Package capture records bridge traffic for later inspection.
//
// A capture file is a small header followed by one zstd stream. Inside the
// stream every exchange is a length-prefixed protobuf-wire record carrying
// a blake3 digest of its own fields, so a truncated or damaged capture is
// detected on read.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fileMagic   uint32 = 0x58504243 // "XPBC"
	fileVersion uint16 = 1
)

var (
	// ErrCorrupt is returned for a record whose digest does not match.
	ErrCorrupt = errors.New("capture: corrupt record")
	// ErrNotCapture is returned for a file without a capture header.
	ErrNotCapture = errors.New("capture: not a capture file")
)

// Record field numbers.
const (
	fieldSession protowire.Number = 1
	fieldSeq     protowire.Number = 2
	fieldTime    protowire.Number = 3
	fieldRequest protowire.Number = 4
	fieldReply   protowire.Number = 5
	fieldDigest  protowire.Number = 15
)

// Record is one request/reply exchange on one session.
type Record struct {
	Session string
	Seq     uint64
	Time    time.Time
	Request string
	Reply   string
}

type fileHeader struct {
	Magic   uint32
	Version uint16
}

func writeHeader(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, fileHeader{Magic: fileMagic, Version: fileVersion})
}

func readHeader(r io.Reader) error {
	var h fileHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrNotCapture
		}
		return err
	}
	if h.Magic != fileMagic {
		return ErrNotCapture
	}
	if h.Version > fileVersion {
		return fmt.Errorf("capture: unsupported version %d", h.Version)
	}
	return nil
}

func (r Record) appendFields(b []byte) []byte {
	b = protowire.AppendTag(b, fieldSession, protowire.BytesType)
	b = protowire.AppendString(b, r.Session)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Seq)
	b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Time.UnixNano()))
	b = protowire.AppendTag(b, fieldRequest, protowire.BytesType)
	b = protowire.AppendString(b, r.Request)
	b = protowire.AppendTag(b, fieldReply, protowire.BytesType)
	b = protowire.AppendString(b, r.Reply)
	return b
}

// marshal encodes r followed by the digest of everything before it.
func (r Record) marshal() []byte {
	b := r.appendFields(nil)
	sum := blake3.Sum256(b)
	b = protowire.AppendTag(b, fieldDigest, protowire.BytesType)
	return protowire.AppendBytes(b, sum[:])
}

func unmarshal(b []byte) (Record, error) {
	var (
		r         Record
		digest    []byte
		signedLen int
	)
	rest := b
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		offset := len(b) - len(rest)
		rest = rest[n:]

		switch {
		case num == fieldSession && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(rest)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: session: %v", ErrCorrupt, protowire.ParseError(n))
			}
			r.Session, rest = v, rest[n:]
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: seq: %v", ErrCorrupt, protowire.ParseError(n))
			}
			r.Seq, rest = v, rest[n:]
		case num == fieldTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: time: %v", ErrCorrupt, protowire.ParseError(n))
			}
			r.Time, rest = time.Unix(0, protowire.DecodeZigZag(v)), rest[n:]
		case num == fieldRequest && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(rest)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: request: %v", ErrCorrupt, protowire.ParseError(n))
			}
			r.Request, rest = v, rest[n:]
		case num == fieldReply && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(rest)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: reply: %v", ErrCorrupt, protowire.ParseError(n))
			}
			r.Reply, rest = v, rest[n:]
		case num == fieldDigest && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: digest: %v", ErrCorrupt, protowire.ParseError(n))
			}
			digest, signedLen, rest = v, offset, rest[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rest)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(n))
			}
			rest = rest[n:]
		}
	}

	if digest == nil {
		return Record{}, fmt.Errorf("%w: missing digest", ErrCorrupt)
	}
	sum := blake3.Sum256(b[:signedLen])
	if string(sum[:]) != string(digest) {
		return Record{}, fmt.Errorf("%w: digest mismatch at seq %d", ErrCorrupt, r.Seq)
	}
	return r, nil
}
