package core

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"

	"github.com/eyescale/collage/pkg/collage/types"
)

// Payload compression flags, prefixed to the wire payload ahead of the
// typed data itself (spec.md section 4.E).
const (
	flagPlain      byte = 0
	flagCompressed byte = 1
)

// DataOStream accumulates the typed fields of one outgoing object
// commit/delta/instance push into a byte buffer, then flushes it as a
// single framed send. It plays the role of the original Collage
// DataOStream joined with NodeDataOStream's framing (see
// nodeDataOStream.cpp, ported literally in wire.go); Go gets the same
// split for free by keeping the typed encoding here and the framing
// there.
type DataOStream struct {
	raw      bytes.Buffer
	compress bool
}

// NewDataOStream returns an empty stream. Call EnableCompression before
// writing if the payload benefits from it (DELTA/INSTANCE changes are
// usually the compressible case; STATIC pushes rarely are).
func NewDataOStream() *DataOStream {
	return &DataOStream{}
}

// EnableCompression turns on S2 (Snappy-compatible) compression of the
// final payload at Encode time.
func (s *DataOStream) EnableCompression(enabled bool) { s.compress = enabled }

func (s *DataOStream) WriteUint8(v uint8) { s.raw.WriteByte(v) }

func (s *DataOStream) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.raw.Write(b[:])
}

func (s *DataOStream) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	s.raw.Write(b[:])
}

func (s *DataOStream) WriteVersion(v types.Version) {
	s.raw.Write(v.MarshalBinary())
}

func (s *DataOStream) WriteObjectID(id types.ObjectID) {
	var b [16]byte
	id.PutBinary(b[:])
	s.raw.Write(b[:])
}

// WriteCustomID writes the 128-bit family identifier a TypeCustom command
// carries ahead of its application payload.
func (s *DataOStream) WriteCustomID(id types.CustomCommandID) {
	s.raw.Write(id[:])
}

// WriteBytes writes a length-prefixed byte slice.
func (s *DataOStream) WriteBytes(p []byte) {
	s.WriteUint64(uint64(len(p)))
	s.raw.Write(p)
}

func (s *DataOStream) WriteString(str string) { s.WriteBytes([]byte(str)) }

// WriteRaw appends p verbatim, with no length prefix — used to splice an
// already-built field sequence (e.g. another DataOStream's Bytes) into
// this one.
func (s *DataOStream) WriteRaw(p []byte) { s.raw.Write(p) }

// Bytes returns the raw, uncompressed accumulated payload.
func (s *DataOStream) Bytes() []byte { return s.raw.Bytes() }

// Len reports the number of raw bytes accumulated so far.
func (s *DataOStream) Len() int { return s.raw.Len() }

// Reset discards the accumulated payload for reuse.
func (s *DataOStream) Reset() { s.raw.Reset() }

// Encode returns the final wire payload: a one-byte compression flag
// followed by the (possibly S2-compressed) accumulated data. Compression
// is skipped whenever it would not shrink the payload.
func (s *DataOStream) Encode() []byte {
	raw := s.raw.Bytes()
	if !s.compress || len(raw) == 0 {
		return prefixFlag(flagPlain, raw)
	}
	compressed := s2.Encode(nil, raw)
	if len(compressed) >= len(raw) {
		return prefixFlag(flagPlain, raw)
	}
	return prefixFlag(flagCompressed, compressed)
}

func prefixFlag(flag byte, data []byte) []byte {
	out := make([]byte, 1+len(data))
	out[0] = flag
	copy(out[1:], data)
	return out
}

// Flush encodes the stream into a BufferConnection (header + payload,
// composed without touching the real transport) and replays the result as
// a single locked write on conn, so the send-lock is held only for the
// actual I/O, not for encoding (ported from co/bufferConnection.h's
// reason for existing, see buffer_connection.go).
func (s *DataOStream) Flush(conn Connection, cmdType types.CommandType, opcode uint32) error {
	buf := NewBufferConnection()
	if err := writeFrame(connWriter{conn: buf}, cmdType, opcode, s.Encode()); err != nil {
		return err
	}
	if !buf.FlushTo(conn) {
		return errors.Wrap(types.ErrIO, "collage: flush framed command")
	}
	return nil
}
