package core

import (
	"encoding/binary"

	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"

	"github.com/eyescale/collage/pkg/collage/types"
)

// DataIStream decodes the typed fields written by a DataOStream out of a
// received frame payload, mirroring the original Collage
// DataIStream/NodeDataIStream split (see nodeDataIStream.h).
type DataIStream struct {
	data []byte
	pos  int
	err  error
}

// DecodeDataStream strips the leading compression flag from a received
// payload, inflating it if necessary, and returns a DataIStream ready to
// read fields back out in the order a matching DataOStream wrote them.
func DecodeDataStream(payload []byte) (*DataIStream, error) {
	if len(payload) == 0 {
		return &DataIStream{}, nil
	}
	flag, body := payload[0], payload[1:]
	switch flag {
	case flagPlain:
		return &DataIStream{data: body}, nil
	case flagCompressed:
		raw, err := s2.Decode(nil, body)
		if err != nil {
			return nil, errors.Wrap(types.ErrProtocol, "s2 decode: "+err.Error())
		}
		return &DataIStream{data: raw}, nil
	default:
		return nil, errors.Wrap(types.ErrProtocol, "unknown compression flag")
	}
}

// NewRawDataIStream wraps data (with no leading compression flag) as a
// DataIStream — used for nested payloads that were never independently
// flag-prefixed, such as a map reply's embedded instance data.
func NewRawDataIStream(data []byte) *DataIStream {
	return &DataIStream{data: data}
}

// Err returns the first decoding error encountered, if any. Once set, all
// further Read* calls return zero values without panicking.
func (s *DataIStream) Err() error { return s.err }

// Remaining reports how many undecoded bytes are left.
func (s *DataIStream) Remaining() int { return len(s.data) - s.pos }

func (s *DataIStream) need(n int) []byte {
	if s.err != nil {
		return nil
	}
	if s.pos+n > len(s.data) {
		s.err = errors.Wrap(types.ErrProtocol, "short data stream")
		return nil
	}
	b := s.data[s.pos : s.pos+n]
	s.pos += n
	return b
}

func (s *DataIStream) ReadUint8() uint8 {
	b := s.need(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (s *DataIStream) ReadUint32() uint32 {
	b := s.need(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (s *DataIStream) ReadUint64() uint64 {
	b := s.need(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (s *DataIStream) ReadVersion() types.Version {
	b := s.need(16)
	if b == nil {
		return types.VersionNone
	}
	return types.VersionFromBytes(b)
}

func (s *DataIStream) ReadObjectID() types.ObjectID {
	b := s.need(16)
	if b == nil {
		return types.ObjectID{}
	}
	var id types.ObjectID
	copy(id[:], b)
	return id
}

// ReadCustomID reads the 128-bit family identifier a TypeCustom command
// carries ahead of its application payload.
func (s *DataIStream) ReadCustomID() types.CustomCommandID {
	b := s.need(16)
	if b == nil {
		return types.CustomCommandID{}
	}
	var id types.CustomCommandID
	copy(id[:], b)
	return id
}

// ReadBytes reads a length-prefixed byte slice. The returned slice aliases
// the stream's backing array and must be copied if retained past the
// stream's lifetime.
func (s *DataIStream) ReadBytes() []byte {
	n := s.ReadUint64()
	if s.err != nil || n == 0 {
		return nil
	}
	return s.need(int(n))
}

func (s *DataIStream) ReadString() string { return string(s.ReadBytes()) }
