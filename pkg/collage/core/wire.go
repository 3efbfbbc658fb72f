package core

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/eyescale/collage/pkg/collage/types"
)

// Wire frame layout (spec.md section 6):
//
//	 0   8               16          20          24         24+N
//	 +---+---------------+-----------+-----------+-----------+
//	 | 0 | total size N+8| type u32  | cmd u32   | payload N |
//	 +---+---------------+-----------+-----------+-----------+
//
// All integers are little-endian on the wire. The leading zero uint64 is
// the "new datastream packet" sentinel; it is a TEMP marker in the
// original Collage sources and streams never recover from truncation —
// on any framing error the connection is closed (spec.md Open Question
// (a)).
const (
	frameSentinelSize = 8
	frameSizeFieldLen = 8
	frameHeaderLen    = frameSentinelSize + frameSizeFieldLen + 4 + 4
)

// frameSizeFieldCovers is the fixed type+cmd part the size field counts on
// top of the payload: the size field covers everything after itself.
const frameSizeFieldCovers = 4 + 4

// writeFrame writes one logical frame to w: sentinel, size, type, cmd,
// payload. Callers are responsible for holding the connection's send-lock
// across the whole call when composing a multi-part frame.
func writeFrame(w io.Writer, cmdType types.CommandType, opcode uint32, payload []byte) error {
	header := make([]byte, frameHeaderLen)
	binary.LittleEndian.PutUint64(header[0:8], 0) // new-packet sentinel
	size := uint64(len(payload) + frameSizeFieldCovers)
	binary.LittleEndian.PutUint64(header[8:16], size)
	binary.LittleEndian.PutUint32(header[16:20], uint32(cmdType))
	binary.LittleEndian.PutUint32(header[20:24], opcode)
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "collage: write frame header")
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errors.Wrap(err, "collage: write frame payload")
		}
	}
	return nil
}

// frameHeaderInfo is the parsed fixed part of a frame, before the payload
// is read.
type frameHeaderInfo struct {
	payloadLen int
	cmdType    types.CommandType
	opcode     uint32
}

// readFrameHeader reads and validates the sentinel + size + type + cmd
// fields from r. It returns types.ErrProtocol wrapped with context on any
// malformed input.
func readFrameHeader(r io.Reader) (frameHeaderInfo, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frameHeaderInfo{}, err
	}
	sentinel := binary.LittleEndian.Uint64(header[0:8])
	if sentinel != 0 {
		return frameHeaderInfo{}, errors.Wrap(types.ErrProtocol, "bad frame sentinel")
	}
	size := binary.LittleEndian.Uint64(header[8:16])
	if size < frameSizeFieldCovers {
		return frameHeaderInfo{}, errors.Wrap(types.ErrProtocol, "frame size underflows header")
	}
	return frameHeaderInfo{
		payloadLen: int(size) - frameSizeFieldCovers,
		cmdType:    types.CommandType(binary.LittleEndian.Uint32(header[16:20])),
		opcode:     binary.LittleEndian.Uint32(header[20:24]),
	}, nil
}

// readFrame reads one complete frame from r into a buffer leased from
// cache, returning the frame's command type, opcode and payload buffer.
// The payload buffer has refcount 1 and is owned by the caller.
func readFrame(r io.Reader, cache *BufferCache) (types.CommandType, uint32, *Buffer, error) {
	info, err := readFrameHeader(r)
	if err != nil {
		return 0, 0, nil, err
	}
	buf := cache.Alloc(info.payloadLen)
	if info.payloadLen > 0 {
		if _, err := io.ReadFull(r, buf.Bytes()); err != nil {
			buf.Release()
			return 0, 0, nil, errors.Wrap(types.ErrIO, "short frame payload read")
		}
	}
	return info.cmdType, info.opcode, buf, nil
}
