package core

import "github.com/eyescale/collage/pkg/collage/types"

// Command is the envelope a connection's receiver loop produces for every
// frame read off the wire (spec.md section 4.D). It carries just enough
// to route the frame to a Dispatcher-registered handler; the handler is
// responsible for calling Release once it is done with Payload.
type Command struct {
	Type   types.CommandType
	Opcode uint32
	Sender types.NodeID
	Source Connection

	buf *Buffer
}

// NewCommand wraps a decoded frame. buf may be nil for zero-payload
// commands (e.g. CmdBarrierLeave).
func NewCommand(cmdType types.CommandType, opcode uint32, sender types.NodeID, source Connection, buf *Buffer) *Command {
	return &Command{Type: cmdType, Opcode: opcode, Sender: sender, Source: source, buf: buf}
}

// Payload returns the command's raw wire payload, or nil if it carried
// none.
func (c *Command) Payload() []byte {
	if c.buf == nil {
		return nil
	}
	return c.buf.Bytes()
}

// Stream decodes Payload as a DataIStream, ready for typed reads.
func (c *Command) Stream() (*DataIStream, error) {
	return DecodeDataStream(c.Payload())
}

// CustomStream decodes Payload as a DataIStream and peels the leading
// 128-bit family identifier every TypeCustom command carries
// (co/customCommand.h) off the front of it, leaving the stream positioned
// at the application payload.
func (c *Command) CustomStream() (types.CustomCommandID, *DataIStream, error) {
	stream, err := c.Stream()
	if err != nil {
		return types.CustomCommandID{}, nil, err
	}
	id := stream.ReadCustomID()
	if err := stream.Err(); err != nil {
		return types.CustomCommandID{}, nil, err
	}
	return id, stream, nil
}

// Release returns the command's payload buffer to its pool. Safe to call
// on a command with no payload.
func (c *Command) Release() {
	if c.buf != nil {
		c.buf.Release()
		c.buf = nil
	}
}
