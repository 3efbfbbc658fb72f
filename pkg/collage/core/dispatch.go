package core

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/eyescale/collage/pkg/collage/types"
)

// CommandFunc handles one dequeued Command. It owns cmd's payload buffer
// and must call cmd.Release when finished with it.
type CommandFunc func(cmd *Command) error

type dispatchKey struct {
	cmdType types.CommandType
	opcode  uint32
}

// Dispatcher routes commands to the handler registered for their
// (type, opcode) pair (spec.md section 4.D). LocalNode registers one
// handler per opcode it understands during construction; object,
// barrier and queue specializations register their own on top.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[dispatchKey]CommandFunc
	log      types.Logger
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(log types.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[dispatchKey]CommandFunc),
		log:      log,
	}
}

// Register installs fn for cmdType/opcode, replacing any prior handler.
func (d *Dispatcher) Register(cmdType types.CommandType, opcode uint32, fn CommandFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[dispatchKey{cmdType, opcode}] = fn
}

// Unregister removes the handler for cmdType/opcode, if any.
func (d *Dispatcher) Unregister(cmdType types.CommandType, opcode uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, dispatchKey{cmdType, opcode})
}

// Dispatch routes cmd to its registered handler. An unregistered
// (type, opcode) pair is not fatal — it is logged and reported as
// types.ErrProtocol so the caller can decide whether to drop the
// connection — since a still-handshaking peer or an older protocol
// version can legitimately send opcodes this node doesn't know yet.
func (d *Dispatcher) Dispatch(cmd *Command) error {
	d.mu.RLock()
	fn, ok := d.handlers[dispatchKey{cmd.Type, cmd.Opcode}]
	d.mu.RUnlock()
	if !ok {
		d.log.Warnf("no handler for type=%d opcode=%d from %s", cmd.Type, cmd.Opcode, cmd.Sender)
		cmd.Release()
		return errors.Wrapf(types.ErrProtocol, "unregistered command type=%d opcode=%d", cmd.Type, cmd.Opcode)
	}
	return fn(cmd)
}
