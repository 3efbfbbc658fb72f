package core

import (
	"testing"

	"github.com/eyescale/collage/pkg/collage/types"
)

func Test_Dispatcher_RoutesToRegisteredHandler(t *testing.T) {
	d := NewDispatcher(newTestLogger())
	called := false
	d.Register(types.TypeCustom, 7, func(cmd *Command) error {
		called = true
		cmd.Release()
		return nil
	})

	cmd := NewCommand(types.TypeCustom, 7, types.NewNodeID(), nil, nil)
	if err := d.Dispatch(cmd); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !called {
		t.Fatalf("expected the registered handler to run")
	}
}

func Test_Dispatcher_UnknownOpcodeIsNotFatal(t *testing.T) {
	d := NewDispatcher(newTestLogger())
	cmd := NewCommand(types.TypeCustom, 99, types.NewNodeID(), nil, nil)
	err := d.Dispatch(cmd)
	if err == nil {
		t.Fatalf("expected an error for an unregistered opcode")
	}
}

func Test_Dispatcher_UnregisterRemovesHandler(t *testing.T) {
	d := NewDispatcher(newTestLogger())
	d.Register(types.TypeNode, 1, func(cmd *Command) error { cmd.Release(); return nil })
	d.Unregister(types.TypeNode, 1)

	cmd := NewCommand(types.TypeNode, 1, types.NewNodeID(), nil, nil)
	if err := d.Dispatch(cmd); err == nil {
		t.Fatalf("expected dispatch to fail after Unregister")
	}
}
