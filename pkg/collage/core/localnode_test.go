package core

import (
	"testing"
	"time"

	"github.com/eyescale/collage/pkg/collage/types"
)

func Test_NewLocalNode_UsesDefaultSettingsWhenNoneGiven(t *testing.T) {
	n := NewLocalNode(newTestLogger(), LocalNodeOptions{})
	defer n.Close()

	if got, want := n.Settings(), types.DefaultSettings(); got.Bytes != want.Bytes ||
		got.KeepAliveTimeout != want.KeepAliveTimeout ||
		got.KeepAliveInterval != want.KeepAliveInterval {
		t.Fatalf("expected default settings %+v, got %+v", want, got)
	}
}

func Test_NewLocalNode_CarriesSuppliedSettings(t *testing.T) {
	settings := types.DefaultSettings()
	settings.Bytes = 8 << 20
	settings.KeepAliveInterval = 50 * time.Millisecond
	settings.KeepAliveTimeout = 200 * time.Millisecond

	n := NewLocalNode(newTestLogger(), LocalNodeOptions{Settings: settings})
	defer n.Close()

	if got := n.Settings(); got.Bytes != settings.Bytes ||
		got.KeepAliveInterval != settings.KeepAliveInterval ||
		got.KeepAliveTimeout != settings.KeepAliveTimeout {
		t.Fatalf("expected supplied settings %+v, got %+v", settings, got)
	}

	desc := types.ConnectionDescription{Type: types.ConnectionTCP, Hostname: "127.0.0.1", Port: 0}
	if err := n.Listen([]types.ConnectionDescription{desc}); err != nil {
		t.Fatalf("listen: %v", err)
	}
}
