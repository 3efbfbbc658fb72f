// Package collagetest spins up small meshes of in-process LocalNodes over
// real loopback TCP connections for use by the rest of the module's
// tests, mirroring the teacher's test/testing.go cluster-harness pattern
// (UnityCluster, CreateCluster) adapted to Collage's node/connect shape.
package collagetest

import (
	"context"
	"testing"
	"time"

	"github.com/eyescale/collage/pkg/collage/core"
	"github.com/eyescale/collage/pkg/collage/definition"
	"github.com/eyescale/collage/pkg/collage/types"
)

// NewNode returns a LocalNode listening on an ephemeral loopback port,
// logging through a DefaultLogger whose debug output is on only when
// testing.Verbose() reports true.
func NewNode(t *testing.T) *core.LocalNode {
	t.Helper()
	log := definition.NewDefaultLogger(t.Name())
	log.ToggleDebug(testing.Verbose())
	settings := types.DefaultSettings()
	settings.Bytes = 16 << 20
	n := core.NewLocalNode(log, core.LocalNodeOptions{Settings: settings})
	desc := types.ConnectionDescription{Type: types.ConnectionTCP, Hostname: "127.0.0.1", Port: 0}
	if err := n.Listen([]types.ConnectionDescription{desc}); err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

// Connect dials b from a, blocking up to 5s, and fails the test on error.
func Connect(t *testing.T, a, b *core.LocalNode) *core.Node {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	descs := b.ListenerDescriptions()
	if len(descs) == 0 {
		t.Fatalf("peer has no listener")
	}
	peer, err := a.Connect(ctx, descs)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return peer
}

// Eventually polls cond every 5ms until it returns true or timeout
// elapses, failing the test in the latter case.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition did not become true within %s", timeout)
	}
}
