package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsCountFramesAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg, "test")

	c.PeerConnected()
	c.FrameSent(10)
	c.FrameSent(5)
	c.FrameReceived(7)
	c.Error("DecompressError")

	if got := testutil.ToFloat64(c.FramesSent); got != 2 {
		t.Fatalf("FramesSent: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.BytesSent); got != 15 {
		t.Fatalf("BytesSent: got %v, want 15", got)
	}
	if got := testutil.ToFloat64(c.FramesReceived); got != 1 {
		t.Fatalf("FramesReceived: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PeersActive); got != 1 {
		t.Fatalf("PeersActive: got %v, want 1", got)
	}

	c.PeerDisconnected()
	if got := testutil.ToFloat64(c.PeersActive); got != 0 {
		t.Fatalf("PeersActive after disconnect: got %v, want 0", got)
	}
}

func TestNilCollectorsAreNoOps(t *testing.T) {
	var c *Collectors
	c.FrameSent(10)
	c.FrameReceived(10)
	c.Error("x")
	c.PeerConnected()
	c.PeerDisconnected()
}
