// Package metrics exposes msgnet's Prometheus instrumentation: frame and
// byte counters on both directions, per-kind error counts, and a live-peer
// gauge. Registration happens against a caller-supplied registry rather
// than the global one, so embedding a Server/Client into a larger process
// never fights that process over prometheus.DefaultRegisterer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric msgnet's core emits. Construct one with
// NewCollectors and pass it through, or leave it nil to disable
// instrumentation entirely — every method here is a nil-safe no-op.
type Collectors struct {
	FramesSent     prometheus.Counter
	FramesReceived prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	Errors         *prometheus.CounterVec
	PeersActive    prometheus.Gauge
}

// NewCollectors builds a Collectors bundle with the given namespace and
// registers it against reg. Pass prometheus.NewRegistry() for an isolated
// registry, or prometheus.DefaultRegisterer to expose it process-wide.
func NewCollectors(reg prometheus.Registerer, namespace string) *Collectors {
	c := &Collectors{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "msgnet", Name: "frames_sent_total",
			Help: "Total number of frames written to peers.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "msgnet", Name: "frames_received_total",
			Help: "Total number of frames read from peers.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "msgnet", Name: "bytes_sent_total",
			Help: "Total number of plaintext bytes written to peers, pre-compression.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "msgnet", Name: "bytes_received_total",
			Help: "Total number of plaintext bytes read from peers, post-decompression.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "msgnet", Name: "errors_total",
			Help: "Total number of peer/endpoint errors, labeled by kind.",
		}, []string{"kind"}),
		PeersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "msgnet", Name: "peers_active",
			Help: "Number of currently connected peers.",
		}),
	}
	reg.MustRegister(c.FramesSent, c.FramesReceived, c.BytesSent, c.BytesReceived, c.Errors, c.PeersActive)
	return c
}

func (c *Collectors) FrameSent(n int) {
	if c == nil {
		return
	}
	c.FramesSent.Inc()
	c.BytesSent.Add(float64(n))
}

func (c *Collectors) FrameReceived(n int) {
	if c == nil {
		return
	}
	c.FramesReceived.Inc()
	c.BytesReceived.Add(float64(n))
}

func (c *Collectors) Error(kind string) {
	if c == nil {
		return
	}
	c.Errors.WithLabelValues(kind).Inc()
}

func (c *Collectors) PeerConnected() {
	if c == nil {
		return
	}
	c.PeersActive.Inc()
}

func (c *Collectors) PeerDisconnected() {
	if c == nil {
		return
	}
	c.PeersActive.Dec()
}
