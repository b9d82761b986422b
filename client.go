package msgnet

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/matusnovak/msgnet/config"
	"github.com/matusnovak/msgnet/internal/metrics"
	"github.com/matusnovak/msgnet/internal/nlog"
)

// Client is the dial side of msgnet: it holds at most one Peer at a time,
// connected to a single Server. Everything past the initial
// handshake — Send, SendRequest, handler dispatch — is identical to the
// Server side, since both share the same Peer and Dispatcher machinery.
type Client struct {
	ErrorHandler
	Dispatcher

	blockBytes    int
	maxFrameBytes int

	// Metrics, if set via WithClientMetrics, receives frame/byte/error
	// instrumentation for this client's peer.
	Metrics *metrics.Collectors

	verifyCallback func(*x509.Certificate) error

	mu   sync.Mutex
	peer *Peer
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithClientMaxConcurrentDispatch bounds the number of concurrently running
// handler goroutines for this client's single peer.
func WithClientMaxConcurrentDispatch(n int64) ClientOption {
	return func(c *Client) { WithMaxConcurrentDispatch(n)(&c.Dispatcher) }
}

// WithClientMetrics attaches a Prometheus instrumentation sink to this
// client's peer.
func WithClientMetrics(m *metrics.Collectors) ClientOption {
	return func(c *Client) { c.Metrics = m }
}

// WithClientFrameLimits overrides the read-block and max-frame sizes passed
// to this client's peer. Zero values keep the package defaults. Only the
// max-frame size takes effect; see DefaultBlockBytes.
func WithClientFrameLimits(blockBytes, maxFrameBytes int) ClientOption {
	return func(c *Client) {
		if blockBytes > 0 {
			c.blockBytes = blockBytes
		}
		if maxFrameBytes > 0 {
			c.maxFrameBytes = maxFrameBytes
		}
	}
}

// WithClientConfig applies the frame limits and dispatch concurrency from
// cfg — typically produced by config.Load or config.Default — to a Client
// under construction, the same way WithClientFrameLimits/
// WithClientMaxConcurrentDispatch would if called by hand.
func WithClientConfig(cfg config.Config) ClientOption {
	return func(c *Client) {
		WithClientFrameLimits(cfg.Frame.BlockBytes, cfg.Frame.MaxFrameBytes)(c)
		if cfg.Dispatch.MaxConcurrent > 0 {
			WithClientMaxConcurrentDispatch(cfg.Dispatch.MaxConcurrent)(c)
		}
	}
}

// NewClient builds a disconnected Client. Call Connect to dial a server.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		Dispatcher:    newDispatcher(),
		blockBytes:    DefaultBlockBytes,
		maxFrameBytes: DefaultMaxFrameBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetVerifyCallback flips Connect's TLS verification mode: with no
// callback set, Connect verifies the server exactly as tlsConfig says to
// (including not at all, if tlsConfig.InsecureSkipVerify is set). Once cb
// is set, Connect ignores tlsConfig's own verification and instead
// requires the server to present at least one certificate, which it hands
// to cb — any error from cb, or the absence of a certificate, fails the
// handshake with a HandshakeError. Must be called before Connect.
func (c *Client) SetVerifyCallback(cb func(*x509.Certificate) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifyCallback = cb
}

// Connect resolves and dials address, performs the TLS handshake within
// timeout, and on success starts the resulting Peer's read/write
// goroutines. Only one peer may be connected at a time; call Stop first to
// reconnect.
func (c *Client) Connect(ctx context.Context, address string, tlsConfig *tls.Config, timeout time.Duration) (*Peer, error) {
	c.mu.Lock()
	if c.peer != nil && !c.peer.isClosed() {
		c.mu.Unlock()
		return nil, errors.New("msgnet: client already connected")
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	rawConn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, errors.Wrap(newError(TransportError, err), "msgnet: dial failed")
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = rawConn.SetDeadline(deadline)
	}

	c.mu.Lock()
	cb := c.verifyCallback
	c.mu.Unlock()

	effectiveConfig := tlsConfig
	if cb != nil {
		// Flip from tlsConfig's own verification to "no built-in
		// verification, but require and inspect a peer certificate
		// ourselves" — VerifyPeerCertificate runs during the handshake
		// itself, so a rejection there surfaces as a handshake failure,
		// same as a built-in verification failure would.
		effectiveConfig = tlsConfig.Clone()
		effectiveConfig.InsecureSkipVerify = true
		effectiveConfig.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("msgnet: server presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return errors.Wrap(err, "msgnet: parse peer certificate")
			}
			return cb(cert)
		}
	}

	tlsConn := tls.Client(rawConn, effectiveConfig)
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		_ = rawConn.Close()
		return nil, errors.Wrap(newError(HandshakeError, err), "msgnet: TLS handshake failed")
	}

	// Clear the handshake deadline; the session itself has no read/write
	// deadline by default; msgnet makes no liveness-timeout guarantee.
	_ = tlsConn.SetDeadline(time.Time{})

	nlog.Infof("msgnet: connected to %s", address)
	peer := newPeer(tlsConn, &c.Dispatcher, &c.ErrorHandler, c.blockBytes, c.maxFrameBytes)
	peer.setMetrics(c.Metrics)
	c.Metrics.PeerConnected()
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()

	peer.start()
	return peer, nil
}

// Peer returns the currently connected peer, or nil if Connect has not
// succeeded or the session has since closed.
func (c *Client) Peer() *Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == nil || c.peer.isClosed() {
		return nil
	}
	return c.peer
}

// IsConnected reports whether this client currently holds a live peer.
func (c *Client) IsConnected() bool {
	return c.Peer() != nil
}

// Stop closes the current peer, if any, and waits for its goroutines to
// unwind.
func (c *Client) Stop() {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return
	}
	peer.Close()
	peer.wg.Wait()
	c.Metrics.PeerDisconnected()
}
