package msgnet

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/matusnovak/msgnet/config"
	"github.com/matusnovak/msgnet/internal/metrics"
	"github.com/matusnovak/msgnet/internal/nlog"
)

// Server is the accept side of msgnet: it listens on one address, performs
// a TLS handshake on every inbound connection, and hands each resulting
// Peer to the shared Dispatcher. A Server is symmetric to Client in every
// way except who initiates the TCP connection.
//
// The core does not retain accepted peers. Once OnPeerConnected fires, the
// Peer's lifetime is the caller's to manage; Stop only closes the listener
// and stops accepting new connections, it never reaches into peers it did
// not keep a reference to. Applications that need a live peer set build
// one themselves, e.g. in OnPeerConnected/OnPeerClosed.
type Server struct {
	ErrorHandler
	Dispatcher

	tlsConfig *tls.Config

	blockBytes    int
	maxFrameBytes int

	// Metrics, if set via WithServerMetrics, receives frame/byte/error/peer
	// instrumentation for every peer this server accepts.
	Metrics *metrics.Collectors

	// OnPeerConnected, if set, fires once a peer's TLS handshake has
	// completed, just before its read/write goroutines start. OnPeerClosed
	// fires once, when the peer's connection is torn down. These are the
	// only retention mechanism the core provides.
	OnPeerConnected func(peer *Peer)
	OnPeerClosed    func(peer *Peer)

	mu       sync.Mutex
	listener net.Listener

	group  *errgroup.Group
	cancel context.CancelFunc
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithServerMaxConcurrentDispatch bounds the number of concurrently running
// handler goroutines across all of this server's peers.
func WithServerMaxConcurrentDispatch(n int64) ServerOption {
	return func(s *Server) { WithMaxConcurrentDispatch(n)(&s.Dispatcher) }
}

// WithServerMetrics attaches a Prometheus instrumentation sink to every
// peer this server accepts.
func WithServerMetrics(m *metrics.Collectors) ServerOption {
	return func(s *Server) { s.Metrics = m }
}

// WithServerFrameLimits overrides the read-block and max-frame sizes passed
// to every peer this server accepts. Zero values keep the package defaults.
// Only the max-frame size takes effect; see DefaultBlockBytes.
func WithServerFrameLimits(blockBytes, maxFrameBytes int) ServerOption {
	return func(s *Server) {
		if blockBytes > 0 {
			s.blockBytes = blockBytes
		}
		if maxFrameBytes > 0 {
			s.maxFrameBytes = maxFrameBytes
		}
	}
}

// WithServerConfig applies the frame limits and dispatch concurrency from
// cfg — typically produced by config.Load or config.Default — to a Server
// under construction, the same way WithServerFrameLimits/
// WithServerMaxConcurrentDispatch would if called by hand.
func WithServerConfig(cfg config.Config) ServerOption {
	return func(s *Server) {
		WithServerFrameLimits(cfg.Frame.BlockBytes, cfg.Frame.MaxFrameBytes)(s)
		if cfg.Dispatch.MaxConcurrent > 0 {
			WithServerMaxConcurrentDispatch(cfg.Dispatch.MaxConcurrent)(s)
		}
	}
}

// NewServer builds a Server that will authenticate every inbound connection
// with tlsConfig. tlsConfig construction — certificates, verify callbacks,
// DH parameters — is deliberately out of scope here; see msgnet/certutil.
func NewServer(tlsConfig *tls.Config, opts ...ServerOption) *Server {
	s := &Server{
		Dispatcher:    newDispatcher(),
		tlsConfig:     tlsConfig,
		blockBytes:    DefaultBlockBytes,
		maxFrameBytes: DefaultMaxFrameBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins listening on addr and spawns the accept loop as its own
// goroutine, returning as soon as the listener is bound.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	nlog.Infof("msgnet: server listening on %s", ln.Addr())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	s.group = group

	group.Go(func() error {
		return s.acceptLoop(ctx, ln)
	})
	return nil
}

// Addr returns the bound listener address, useful when Start was called
// with a ":0" port. Returns nil before Start or after Stop.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.reportError(err)
				return err
			}
		}
		// handshakeAndServe runs for as long as the resulting Peer lives,
		// which the core does not bound — it must not be tracked by
		// s.group, or Stop would block on every still-open peer.
		go s.handshakeAndServe(conn)
	}
}

func (s *Server) handshakeAndServe(conn net.Conn) {
	tlsConn := tls.Server(conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.reportError(newError(HandshakeError, err))
		_ = conn.Close()
		return
	}

	nlog.Infof("msgnet: accepted connection from %s", conn.RemoteAddr())
	peer := newPeer(tlsConn, &s.Dispatcher, &s.ErrorHandler, s.blockBytes, s.maxFrameBytes)
	peer.setMetrics(s.Metrics)
	s.Metrics.PeerConnected()

	if s.OnPeerConnected != nil {
		s.OnPeerConnected(peer)
	}

	peer.start()
	peer.wg.Wait()

	s.Metrics.PeerDisconnected()
	if s.OnPeerClosed != nil {
		s.OnPeerClosed(peer)
	}
}

// Stop closes the listener and cancels the accept loop, then waits for it
// to unwind. It does not close any already-accepted peer: the core does
// not retain them, so tearing them down is whatever owns them (typically
// OnPeerConnected/OnPeerClosed) calling Peer.Close itself.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	var closeErr error
	if ln != nil {
		closeErr = ln.Close()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
	return closeErr
}
