package msgnet

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/teris-io/shortid"
	"github.com/ugorji/go/codec"

	"github.com/matusnovak/msgnet/internal/debug"
	"github.com/matusnovak/msgnet/internal/metrics"
	"github.com/matusnovak/msgnet/internal/nlog"
)

// ErrPeerClosed is returned by Send/SendRequest once the peer's write lane
// has shut down.
var ErrPeerClosed = errors.New("msgnet: peer closed")

// ErrFrameTooLarge is returned when a frame's plaintext size exceeds the
// configured MaxFrameBytes. Checked before compression runs, since LZ4
// frame mode has no fixed block ceiling to measure a finished write against.
var ErrFrameTooLarge = errors.New("msgnet: frame exceeds max size, unable to compress")

// pendingCall is one entry in a peer's pending-request table: a
// type-erased callback that decodes the eventual response object and hands
// it to the caller's typed function.
type pendingCall func(raw codec.Raw, transportErr error)

// Peer is one end of a live, authenticated, duplex session. It is
// constructed immediately after a successful TLS handshake and begins
// reading once start is called.
type Peer struct {
	id      string
	addr    string
	conn    net.Conn
	comp    *streamCompressor
	dec     *codec.Decoder
	disp    *Dispatcher
	errorHandler *ErrorHandler

	maxFrameBytes int

	writeCh chan []byte
	closed  chan struct{}
	closeOnce sync.Once

	nextReqID atomic.Uint64

	mu       sync.Mutex
	requests map[uint64]pendingCall

	wg sync.WaitGroup

	metrics *metrics.Collectors
}

// setMetrics attaches a metrics sink after construction; called by the
// owning Server/Client, which is the only thing that knows whether
// instrumentation was configured.
func (p *Peer) setMetrics(m *metrics.Collectors) { p.metrics = m }

func newPeer(conn net.Conn, disp *Dispatcher, eh *ErrorHandler, blockBytes, maxFrameBytes int) *Peer {
	comp := newStreamCompressor(conn)
	p := &Peer{
		id:            shortid.MustGenerate(),
		addr:          conn.RemoteAddr().String(),
		conn:          conn,
		comp:          comp,
		disp:          disp,
		errorHandler:  eh,
		maxFrameBytes: maxFrameBytes,
		writeCh:       make(chan []byte, 64),
		closed:        make(chan struct{}),
		requests:      make(map[uint64]pendingCall),
	}
	p.dec = codec.NewDecoder(&decompressingReader{r: comp.r}, mh)
	_ = blockBytes // the lz4.Reader below reads on its own internal cadence
	// rather than a caller-supplied fixed chunk size; kept as a parameter for
	// callers that still want to reason about read-side buffering explicitly.
	return p
}

// Address returns the printable remote address of this peer, e.g. for log
// lines.
func (p *Peer) Address() string { return p.addr }

// ID is a short, process-local identifier useful for correlating log lines
// across a peer's lifetime; it is not part of the wire protocol.
func (p *Peer) ID() string { return p.id }

// start begins the read loop and the write lane. Called once, right after
// construction, by whichever Endpoint (Server or Client) owns this peer.
func (p *Peer) start() {
	nlog.Infof("msgnet: peer %s (%s) session starting", p.id, p.addr)
	p.wg.Add(2)
	go p.writePump()
	go p.readLoop()
}

// Close tears the peer down: the stream is closed, the write lane stops
// (frames still queued on it are not written), and any pending-request
// callbacks are dropped silently.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// isClosed reports whether Close has run.
func (p *Peer) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

//
// write path
//

func (p *Peer) writePump() {
	defer p.wg.Done()
	for {
		select {
		case buf, ok := <-p.writeCh:
			if !ok {
				return
			}
			if err := p.comp.writeBlock(buf); err != nil {
				var msgnetErr *Error
				if errors.As(err, &msgnetErr) {
					p.fail(msgnetErr.Kind, msgnetErr.Cause)
				} else {
					p.fail(DecompressError, err)
				}
				return
			}
			p.metrics.FrameSent(len(buf))
		case <-p.closed:
			return
		}
	}
}

// enqueueWrite posts buf onto the peer's write lane. Channel FIFO ordering
// is what makes posts execute strictly in the order they were posted,
// without any extra bookkeeping.
func (p *Peer) enqueueWrite(buf []byte) error {
	if len(buf) > p.maxFrameBytes {
		return ErrFrameTooLarge
	}
	debug.Assert(len(buf) > 0, "msgnet: refusing to enqueue an empty frame")
	select {
	case p.writeCh <- buf:
		return nil
	case <-p.closed:
		return ErrPeerClosed
	}
}

// sendEnvelope encodes [info, msg] and enqueues it on the write lane. Any
// encode or enqueue failure is reported through the peer-error channel
// rather than returned, because its caller is the dispatcher's reply path,
// which has no caller left to hand an error back to. The user-facing
// Send/SendRequest use sendEnvelopeErr instead and return the error.
func (p *Peer) sendEnvelope(info PacketInfo, msg any) {
	if err := p.sendEnvelopeErr(info, msg); err != nil {
		p.reportSendErr(err)
	}
}

func (p *Peer) sendEnvelopeErr(info PacketInfo, msg any) error {
	buf, err := encodeEnvelope(info, msg)
	if err != nil {
		return err
	}
	return p.enqueueWrite(buf)
}

func (p *Peer) reportSendErr(err error) {
	if errors.Is(err, ErrFrameTooLarge) {
		p.errorHandler.reportPeerError(p, DecompressError, err)
		return
	}
	p.errorHandler.reportPeerError(p, TransportError, err)
}

// Send is fire-and-forget: PacketInfo{id: TypeHash[Req](), reqId: 0,
// isResponse: false}, enqueued, done.
func Send[Req any](p *Peer, msg Req) error {
	info := PacketInfo{ID: TypeHash[Req](), ReqID: 0, IsResp: false}
	return p.sendEnvelopeErr(info, msg)
}

// SendRequest allocates a fresh reqId, registers cb in the pending-request
// table under the peer mutex, then sends the request frame. cb fires at
// most once, with the decoded response and a nil err. If the peer closes
// before a response arrives, the pending entry is discarded and cb is not
// called.
func SendRequest[Req, Res any](p *Peer, msg Req, cb func(Res, error)) error {
	reqID := p.nextReqID.Add(1)

	call := func(raw codec.Raw, transportErr error) {
		if transportErr != nil {
			var zero Res
			cb(zero, transportErr)
			return
		}
		res, err := decodePayload[Res](raw)
		if err != nil {
			p.errorHandler.reportPeerError(p, UnpackError, err)
			return
		}
		cb(res, nil)
	}

	p.mu.Lock()
	p.requests[reqID] = call
	p.mu.Unlock()

	info := PacketInfo{ID: TypeHash[Req](), ReqID: reqID, IsResp: false}
	if err := p.sendEnvelopeErr(info, msg); err != nil {
		p.mu.Lock()
		delete(p.requests, reqID)
		p.mu.Unlock()
		return err
	}
	return nil
}

//
// read path
//

func (p *Peer) readLoop() {
	defer p.wg.Done()
	defer p.drainPending()

	for {
		info, raw, ok, err := decodeEnvelope(p.dec)
		if err != nil {
			p.classifyReadErr(err)
			return
		}
		if !ok {
			p.metrics.Error(BadMessageFormat.String())
			p.errorHandler.reportPeerError(p, BadMessageFormat, nil)
			continue // non-fatal: drop the offending frame, keep reading
		}
		p.metrics.FrameReceived(len(raw))

		info, raw := info, raw // per-iteration copies for the closure below
		p.disp.postDispatch(func() {
			p.receiveObject(info, raw)
		})
	}
}

func (p *Peer) classifyReadErr(err error) {
	var msgnetErr *Error
	if errors.As(err, &msgnetErr) {
		p.fail(msgnetErr.Kind, msgnetErr.Cause)
		return
	}
	if errors.Is(err, io.EOF) {
		p.fail(TransportError, err)
		return
	}
	if _, ok := err.(net.Error); ok {
		p.fail(TransportError, err)
		return
	}
	// A generic codec error at this layer means the byte stream itself
	// could not be parsed as a msgpack array at all (as opposed to the
	// 2-element shape check, which decodeEnvelope already turned into
	// ok=false above) — closest in kind to a corrupted/out-of-sync stream.
	p.fail(DecompressError, err)
}

// fail transitions the peer toward Closed: reports the error, closes the
// stream, and lets drainPending (deferred in readLoop) clear any pending
// callbacks.
func (p *Peer) fail(kind ErrKind, cause error) {
	nlog.Warningf("msgnet: peer %s closing: %s: %v", p.addr, kind, cause)
	p.metrics.Error(kind.String())
	p.errorHandler.reportPeerError(p, kind, cause)
	p.Close()
}

// drainPending discards every pending-request entry without invoking its
// callback.
func (p *Peer) drainPending() {
	p.mu.Lock()
	p.requests = make(map[uint64]pendingCall)
	p.mu.Unlock()
}

// receiveObject is the dispatcher.postDispatch closure body: decode the
// PacketInfo (already done by decodeEnvelope), then route either to the
// pending-request table (response) or the handler registry (request).
// Runs off the dispatcher's execution context, never the read goroutine.
func (p *Peer) receiveObject(info PacketInfo, raw codec.Raw) {
	defer recoverInto(p.errorHandler, p)
	if info.IsResp {
		p.handleResponse(info.ReqID, raw)
		return
	}
	p.disp.dispatch(p, info.ID, info.ReqID, raw)
}

func (p *Peer) handleResponse(reqID uint64, raw codec.Raw) {
	p.mu.Lock()
	call, ok := p.requests[reqID]
	if ok {
		delete(p.requests, reqID)
	}
	p.mu.Unlock()

	if !ok {
		p.errorHandler.reportPeerError(p, UnexpectedResponse, nil)
		return
	}
	call(raw, nil)
}

func (p *Peer) String() string {
	return fmt.Sprintf("peer[%s %s]", p.id, p.addr)
}
