package msgnet

import (
	"context"
	"errors"
	"sync"

	"github.com/ugorji/go/codec"
	"golang.org/x/sync/semaphore"
)

// ErrAlreadyRegistered is returned by AddHandler/AddHandlerNoReply when a
// handler is already bound for the derived type hash.
var ErrAlreadyRegistered = errors.New("msgnet: a handler for this message type is already registered")

// trampoline is the type-erased entry the registry stores per type hash:
// decode the raw payload, invoke the user handler, optionally send a reply.
// It embeds the decoder for Req, the user function, and (for request/reply
// handlers) the encoder for Res — the Go stand-in for dynamic dispatch /
// template erasure in a language that has neither.
type trampoline func(peer *Peer, reqID uint64, raw codec.Raw)

// Dispatcher is the per-endpoint type-hash -> handler registry. A Server or
// Client embeds one. Registration is one-shot per type and typically
// happens before Start/Connect. The registry is guarded by an RWMutex, so
// registering a handler while peers are already dispatching is safe;
// dispatch takes the read lock for each lookup.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[uint64]trampoline

	executor func(func())
	sem      *semaphore.Weighted
}

// DispatcherOption configures a Dispatcher at construction time.
type DispatcherOption func(*Dispatcher)

// WithMaxConcurrentDispatch bounds the number of handler goroutines allowed
// to run concurrently for this dispatcher, via a weighted semaphore. The
// core transport itself has no backpressure; this is purely an opt-in
// knob for callers whose handlers are expensive enough to need one.
func WithMaxConcurrentDispatch(n int64) DispatcherOption {
	return func(d *Dispatcher) {
		d.sem = semaphore.NewWeighted(n)
	}
}

// WithExecutor overrides how postDispatch runs handler work; the default is
// a bare `go fn()`.
func WithExecutor(executor func(func())) DispatcherOption {
	return func(d *Dispatcher) { d.executor = executor }
}

func newDispatcher(opts ...DispatcherOption) Dispatcher {
	d := Dispatcher{handlers: make(map[uint64]trampoline)}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// postDispatch runs fn on the endpoint's execution context, never on the
// read loop's goroutine. Default: a plain goroutine, optionally
// gated by a semaphore installed via WithMaxConcurrentDispatch.
func (d *Dispatcher) postDispatch(fn func()) {
	run := func() {
		if d.sem != nil {
			_ = d.sem.Acquire(context.Background(), 1)
			defer d.sem.Release(1)
		}
		fn()
	}
	if d.executor != nil {
		d.executor(run)
		return
	}
	go run()
}

// AddHandler registers a request/reply handler for message type Req, whose
// return value Res is sent back to the caller as the response. Go cannot
// add type parameters to a method, so this is a free function over
// *Dispatcher, the same shape as golang.org/x/exp/slices-style generic
// helpers.
func AddHandler[Req, Res any](d *Dispatcher, fn func(peer *Peer, req Req) (Res, error)) error {
	id := TypeHash[Req]()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[id]; exists {
		return ErrAlreadyRegistered
	}
	d.handlers[id] = func(peer *Peer, reqID uint64, raw codec.Raw) {
		req, err := decodePayload[Req](raw)
		if err != nil {
			peer.errorHandler.reportPeerError(peer, UnpackError, err)
			return
		}
		defer recoverInto(peer.errorHandler, peer)
		res, err := fn(peer, req)
		if err != nil {
			peer.errorHandler.reportException(peer, err)
			return
		}
		info := PacketInfo{ID: TypeHash[Res](), ReqID: reqID, IsResp: true}
		peer.sendEnvelope(info, res)
	}
	return nil
}

// AddHandlerNoReply registers a fire-and-forget handler for message type
// Req: no response frame is ever synthesized for it.
func AddHandlerNoReply[Req any](d *Dispatcher, fn func(peer *Peer, req Req)) error {
	id := TypeHash[Req]()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[id]; exists {
		return ErrAlreadyRegistered
	}
	d.handlers[id] = func(peer *Peer, _ uint64, raw codec.Raw) {
		req, err := decodePayload[Req](raw)
		if err != nil {
			peer.errorHandler.reportPeerError(peer, UnpackError, err)
			return
		}
		defer recoverInto(peer.errorHandler, peer)
		fn(peer, req)
	}
	return nil
}

// dispatch looks up the handler for id and invokes its trampoline. Called
// only from within postDispatch, i.e. never on the peer's read goroutine.
func (d *Dispatcher) dispatch(peer *Peer, id, reqID uint64, raw codec.Raw) {
	d.mu.RLock()
	h, ok := d.handlers[id]
	d.mu.RUnlock()
	if !ok {
		peer.errorHandler.reportPeerError(peer, UnexpectedRequest, nil)
		return
	}
	h(peer, reqID, raw)
}
