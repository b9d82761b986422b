package msgnet

import "fmt"

// ErrKind enumerates the stable error identifiers a Peer or Endpoint can
// surface. There is no process-global registry — Kind is just an int with
// a String().
type ErrKind int

const (
	// HandshakeError: TLS handshake failed. Fatal to the peer/connect attempt.
	HandshakeError ErrKind = iota
	// UnexpectedResponse: a response frame arrived whose reqId is not (or no
	// longer) in the pending-request table. Non-fatal.
	UnexpectedResponse
	// BadMessageFormat: the envelope wasn't a 2-element array. Non-fatal,
	// the offending frame is dropped.
	BadMessageFormat
	// UnexpectedRequest: no handler is registered for the incoming type hash.
	// Non-fatal.
	UnexpectedRequest
	// UnpackError: the payload failed to decode into the handler's Req type.
	// Non-fatal, the offending frame is dropped.
	UnpackError
	// DecompressError: the LZ4 stream is corrupt or out of sync. Fatal.
	DecompressError
	// TransportError: the underlying connection failed (read/write/EOF).
	// Fatal.
	TransportError
)

func (k ErrKind) String() string {
	switch k {
	case HandshakeError:
		return "HandshakeError"
	case UnexpectedResponse:
		return "UnexpectedResponse"
	case BadMessageFormat:
		return "BadMessageFormat"
	case UnexpectedRequest:
		return "UnexpectedRequest"
	case UnpackError:
		return "UnpackError"
	case DecompressError:
		return "DecompressError"
	case TransportError:
		return "TransportError"
	default:
		return fmt.Sprintf("ErrKind(%d)", int(k))
	}
}

// Fatal reports whether errors of this kind end the peer's session.
func (k ErrKind) Fatal() bool {
	switch k {
	case HandshakeError, DecompressError, TransportError:
		return true
	default:
		return false
	}
}

// Error wraps a Cause with a stable Kind.
type Error struct {
	Kind  ErrKind
	Cause error
}

func newError(kind ErrKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorHandler is the set of settable callbacks an Endpoint (Server or
// Client) reports errors through. Go has no virtual base classes, so this
// is a plain struct of function fields, nil-checked before use — the same
// shape as other settable-callback-field reporting surfaces in this codebase.
type ErrorHandler struct {
	// OnError reports an endpoint-scoped error: accept/listener failures
	// and failed server-side TLS handshakes. Client.Connect failures are
	// returned to its caller, not reported here.
	OnError func(err error)
	// OnPeerError reports a peer-scoped error (see ErrKind above).
	OnPeerError func(peer *Peer, err error)
	// OnUnhandledException reports a recovered panic from a user handler or
	// response callback. The peer is not torn down because of it.
	OnUnhandledException func(peer *Peer, v any)
}

func (h *ErrorHandler) reportError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h *ErrorHandler) reportPeerError(peer *Peer, kind ErrKind, cause error) {
	if h.OnPeerError != nil {
		h.OnPeerError(peer, newError(kind, cause))
	}
}

func (h *ErrorHandler) reportException(peer *Peer, v any) {
	if h.OnUnhandledException != nil {
		h.OnUnhandledException(peer, v)
	}
}

func recoverInto(h *ErrorHandler, peer *Peer) {
	if v := recover(); v != nil {
		h.reportException(peer, v)
	}
}
