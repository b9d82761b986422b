// Package msgnet is a small, symmetric, message-oriented RPC transport:
// a Server accepts many concurrent peers, a Client connects to exactly one
// server, and both sides exchange strongly-typed messages over a
// TLS-secured, LZ4-compressed, length-delimited stream.
//
// Handlers are registered per message type (AddHandler, AddHandlerNoReply);
// some messages expect a typed reply, others don't. Requests sent with
// SendRequest receive an asynchronous, per-call callback when (and if) the
// matching response arrives.
//
// TLS context construction, certificate/key parsing and Diffie-Hellman
// parameter handling are not this package's concern — see msgnet/certutil.
package msgnet
