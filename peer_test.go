package msgnet

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ugorji/go/codec"
)

type peerTestGreeting struct{ Msg string }
type peerTestReply struct{ Msg string }

func newTestPeerPair(t *testing.T) (clientPeer, serverPeer *Peer, clientDisp, serverDisp *Dispatcher) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	cd := newDispatcher()
	sd := newDispatcher()
	var ceh, seh ErrorHandler

	clientPeer = newPeer(clientConn, &cd, &ceh, DefaultBlockBytes, DefaultMaxFrameBytes)
	serverPeer = newPeer(serverConn, &sd, &seh, DefaultBlockBytes, DefaultMaxFrameBytes)
	clientPeer.start()
	serverPeer.start()
	t.Cleanup(func() {
		clientPeer.Close()
		serverPeer.Close()
	})
	return clientPeer, serverPeer, &cd, &sd
}

func TestSendRequestRoundTrip(t *testing.T) {
	clientPeer, _, _, serverDisp := newTestPeerPair(t)

	if err := AddHandler(serverDisp, func(_ *Peer, req peerTestGreeting) (peerTestReply, error) {
		return peerTestReply{Msg: "echo: " + req.Msg}, nil
	}); err != nil {
		t.Fatalf("AddHandler: %v", err)
	}

	done := make(chan peerTestReply, 1)
	errCh := make(chan error, 1)
	err := SendRequest(clientPeer, peerTestGreeting{Msg: "hi"}, func(res peerTestReply, err error) {
		if err != nil {
			errCh <- err
			return
		}
		done <- res
	})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	select {
	case res := <-done:
		if res.Msg != "echo: hi" {
			t.Fatalf("unexpected reply: %+v", res)
		}
	case err := <-errCh:
		t.Fatalf("callback received error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestSendNoReplyDelivers(t *testing.T) {
	clientPeer, _, _, serverDisp := newTestPeerPair(t)

	received := make(chan peerTestGreeting, 1)
	if err := AddHandlerNoReply(serverDisp, func(_ *Peer, req peerTestGreeting) {
		received <- req
	}); err != nil {
		t.Fatalf("AddHandlerNoReply: %v", err)
	}

	if err := Send(clientPeer, peerTestGreeting{Msg: "fire and forget"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Msg != "fire and forget" {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for no-reply message")
	}
}

func TestUnexpectedResponseReported(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cd := newDispatcher()
	sd := newDispatcher()

	var mu sync.Mutex
	var gotKind ErrKind
	var gotAny bool
	ceh := ErrorHandler{
		OnPeerError: func(_ *Peer, err error) {
			mu.Lock()
			defer mu.Unlock()
			if e, ok := err.(*Error); ok {
				gotKind = e.Kind
				gotAny = true
			}
		},
	}
	var seh ErrorHandler

	clientPeer := newPeer(clientConn, &cd, &ceh, DefaultBlockBytes, DefaultMaxFrameBytes)
	serverPeer := newPeer(serverConn, &sd, &seh, DefaultBlockBytes, DefaultMaxFrameBytes)
	clientPeer.start()
	serverPeer.start()
	defer clientPeer.Close()
	defer serverPeer.Close()

	// The server sends a "response" for a reqId the client never asked for.
	serverPeer.sendEnvelope(PacketInfo{ID: 1, ReqID: 999, IsResp: true}, peerTestReply{Msg: "surprise"})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		ok := gotAny
		kind := gotKind
		mu.Unlock()
		if ok {
			if kind != UnexpectedResponse {
				t.Fatalf("expected UnexpectedResponse, got %v", kind)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for UnexpectedResponse to be reported")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBadMessageFormatReportedAndStreamContinues(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cd := newDispatcher()
	sd := newDispatcher()

	var mu sync.Mutex
	var badCount int
	ceh := ErrorHandler{
		OnPeerError: func(_ *Peer, err error) {
			if e, ok := err.(*Error); ok && e.Kind == BadMessageFormat {
				mu.Lock()
				badCount++
				mu.Unlock()
			}
		},
	}
	var seh ErrorHandler

	clientPeer := newPeer(clientConn, &cd, &ceh, DefaultBlockBytes, DefaultMaxFrameBytes)
	serverPeer := newPeer(serverConn, &sd, &seh, DefaultBlockBytes, DefaultMaxFrameBytes)
	clientPeer.start()
	serverPeer.start()
	defer clientPeer.Close()
	defer serverPeer.Close()

	received := make(chan peerTestGreeting, 1)
	if err := AddHandlerNoReply(&cd, func(_ *Peer, req peerTestGreeting) {
		received <- req
	}); err != nil {
		t.Fatalf("AddHandlerNoReply: %v", err)
	}

	// A malformed 3-element envelope, encoded by hand, sent straight onto
	// the wire without going through sendEnvelope (which never produces one).
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, mh)
	if err := enc.Encode([]any{PacketInfo{ID: 1}, peerTestGreeting{Msg: "x"}, "extra"}); err != nil {
		t.Fatalf("encode malformed frame: %v", err)
	}
	if err := serverPeer.comp.writeBlock(buf); err != nil {
		t.Fatalf("writeBlock: %v", err)
	}

	// Followed by a well-formed fire-and-forget message; the read loop must
	// have kept going after the malformed frame.
	if err := Send(serverPeer, peerTestGreeting{Msg: "still alive"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Msg != "still alive" {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the message after the malformed frame")
	}

	mu.Lock()
	defer mu.Unlock()
	if badCount == 0 {
		t.Fatal("expected BadMessageFormat to be reported at least once")
	}
}
