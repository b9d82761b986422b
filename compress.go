package msgnet

import (
	"io"
	"net"

	"github.com/pierrec/lz4/v3"
)

// DefaultBlockBytes is the default read-block size (8 KiB) a Server or
// Client passes to each peer it creates. The read path does not use it:
// the lz4.Reader pulls bytes off the connection in whatever amounts its own
// framing needs, so inbound reads are not bounded to this size.
const DefaultBlockBytes = 8 * 1024

// DefaultMaxFrameBytes bounds the plaintext size of a single frame buffer
// handed to sendPacket. LZ4 frame mode has no fixed block ceiling to check
// a finished write against after the fact, so this library checks the
// plaintext size before compression ever runs.
const DefaultMaxFrameBytes = 1 << 20 // 1 MiB

// streamCompressor holds the per-peer, per-direction LZ4 state that must
// stay alive for the lifetime of the session: lz4.Writer/lz4.Reader with
// block dependency enabled carry a dictionary forward from block to block
// so earlier frames help compress later ones.
type streamCompressor struct {
	w *lz4.Writer
	r *lz4.Reader
}

func newStreamCompressor(conn net.Conn) *streamCompressor {
	w := lz4.NewWriter(conn)
	_ = w.Apply(lz4.BlockDependencyOption(true))
	r := lz4.NewReader(conn)
	return &streamCompressor{w: w, r: r}
}

// writeBlock compresses buf and writes it as exactly one LZ4 block,
// producing exactly one compressed block per call. Must only ever be
// called from the peer's write lane.
func (c *streamCompressor) writeBlock(buf []byte) error {
	if _, err := c.w.Write(buf); err != nil {
		return classifyCompressorErr(err)
	}
	if err := c.w.Flush(); err != nil {
		return classifyCompressorErr(err)
	}
	return nil
}

// classifyCompressorErr tells a failure of the underlying connection (EOF,
// a closed pipe, reset, or any other net.Error) apart from a failure inside
// the LZ4 layer itself: the former is TransportError, the latter
// DecompressError. Used by
// writeBlock; decompressingReader.Read draws the same distinction but
// leaves the EOF/net.Error case unwrapped for its caller (readLoop's
// classifyReadErr) to classify instead.
func classifyCompressorErr(err error) error {
	if err == io.EOF || err == io.ErrClosedPipe {
		return newError(TransportError, err)
	}
	if _, isNetErr := err.(net.Error); isNetErr {
		return newError(TransportError, err)
	}
	return newError(DecompressError, err)
}

// decompressingReader classifies errors surfacing from the LZ4 layer as
// DecompressError, leaving io.EOF and net.Error (transport-level failures)
// to pass through unchanged. Must only ever be read from the peer's read
// loop.
type decompressingReader struct {
	r *lz4.Reader
}

func (d *decompressingReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == nil || err == io.EOF {
		return n, err
	}
	if _, isNetErr := err.(net.Error); isNetErr {
		return n, err
	}
	return n, newError(DecompressError, err)
}
