package msgnet

import (
	"fmt"

	"github.com/ugorji/go/codec"
)

// PacketInfo is the routing header carried as the first element of every
// frame: [id, reqId, isResponse] as a msgpack array-of-3, not a map, to
// match the wire shape the protocol requires. Every struct encoded through
// mh is array-encoded (mh.StructToArray, below) so no per-struct tag is
// needed here, the same way application message types need none either.
type PacketInfo struct {
	ID     uint64
	ReqID  uint64
	IsResp bool
}

// mh is the single shared msgpack handle used for both directions of every
// peer. It is safe for concurrent use by multiple encoders/decoders, per
// ugorji/go/codec's own contract, once its fields stop being mutated.
var mh = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	// Every struct this handle encodes/decodes is serialized as an array of
	// its declared fields in declaration order, not a field-name map — the
	// applied once here at the handle level instead of per message type.
	h.StructToArray = true
	h.RawToString = true
	return h
}

// encodeEnvelope packs [info, msg] as a 2-element msgpack array, with msg
// serialized as an array of its declared fields (via mh.StructToArray; the
// caller's message type needs no tag).
func encodeEnvelope(info PacketInfo, msg any) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, mh)
	if err := enc.Encode([]any{info, msg}); err != nil {
		return nil, err
	}
	return buf, nil
}

// decodeEnvelope splits a decoded frame into its two raw sub-encodings
// without committing to decoding either one: elems[0] is the PacketInfo
// bytes, elems[1] is the still-opaque payload, to be decoded into a
// concrete Req type once the dispatcher/pending-table knows what that type
// is. Reports a BadMessageFormat condition via the bool return: with a nil
// err, ok is false iff the frame was not a 2-element array.
func decodeEnvelope(dec *codec.Decoder) (info PacketInfo, payload codec.Raw, ok bool, err error) {
	var elems []codec.Raw
	if err = dec.Decode(&elems); err != nil {
		return
	}
	if len(elems) != 2 {
		return
	}
	if err = codec.NewDecoderBytes(elems[0], mh).Decode(&info); err != nil {
		return
	}
	payload = elems[1]
	ok = true
	return
}

// decodePayload decodes a raw, still-opaque payload into a concrete type.
// Used both for inbound requests (decoding into the registered Req type)
// and inbound responses (decoding into the Res type bound at SendRequest
// time).
func decodePayload[T any](raw codec.Raw) (T, error) {
	var v T
	if err := codec.NewDecoderBytes(raw, mh).Decode(&v); err != nil {
		return v, fmt.Errorf("decode payload into %T: %w", v, err)
	}
	return v, nil
}
