package msgnet

import (
	"reflect"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// hashSeed keys the type-name hash: a fixed, arbitrary 64-bit constant, not a
// cryptographic secret — it only needs to make accidental collisions across
// unrelated message sets unlikely.
const hashSeed uint64 = 0x9e3779b97f4a7c15

var typeHashCache sync.Map // reflect.Type -> uint64

// TypeHash derives the stable 64-bit identifier for message type T from its
// fully-qualified name. Go has no per-type static storage to populate at
// compile time, so this is a generic free function backed by a cache keyed
// on reflect.Type, computed once per concrete type.
func TypeHash[T any]() uint64 {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		// T is an interface type, whose zero value is nil; fall back to the
		// element type of *T so distinct interface instantiations still
		// hash distinctly from one another rather than all colliding.
		t = reflect.TypeOf((*T)(nil)).Elem()
	}
	return typeHashOf(t)
}

func typeHashOf(t reflect.Type) uint64 {
	if t == nil {
		// A nil reflect.Type has no name to hash; TypeHash never passes one.
		return xxhash.Checksum64S([]byte("<nil>"), hashSeed)
	}
	if v, ok := typeHashCache.Load(t); ok {
		return v.(uint64)
	}
	h := xxhash.Checksum64S([]byte(t.String()), hashSeed)
	typeHashCache.Store(t, h)
	return h
}
