package btree

import (
	"encoding/binary"

	"github.com/zkabelac/thin-provisioning-tools/space"
)

// ValueType is the codec capability a tree is parameterised with. Pack and
// Unpack convert between the in-memory value and its fixed Size byte disk
// form, little-endian throughout.
//
// Inc and Dec are optional reference counting hooks, needed when a value
// denotes ownership of other blocks (a nested tree root, say). They are
// invoked when an entry gains a referrer (a shared node is shadow-copied)
// or loses one (the entry is removed or overwritten). Leave them nil for
// plain values.
type ValueType[V any] struct {
	Size   int
	Pack   func(v V, dst []byte)
	Unpack func(src []byte) V
	Inc    func(v V) error
	Dec    func(v V) error
}

func packU64(v uint64, dst []byte) { binary.LittleEndian.PutUint64(dst, v) }
func unpackU64(src []byte) uint64  { return binary.LittleEndian.Uint64(src) }

// Uint64ValueType stores plain uint64 values with no-op reference counting.
func Uint64ValueType() ValueType[uint64] {
	return ValueType[uint64]{
		Size:   8,
		Pack:   packU64,
		Unpack: unpackU64,
	}
}

// BlockRefValueType stores uint64 block addresses whose referents are
// tracked in sm. Used for values that are roots of nested structures, where
// sharing the root block is what shares the subtree.
func BlockRefValueType(sm space.Map) ValueType[uint64] {
	return ValueType[uint64]{
		Size:   8,
		Pack:   packU64,
		Unpack: unpackU64,
		Inc:    sm.Inc,
		Dec: func(v uint64) error {
			_, err := sm.Dec(v)
			return err
		},
	}
}
