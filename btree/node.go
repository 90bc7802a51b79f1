package btree

import (
	"encoding/binary"
	"fmt"
)

// On-disk node layout. A node fills one metadata block:
//
//	0:4    csum (crc32c of bytes 4.. xor nodeCSumXor)
//	4:8    flags (internal or leaf)
//	8:16   blocknr
//	16:20  nr entries
//	20:24  max entries
//	24:28  value size
//	28:32  zero
//	32:..  keys, little-endian uint64, strictly ascending
//	..     values, valueSize bytes each, parallel to the keys
//
// Internal nodes store child block addresses as 8 byte values. Leaf nodes
// store codec-packed values; on the upper levels of a multi-level tree the
// leaf values are themselves roots of the next level's trees.
const (
	nodeHeaderSize = 32
	nodeCSumXor    = 121107

	internalNodeFlag = 1
	leafNodeFlag     = 2
)

// calcMaxEntries returns the entry capacity of a node, rounded down to a
// multiple of three so that two thirds-full siblings can always merge.
func calcMaxEntries(blockSize uint64, valueSize int) int {
	n := (int(blockSize) - nodeHeaderSize) / (8 + valueSize)
	return n - n%3
}

// Node is a typed view over one raw block. It does not own the bytes; the
// enclosing read or write reference does.
type Node struct {
	data []byte
	loc  uint64
}

func newNode(data []byte, loc uint64) *Node {
	return &Node{data: data, loc: loc}
}

func (n *Node) Location() uint64 { return n.loc }

func (n *Node) Flags() uint32    { return binary.LittleEndian.Uint32(n.data[4:8]) }
func (n *Node) IsInternal() bool { return n.Flags() == internalNodeFlag }
func (n *Node) IsLeaf() bool     { return n.Flags() == leafNodeFlag }

func (n *Node) blockNr() uint64 { return binary.LittleEndian.Uint64(n.data[8:16]) }

func (n *Node) NrEntries() int  { return int(binary.LittleEndian.Uint32(n.data[16:20])) }
func (n *Node) MaxEntries() int { return int(binary.LittleEndian.Uint32(n.data[20:24])) }
func (n *Node) ValueSize() int  { return int(binary.LittleEndian.Uint32(n.data[24:28])) }

func (n *Node) setFlags(f uint32)    { binary.LittleEndian.PutUint32(n.data[4:8], f) }
func (n *Node) setNrEntries(nr int)  { binary.LittleEndian.PutUint32(n.data[16:20], uint32(nr)) }
func (n *Node) setMaxEntries(mx int) { binary.LittleEndian.PutUint32(n.data[20:24], uint32(mx)) }
func (n *Node) setValueSize(vs int)  { binary.LittleEndian.PutUint32(n.data[24:28], uint32(vs)) }

func (n *Node) keyOffset(i int) int {
	return nodeHeaderSize + 8*i
}

func (n *Node) valueOffset(i int) int {
	return nodeHeaderSize + 8*n.MaxEntries() + n.ValueSize()*i
}

func (n *Node) KeyAt(i int) uint64 {
	return binary.LittleEndian.Uint64(n.data[n.keyOffset(i):])
}

func (n *Node) setKey(i int, key uint64) {
	binary.LittleEndian.PutUint64(n.data[n.keyOffset(i):], key)
}

func (n *Node) valueAt(i int) []byte {
	off := n.valueOffset(i)
	return n.data[off : off+n.ValueSize()]
}

// ValueU64 reads entry i as a block address. Only meaningful for internal
// nodes and the leaves of non-final levels.
func (n *Node) ValueU64(i int) uint64 {
	return binary.LittleEndian.Uint64(n.valueAt(i))
}

func (n *Node) setValueU64(i int, v uint64) {
	binary.LittleEndian.PutUint64(n.valueAt(i), v)
}

func (n *Node) setValue(i int, v []byte) {
	copy(n.valueAt(i), v)
}

// lowerBound returns the greatest index whose key is <= key, or -1 if every
// key is greater.
func (n *Node) lowerBound(key uint64) int {
	lo, hi := 0, n.NrEntries()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.KeyAt(mid) <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// insertAt shifts entries [i..) up and writes a new entry at i. The caller
// guarantees the node has room.
func (n *Node) insertAt(i int, key uint64, value []byte) {
	nr := n.NrEntries()
	vs := n.ValueSize()
	copy(n.data[n.keyOffset(i+1):n.keyOffset(nr+1)], n.data[n.keyOffset(i):n.keyOffset(nr)])
	copy(n.data[n.valueOffset(i+1):n.valueOffset(nr+1)], n.data[n.valueOffset(i):n.valueOffset(nr)])
	n.setNrEntries(nr + 1)
	n.setKey(i, key)
	if len(value) != vs {
		panic("btree: value length does not match node value size")
	}
	n.setValue(i, value)
}

func (n *Node) deleteAt(i int) {
	nr := n.NrEntries()
	copy(n.data[n.keyOffset(i):n.keyOffset(nr-1)], n.data[n.keyOffset(i+1):n.keyOffset(nr)])
	copy(n.data[n.valueOffset(i):n.valueOffset(nr-1)], n.data[n.valueOffset(i+1):n.valueOffset(nr)])
	n.setNrEntries(nr - 1)
}

// copyEntries appends count entries of src starting at srcBegin to the end
// of n. Both nodes must have the same value size.
func (n *Node) copyEntries(src *Node, srcBegin, count int) {
	nr := n.NrEntries()
	copy(n.data[n.keyOffset(nr):n.keyOffset(nr+count)],
		src.data[src.keyOffset(srcBegin):src.keyOffset(srcBegin+count)])
	copy(n.data[n.valueOffset(nr):n.valueOffset(nr+count)],
		src.data[src.valueOffset(srcBegin):src.valueOffset(srcBegin+count)])
	n.setNrEntries(nr + count)
}

// truncateEntries drops entries from the tail, leaving nr.
func (n *Node) truncateEntries(nr int) {
	n.setNrEntries(nr)
}

// shiftOutLeading drops the first count entries, sliding the rest down.
func (n *Node) shiftOutLeading(count int) {
	nr := n.NrEntries()
	copy(n.data[n.keyOffset(0):n.keyOffset(nr-count)], n.data[n.keyOffset(count):n.keyOffset(nr)])
	copy(n.data[n.valueOffset(0):n.valueOffset(nr-count)], n.data[n.valueOffset(count):n.valueOffset(nr)])
	n.setNrEntries(nr - count)
}

// shiftInLeading prepends the last count entries of src, which the caller
// then truncates away from src.
func (n *Node) shiftInLeading(src *Node, count int) {
	nr := n.NrEntries()
	copy(n.data[n.keyOffset(count):n.keyOffset(nr+count)], n.data[n.keyOffset(0):n.keyOffset(nr)])
	copy(n.data[n.valueOffset(count):n.valueOffset(nr+count)], n.data[n.valueOffset(0):n.valueOffset(nr)])
	srcNr := src.NrEntries()
	copy(n.data[n.keyOffset(0):n.keyOffset(count)],
		src.data[src.keyOffset(srcNr-count):src.keyOffset(srcNr)])
	copy(n.data[n.valueOffset(0):n.valueOffset(count)],
		src.data[src.valueOffset(srcNr-count):src.valueOffset(srcNr)])
	n.setNrEntries(nr + count)
}

// formatNode initialises an empty node over zeroed block data.
func formatNode(data []byte, loc uint64, flags uint32, valueSize int) *Node {
	n := newNode(data, loc)
	n.setFlags(flags)
	n.setNrEntries(0)
	n.setMaxEntries(calcMaxEntries(uint64(len(data)), valueSize))
	n.setValueSize(valueSize)
	return n
}

// CheckStructure verifies the invariants the traversal relies on: a known
// node type, a sane capacity for the block, an entry count within capacity
// and strictly ascending keys.
func (n *Node) CheckStructure() error {
	if f := n.Flags(); f != internalNodeFlag && f != leafNodeFlag {
		return fmt.Errorf("%w: block %d has flags %#x", ErrNodeInvalid, n.loc, f)
	}
	vs := n.ValueSize()
	if vs == 0 {
		return fmt.Errorf("%w: block %d has zero value size", ErrNodeInvalid, n.loc)
	}
	mx := n.MaxEntries()
	if mx <= 0 || nodeHeaderSize+mx*(8+vs) > len(n.data) {
		return fmt.Errorf("%w: block %d claims %d entries of %d bytes", ErrNodeInvalid, n.loc, mx, vs)
	}
	nr := n.NrEntries()
	if nr > mx {
		return fmt.Errorf("%w: block %d holds %d of max %d entries", ErrNodeInvalid, n.loc, nr, mx)
	}
	for i := 1; i < nr; i++ {
		if n.KeyAt(i-1) >= n.KeyAt(i) {
			return fmt.Errorf("%w: block %d keys not strictly ascending at %d", ErrNodeInvalid, n.loc, i)
		}
	}
	return nil
}
