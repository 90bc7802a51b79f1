// Package space provides per-block reference counting for the transactional
// metadata substrate. The counts are the sole source of truth for block
// sharing: a count of one means the holder owns the block exclusively and may
// mutate it in place, anything higher forces copy-on-write shadowing.
package space

import "fmt"

// Map is a reference count table over a fixed range of block addresses.
type Map interface {
	// NewBlock allocates a free block (count goes 0 -> 1).
	NewBlock() (uint64, error)

	// Inc adds a reference to b.
	Inc(b uint64) error

	// Dec drops a reference to b and returns the new count. Decrementing
	// past zero is a caller bug and fails with ErrRefcountUnderflow.
	Dec(b uint64) (uint32, error)

	// Count returns the current reference count for b.
	Count(b uint64) (uint32, error)

	NrBlocks() uint64
	NrFree() uint64
}

// CoreMap is the in-memory Map used for transient trees and for bootstrap
// while the on-disk map is being built.
type CoreMap struct {
	counts    []uint32
	nrFree    uint64
	lastAlloc uint64
}

func NewCoreMap(nrBlocks uint64) *CoreMap {
	return &CoreMap{
		counts: make([]uint32, nrBlocks),
		nrFree: nrBlocks,
	}
}

func (m *CoreMap) check(b uint64) error {
	if b >= uint64(len(m.counts)) {
		return fmt.Errorf("%w: block %d of %d", ErrBlockOutOfRange, b, len(m.counts))
	}
	return nil
}

func (m *CoreMap) NewBlock() (uint64, error) {
	b, err := allocRotating(m.counts, &m.lastAlloc)
	if err != nil {
		return 0, err
	}
	m.nrFree--
	return b, nil
}

func (m *CoreMap) Inc(b uint64) error {
	if err := m.check(b); err != nil {
		return err
	}
	if m.counts[b] == 0 {
		m.nrFree--
	}
	m.counts[b]++
	return nil
}

func (m *CoreMap) Dec(b uint64) (uint32, error) {
	if err := m.check(b); err != nil {
		return 0, err
	}
	if m.counts[b] == 0 {
		return 0, fmt.Errorf("%w: block %d", ErrRefcountUnderflow, b)
	}
	m.counts[b]--
	if m.counts[b] == 0 {
		m.nrFree++
	}
	return m.counts[b], nil
}

func (m *CoreMap) Count(b uint64) (uint32, error) {
	if err := m.check(b); err != nil {
		return 0, err
	}
	return m.counts[b], nil
}

func (m *CoreMap) NrBlocks() uint64 { return uint64(len(m.counts)) }
func (m *CoreMap) NrFree() uint64   { return m.nrFree }

// allocRotating finds a zero count, searching forward from the previous
// allocation point so freshly freed blocks are not immediately reused.
func allocRotating(counts []uint32, lastAlloc *uint64) (uint64, error) {
	n := uint64(len(counts))
	for i := uint64(0); i < n; i++ {
		b := (*lastAlloc + 1 + i) % n
		if counts[b] == 0 {
			counts[b] = 1
			*lastAlloc = b
			return b, nil
		}
	}
	return 0, ErrNoSpace
}
