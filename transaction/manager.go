// Package transaction orchestrates copy-on-write shadowing over the block
// manager and space map. A block that is shared between trees or snapshots
// (refcount above one) is copied to a fresh block before mutation; an
// exclusively owned block is mutated in place. Nothing reaches the device
// until Commit flushes, so the previously committed state stays readable
// throughout a transaction.
package transaction

import (
	"errors"
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/zkabelac/thin-provisioning-tools/block"
	"github.com/zkabelac/thin-provisioning-tools/space"
)

var ErrShadowFailed = errors.New("could not shadow block")

type Manager struct {
	bm  *block.Manager
	sm  space.Map
	log logger.Logger
}

type Option func(*Manager)

func WithLogger(log logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func NewManager(bm *block.Manager, sm space.Map, opts ...Option) *Manager {
	m := &Manager{bm: bm, sm: sm}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) BlockManager() *block.Manager { return m.bm }
func (m *Manager) SpaceMap() space.Map          { return m.sm }

func (m *Manager) debugf(format string, args ...any) {
	if m.log != nil {
		m.log.Debugf(format, args...)
	}
}

// NewBlock allocates a fresh block (refcount one) and returns zeroed write
// access to it.
func (m *Manager) NewBlock(v block.Validator) (*block.WriteRef, error) {
	loc, err := m.sm.NewBlock()
	if err != nil {
		return nil, err
	}
	ref, err := m.bm.GetZeroRef(loc, v)
	if err != nil {
		if _, derr := m.sm.Dec(loc); derr != nil {
			return nil, errors.Join(err, derr)
		}
		return nil, err
	}
	return ref, nil
}

// Shadow makes loc safe to mutate. If the block is exclusively owned it is
// taken for writing in place and copied reports false. Otherwise the content
// is copied to a newly allocated block, the old block loses a reference, and
// copied reports true so the caller can add references to anything the block
// points at.
func (m *Manager) Shadow(loc uint64, v block.Validator) (ref *block.WriteRef, copied bool, err error) {
	count, err := m.sm.Count(loc)
	if err != nil {
		return nil, false, err
	}

	if count == 1 {
		ref, err = m.bm.GetWriteRef(loc, v)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrShadowFailed, err)
		}
		return ref, false, nil
	}

	src, err := m.bm.GetReadRef(loc, v)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrShadowFailed, err)
	}
	defer src.Release()

	ref, err = m.NewBlock(v)
	if err != nil {
		return nil, false, err
	}
	copy(ref.Data(), src.Data())

	if _, err = m.sm.Dec(loc); err != nil {
		ref.Release()
		return nil, false, err
	}
	m.debugf("shadowed block %d -> %d", loc, ref.Location())
	return ref, true, nil
}

// Read gives validated read access outside the shadowing rules.
func (m *Manager) Read(loc uint64, v block.Validator) (*block.ReadRef, error) {
	return m.bm.GetReadRef(loc, v)
}

// Commit makes every block written under this transaction durable. Until it
// returns successfully the previously published root remains the valid entry
// point; afterwards the caller may record its new root.
func (m *Manager) Commit() error {
	if err := m.bm.Flush(); err != nil {
		return err
	}
	m.debugf("transaction committed")
	return nil
}
