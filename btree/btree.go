package btree

import (
	"errors"
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/zkabelac/thin-provisioning-tools/transaction"
)

// Tree is a persistent, copy-on-write B-tree mapping composite uint64 keys
// to values of type V. A tree with L levels addresses each value by an
// L-tuple; comparison is lexicographic, realised by nesting: the leaves of
// levels above the last hold the root addresses of the next level's trees.
//
// All mutation goes through the transaction manager, so blocks shared with
// other trees or snapshots are shadowed automatically and the previously
// committed root stays intact until Commit.
type Tree[V any] struct {
	tm     *transaction.Manager
	vt     ValueType[V]
	levels uint
	root   uint64
	log    logger.Logger
}

type TreeOption func(treeConfig)

type treeConfig interface{ setLogger(logger.Logger) }

func (t *Tree[V]) setLogger(log logger.Logger) { t.log = log }

func WithLogger(log logger.Logger) TreeOption {
	return func(c treeConfig) { c.setLogger(log) }
}

// New formats an empty tree, allocating its root block.
func New[V any](tm *transaction.Manager, levels uint, vt ValueType[V], opts ...TreeOption) (*Tree[V], error) {
	if levels == 0 {
		return nil, ErrLevels
	}
	t := &Tree[V]{tm: tm, vt: vt, levels: levels}
	for _, opt := range opts {
		opt(t)
	}

	root, err := t.newEmptyLeaf(0)
	if err != nil {
		return nil, err
	}
	t.root = root
	return t, nil
}

// Open attaches to the tree rooted at root. The codec and level count must
// match whatever the tree was built with; neither is persisted in the nodes.
func Open[V any](tm *transaction.Manager, root uint64, levels uint, vt ValueType[V], opts ...TreeOption) (*Tree[V], error) {
	if levels == 0 {
		return nil, ErrLevels
	}
	t := &Tree[V]{tm: tm, vt: vt, levels: levels, root: root}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Root is the current root block address. It is only durable once the
// transaction manager has committed and the caller has recorded it in its
// superblock.
func (t *Tree[V]) Root() uint64 { return t.root }

func (t *Tree[V]) Levels() uint { return t.levels }

func (t *Tree[V]) debugf(format string, args ...any) {
	if t.log != nil {
		t.log.Debugf(format, args...)
	}
}

// leafValueSize is the value width of leaves at the given level: packed
// values on the final level, subtree root addresses above it.
func (t *Tree[V]) leafValueSize(level uint) int {
	if level == t.levels-1 {
		return t.vt.Size
	}
	return 8
}

func (t *Tree[V]) newEmptyLeaf(level uint) (uint64, error) {
	ref, err := t.tm.NewBlock(NodeValidator())
	if err != nil {
		return 0, err
	}
	defer ref.Release()
	formatNode(ref.Data(), ref.Location(), leafNodeFlag, t.leafValueSize(level))
	return ref.Location(), nil
}

// Lookup finds the value stored under a composite key. Unlike the
// damage-tolerant walk, read failures propagate: a lookup over unreadable
// metadata is an error, not a miss.
func (t *Tree[V]) Lookup(keys []uint64) (V, error) {
	var zero V
	if uint(len(keys)) != t.levels {
		return zero, fmt.Errorf("%w: got %d keys for %d levels", ErrKeyArity, len(keys), t.levels)
	}

	root := t.root
	for level := uint(0); level < t.levels-1; level++ {
		raw, err := t.lookupRaw(root, keys[level])
		if err != nil {
			return zero, err
		}
		root = unpackU64(raw)
	}

	raw, err := t.lookupRaw(root, keys[t.levels-1])
	if err != nil {
		return zero, err
	}
	if len(raw) != t.vt.Size {
		return zero, fmt.Errorf("%w: leaf holds %d byte values, codec expects %d",
			ErrValueSize, len(raw), t.vt.Size)
	}
	return t.vt.Unpack(raw), nil
}

// lookupRaw descends one level's tree and returns a copy of the leaf value
// bytes for key.
func (t *Tree[V]) lookupRaw(root uint64, key uint64) ([]byte, error) {
	loc := root
	for {
		ref, err := t.tm.Read(loc, NodeValidator())
		if err != nil {
			return nil, err
		}
		n := newNode(ref.Data(), loc)
		if err = n.CheckStructure(); err != nil {
			ref.Release()
			return nil, err
		}

		i := n.lowerBound(key)
		if n.IsLeaf() {
			if i < 0 || n.KeyAt(i) != key {
				ref.Release()
				return nil, fmt.Errorf("%w: key %d", ErrNotFound, key)
			}
			v := make([]byte, n.ValueSize())
			copy(v, n.valueAt(i))
			ref.Release()
			return v, nil
		}
		if i < 0 {
			ref.Release()
			return nil, fmt.Errorf("%w: key %d", ErrNotFound, key)
		}
		loc = n.ValueU64(i)
		ref.Release()
	}
}

// Commit flushes every block the tree has touched; afterwards Root is safe
// to record as the published entry point.
func (t *Tree[V]) Commit() error {
	return t.tm.Commit()
}

// NotFound reports whether err is a lookup miss rather than an IO, checksum
// or structural failure.
func NotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// incChildren bumps the reference counts of everything a node points at.
// Called after a shared node has been shadow-copied, because the copy is a
// second referrer of each child. lastLevel selects between subtree roots
// (plain block references) and codec values with their own Inc hook.
func (t *Tree[V]) incChildren(n *Node, lastLevel bool) error {
	sm := t.tm.SpaceMap()

	if n.IsInternal() || !lastLevel {
		for i := 0; i < n.NrEntries(); i++ {
			if err := sm.Inc(n.ValueU64(i)); err != nil {
				return err
			}
		}
		return nil
	}
	if t.vt.Inc == nil {
		return nil
	}
	for i := 0; i < n.NrEntries(); i++ {
		if err := t.vt.Inc(t.vt.Unpack(n.valueAt(i))); err != nil {
			return err
		}
	}
	return nil
}
