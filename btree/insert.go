package btree

import "fmt"

// Insert stores value under a composite key, overwriting any previous value.
// Every node on the descent path is shadowed first, so the tree committed by
// the previous transaction is never modified in place while it is shared.
func (t *Tree[V]) Insert(keys []uint64, value V) error {
	if uint(len(keys)) != t.levels {
		return fmt.Errorf("%w: got %d keys for %d levels", ErrKeyArity, len(keys), t.levels)
	}
	newRoot, err := t.insertAt(0, t.root, keys, value)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Tree[V]) insertAt(level uint, root uint64, keys []uint64, value V) (uint64, error) {
	last := level == t.levels-1
	key := keys[level]

	s := newSpine(t.tm)
	defer s.exit()

	n, idx, err := t.insertRaw(s, root, key, last)
	if err != nil {
		return 0, err
	}
	found := idx >= 0 && n.KeyAt(idx) == key

	if last {
		buf := make([]byte, t.vt.Size)
		t.vt.Pack(value, buf)
		if found {
			if t.vt.Dec != nil {
				if err = t.vt.Dec(t.vt.Unpack(n.valueAt(idx))); err != nil {
					return 0, err
				}
			}
			n.setValue(idx, buf)
		} else {
			n.insertAt(idx+1, key, buf)
		}
		return s.rootLoc(), nil
	}

	var subRoot uint64
	if found {
		subRoot = n.ValueU64(idx)
	} else {
		if subRoot, err = t.newEmptyLeaf(level + 1); err != nil {
			return 0, err
		}
		var buf [8]byte
		packU64(subRoot, buf[:])
		idx++
		n.insertAt(idx, key, buf[:])
	}

	newSub, err := t.insertAt(level+1, subRoot, keys, value)
	if err != nil {
		return 0, err
	}
	n.setValueU64(idx, newSub)
	return s.rootLoc(), nil
}

// insertRaw shadows the descent through one level's tree, splitting full
// nodes top-down, and stops at the leaf that should hold key. It returns the
// leaf (still held by the spine) and the lowerBound index of key within it;
// the leaf is guaranteed to have room for one more entry.
func (t *Tree[V]) insertRaw(s *spine, root uint64, key uint64, last bool) (*Node, int, error) {
	pIndex := -1
	for {
		copied, err := s.step(root)
		if err != nil {
			return nil, 0, err
		}
		n := s.childNode()
		if copied {
			if err = t.incChildren(n, last); err != nil {
				return nil, 0, err
			}
		}
		if s.hasParent() && pIndex >= 0 {
			s.parentNode().setValueU64(pIndex, n.Location())
		}

		if n.NrEntries() == n.MaxEntries() {
			if s.hasParent() {
				if n, err = t.splitSibling(s, pIndex, key); err != nil {
					return nil, 0, err
				}
			} else {
				if err = t.splitBeneath(s); err != nil {
					return nil, 0, err
				}
				n = s.childNode()
			}
		}

		i := n.lowerBound(key)
		if n.IsLeaf() {
			return n, i, nil
		}
		if i < 0 {
			// The new key is below every bound; widen the leftmost.
			i = 0
			n.setKey(0, key)
		}
		pIndex = i
		root = n.ValueU64(i)
	}
}

// splitBeneath handles a full root: its entries move into two fresh child
// nodes and the root becomes internal over them. The root block address is
// unchanged, so splitting never moves a tree's published entry point.
func (t *Tree[V]) splitBeneath(s *spine) error {
	n := s.childNode()
	nr := n.NrEntries()
	nrLeft := nr / 2
	nrRight := nr - nrLeft
	flags := n.Flags()
	vs := n.ValueSize()

	leftRef, err := t.tm.NewBlock(NodeValidator())
	if err != nil {
		return err
	}
	defer leftRef.Release()
	left := formatNode(leftRef.Data(), leftRef.Location(), flags, vs)
	left.copyEntries(n, 0, nrLeft)

	rightRef, err := t.tm.NewBlock(NodeValidator())
	if err != nil {
		return err
	}
	defer rightRef.Release()
	right := formatNode(rightRef.Data(), rightRef.Location(), flags, vs)
	right.copyEntries(n, nrLeft, nrRight)

	lowKey := n.KeyAt(0)
	midKey := n.KeyAt(nrLeft)

	n.setFlags(internalNodeFlag)
	n.setMaxEntries(calcMaxEntries(uint64(len(n.data)), 8))
	n.setValueSize(8)
	n.setNrEntries(0)

	var buf [8]byte
	packU64(left.Location(), buf[:])
	n.insertAt(0, lowKey, buf[:])
	packU64(right.Location(), buf[:])
	n.insertAt(1, midKey, buf[:])

	t.debugf("split btree root %d beneath into %d and %d", n.Location(), left.Location(), right.Location())
	return nil
}

// splitSibling handles a full non-root node: half its entries move to a new
// right sibling, which the parent gains an entry for. The returned node is
// whichever side key now belongs to, installed as the spine's current node.
func (t *Tree[V]) splitSibling(s *spine, pIndex int, key uint64) (*Node, error) {
	n := s.childNode()
	nr := n.NrEntries()
	nrLeft := nr / 2

	rightRef, err := t.tm.NewBlock(NodeValidator())
	if err != nil {
		return nil, err
	}
	right := formatNode(rightRef.Data(), rightRef.Location(), n.Flags(), n.ValueSize())
	right.copyEntries(n, nrLeft, nr-nrLeft)
	n.truncateEntries(nrLeft)

	var buf [8]byte
	packU64(right.Location(), buf[:])
	s.parentNode().insertAt(pIndex+1, right.KeyAt(0), buf[:])

	if key >= right.KeyAt(0) {
		s.replaceChild(rightRef)
		return right, nil
	}
	rightRef.Release()
	return n, nil
}
