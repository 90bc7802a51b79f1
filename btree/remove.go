package btree

import "fmt"

// Remove deletes the value stored under a composite key. The final level's
// tree is rebalanced as the descent goes; the trees of upper levels only
// have the affected subtree root patched (an emptied subtree stays in
// place, it simply holds no entries).
func (t *Tree[V]) Remove(keys []uint64) error {
	if uint(len(keys)) != t.levels {
		return fmt.Errorf("%w: got %d keys for %d levels", ErrKeyArity, len(keys), t.levels)
	}
	newRoot, err := t.removeAt(0, t.root, keys)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Tree[V]) removeAt(level uint, root uint64, keys []uint64) (uint64, error) {
	key := keys[level]
	s := newSpine(t.tm)
	defer s.exit()

	if level == t.levels-1 {
		n, idx, err := t.removeRaw(s, root, key)
		if err != nil {
			return 0, err
		}
		if t.vt.Dec != nil {
			if err = t.vt.Dec(t.vt.Unpack(n.valueAt(idx))); err != nil {
				return 0, err
			}
		}
		n.deleteAt(idx)
		return s.rootLoc(), nil
	}

	n, idx, err := t.findLeafShadow(s, root, key)
	if err != nil {
		return 0, err
	}
	newSub, err := t.removeAt(level+1, n.ValueU64(idx), keys)
	if err != nil {
		return 0, err
	}
	n.setValueU64(idx, newSub)
	return s.rootLoc(), nil
}

// findLeafShadow shadows the descent through one level's tree to the leaf
// entry for key, without any restructuring.
func (t *Tree[V]) findLeafShadow(s *spine, root uint64, key uint64) (*Node, int, error) {
	pIndex := -1
	for {
		copied, err := s.step(root)
		if err != nil {
			return nil, 0, err
		}
		n := s.childNode()
		if copied {
			if err = t.incChildren(n, false); err != nil {
				return nil, 0, err
			}
		}
		if s.hasParent() && pIndex >= 0 {
			s.parentNode().setValueU64(pIndex, n.Location())
		}

		i := n.lowerBound(key)
		if n.IsLeaf() {
			if i < 0 || n.KeyAt(i) != key {
				return nil, 0, fmt.Errorf("%w: key %d", ErrNotFound, key)
			}
			return n, i, nil
		}
		if i < 0 {
			return nil, 0, fmt.Errorf("%w: key %d", ErrNotFound, key)
		}
		pIndex = i
		root = n.ValueU64(i)
	}
}

// removeRaw shadows the descent through the final level's tree, rebalancing
// ahead of each step so no node on the path can underflow, and stops at the
// leaf entry for key.
func (t *Tree[V]) removeRaw(s *spine, root uint64, key uint64) (*Node, int, error) {
	pIndex := -1
	for {
		copied, err := s.step(root)
		if err != nil {
			return nil, 0, err
		}
		if copied {
			if err = t.incChildren(s.childNode(), true); err != nil {
				return nil, 0, err
			}
		}
		if s.hasParent() && pIndex >= 0 {
			s.parentNode().setValueU64(pIndex, s.childNode().Location())
		}

		for {
			n := s.childNode()
			if n.IsLeaf() {
				i := n.lowerBound(key)
				if i < 0 || n.KeyAt(i) != key {
					return nil, 0, fmt.Errorf("%w: key %d", ErrNotFound, key)
				}
				return n, i, nil
			}

			// A lone child makes this node redundant; absorb the child and
			// retry, shrinking the tree's height at the root.
			if n.NrEntries() == 1 {
				if err = t.absorbOnlyChild(s); err != nil {
					return nil, 0, err
				}
				continue
			}

			i := n.lowerBound(key)
			if i < 0 {
				return nil, 0, fmt.Errorf("%w: key %d", ErrNotFound, key)
			}
			if err = t.rebalanceChild(s, i); err != nil {
				return nil, 0, err
			}
			// Rebalancing may have merged entries away; recompute.
			if i = n.lowerBound(key); i < 0 {
				return nil, 0, fmt.Errorf("%w: key %d", ErrNotFound, key)
			}
			pIndex = i
			root = n.ValueU64(i)
			break
		}
	}
}

// absorbOnlyChild replaces an internal node's content with that of its only
// child, dropping a level of indirection.
func (t *Tree[V]) absorbOnlyChild(s *spine) error {
	n := s.childNode()
	childLoc := n.ValueU64(0)

	ref, copied, err := t.tm.Shadow(childLoc, NodeValidator())
	if err != nil {
		return err
	}
	child := newNode(ref.Data(), ref.Location())
	if copied {
		if err = t.incChildren(child, true); err != nil {
			ref.Release()
			return err
		}
	}
	copy(n.data, child.data)
	ref.Release()

	if _, err = t.tm.SpaceMap().Dec(child.Location()); err != nil {
		return err
	}
	t.debugf("absorbed btree node %d into %d", child.Location(), n.Location())
	return nil
}

// mergeThreshold is the occupancy below which a child is topped up before
// the descent passes through it.
func mergeThreshold(max int) int { return max / 3 }

// rebalanceChild makes sure child i of the current node has entries to
// spare, merging with or redistributing from a sibling when it does not.
func (t *Tree[V]) rebalanceChild(s *spine, i int) error {
	n := s.childNode()

	probe, err := t.tm.Read(n.ValueU64(i), NodeValidator())
	if err != nil {
		return err
	}
	nr := newNode(probe.Data(), probe.Location()).NrEntries()
	max := newNode(probe.Data(), probe.Location()).MaxEntries()
	probe.Release()
	if nr > mergeThreshold(max) {
		return nil
	}

	li := i
	if li == n.NrEntries()-1 {
		li--
	}
	ri := li + 1

	leftRef, copied, err := t.tm.Shadow(n.ValueU64(li), NodeValidator())
	if err != nil {
		return err
	}
	defer leftRef.Release()
	left := newNode(leftRef.Data(), leftRef.Location())
	if copied {
		if err = t.incChildren(left, true); err != nil {
			return err
		}
	}
	n.setValueU64(li, left.Location())

	rightRef, copied, err := t.tm.Shadow(n.ValueU64(ri), NodeValidator())
	if err != nil {
		return err
	}
	defer rightRef.Release()
	right := newNode(rightRef.Data(), rightRef.Location())
	if copied {
		if err = t.incChildren(right, true); err != nil {
			return err
		}
	}
	n.setValueU64(ri, right.Location())

	if left.NrEntries()+right.NrEntries() <= left.MaxEntries() {
		// Merge right into left and drop the right entry.
		left.copyEntries(right, 0, right.NrEntries())
		n.deleteAt(ri)
		if _, err = t.tm.SpaceMap().Dec(right.Location()); err != nil {
			return err
		}
		t.debugf("merged btree node %d into %d", right.Location(), left.Location())
		return nil
	}

	// Redistribute so both sides end up roughly even.
	target := (left.NrEntries() + right.NrEntries()) / 2
	if left.NrEntries() < target {
		move := target - left.NrEntries()
		left.copyEntries(right, 0, move)
		right.shiftOutLeading(move)
	} else {
		move := left.NrEntries() - target
		right.shiftInLeading(left, move)
		left.truncateEntries(left.NrEntries() - move)
	}
	n.setKey(ri, right.KeyAt(0))
	return nil
}
