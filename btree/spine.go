package btree

import (
	"github.com/zkabelac/thin-provisioning-tools/block"
	"github.com/zkabelac/thin-provisioning-tools/transaction"
)

// spine tracks the shadowed path of a mutation within one level's tree. At
// most two nodes are held: the current node and its parent, which may need
// its child pointer or separating keys patched as the descent mutates.
type spine struct {
	tm      *transaction.Manager
	parent  *block.WriteRef
	child   *block.WriteRef
	newRoot uint64
	haveNew bool
}

func newSpine(tm *transaction.Manager) *spine {
	return &spine{tm: tm}
}

// step shadows loc and makes it the current node, releasing the old parent.
// copied reports whether the block was duplicated and therefore needs its
// children's reference counts bumped by the caller.
func (s *spine) step(loc uint64) (copied bool, err error) {
	ref, copied, err := s.tm.Shadow(loc, NodeValidator())
	if err != nil {
		return false, err
	}
	if s.parent != nil {
		s.parent.Release()
	}
	s.parent = s.child
	s.child = ref
	if !s.haveNew {
		s.newRoot = ref.Location()
		s.haveNew = true
	}
	return copied, nil
}

// replaceChild swaps the current node for ref (used when a split moves the
// descent to the new sibling).
func (s *spine) replaceChild(ref *block.WriteRef) {
	s.child.Release()
	s.child = ref
}

func (s *spine) hasParent() bool { return s.parent != nil }

func (s *spine) childNode() *Node {
	return newNode(s.child.Data(), s.child.Location())
}

func (s *spine) parentNode() *Node {
	return newNode(s.parent.Data(), s.parent.Location())
}

// rootLoc is the (possibly shadow-moved) root of the level after the first
// step.
func (s *spine) rootLoc() uint64 { return s.newRoot }

func (s *spine) exit() {
	if s.parent != nil {
		s.parent.Release()
		s.parent = nil
	}
	if s.child != nil {
		s.child.Release()
		s.child = nil
	}
}
