package btreetesting

import (
	"math/rand"

	"github.com/zkabelac/thin-provisioning-tools/btree"
)

// NodeInfo describes one node observed by a TreeLayout walk.
type NodeInfo struct {
	Leaf  bool
	Depth uint
	Level uint
	Block uint64
	Keys  btree.KeyRange
}

// TreeLayout collects the physical layout of a healthy tree: every node,
// its block address and the key range it covers. A node's end bound is only
// known once the next node at the same depth is visited, so the last node
// seen per depth is patched retroactively, exactly the bookkeeping the
// damage visitor performs for corrupted nodes.
//
// Tests use the layout to aim corruption at a node whose covered range is
// known in advance.
type TreeLayout[V any] struct {
	Nodes []*NodeInfo

	lastAtDepth []*NodeInfo
}

func (l *TreeLayout[V]) VisitInternal(loc btree.NodeLocation, n *btree.Node) bool {
	l.record(false, loc, n)
	return true
}

func (l *TreeLayout[V]) VisitInternalLeaf(loc btree.NodeLocation, n *btree.Node) bool {
	l.record(true, loc, n)
	return true
}

func (l *TreeLayout[V]) VisitLeaf(loc btree.NodeLocation, n *btree.LeafNode[V]) bool {
	l.record(true, loc, n.Node)
	return true
}

func (l *TreeLayout[V]) VisitComplete() {}

func (l *TreeLayout[V]) ErrorAccessingNode(loc btree.NodeLocation, b uint64, cause error) error {
	// Layouts are only taken over healthy trees.
	return cause
}

// We rely on the visit order being depth first, lowest key to highest.
func (l *TreeLayout[V]) record(leaf bool, loc btree.NodeLocation, n *btree.Node) {
	ni := &NodeInfo{
		Leaf:  leaf,
		Depth: loc.Depth,
		Level: loc.Level,
		Block: n.Location(),
	}
	if n.NrEntries() > 0 {
		k := n.KeyAt(0)
		ni.Keys.Begin = &k
	} else if loc.Key != nil {
		k := *loc.Key
		ni.Keys.Begin = &k
	}

	if uint(len(l.lastAtDepth)) > loc.Depth {
		if last := l.lastAtDepth[loc.Depth]; last != nil {
			last.Keys.End = ni.Keys.Begin
		}
		l.lastAtDepth[loc.Depth] = ni
	} else {
		l.lastAtDepth = append(l.lastAtDepth, ni)
	}

	l.Nodes = append(l.Nodes, ni)
}

// Leaves returns the final-level leaf nodes in visit order.
func (l *TreeLayout[V]) Leaves() []*NodeInfo {
	var leaves []*NodeInfo
	for _, ni := range l.Nodes {
		if ni.Leaf {
			leaves = append(leaves, ni)
		}
	}
	return leaves
}

// RandomLeaf picks a leaf using the caller's seeded generator.
func (l *TreeLayout[V]) RandomLeaf(r *rand.Rand) *NodeInfo {
	leaves := l.Leaves()
	if len(leaves) == 0 {
		return nil
	}
	return leaves[r.Intn(len(leaves))]
}
