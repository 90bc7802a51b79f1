package btree

import "fmt"

// NodeLocation is the transient traversal context handed to visitors. Key is
// the lower bound the parent recorded for this node, nil at a tree root
// where no bound is known.
type NodeLocation struct {
	Depth uint
	Level uint
	Key   *uint64
}

// LeafNode couples a final-level leaf with the tree's codec so visitors can
// unpack its entries.
type LeafNode[V any] struct {
	*Node
	vt ValueType[V]
}

func (n *LeafNode[V]) ValueAt(i int) V {
	return n.vt.Unpack(n.Node.valueAt(i))
}

// Visitor is the depth-first traversal contract. Nodes are visited left to
// right, parents before children, so a well formed tree delivers keys in
// strictly ascending order. Returning false from a visit call prunes the
// descent into that node's children without affecting its siblings.
type Visitor[V any] interface {
	// VisitInternal is an internal node within one level's tree.
	VisitInternal(loc NodeLocation, n *Node) bool

	// VisitInternalLeaf is a leaf of a non-final level: its values are the
	// roots of the next level's trees.
	VisitInternalLeaf(loc NodeLocation, n *Node) bool

	// VisitLeaf is a final-level leaf carrying packed values. A leaf has no
	// children to prune, so the return value carries no meaning; it exists
	// to keep the visit signatures uniform.
	VisitLeaf(loc NodeLocation, n *LeafNode[V]) bool

	// VisitComplete is invoked exactly once when the traversal finishes,
	// however much damage was encountered on the way.
	VisitComplete()

	// ErrorAccessingNode is invoked when a node cannot be read or fails
	// validation. Returning nil skips the node's subtree and carries on
	// with its siblings; returning an error aborts the walk.
	ErrorAccessingNode(loc NodeLocation, b uint64, cause error) error
}

// WalkDepthFirst drives v over the whole tree. The root the tree was opened
// with must stay unmodified for the duration; concurrent walks of the same
// root are fine, concurrent mutation is not.
func (t *Tree[V]) WalkDepthFirst(v Visitor[V]) error {
	err := t.walkNode(v, NodeLocation{}, t.root)
	v.VisitComplete()
	return err
}

func (t *Tree[V]) walkNode(v Visitor[V], loc NodeLocation, b uint64) error {
	ref, err := t.tm.Read(b, NodeValidator())
	if err != nil {
		return v.ErrorAccessingNode(loc, b, err)
	}
	defer ref.Release()

	n := newNode(ref.Data(), b)
	if err = n.CheckStructure(); err != nil {
		return v.ErrorAccessingNode(loc, b, err)
	}

	if n.IsInternal() {
		if !v.VisitInternal(loc, n) {
			return nil
		}
		return t.walkChildren(v, loc, n, loc.Level)
	}

	if loc.Level < t.levels-1 {
		if n.ValueSize() != 8 {
			return v.ErrorAccessingNode(loc, b, fmt.Errorf(
				"%w: internal leaf at block %d has %d byte values", ErrValueSize, b, n.ValueSize()))
		}
		if !v.VisitInternalLeaf(loc, n) {
			return nil
		}
		return t.walkChildren(v, loc, n, loc.Level+1)
	}

	if n.ValueSize() != t.vt.Size {
		return v.ErrorAccessingNode(loc, b, fmt.Errorf(
			"%w: leaf at block %d has %d byte values, codec expects %d",
			ErrValueSize, b, n.ValueSize(), t.vt.Size))
	}
	_ = v.VisitLeaf(loc, &LeafNode[V]{Node: n, vt: t.vt})
	return nil
}

func (t *Tree[V]) walkChildren(v Visitor[V], loc NodeLocation, n *Node, childLevel uint) error {
	for i := 0; i < n.NrEntries(); i++ {
		key := n.KeyAt(i)
		child := NodeLocation{Depth: loc.Depth + 1, Level: childLevel, Key: &key}
		if err := t.walkNode(v, child, n.ValueU64(i)); err != nil {
			return err
		}
	}
	return nil
}
