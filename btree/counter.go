package btree

// BlockCounter tallies how often each metadata block is referenced. Space
// accounting walks count every node of every tree into one counter and then
// compare against the space map.
type BlockCounter struct {
	counts map[uint64]uint64
}

func NewBlockCounter() *BlockCounter {
	return &BlockCounter{counts: make(map[uint64]uint64)}
}

func (c *BlockCounter) Count(b uint64) {
	c.counts[b]++
}

func (c *BlockCounter) Get(b uint64) uint64 {
	return c.counts[b]
}

func (c *BlockCounter) NrDistinct() int {
	return len(c.counts)
}

// CountingVisitor records every node block a traversal touches. Read
// failures propagate: usage accounting over damaged metadata needs the
// damage visitor wrapped around a value observer instead.
type CountingVisitor[V any] struct {
	Counter *BlockCounter
}

func NewCountingVisitor[V any](c *BlockCounter) *CountingVisitor[V] {
	return &CountingVisitor[V]{Counter: c}
}

func (v *CountingVisitor[V]) VisitInternal(loc NodeLocation, n *Node) bool {
	v.Counter.Count(n.Location())
	return true
}

func (v *CountingVisitor[V]) VisitInternalLeaf(loc NodeLocation, n *Node) bool {
	v.Counter.Count(n.Location())
	return true
}

func (v *CountingVisitor[V]) VisitLeaf(loc NodeLocation, n *LeafNode[V]) bool {
	v.Counter.Count(n.Location())
	return true
}

func (v *CountingVisitor[V]) VisitComplete() {}

func (v *CountingVisitor[V]) ErrorAccessingNode(loc NodeLocation, b uint64, cause error) error {
	return cause
}
