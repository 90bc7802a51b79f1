package btree

import (
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"
)

// KeyRange is an interval over key space. A nil bound means the range is
// unconstrained on that side; it is never collapsed to zero or a maximum
// sentinel.
type KeyRange struct {
	Begin *uint64
	End   *uint64
}

func (r KeyRange) String() string {
	b, e := "..", ".."
	if r.Begin != nil {
		b = fmt.Sprintf("%d", *r.Begin)
	}
	if r.End != nil {
		e = fmt.Sprintf("%d", *r.End)
	}
	return fmt.Sprintf("[%s, %s)", b, e)
}

// Damage reports one unreadable or invalid node: the tree level it sat at,
// the key range it would have covered and a human-readable reason. Nothing
// beneath a damaged node is ever reported as a value, so the range is the
// precise extent of what was lost.
type Damage struct {
	Level uint
	Keys  KeyRange
	Desc  string
}

func (d Damage) String() string {
	return fmt.Sprintf("damage at level %d, keys %s: %s", d.Level, d.Keys, d.Desc)
}

// ValueVisitor observes intact values during a damage-tolerant walk, in
// ascending key order. The key is the final-level component.
type ValueVisitor[V any] interface {
	Visit(key uint64, value V)
}

// DamageObserver receives one Damage per corrupted node.
type DamageObserver interface {
	Visit(d Damage)
}

// DamageVisitor walks a tree, forwarding every intact value to a value
// observer and converting unreadable or invalid nodes into damage records
// instead of failing. Corruption never aborts the walk; the walk simply
// skips the damaged subtree and carries on with its siblings.
//
// The covered range of a damaged node begins at the lower bound its parent
// recorded for it (open if the root itself is damaged). The end bound is
// only discoverable later, when the next node at the same depth comes by,
// so pending records are parked per depth and finalized retroactively; a
// record still pending when the walk completes keeps an open end.
type DamageVisitor[V any] struct {
	values ValueVisitor[V]
	damage DamageObserver
	log    logger.Logger

	pending [][]*Damage
}

// NewDamageVisitor wires the two observers together. log may be nil.
func NewDamageVisitor[V any](log logger.Logger, values ValueVisitor[V], damage DamageObserver) *DamageVisitor[V] {
	return &DamageVisitor[V]{values: values, damage: damage, log: log}
}

// DamageWalk traverses the tree with a damage visitor wired to the tree's
// logger. It only fails if the observers cannot be driven at all; damage is
// reported, not returned.
func (t *Tree[V]) DamageWalk(values ValueVisitor[V], damage DamageObserver) error {
	return t.WalkDepthFirst(NewDamageVisitor[V](t.log, values, damage))
}

func (dv *DamageVisitor[V]) VisitInternal(loc NodeLocation, n *Node) bool {
	dv.goodNode(loc, n)
	return true
}

func (dv *DamageVisitor[V]) VisitInternalLeaf(loc NodeLocation, n *Node) bool {
	dv.goodNode(loc, n)
	return true
}

func (dv *DamageVisitor[V]) VisitLeaf(loc NodeLocation, n *LeafNode[V]) bool {
	// Close any pending damage at this depth before the node's values go
	// out, so observers see damage and values in key order.
	dv.goodNode(loc, n.Node)
	for i := 0; i < n.NrEntries(); i++ {
		dv.values.Visit(n.KeyAt(i), n.ValueAt(i))
	}
	return true
}

func (dv *DamageVisitor[V]) VisitComplete() {
	// Whatever is still pending has no following sibling; the lost range is
	// open above.
	for _, perDepth := range dv.pending {
		for _, d := range perDepth {
			dv.emit(d)
		}
	}
	dv.pending = nil
}

func (dv *DamageVisitor[V]) ErrorAccessingNode(loc NodeLocation, b uint64, cause error) error {
	d := &Damage{
		Level: loc.Level,
		Desc:  cause.Error(),
	}
	if loc.Key != nil {
		begin := *loc.Key
		d.Keys.Begin = &begin
	}

	for uint(len(dv.pending)) <= loc.Depth {
		dv.pending = append(dv.pending, nil)
	}
	dv.pending[loc.Depth] = append(dv.pending[loc.Depth], d)

	if dv.log != nil {
		dv.log.Debugf("damaged btree node at block %d: %v", b, cause)
	}
	return nil
}

// goodNode finalizes pending damage at this node's depth: the node's first
// key is the end bound the damaged sibling was waiting for.
func (dv *DamageVisitor[V]) goodNode(loc NodeLocation, n *Node) {
	if uint(len(dv.pending)) <= loc.Depth {
		return
	}
	var bound *uint64
	if n.NrEntries() > 0 {
		k := n.KeyAt(0)
		bound = &k
	} else if loc.Key != nil {
		k := *loc.Key
		bound = &k
	}
	for _, d := range dv.pending[loc.Depth] {
		d.Keys.End = bound
		dv.emit(d)
	}
	dv.pending[loc.Depth] = nil
}

func (dv *DamageVisitor[V]) emit(d *Damage) {
	dv.damage.Visit(*d)
}
