package btree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkabelac/thin-provisioning-tools/btree"
	"github.com/zkabelac/thin-provisioning-tools/btreetesting"
)

func TestWalkVisitsKeysInOrder(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "walk", NrBlocks: 2048})
	tree := newThingTree(t, c)

	const nr = 10000
	insertThings(t, tree, nr)
	c.Commit()

	layout := layoutOf(t, tree)

	// A tree this size needs internal nodes above the leaves.
	var internals int
	for _, ni := range layout.Nodes {
		if !ni.Leaf {
			internals++
		}
	}
	assert.Greater(t, internals, 0)

	// Leaf ranges tile the key space: each begins where the previous ended,
	// and only the last is open above.
	leaves := layout.Leaves()
	require.NotEmpty(t, leaves)
	var total int
	for i, leaf := range leaves {
		require.NotNil(t, leaf.Keys.Begin)
		if i+1 < len(leaves) {
			require.NotNil(t, leaf.Keys.End)
			require.Less(t, *leaf.Keys.Begin, *leaf.Keys.End)
			total += int(*leaf.Keys.End - *leaf.Keys.Begin)
		} else {
			require.Nil(t, leaf.Keys.End)
			total += nr - int(*leaf.Keys.Begin)
		}
	}
	assert.Equal(t, nr, total)
	assert.Equal(t, uint64(0), *leaves[0].Keys.Begin)
}

func TestCountingVisitorSeesEveryNodeOnce(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "walk", NrBlocks: 2048})
	tree := newThingTree(t, c)
	insertThings(t, tree, 10000)
	c.Commit()

	layout := layoutOf(t, tree)

	counter := btree.NewBlockCounter()
	require.NoError(t, tree.WalkDepthFirst(btree.NewCountingVisitor[thing](counter)))

	assert.Equal(t, len(layout.Nodes), counter.NrDistinct())
	for _, ni := range layout.Nodes {
		assert.Equal(t, uint64(1), counter.Get(ni.Block))
	}
}

func TestCountingVisitorAbortsOnDamage(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "walk", NrBlocks: 2048})
	tree := newThingTree(t, c)
	insertThings(t, tree, 10000)
	c.Commit()

	target := layoutOf(t, tree).RandomLeaf(c.Rand)
	require.NotNil(t, target)
	c.TrashBlock(target.Block)

	err := tree.WalkDepthFirst(btree.NewCountingVisitor[thing](btree.NewBlockCounter()))
	require.Error(t, err)
}

// pruningVisitor stops every descent at the root, so nothing below it is
// ever read.
type pruningVisitor struct {
	internal int
	leaves   int
	complete int
}

func (v *pruningVisitor) VisitInternal(loc btree.NodeLocation, n *btree.Node) bool {
	v.internal++
	return false
}

func (v *pruningVisitor) VisitInternalLeaf(loc btree.NodeLocation, n *btree.Node) bool {
	v.internal++
	return false
}

func (v *pruningVisitor) VisitLeaf(loc btree.NodeLocation, n *btree.LeafNode[thing]) bool {
	v.leaves++
	return false
}

func (v *pruningVisitor) VisitComplete() { v.complete++ }

func (v *pruningVisitor) ErrorAccessingNode(loc btree.NodeLocation, b uint64, cause error) error {
	return cause
}

func TestPruningStopsDescent(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "walk", NrBlocks: 2048})
	tree := newThingTree(t, c)
	insertThings(t, tree, 10000)
	c.Commit()

	v := &pruningVisitor{}
	require.NoError(t, tree.WalkDepthFirst(v))

	// Only the root was visited, and completion still fired.
	assert.Equal(t, 1, v.internal)
	assert.Equal(t, 0, v.leaves)
	assert.Equal(t, 1, v.complete)
}
