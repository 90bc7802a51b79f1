package btree_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkabelac/thin-provisioning-tools/btree"
	"github.com/zkabelac/thin-provisioning-tools/btreetesting"
)

// thing mirrors the mapping records the metadata store keeps: a 12 byte
// value packed little-endian as u32 + u64.
type thing struct {
	X uint32
	Y uint64
}

func thingValueType() btree.ValueType[thing] {
	return btree.ValueType[thing]{
		Size: 12,
		Pack: func(v thing, dst []byte) {
			binary.LittleEndian.PutUint32(dst[0:4], v.X)
			binary.LittleEndian.PutUint64(dst[4:12], v.Y)
		},
		Unpack: func(src []byte) thing {
			return thing{
				X: binary.LittleEndian.Uint32(src[0:4]),
				Y: binary.LittleEndian.Uint64(src[4:12]),
			}
		},
	}
}

func thingAt(i uint64) thing {
	return thing{X: uint32(i), Y: i + 1234}
}

func newThingTree(t *testing.T, c *btreetesting.TestContext) *btree.Tree[thing] {
	tree, err := btree.New(c.TM, 1, thingValueType(), btree.WithLogger(c.Log))
	require.NoError(t, err)
	return tree
}

func insertThings(t *testing.T, tree *btree.Tree[thing], nr uint64) {
	for i := uint64(0); i < nr; i++ {
		require.NoError(t, tree.Insert([]uint64{i}, thingAt(i)))
	}
}

func TestCodecRoundTrip(t *testing.T) {
	vt := thingValueType()
	buf := make([]byte, vt.Size)
	for _, v := range []thing{{}, {X: 1, Y: 2}, {X: ^uint32(0), Y: ^uint64(0)}, thingAt(9999)} {
		vt.Pack(v, buf)
		assert.Equal(t, v, vt.Unpack(buf))
	}
}

func TestLookupOnEmptyTree(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "btree"})
	tree := newThingTree(t, c)

	_, err := tree.Lookup([]uint64{42})
	require.Error(t, err)
	assert.True(t, btree.NotFound(err))
}

func TestInsertAndLookup(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "btree", NrBlocks: 2048})
	tree := newThingTree(t, c)

	const nr = 10000
	insertThings(t, tree, nr)
	c.Commit()

	for i := uint64(0); i < nr; i++ {
		v, err := tree.Lookup([]uint64{i})
		require.NoError(t, err)
		require.Equal(t, thingAt(i), v)
	}

	_, err := tree.Lookup([]uint64{nr})
	assert.True(t, btree.NotFound(err))
}

func TestInsertDescendingKeys(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "btree", NrBlocks: 2048})
	tree := newThingTree(t, c)

	const nr = 5000
	for i := int64(nr - 1); i >= 0; i-- {
		require.NoError(t, tree.Insert([]uint64{uint64(i)}, thingAt(uint64(i))))
	}
	c.Commit()

	for i := uint64(0); i < nr; i++ {
		v, err := tree.Lookup([]uint64{i})
		require.NoError(t, err)
		require.Equal(t, thingAt(i), v)
	}
}

func TestInsertOverwrites(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "btree"})
	tree := newThingTree(t, c)

	require.NoError(t, tree.Insert([]uint64{7}, thing{X: 1, Y: 2}))
	require.NoError(t, tree.Insert([]uint64{7}, thing{X: 3, Y: 4}))

	v, err := tree.Lookup([]uint64{7})
	require.NoError(t, err)
	assert.Equal(t, thing{X: 3, Y: 4}, v)
}

func TestRemove(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "btree", NrBlocks: 2048})
	tree := newThingTree(t, c)

	const nr = 5000
	insertThings(t, tree, nr)

	// Drop the odd keys.
	for i := uint64(1); i < nr; i += 2 {
		require.NoError(t, tree.Remove([]uint64{i}))
	}
	c.Commit()

	for i := uint64(0); i < nr; i++ {
		v, err := tree.Lookup([]uint64{i})
		if i%2 == 0 {
			require.NoError(t, err)
			require.Equal(t, thingAt(i), v)
		} else {
			require.Truef(t, btree.NotFound(err), "key %d should be gone", i)
		}
	}
}

func TestRemoveMissingKey(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "btree"})
	tree := newThingTree(t, c)
	insertThings(t, tree, 10)

	err := tree.Remove([]uint64{100})
	require.Error(t, err)
	assert.True(t, btree.NotFound(err))
}

func TestKeyArityChecked(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "btree"})
	tree := newThingTree(t, c)

	assert.ErrorIs(t, tree.Insert([]uint64{1, 2}, thing{}), btree.ErrKeyArity)
	_, err := tree.Lookup([]uint64{})
	assert.ErrorIs(t, err, btree.ErrKeyArity)
	assert.ErrorIs(t, tree.Remove([]uint64{1, 2, 3}), btree.ErrKeyArity)
}

func TestMultiLevelTree(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "btree", NrBlocks: 4096})
	tree, err := btree.New(c.TM, 2, thingValueType(), btree.WithLogger(c.Log))
	require.NoError(t, err)

	// A sparse two-level key space, the shape of dev-id/block mappings.
	for dev := uint64(0); dev < 8; dev++ {
		for b := uint64(0); b < 100; b++ {
			require.NoError(t, tree.Insert([]uint64{dev, b * 7}, thingAt(dev*1000+b)))
		}
	}
	c.Commit()

	for dev := uint64(0); dev < 8; dev++ {
		for b := uint64(0); b < 100; b++ {
			v, err := tree.Lookup([]uint64{dev, b * 7})
			require.NoError(t, err)
			require.Equal(t, thingAt(dev*1000+b), v)
		}
	}

	// Misses at both levels.
	_, err = tree.Lookup([]uint64{100, 0})
	assert.True(t, btree.NotFound(err))
	_, err = tree.Lookup([]uint64{3, 5})
	assert.True(t, btree.NotFound(err))

	// Remove from one sub-tree; the others are untouched.
	require.NoError(t, tree.Remove([]uint64{3, 7}))
	_, err = tree.Lookup([]uint64{3, 7})
	assert.True(t, btree.NotFound(err))
	v, err := tree.Lookup([]uint64{4, 7})
	require.NoError(t, err)
	assert.Equal(t, thingAt(4001), v)
}

func TestRootSurvivesCommitAndReopen(t *testing.T) {
	c := btreetesting.NewTestContext(t, btreetesting.TestConfig{TestLabelPrefix: "btree", NrBlocks: 2048})
	tree := newThingTree(t, c)
	insertThings(t, tree, 1000)
	c.Commit()

	reopened, err := btree.Open(c.TM, tree.Root(), 1, thingValueType())
	require.NoError(t, err)
	for i := uint64(0); i < 1000; i++ {
		v, err := reopened.Lookup([]uint64{i})
		require.NoError(t, err)
		require.Equal(t, thingAt(i), v)
	}
}
