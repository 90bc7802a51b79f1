package transaction_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkabelac/thin-provisioning-tools/block"
	"github.com/zkabelac/thin-provisioning-tools/space"
	"github.com/zkabelac/thin-provisioning-tools/transaction"
)

func newFixture(t *testing.T) (*transaction.Manager, space.Map) {
	path := filepath.Join(t.TempDir(), "metadata.bin")
	bm, err := block.Create(path, 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm.Close() })

	sm := space.NewCoreMap(64)
	return transaction.NewManager(bm, sm), sm
}

func TestNewBlockIsZeroedAndReferenced(t *testing.T) {
	tm, sm := newFixture(t)

	ref, err := tm.NewBlock(block.NoopValidator())
	require.NoError(t, err)
	for _, b := range ref.Data() {
		require.Equal(t, byte(0), b)
	}
	loc := ref.Location()
	ref.Release()

	c, err := sm.Count(loc)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), c)
}

func TestShadowExclusiveBlockStaysPut(t *testing.T) {
	tm, sm := newFixture(t)

	ref, err := tm.NewBlock(block.NoopValidator())
	require.NoError(t, err)
	loc := ref.Location()
	ref.Data()[17] = 3
	ref.Release()

	shadow, copied, err := tm.Shadow(loc, block.NoopValidator())
	require.NoError(t, err)
	assert.False(t, copied)
	assert.Equal(t, loc, shadow.Location())
	assert.Equal(t, byte(3), shadow.Data()[17])
	shadow.Release()

	c, err := sm.Count(loc)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), c)
}

func TestShadowSharedBlockCopies(t *testing.T) {
	tm, sm := newFixture(t)

	ref, err := tm.NewBlock(block.NoopValidator())
	require.NoError(t, err)
	loc := ref.Location()
	ref.Data()[17] = 3
	ref.Release()
	require.NoError(t, sm.Inc(loc)) // a second owner, a snapshot say

	shadow, copied, err := tm.Shadow(loc, block.NoopValidator())
	require.NoError(t, err)
	assert.True(t, copied)
	assert.NotEqual(t, loc, shadow.Location())
	assert.Equal(t, byte(3), shadow.Data()[17], "shadow carries the content")

	newLoc := shadow.Location()
	shadow.Data()[17] = 99
	shadow.Release()

	// The original keeps one owner and its old content.
	c, err := sm.Count(loc)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), c)
	c, err = sm.Count(newLoc)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), c)

	orig, err := tm.Read(loc, block.NoopValidator())
	require.NoError(t, err)
	assert.Equal(t, byte(3), orig.Data()[17])
	orig.Release()
}

func TestNewBlockRollsBackOnWriteRefFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.bin")
	bm, err := block.Create(path, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm.Close() })

	// A space map larger than the device makes allocation hand out an
	// address the block manager rejects.
	sm := space.NewCoreMap(8)
	tm := transaction.NewManager(bm, sm)

	// Allocation rotates forward from block 0, so blocks 1..3 go first.
	for i := 0; i < 3; i++ {
		ref, err := tm.NewBlock(block.NoopValidator())
		require.NoError(t, err)
		ref.Release()
	}

	_, err = tm.NewBlock(block.NoopValidator())
	require.Error(t, err)
	assert.ErrorIs(t, err, block.ErrOutOfRange)

	// The failed allocation was handed back.
	c, err := sm.Count(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), c)
}

func TestShadowFailsWhenSpaceExhausted(t *testing.T) {
	tm, sm := newFixture(t)

	ref, err := tm.NewBlock(block.NoopValidator())
	require.NoError(t, err)
	loc := ref.Location()
	ref.Release()
	require.NoError(t, sm.Inc(loc))

	// Burn the remaining space.
	for {
		if _, err = sm.NewBlock(); err != nil {
			break
		}
	}

	_, _, err = tm.Shadow(loc, block.NoopValidator())
	require.Error(t, err)
	assert.ErrorIs(t, err, space.ErrNoSpace)
}

func TestCommitFlushesToDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.bin")
	bm, err := block.Create(path, 64)
	require.NoError(t, err)
	sm := space.NewCoreMap(64)
	tm := transaction.NewManager(bm, sm)

	ref, err := tm.NewBlock(block.NoopValidator())
	require.NoError(t, err)
	loc := ref.Location()
	copy(ref.Data(), []byte("durable"))
	ref.Release()

	require.NoError(t, tm.Commit())
	require.NoError(t, bm.Close())

	bm, err = block.Open(path)
	require.NoError(t, err)
	defer bm.Close()

	rr, err := bm.GetReadRef(loc, block.NoopValidator())
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), rr.Data()[:7])
	rr.Release()
}
