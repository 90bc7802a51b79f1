// Package btreetesting provides the shared fixture for exercising the
// transactional btree stack: a temporary metadata device wired to a block
// manager, space map and transaction manager, recording observers in place
// of mock expectations, and helpers for deterministic corruption of chosen
// blocks.
package btreetesting

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zkabelac/thin-provisioning-tools/block"
	"github.com/zkabelac/thin-provisioning-tools/space"
	"github.com/zkabelac/thin-provisioning-tools/transaction"
)

// Superblock is the block tests reserve as the application entry point; the
// space map pins it so the allocator never hands it out.
const Superblock = 0

type TestConfig struct {
	// Seed drives every random choice (corruption sites in particular) so
	// a failing run can be reproduced exactly. Zero is a fine seed.
	Seed            int64
	NrBlocks        uint64
	TestLabelPrefix string
}

type TestContext struct {
	T    *testing.T
	Log  logger.Logger
	BM   *block.Manager
	SM   space.Map
	TM   *transaction.Manager
	Rand *rand.Rand

	MetadataPath string
}

func NewTestContext(t *testing.T, cfg TestConfig) *TestContext {
	if cfg.NrBlocks == 0 {
		cfg.NrBlocks = 1024
	}

	logger.New("NOOP")
	log := logger.Sugar.WithServiceName(cfg.TestLabelPrefix)

	path := filepath.Join(t.TempDir(),
		fmt.Sprintf("%s-%s.bin", cfg.TestLabelPrefix, uuid.NewString()))
	bm, err := block.Create(path, cfg.NrBlocks, block.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = bm.Close()
	})

	sm := space.NewCoreMap(cfg.NrBlocks)
	require.NoError(t, sm.Inc(Superblock))

	return &TestContext{
		T:            t,
		Log:          log,
		BM:           bm,
		SM:           sm,
		TM:           transaction.NewManager(bm, sm, transaction.WithLogger(log)),
		Rand:         rand.New(rand.NewSource(cfg.Seed)),
		MetadataPath: path,
	}
}

// Commit flushes the current transaction; node checksums only reach the
// device here, so tests must commit before poking at raw blocks.
func (c *TestContext) Commit() {
	require.NoError(c.T, c.TM.Commit())
}

// TrashBlock overwrites a block with zeroes, bypassing validation, so the
// next read of it fails its checksum.
func (c *TestContext) TrashBlock(loc uint64) {
	ref, err := c.BM.GetZeroRef(loc, block.NoopValidator())
	require.NoError(c.T, err)
	ref.Release()
	require.NoError(c.T, c.BM.Flush())
}
