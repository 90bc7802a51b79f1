package space

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/zkabelac/thin-provisioning-tools/block"
)

// On-disk index page layout. Counts are packed little-endian after a 32 byte
// header:
//
//	0:4    csum (crc32c of bytes 4.. xor indexCSumXor)
//	4:8    zero
//	8:16   blocknr
//	16:24  first count index held by this page
//	24:28  nr counts held by this page
//	28:32  zero
const (
	indexHeaderSize = 32
	indexCSumXor    = 0xb1242
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type indexValidator struct{}

func (indexValidator) Check(data []byte, loc uint64) error {
	sum := crc32.Checksum(data[4:], castagnoli) ^ indexCSumXor
	if binary.LittleEndian.Uint32(data[0:4]) != sum {
		return fmt.Errorf("%w: space map index block %d", block.ErrChecksum, loc)
	}
	if binary.LittleEndian.Uint64(data[8:16]) != loc {
		return fmt.Errorf("%w: block %d has blocknr %d",
			ErrIndexPageInvalid, loc, binary.LittleEndian.Uint64(data[8:16]))
	}
	return nil
}

func (indexValidator) Prepare(data []byte, loc uint64) {
	binary.LittleEndian.PutUint64(data[8:16], loc)
	sum := crc32.Checksum(data[4:], castagnoli) ^ indexCSumXor
	binary.LittleEndian.PutUint32(data[0:4], sum)
}

// IndexValidator validates space map index pages.
func IndexValidator() block.Validator { return indexValidator{} }

func countsPerPage(blockSize uint64) uint64 {
	return (blockSize - indexHeaderSize) / 4
}

// IndexBlocks returns how many index pages persist counts for nrBlocks.
func IndexBlocks(nrBlocks, blockSize uint64) uint64 {
	per := countsPerPage(blockSize)
	return (nrBlocks + per - 1) / per
}

// DiskMap is a Map whose counts are persisted in index pages through the
// block manager. The whole table is held in memory; Flush stages the pages
// as dirty blocks for the next block manager flush.
//
// The index pages live in a fixed region starting at base. The caller is
// responsible for referencing that region so it is never handed out by the
// allocator (a DiskMap created over itself does this in Create).
type DiskMap struct {
	core *CoreMap
	bm   *block.Manager
	base uint64
}

// CreateDiskMap formats a fresh map covering every block of the device, with
// its index region at base. The index blocks and everything below base get an
// initial count of one so they are never allocated.
func CreateDiskMap(bm *block.Manager, base uint64) (*DiskMap, error) {
	nrBlocks := bm.NrBlocks()
	nrIndex := IndexBlocks(nrBlocks, bm.BlockSize())
	if base+nrIndex > nrBlocks {
		return nil, fmt.Errorf("%w: need %d index blocks at %d of %d",
			ErrRegionTooSmall, nrIndex, base, nrBlocks)
	}

	m := &DiskMap{core: NewCoreMap(nrBlocks), bm: bm, base: base}
	for b := uint64(0); b < base+nrIndex; b++ {
		if err := m.core.Inc(b); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OpenDiskMap loads a previously flushed map from its index region.
func OpenDiskMap(bm *block.Manager, base uint64) (*DiskMap, error) {
	nrBlocks := bm.NrBlocks()
	nrIndex := IndexBlocks(nrBlocks, bm.BlockSize())
	if base+nrIndex > nrBlocks {
		return nil, fmt.Errorf("%w: need %d index blocks at %d of %d",
			ErrRegionTooSmall, nrIndex, base, nrBlocks)
	}

	m := &DiskMap{core: NewCoreMap(nrBlocks), bm: bm, base: base}
	per := countsPerPage(bm.BlockSize())

	for i := uint64(0); i < nrIndex; i++ {
		if err := m.loadPage(base+i, per); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *DiskMap) loadPage(loc, per uint64) error {
	ref, err := m.bm.GetReadRef(loc, IndexValidator())
	if err != nil {
		return err
	}
	defer ref.Release()

	data := ref.Data()
	first := binary.LittleEndian.Uint64(data[16:24])
	nr := uint64(binary.LittleEndian.Uint32(data[24:28]))
	if first+nr > m.core.NrBlocks() || nr > per {
		return fmt.Errorf("%w: block %d covers counts [%d, %d)",
			ErrIndexPageInvalid, loc, first, first+nr)
	}
	for j := uint64(0); j < nr; j++ {
		c := binary.LittleEndian.Uint32(data[indexHeaderSize+4*j:])
		m.core.counts[first+j] = c
		if c > 0 {
			m.core.nrFree--
		}
	}
	return nil
}

// Flush writes the count table into the index region as dirty blocks. The
// pages reach the device on the next block manager flush, which the
// transaction manager issues at commit.
func (m *DiskMap) Flush() error {
	per := countsPerPage(m.bm.BlockSize())
	nrIndex := IndexBlocks(m.core.NrBlocks(), m.bm.BlockSize())

	for i := uint64(0); i < nrIndex; i++ {
		first := i * per
		nr := min(per, m.core.NrBlocks()-first)

		ref, err := m.bm.GetZeroRef(m.base+i, IndexValidator())
		if err != nil {
			return err
		}
		data := ref.Data()
		binary.LittleEndian.PutUint64(data[16:24], first)
		binary.LittleEndian.PutUint32(data[24:28], uint32(nr))
		for j := uint64(0); j < nr; j++ {
			binary.LittleEndian.PutUint32(data[indexHeaderSize+4*j:], m.core.counts[first+j])
		}
		ref.Release()
	}
	return nil
}

func (m *DiskMap) NewBlock() (uint64, error)      { return m.core.NewBlock() }
func (m *DiskMap) Inc(b uint64) error             { return m.core.Inc(b) }
func (m *DiskMap) Dec(b uint64) (uint32, error)   { return m.core.Dec(b) }
func (m *DiskMap) Count(b uint64) (uint32, error) { return m.core.Count(b) }
func (m *DiskMap) NrBlocks() uint64               { return m.core.NrBlocks() }
func (m *DiskMap) NrFree() uint64                 { return m.core.NrFree() }
