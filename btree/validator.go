package btree

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/zkabelac/thin-provisioning-tools/block"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type nodeValidator struct{}

func (nodeValidator) Check(data []byte, loc uint64) error {
	sum := crc32.Checksum(data[4:], castagnoli) ^ nodeCSumXor
	if binary.LittleEndian.Uint32(data[0:4]) != sum {
		return fmt.Errorf("%w: btree node at block %d", block.ErrChecksum, loc)
	}
	if nr := binary.LittleEndian.Uint64(data[8:16]); nr != loc {
		return fmt.Errorf("%w: block %d stamped as %d", ErrNodeInvalid, loc, nr)
	}
	return nil
}

func (nodeValidator) Prepare(data []byte, loc uint64) {
	binary.LittleEndian.PutUint64(data[8:16], loc)
	sum := crc32.Checksum(data[4:], castagnoli) ^ nodeCSumXor
	binary.LittleEndian.PutUint32(data[0:4], sum)
}

// NodeValidator checksums and stamps btree node blocks.
func NodeValidator() block.Validator { return nodeValidator{} }
