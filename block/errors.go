package block

import "errors"

var (
	ErrIO               = errors.New("block io failure")
	ErrChecksum         = errors.New("block checksum verification failed")
	ErrOutOfRange       = errors.New("block address out of range")
	ErrBlockSize        = errors.New("block size must be a power of two and at least 512")
	ErrHeldBlocks       = errors.New("blocks still held")
	ErrManagerClosed    = errors.New("block manager is closed")
	ErrDeviceSize       = errors.New("device size is not a whole number of blocks")
	ErrValidatorMissing = errors.New("a block validator must be provided")
)
