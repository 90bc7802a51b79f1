package block

// Validator checks blocks as they are read from the device and stamps them
// on their way out. Implementations are associated with a block format (btree
// node, space map index page, ...) and typically cover a checksum plus any
// cheap header sanity the format allows.
type Validator interface {
	// Check validates raw block content just read from the device.
	// A mismatching checksum must be reported as (or wrap) ErrChecksum.
	Check(data []byte, loc uint64) error

	// Prepare stamps location and checksum fields immediately before the
	// content is written to the device.
	Prepare(data []byte, loc uint64)
}

type noopValidator struct{}

func (noopValidator) Check(data []byte, loc uint64) error { return nil }
func (noopValidator) Prepare(data []byte, loc uint64)     {}

// NoopValidator passes any content unchanged. Used for raw access to blocks
// whose format is owned by a higher layer, and by tests that deliberately
// write garbage.
func NoopValidator() Validator { return noopValidator{} }
