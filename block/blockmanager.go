package block

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
)

// device is the file access the manager needs. *os.File satisfies it; tests
// substitute failure-injecting implementations.
type device interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// Manager provides fixed-size block access to a metadata device with
// validation on read and scoped, explicitly released references.
//
// Clean blocks are never cached; every read goes back to the device so that
// traversals always observe what is actually on the medium. Blocks taken for
// writing are held in memory, dirty, until Flush stamps them through their
// validator and syncs the device.
type Manager struct {
	file      device
	blockSize uint64
	nrBlocks  uint64
	log       logger.Logger

	mu          sync.Mutex
	dirty       map[uint64]*dirtyBlock
	held        map[uint64]int
	heldWriters int
	closed      bool
}

type dirtyBlock struct {
	data      []byte
	validator Validator
}

// Create makes a fresh metadata device of nrBlocks blocks, truncating any
// existing content at path.
func Create(path string, nrBlocks uint64, opts ...Option) (*Manager, error) {
	o := newOptions(opts...)
	if err := checkBlockSize(o.blockSize); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrIO, path, err)
	}
	if err = f.Truncate(int64(nrBlocks * o.blockSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: sizing %s: %v", ErrIO, path, err)
	}
	return newManager(f, o, nrBlocks), nil
}

// Open opens an existing metadata device. The device length must be a whole
// number of blocks.
func Open(path string, opts ...Option) (*Manager, error) {
	o := newOptions(opts...)
	if err := checkBlockSize(o.blockSize); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}
	size := uint64(fi.Size())
	if size%o.blockSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrDeviceSize, path, size)
	}
	return newManager(f, o, size/o.blockSize), nil
}

func newManager(f device, o Options, nrBlocks uint64) *Manager {
	m := &Manager{
		file:      f,
		blockSize: o.blockSize,
		nrBlocks:  nrBlocks,
		dirty:     make(map[uint64]*dirtyBlock),
		held:      make(map[uint64]int),
	}
	if o.log != nil {
		m.log = o.log
	}
	return m
}

func checkBlockSize(size uint64) error {
	if size < 512 || size&(size-1) != 0 {
		return fmt.Errorf("%w: %d", ErrBlockSize, size)
	}
	return nil
}

func (m *Manager) BlockSize() uint64 { return m.blockSize }
func (m *Manager) NrBlocks() uint64  { return m.nrBlocks }

// NrHeld returns the number of outstanding references, for leak checks.
func (m *Manager) NrHeld() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.held {
		n += c
	}
	return n
}

func (m *Manager) debugf(format string, args ...any) {
	if m.log != nil {
		m.log.Debugf(format, args...)
	}
}

func (m *Manager) checkAccess(loc uint64, v Validator) error {
	if m.closed {
		return ErrManagerClosed
	}
	if loc >= m.nrBlocks {
		return fmt.Errorf("%w: block %d of %d", ErrOutOfRange, loc, m.nrBlocks)
	}
	if v == nil {
		return ErrValidatorMissing
	}
	return nil
}

func (m *Manager) readBlock(loc uint64, v Validator) ([]byte, error) {
	data := make([]byte, m.blockSize)
	if _, err := m.file.ReadAt(data, int64(loc*m.blockSize)); err != nil {
		return nil, fmt.Errorf("%w: reading block %d: %v", ErrIO, loc, err)
	}
	if err := v.Check(data, loc); err != nil {
		return nil, err
	}
	return data, nil
}

// GetReadRef reads and validates a block. Unwritten (dirty) content is
// returned as is; it has not been stamped yet so it is not re-validated.
func (m *Manager) GetReadRef(loc uint64, v Validator) (*ReadRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAccess(loc, v); err != nil {
		return nil, err
	}

	var data []byte
	if d, ok := m.dirty[loc]; ok {
		data = d.data
	} else {
		var err error
		if data, err = m.readBlock(loc, v); err != nil {
			return nil, err
		}
	}
	m.held[loc]++
	return &ReadRef{m: m, loc: loc, data: data}, nil
}

// GetWriteRef takes a block for mutation, validating the existing content
// first. The block stays dirty in memory until Flush.
func (m *Manager) GetWriteRef(loc uint64, v Validator) (*WriteRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAccess(loc, v); err != nil {
		return nil, err
	}

	d, ok := m.dirty[loc]
	if !ok {
		data, err := m.readBlock(loc, v)
		if err != nil {
			return nil, err
		}
		d = &dirtyBlock{data: data, validator: v}
		m.dirty[loc] = d
	}
	m.held[loc]++
	m.heldWriters++
	return &WriteRef{ReadRef{m: m, loc: loc, data: d.data, writer: true}}, nil
}

// GetZeroRef takes a block for mutation without reading it, returning zeroed
// content. Used for freshly allocated blocks.
func (m *Manager) GetZeroRef(loc uint64, v Validator) (*WriteRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAccess(loc, v); err != nil {
		return nil, err
	}

	d := &dirtyBlock{data: make([]byte, m.blockSize), validator: v}
	m.dirty[loc] = d
	m.held[loc]++
	m.heldWriters++
	return &WriteRef{ReadRef{m: m, loc: loc, data: d.data, writer: true}}, nil
}

// Flush stamps every dirty block through its validator, writes it out and
// syncs the device. All write references must have been released.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.heldWriters > 0 {
		return fmt.Errorf("%w: %d write refs outstanding", ErrHeldBlocks, m.heldWriters)
	}

	for loc, d := range m.dirty {
		d.validator.Prepare(d.data, loc)
		if _, err := m.file.WriteAt(d.data, int64(loc*m.blockSize)); err != nil {
			return fmt.Errorf("%w: writing block %d: %v", ErrIO, loc, err)
		}
	}
	if err := m.file.Sync(); err != nil {
		// The blocks stay dirty so a retried flush writes and syncs them
		// again; only a synced device lets the caller publish a new root.
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	n := len(m.dirty)
	m.dirty = make(map[uint64]*dirtyBlock)
	m.debugf("block manager flushed %d blocks", n)
	return nil
}

// Close releases the device. It fails if any references are outstanding;
// unflushed dirty blocks are discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for loc, c := range m.held {
		if c > 0 {
			return fmt.Errorf("%w: block %d", ErrHeldBlocks, loc)
		}
	}
	m.closed = true
	return m.file.Close()
}

// ReadRef is scoped read access to a single block. Release must be called on
// every exit path; the data slice is invalid afterwards.
type ReadRef struct {
	m        *Manager
	loc      uint64
	data     []byte
	writer   bool
	released bool
}

func (r *ReadRef) Data() []byte     { return r.data }
func (r *ReadRef) Location() uint64 { return r.loc }

func (r *ReadRef) Release() {
	if r.released {
		return
	}
	r.released = true
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.held[r.loc]--
	if r.m.held[r.loc] == 0 {
		delete(r.m.held, r.loc)
	}
	if r.writer {
		r.m.heldWriters--
	}
}

// WriteRef is scoped write access to a single block. Mutations to Data are
// applied to the dirty copy that Flush will write out.
type WriteRef struct {
	ReadRef
}
