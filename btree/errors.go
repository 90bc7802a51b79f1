package btree

import "errors"

var (
	ErrNotFound    = errors.New("key not found")
	ErrNodeInvalid = errors.New("btree node is structurally invalid")
	ErrKeyArity    = errors.New("composite key arity does not match the tree level count")
	ErrLevels      = errors.New("a btree needs at least one level")
	ErrValueSize   = errors.New("leaf value size does not match the tree's value type")
)
