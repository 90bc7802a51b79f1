package space

import "errors"

var (
	ErrNoSpace           = errors.New("space map has no free blocks")
	ErrRefcountUnderflow = errors.New("space map refcount decremented below zero")
	ErrBlockOutOfRange   = errors.New("block address outside the space map")
	ErrIndexPageInvalid  = errors.New("space map index page is invalid")
	ErrRegionTooSmall    = errors.New("space map index region cannot hold the counts")
)
