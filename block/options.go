package block

import "github.com/datatrails/go-datatrails-common/logger"

const DefaultBlockSize = 4096

type Options struct {
	blockSize uint64
	log       logger.Logger
}

type Option func(*Options)

// WithBlockSize overrides the default 4KiB block size. The size must be a
// power of two; Create and Open fail otherwise.
func WithBlockSize(size uint64) Option {
	return func(o *Options) {
		o.blockSize = size
	}
}

func WithLogger(log logger.Logger) Option {
	return func(o *Options) {
		o.log = log
	}
}

func newOptions(opts ...Option) Options {
	o := Options{
		blockSize: DefaultBlockSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
