package gc

import (
	"errors"
	"log/slog"
	"runtime"

	"github.com/twlk9/staticmap"
	"github.com/twlk9/staticmap/internal/logging"
)

// Options configures a Resolver.
type Options struct {
	// Index configures every static map index the resolver builds.
	Index *staticmap.Options

	// Parallelism bounds how many files LoadFiles reads at once.
	// Defaults to GOMAXPROCS.
	Parallelism int

	// MaxDepth bounds how many map files Resolve passes through before
	// reaching a data file.
	MaxDepth int

	// BloomBitsPerKey sizes the per-file filter consulted before the
	// binary search. Zero disables filters. Filters are only built for
	// the bytewise comparator, where equal keys have equal bytes.
	BloomBitsPerKey int

	// BlockCacheSize is the capacity in bytes of the block cache shared
	// by table reads. Zero disables it.
	BlockCacheSize int64

	// VerifyChecksums checks block checksums while loading files.
	VerifyChecksums bool

	Logger *slog.Logger
}

// DefaultOptions returns the default resolver options.
func DefaultOptions() *Options {
	return &Options{
		Index:           staticmap.DefaultOptions(),
		Parallelism:     runtime.GOMAXPROCS(0),
		MaxDepth:        8,
		BloomBitsPerKey: 10,
		BlockCacheSize:  8 * staticmap.MiB,
		VerifyChecksums: true,
	}
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if o.Parallelism < 1 {
		return errors.New("parallelism must be at least 1")
	}
	if o.MaxDepth < 1 {
		return errors.New("max depth must be at least 1")
	}
	if o.BloomBitsPerKey < 0 {
		return errors.New("bloom bits per key cannot be negative")
	}
	if o.BlockCacheSize < 0 {
		return errors.New("block cache size cannot be negative")
	}
	if o.Index != nil {
		return o.Index.Validate()
	}
	return nil
}

// Clone creates a copy of the options.
func (o *Options) Clone() *Options {
	if o == nil {
		return DefaultOptions()
	}
	clone := *o
	clone.Index = o.Index.Clone()
	return &clone
}

func (o *Options) logger() *slog.Logger {
	return logging.OrQuiet(o.Logger)
}
