package staticmap

import (
	"log/slog"

	"github.com/twlk9/staticmap/internal/logging"
	"github.com/twlk9/staticmap/keys"
)

const (
	KiB = 1024
	MiB = KiB * 1024
	GiB = MiB * 1024
)

// Options configures a static map index.
type Options struct {
	// Comparator orders user keys. It is borrowed by the index and must
	// outlive it. Defaults to keys.BytewiseComparator.
	Comparator keys.Comparator

	// Logger receives build and release events. A nil logger disables
	// logging.
	Logger *slog.Logger

	// VerifyOrder makes the builder check that user keys arrive in
	// strictly ascending order. Off by default since callers normally
	// feed already sorted table iterators.
	VerifyOrder bool
}

// DefaultOptions returns the default index options.
func DefaultOptions() *Options {
	return &Options{
		Comparator: keys.BytewiseComparator,
	}
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if o.Comparator == nil {
		return ErrNilComparator
	}
	return nil
}

// Clone creates a copy of the options.
func (o *Options) Clone() *Options {
	if o == nil {
		return DefaultOptions()
	}
	clone := *o
	return &clone
}

func (o *Options) logger() *slog.Logger {
	return logging.OrQuiet(o.Logger)
}

// Helpful Logger functions
func DefaultLogger() *slog.Logger {
	return logging.New(slog.LevelWarn)
}

func DebugLogger() *slog.Logger {
	return logging.New(slog.LevelDebug)
}
