// Package compression implements the block codecs used by sstable.
package compression

import (
	"fmt"
	"strings"
)

// Type represents different compression algorithms
type Type uint8

const (
	// None stores blocks without compression
	None Type = iota

	// Snappy is fast with reasonable ratios
	Snappy

	// Zstd trades CPU for noticeably better ratios
	Zstd

	// S2 is faster than Snappy with better ratios
	S2
)

// String returns the string representation of the compression type
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	default:
		return "unknown"
	}
}

// ParseType maps a name as printed by Type.String back to its Type.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return None, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	case "s2":
		return S2, nil
	default:
		return None, fmt.Errorf("unknown compression type %q", name)
	}
}

// Config holds compression configuration
type Config struct {
	// Type of compression to use
	Type Type

	// MinReductionPercent is the minimum reduction a block must achieve
	// to be stored compressed; otherwise it is stored as is.
	MinReductionPercent uint8

	// ZstdLevel is only used when Type is Zstd
	ZstdLevel ZstdLevel
}

// DefaultConfig returns the default compression configuration
func DefaultConfig() Config {
	return Config{
		Type:                Snappy,
		MinReductionPercent: 12,
		ZstdLevel:           ZstdDefault,
	}
}

// NoCompressionConfig returns a configuration with no compression
func NoCompressionConfig() Config {
	return Config{Type: None}
}

// S2DefaultConfig returns configuration for S2 compression
func S2DefaultConfig() Config {
	return Config{Type: S2, MinReductionPercent: 12}
}

// ZstdBalancedConfig returns a configuration for balanced Zstd
// compression. ZstdDefault keeps encoder memory around 5.5MB where
// ZstdBest needs about 136MB.
func ZstdBalancedConfig() Config {
	return Config{Type: Zstd, MinReductionPercent: 8, ZstdLevel: ZstdDefault}
}

// ConfigFor returns the preset configuration for a compression type.
func ConfigFor(t Type) Config {
	switch t {
	case Snappy:
		return DefaultConfig()
	case S2:
		return S2DefaultConfig()
	case Zstd:
		return ZstdBalancedConfig()
	default:
		return NoCompressionConfig()
	}
}

// Compressor interface defines compression operations
type Compressor interface {
	// Compress compresses src into dst. The bool reports whether the
	// result is compressed; when false the result is a copy of src.
	Compress(dst, src []byte) ([]byte, bool, error)

	// Decompress decompresses src into dst and returns the result
	Decompress(dst, src []byte) ([]byte, error)

	// Type returns the compression type
	Type() Type
}

// NewCompressor creates a new compressor based on the configuration
func NewCompressor(config Config) (Compressor, error) {
	switch config.Type {
	case None:
		return noneCompressor{}, nil
	case Snappy:
		return NewSnappyCompressor(config.MinReductionPercent), nil
	case Zstd:
		return NewZstdCompressor(config.MinReductionPercent, config.ZstdLevel), nil
	case S2:
		return NewS2Compressor(config.MinReductionPercent), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", config.Type)
	}
}

// copyInto copies src into dst, growing dst when it is too small.
func copyInto(dst, src []byte) []byte {
	if cap(dst) < len(src) {
		dst = make([]byte, len(src))
	} else {
		dst = dst[:len(src)]
	}
	copy(dst, src)
	return dst
}

// worthIt reports whether compressed shrinks src by at least minPercent.
func worthIt(src, compressed []byte, minPercent uint8) bool {
	if minPercent == 0 || len(src) == 0 {
		return true
	}
	reduction := (len(src) - len(compressed)) * 100 / len(src)
	return reduction >= int(minPercent)
}

type noneCompressor struct{}

func (noneCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	return copyInto(dst, src), false, nil
}

func (noneCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return copyInto(dst, src), nil
}

func (noneCompressor) Type() Type {
	return None
}

// Block compression types stored in the sstable block trailer
const (
	BlockNone   = 0
	BlockSnappy = 1
	BlockZstd   = 2
	BlockS2     = 3
)

// minCompressionSize is the smallest block worth running an encoder on
const minCompressionSize = 1024

// CompressBlock compresses a block and returns it with the trailer
// byte identifying its codec. Blocks under 1KB are stored as is.
func CompressBlock(compressor Compressor, dst, src []byte) ([]byte, uint8, error) {
	if len(src) < minCompressionSize {
		return copyInto(dst, src), BlockNone, nil
	}

	compressed, wasCompressed, err := compressor.Compress(dst, src)
	if err != nil {
		return nil, 0, err
	}
	if !wasCompressed {
		return compressed, BlockNone, nil
	}

	switch compressor.Type() {
	case Snappy:
		return compressed, BlockSnappy, nil
	case Zstd:
		return compressed, BlockZstd, nil
	case S2:
		return compressed, BlockS2, nil
	default:
		return compressed, BlockNone, nil
	}
}

// DecompressBlock decompresses a block based on its trailer byte
func DecompressBlock(dst, src []byte, compressionType uint8) ([]byte, error) {
	switch compressionType {
	case BlockNone:
		return copyInto(dst, src), nil
	case BlockSnappy:
		return DecompressSnappy(dst, src)
	case BlockZstd:
		return DecompressZstd(dst, src)
	case BlockS2:
		return DecompressS2(dst, src)
	default:
		return nil, fmt.Errorf("unknown compression type: %d", compressionType)
	}
}
