package compression

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdLevel represents different Zstd compression levels
type ZstdLevel int

const (
	ZstdFastest ZstdLevel = 1
	ZstdDefault ZstdLevel = 3
	ZstdBetter  ZstdLevel = 6
	ZstdBest    ZstdLevel = 9
)

func (l ZstdLevel) encoderLevel() zstd.EncoderLevel {
	switch l {
	case ZstdFastest:
		return zstd.SpeedFastest
	case ZstdBetter:
		return zstd.SpeedBetterCompression
	case ZstdBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// zstdCompressor implements Zstd compression with pooled encoders
type zstdCompressor struct {
	minReductionPercent uint8
	encoderPool         sync.Pool
}

// decoderPool is shared by every reader; decoders are level agnostic.
var decoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		return decoder
	},
}

// NewZstdCompressor creates a new Zstd compressor with the specified level
func NewZstdCompressor(minReductionPercent uint8, level ZstdLevel) Compressor {
	encoderLevel := level.encoderLevel()
	c := &zstdCompressor{minReductionPercent: minReductionPercent}
	c.encoderPool = sync.Pool{
		New: func() any {
			encoder, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(encoderLevel),
				zstd.WithLowerEncoderMem(true),
				zstd.WithWindowSize(1<<20),
			)
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
			}
			return encoder
		},
	}
	return c
}

func (c *zstdCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	encoder := c.encoderPool.Get().(*zstd.Encoder)
	defer c.encoderPool.Put(encoder)

	compressed := encoder.EncodeAll(src, dst[:0])
	if !worthIt(src, compressed, c.minReductionPercent) {
		return copyInto(dst, src), false, nil
	}
	return compressed, true, nil
}

func (c *zstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return DecompressZstd(dst, src)
}

func (c *zstdCompressor) Type() Type {
	return Zstd
}

// DecompressZstd decompresses Zstd-compressed data
func DecompressZstd(dst, src []byte) ([]byte, error) {
	decoder := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(decoder)

	decompressed, err := decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return decompressed, nil
}
