package compression

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
)

// snappyCompressor implements Snappy compression
type snappyCompressor struct {
	minReductionPercent uint8
}

// NewSnappyCompressor creates a new Snappy compressor
func NewSnappyCompressor(minReductionPercent uint8) Compressor {
	return &snappyCompressor{minReductionPercent: minReductionPercent}
}

func (c *snappyCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	compressed := snappy.Encode(dst, src)
	if !worthIt(src, compressed, c.minReductionPercent) {
		return copyInto(dst, src), false, nil
	}
	return compressed, true, nil
}

func (c *snappyCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return DecompressSnappy(dst, src)
}

func (c *snappyCompressor) Type() Type {
	return Snappy
}

// DecompressSnappy decompresses Snappy-compressed data
func DecompressSnappy(dst, src []byte) ([]byte, error) {
	decompressed, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompression failed: %w", err)
	}
	return decompressed, nil
}

// s2Compressor implements S2 compression
type s2Compressor struct {
	minReductionPercent uint8
}

// NewS2Compressor creates a new S2 compressor
func NewS2Compressor(minReductionPercent uint8) Compressor {
	return &s2Compressor{minReductionPercent: minReductionPercent}
}

func (c *s2Compressor) Compress(dst, src []byte) ([]byte, bool, error) {
	compressed := s2.Encode(dst, src)
	if !worthIt(src, compressed, c.minReductionPercent) {
		return copyInto(dst, src), false, nil
	}
	return compressed, true, nil
}

func (c *s2Compressor) Decompress(dst, src []byte) ([]byte, error) {
	return DecompressS2(dst, src)
}

func (c *s2Compressor) Type() Type {
	return S2
}

// DecompressS2 decompresses S2-compressed data
func DecompressS2(dst, src []byte) ([]byte, error) {
	decompressed, err := s2.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("s2 decompression failed: %w", err)
	}
	return decompressed, nil
}
