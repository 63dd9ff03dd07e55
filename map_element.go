package staticmap

import (
	"encoding/binary"
	"fmt"

	"github.com/twlk9/staticmap/keys"
)

// Dependence names a file a map element redirects to and how many of
// its entries are still referenced.
type Dependence struct {
	FileNumber uint64
	EntryCount uint64
}

// MapElement is the value format of a GC map index. Its wire form is
//
//	varint(flags) varint(link_count)
//	varint(len(smallest_key)) smallest_key
//	link_count * varint(file_number)
//
// Bytes following the links are left for newer encoders and ignored.
type MapElement struct {
	Flags       uint64
	SmallestKey keys.EncodedKey
	Links       []uint64
}

// DecodeMapElement parses a map element. SmallestKey aliases b.
func DecodeMapElement(b []byte) (MapElement, error) {
	var m MapElement
	var n int

	if m.Flags, n = binary.Uvarint(b); n <= 0 {
		return MapElement{}, fmt.Errorf("%w: bad flags", ErrInvalidMapElement)
	}
	b = b[n:]

	linkCount, n := binary.Uvarint(b)
	if n <= 0 {
		return MapElement{}, fmt.Errorf("%w: bad link count", ErrInvalidMapElement)
	}
	b = b[n:]

	keyLen, n := binary.Uvarint(b)
	if n <= 0 || keyLen > uint64(len(b)-n) {
		return MapElement{}, fmt.Errorf("%w: bad smallest key", ErrInvalidMapElement)
	}
	b = b[n:]
	m.SmallestKey = keys.EncodedKey(b[:keyLen:keyLen])
	b = b[keyLen:]

	// Every link takes at least one byte, which bounds the allocation
	// for a corrupt count.
	if linkCount > uint64(len(b)) {
		return MapElement{}, fmt.Errorf("%w: link count %d exceeds remaining %d bytes", ErrInvalidMapElement, linkCount, len(b))
	}
	m.Links = make([]uint64, 0, linkCount)
	for i := uint64(0); i < linkCount; i++ {
		fileNum, n := binary.Uvarint(b)
		if n <= 0 {
			return MapElement{}, fmt.Errorf("%w: bad link %d", ErrInvalidMapElement, i)
		}
		m.Links = append(m.Links, fileNum)
		b = b[n:]
	}
	return m, nil
}

// AppendEncoded appends the wire form of m to dst.
func (m MapElement) AppendEncoded(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, m.Flags)
	dst = binary.AppendUvarint(dst, uint64(len(m.Links)))
	dst = binary.AppendUvarint(dst, uint64(len(m.SmallestKey)))
	dst = append(dst, m.SmallestKey...)
	for _, l := range m.Links {
		dst = binary.AppendUvarint(dst, l)
	}
	return dst
}

// Encode returns the wire form of m.
func (m MapElement) Encode() []byte {
	return m.AppendEncoded(nil)
}

// Dependences lists the linked files, one entry per link.
func (m MapElement) Dependences() []Dependence {
	deps := make([]Dependence, len(m.Links))
	for i, l := range m.Links {
		deps[i] = Dependence{FileNumber: l, EntryCount: 1}
	}
	return deps
}

func (m MapElement) String() string {
	return fmt.Sprintf("link_count:%d smallest_key:%s links:%v", len(m.Links), m.SmallestKey, m.Links)
}
