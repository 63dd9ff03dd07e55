package keys

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// UserKey represents a user-provided key (raw bytes without sequence/kind)
type UserKey []byte

// CompareToInternal compares this user key to the user key portion of
// an internal key.
func (uk UserKey) CompareToInternal(internalKey []byte) int {
	if len(internalKey) < KeyFootLen {
		return bytes.Compare([]byte(uk), internalKey) // Fallback to full comparison
	}
	internalUserKey := internalKey[:len(internalKey)-KeyFootLen]
	return bytes.Compare([]byte(uk), internalUserKey)
}

// Compare compares two user keys
func (uk UserKey) Compare(other UserKey) int {
	return bytes.Compare([]byte(uk), []byte(other))
}

// String returns the string representation of the user key
func (uk UserKey) String() string {
	return string(uk)
}

var (
	// ErrCorruption is returned when data corruption is detected
	ErrCorruption = errors.New("data corruption detected")
)

// Kind represents the type of an internal entry. It tells us whether a
// key is being set, deleted, merged or redirected elsewhere.
type Kind uint8

const (
	// KindSet indicates a set operation
	KindSet Kind = 1

	// KindDelete indicates a delete operation (tombstone)
	KindDelete Kind = 2

	// KindRangeDelete indicates a range deletion operation
	KindRangeDelete Kind = 3

	// KindSeek is used for seeking to a particular sequence number
	KindSeek Kind = 4

	// KindMerge indicates a merge operand
	KindMerge Kind = 5

	// KindValueIndex marks a key whose value points at the real value
	// held in another file. Static map indexes stamp every key with it.
	KindValueIndex Kind = 6

	// KindMergeIndex is the merge counterpart of KindValueIndex
	KindMergeIndex Kind = 7

	// KeyFootLen is the constant number of bytes that represent a
	// key's footer. 56 bits for the sequence and the trailing byte for
	// Kind
	KeyFootLen = 8

	// MaxSequenceNumber is the maximum possible sequence number
	// Following LevelDB: (1 << 56) - 1
	MaxSequenceNumber = (uint64(1) << 56) - 1
)

// Valid reports whether k is a kind this package knows how to encode.
func (k Kind) Valid() bool {
	return k >= KindSet && k <= KindMergeIndex
}

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "SET"
	case KindDelete:
		return "DEL"
	case KindRangeDelete:
		return "RANGEDEL"
	case KindSeek:
		return "SEEK"
	case KindMerge:
		return "MERGE"
	case KindValueIndex:
		return "VALUEINDEX"
	case KindMergeIndex:
		return "MERGEINDEX"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(k)) + ")"
	}
}

// IsValidUserKey checks if a user key is valid.
// Must be non-empty and not too big (we don't want massive keys).
func IsValidUserKey(key UserKey) bool {
	return len(key) > 0 && len(key) <= 1024*1024 // Max 1MB key size
}

// IsValidValue checks if a value is valid.  Values can be empty but
// not too big (1GB limit).
func IsValidValue(value []byte) bool {
	return len(value) <= 1024*1024*1024 // Max 1GB value size
}

// EncodedKey is an internal key: the user key followed by an 8 byte
// little-endian trailer packing (seq << 8) | kind.
type EncodedKey []byte

func NewEncodedKey(key []byte, seq uint64, kind Kind) EncodedKey {
	size := len(key) + KeyFootLen
	b := make([]byte, size)
	copy(b, key)
	// pack kind into first byte of seq (makes seq 56 bits)
	p := (seq << 8) | uint64(kind)
	binary.LittleEndian.PutUint64(b[len(key):len(key)+KeyFootLen], p)
	return b
}

// NewQueryKey creates a new internal key with MaxSequenceNum and
// KindSeek set already. Convenience mostly for testing.
func NewQueryKey(userKey []byte) EncodedKey {
	return NewEncodedKey(userKey, MaxSequenceNumber, KindSeek)
}

func (ek EncodedKey) Encode(key []byte, seq uint64, kind Kind) {
	copy(ek, key)
	p := (seq << 8) | uint64(kind)
	binary.LittleEndian.PutUint64(ek[len(key):len(key)+KeyFootLen], p)
}

func (ek EncodedKey) UserKey() UserKey {
	return UserKey(ek[:len(ek)-KeyFootLen])
}

func (ek EncodedKey) Seq() uint64 {
	offset := len(ek) - KeyFootLen
	p := binary.LittleEndian.Uint64(ek[offset:])
	return p >> 8
}

func (ek EncodedKey) Kind() Kind {
	offset := len(ek) - KeyFootLen
	p := binary.LittleEndian.Uint64(ek[offset:])
	return Kind(p & 0xff)
}

// WithKind returns a copy of ek whose trailer carries kind. The
// sequence number and user key are untouched so the result always has
// the same length as ek.
func (ek EncodedKey) WithKind(kind Kind) EncodedKey {
	out := make(EncodedKey, len(ek))
	out.Encode(ek.UserKey(), ek.Seq(), kind)
	return out
}

func (ek EncodedKey) Compare(o EncodedKey) int {
	uk := ek.UserKey()
	ok := o.UserKey()

	ukcmp := bytes.Compare(uk, ok)
	if ukcmp != 0 {
		return ukcmp
	}

	if ek.Seq() > o.Seq() {
		return -1
	} else if ek.Seq() < o.Seq() {
		return 1
	}

	if ek.Kind() < o.Kind() {
		return -1
	} else if ek.Kind() > o.Kind() {
		return 1
	}
	return 0
}

// String renders the key in its parsed form, or as raw hex when it
// cannot be parsed.
func (ek EncodedKey) String() string {
	pk, err := ParseInternalKey(ek)
	if err != nil {
		return fmt.Sprintf("corrupt(%x)", []byte(ek))
	}
	return pk.String()
}

// ParsedKey is the decoded form of an EncodedKey. UserKey aliases the
// memory of the key it was parsed from.
type ParsedKey struct {
	UserKey UserKey
	Seq     uint64
	Kind    Kind
}

// ParseInternalKey splits an internal key into its parts. It fails with
// ErrCorruption when the key is shorter than its trailer or carries a
// kind this package does not know.
func ParseInternalKey(b []byte) (ParsedKey, error) {
	if len(b) < KeyFootLen {
		return ParsedKey{}, fmt.Errorf("%w: internal key too short (%d bytes)", ErrCorruption, len(b))
	}
	ek := EncodedKey(b)
	kind := ek.Kind()
	if !kind.Valid() {
		return ParsedKey{}, fmt.Errorf("%w: invalid key kind %d", ErrCorruption, kind)
	}
	return ParsedKey{UserKey: ek.UserKey(), Seq: ek.Seq(), Kind: kind}, nil
}

// Encode turns the parsed key back into its fixed-length wire form.
func (pk ParsedKey) Encode() EncodedKey {
	return NewEncodedKey(pk.UserKey, pk.Seq, pk.Kind)
}

func (pk ParsedKey) String() string {
	return fmt.Sprintf("%s @ %d : %s", printableKey(pk.UserKey), pk.Seq, pk.Kind)
}

func printableKey(k []byte) string {
	for _, c := range k {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%x", k)
		}
	}
	return "'" + string(k) + "'"
}
