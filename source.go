package staticmap

import "github.com/twlk9/staticmap/keys"

// Source is a restartable stream of internal records in ascending key
// order. memtable and sstable iterators satisfy it, as does Iterator.
type Source interface {
	// SeekToFirst positions the source at its first record.
	SeekToFirst()

	// Valid returns true if the source is positioned at a record.
	Valid() bool

	// Next moves to the next record.
	Next()

	// Key returns the current internal key.
	Key() keys.EncodedKey

	// Value returns the current value.
	Value() []byte

	// Error returns any error the source hit. A non-nil error aborts
	// a build.
	Error() error
}

// concatSource presents several sources as one stream by reading them
// back to back. It does not merge: every key of sources[i] must sort
// before every key of sources[i+1].
type concatSource struct {
	sources []Source
	cur     int
}

func newConcatSource(sources []Source) *concatSource {
	return &concatSource{sources: sources, cur: len(sources)}
}

func (c *concatSource) SeekToFirst() {
	c.cur = 0
	if len(c.sources) > 0 {
		c.sources[0].SeekToFirst()
	}
	c.skipExhausted()
}

// skipExhausted moves past sources that have nothing left. It stops on
// a source reporting an error so Error can surface it.
func (c *concatSource) skipExhausted() {
	for c.cur < len(c.sources) {
		s := c.sources[c.cur]
		if s.Valid() || s.Error() != nil {
			return
		}
		c.cur++
		if c.cur < len(c.sources) {
			c.sources[c.cur].SeekToFirst()
		}
	}
}

func (c *concatSource) Valid() bool {
	return c.cur < len(c.sources) && c.sources[c.cur].Valid()
}

func (c *concatSource) Next() {
	if !c.Valid() {
		return
	}
	c.sources[c.cur].Next()
	c.skipExhausted()
}

func (c *concatSource) Key() keys.EncodedKey {
	return c.sources[c.cur].Key()
}

func (c *concatSource) Value() []byte {
	return c.sources[c.cur].Value()
}

func (c *concatSource) Error() error {
	for _, s := range c.sources {
		if err := s.Error(); err != nil {
			return err
		}
	}
	return nil
}
