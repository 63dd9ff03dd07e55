package staticmap

import (
	"fmt"
	"io"
	"strings"

	"github.com/twlk9/staticmap/keys"
)

// Dump writes one line per record: the parsed key followed by the map
// element its value decodes to, or the value size when it is not one.
func (x *Index) Dump(w io.Writer) error {
	for i := 0; i < x.Len(); i++ {
		k := x.store.key(i)
		v := x.store.value(i)

		pk, err := keys.ParseInternalKey(k)
		line := ""
		if err != nil {
			line = fmt.Sprintf("%d: %x (%v)", i, []byte(k), err)
		} else {
			line = fmt.Sprintf("%d: %s", i, pk)
		}
		if m, err := DecodeMapElement(v); err == nil {
			line += " -> " + m.String()
		} else {
			line += fmt.Sprintf(" -> %d byte value", len(v))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// DebugString returns the output of Dump as a string.
func (x *Index) DebugString() string {
	var sb strings.Builder
	_ = x.Dump(&sb)
	return sb.String()
}
