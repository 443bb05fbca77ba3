// Package log holds helpers shared by the logger adapters in its
// subpackages.
package log

import (
	"sort"

	"github.com/unkn0wn-root/tiercache"
)

// ErrKey is the field name the cache uses for errors.
const ErrKey = "err"

// SortedKeys returns the keys of f in lexical order so adapters emit
// fields deterministically.
func SortedKeys(f tiercache.Fields) []string {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
