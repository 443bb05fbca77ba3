package tiercache

import (
	"errors"
	"strings"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("tiercache: cache closed")

// ConfigError aggregates every problem found while validating Settings or
// Options. It is only ever returned at construction time.
type ConfigError struct {
	Errs []error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("tiercache: invalid configuration: ")
	for i, err := range e.Errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() []error { return e.Errs }
