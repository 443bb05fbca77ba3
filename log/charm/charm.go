// Package charm adapts github.com/charmbracelet/log to tiercache.Logger.
package charm

import (
	"github.com/charmbracelet/log"

	"github.com/unkn0wn-root/tiercache"
	tlog "github.com/unkn0wn-root/tiercache/log"
)

var _ tiercache.Logger = Logger{}

type Logger struct{ L *log.Logger }

func New(l *log.Logger) Logger { return Logger{L: l.WithPrefix("tiercache")} }

func (c Logger) Debug(msg string, f tiercache.Fields) { c.L.Debug(msg, kv(f)...) }
func (c Logger) Info(msg string, f tiercache.Fields)  { c.L.Info(msg, kv(f)...) }
func (c Logger) Warn(msg string, f tiercache.Fields)  { c.L.Warn(msg, kv(f)...) }
func (c Logger) Error(msg string, f tiercache.Fields) { c.L.Error(msg, kv(f)...) }

func kv(f tiercache.Fields) []any {
	keys := tlog.SortedKeys(f)
	if len(keys) == 0 {
		return nil
	}
	out := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, f[k])
	}
	return out
}
