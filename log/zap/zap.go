// Package zap adapts go.uber.org/zap to tiercache.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/tiercache"
	tlog "github.com/unkn0wn-root/tiercache/log"
)

var _ tiercache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("tiercache")} }

func (z ZapLogger) Debug(msg string, f tiercache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f tiercache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f tiercache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f tiercache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f tiercache.Fields) []zap.Field {
	keys := tlog.SortedKeys(f)
	if len(keys) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
