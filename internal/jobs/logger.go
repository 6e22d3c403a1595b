package jobs

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// ZapAdapter routes Temporal SDK logging through a zap logger.
type ZapAdapter struct {
	l *zap.SugaredLogger
}

var _ log.Logger = (*ZapAdapter)(nil)

// NewZapAdapter wraps logger for use as a Temporal SDK logger. The SDK
// passes alternating key/value pairs, which sugared zap accepts directly.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	// Skip one frame so call sites inside the SDK resolve to the caller.
	return &ZapAdapter{l: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (a *ZapAdapter) Debug(msg string, keyvals ...interface{}) { a.l.Debugw(msg, fields(keyvals)...) }
func (a *ZapAdapter) Info(msg string, keyvals ...interface{})  { a.l.Infow(msg, fields(keyvals)...) }
func (a *ZapAdapter) Warn(msg string, keyvals ...interface{})  { a.l.Warnw(msg, fields(keyvals)...) }
func (a *ZapAdapter) Error(msg string, keyvals ...interface{}) { a.l.Errorw(msg, fields(keyvals)...) }

// fields pads odd-length key/value lists so zap does not drop the tail.
func fields(keyvals []interface{}) []interface{} {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "(missing)")
	}
	return keyvals
}
