// Package emitlogger adapts github.com/cloudresty/emit, the ambient
// structured-logging library the go-mongodb teacher uses throughout client.go
// and shutdown.go, to mongocore's own pluggable Logger interface and to
// sdam.Sink so SDAM events get the same zero-allocation structured logging
// as everything else in the package.
package emitlogger

import (
	"fmt"
	"time"

	"github.com/cloudresty/emit"
	"github.com/cloudresty/mongocore/sdam"
)

// fields converts the variadic key/value-pair convention used by
// mongocore's Logger interface (msg, "key", value, "key", value, ...) into
// emit's typed field builders.
func fields(kv []any) []emit.ZField {
	out := make([]emit.ZField, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			out = append(out, emit.ZString(key, v))
		case int:
			out = append(out, emit.ZInt(key, v))
		case int64:
			out = append(out, emit.ZInt64(key, v))
		case bool:
			out = append(out, emit.ZBool(key, v))
		case time.Duration:
			out = append(out, emit.ZDuration(key, v))
		case error:
			out = append(out, emit.ZString(key, v.Error()))
		default:
			out = append(out, emit.ZString(key, fmt.Sprint(v)))
		}
	}
	return out
}

// Logger implements mongocore's Logger interface on top of emit's global
// level loggers, the same ones client.go and shutdown.go already call
// directly for their own lifecycle messages.
type Logger struct{}

func (Logger) Info(msg string, kv ...any)  { emit.Info.StructuredFields(msg, fields(kv)...) }
func (Logger) Warn(msg string, kv ...any)  { emit.Warn.StructuredFields(msg, fields(kv)...) }
func (Logger) Error(msg string, kv ...any) { emit.Error.StructuredFields(msg, fields(kv)...) }
func (Logger) Debug(msg string, kv ...any) { emit.Debug.StructuredFields(msg, fields(kv)...) }

// EventSink logs every SDAM event through emit, giving
// operators the same heartbeat/topology-change visibility the reference
// driver's APM callbacks provide, without requiring callers to wire their
// own sdam.Sink just to get logging.
type EventSink struct{}

func (EventSink) OnSDAMEvent(e sdam.Event) {
	f := []emit.ZField{emit.ZString("kind", string(e.Kind))}
	if e.Address != "" {
		f = append(f, emit.ZString("address", e.Address))
	}
	if e.Duration != 0 {
		f = append(f, emit.ZDuration("duration", e.Duration))
	}
	if e.Err != nil {
		emit.Warn.StructuredFields("sdam event", append(f, emit.ZString("error", e.Err.Error()))...)
		return
	}
	emit.Debug.StructuredFields("sdam event", f...)
}
