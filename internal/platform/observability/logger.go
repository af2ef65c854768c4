// Package observability wires structured logging, Cloud Trace propagation and Prometheus HTTP
// metrics into the router.
package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/orderledger/internal/platform/requestctx"
)

// NewLogger builds the JSON logger used by every binary. Field names follow Cloud Logging
// (severity, timestamp, message). Unknown levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if level = strings.TrimSpace(level); level != "" {
		if err := atomic.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			atomic.SetLevel(zapcore.InfoLevel)
		}
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
			EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(strings.ToUpper(l.String()))
			},
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// EventLogger adapts zap to the func(ctx, event, fields) hook the services accept. The request
// logger on ctx wins over base so entries keep request and trace ids. Events ending in ".failed"
// log at warn level.
func EventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			zfields = append(zfields, fieldFor(k, fields[k]))
		}
		if strings.HasSuffix(event, ".failed") || strings.HasSuffix(event, ".error") {
			logger.Warn(event, zfields...)
			return
		}
		logger.Info(event, zfields...)
	}
}

func fieldFor(key string, value any) zap.Field {
	switch v := value.(type) {
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
