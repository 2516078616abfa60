package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// WithOTEL returns a logger that also emits every entry at or above the
// configured level to provider through the otelzap bridge. Run and issue
// fields from WithRun become log record attributes. A nil provider returns l.
func (l *Logger) WithOTEL(name string, provider log.LoggerProvider) *Logger {
	if provider == nil {
		return l
	}
	otelCore := &levelRangeCore{
		Core: otelzap.NewCore(name, otelzap.WithLoggerProvider(provider)),
		min:  l.config.Level,
		max:  zapcore.FatalLevel,
	}
	z := l.zap.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, otelCore)
	}))
	return &Logger{zap: z, config: l.config}
}
