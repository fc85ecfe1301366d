package shoyu

import (
	"fmt"

	"github.com/gekko3d/shoyu/rt/core"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface every engine component logs through.
type Logger = core.Logger

// DefaultLogger adapts a zap sugared logger to Logger. SetDebug flips the
// level between debug and the configured level at runtime.
type DefaultLogger struct {
	zl    *zap.Logger
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
	base  zapcore.Level
}

var _ Logger = (*DefaultLogger)(nil)

// NewLogger builds a logger from the [logging] section. Unknown levels fall
// back to info.
func NewLogger(cfg LoggingConfig) (*DefaultLogger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return wrapZap(zl, zapCfg.Level, level), nil
}

// NewDefaultLogger returns a console logger named prefix.
func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	level := "info"
	if debug {
		level = "debug"
	}
	l, err := NewLogger(LoggingConfig{Level: level, Format: "console"})
	if err != nil {
		// Only fails on unwritable sinks; stderr is always there.
		panic(err)
	}
	return l.Named(prefix)
}

func wrapZap(zl *zap.Logger, level zap.AtomicLevel, base zapcore.Level) *DefaultLogger {
	return &DefaultLogger{zl: zl, sugar: zl.Sugar(), level: level, base: base}
}

// Named returns a child logger sharing the level.
func (l *DefaultLogger) Named(name string) *DefaultLogger {
	if name == "" {
		return l
	}
	zl := l.zl.Named(name)
	return &DefaultLogger{zl: zl, sugar: zl.Sugar(), level: l.level, base: l.base}
}

// Zap exposes the underlying logger for structured fields.
func (l *DefaultLogger) Zap() *zap.Logger { return l.zl }

func (l *DefaultLogger) DebugEnabled() bool {
	return l.level.Enabled(zapcore.DebugLevel)
}

func (l *DefaultLogger) SetDebug(enabled bool) {
	if enabled {
		l.level.SetLevel(zapcore.DebugLevel)
		return
	}
	if l.base == zapcore.DebugLevel {
		l.level.SetLevel(zapcore.InfoLevel)
		return
	}
	l.level.SetLevel(l.base)
}

func (l *DefaultLogger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *DefaultLogger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *DefaultLogger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *DefaultLogger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Sync flushes buffered entries. Sync errors on terminals are ignored.
func (l *DefaultLogger) Sync() {
	_ = l.zl.Sync()
}
