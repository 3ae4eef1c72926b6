package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/harvester-cli/internal/config"
)

const defaultName = "harvester"

var (
	current atomic.Pointer[zap.Logger]
	once    sync.Once
)

const ansiReset = "\x1b[0m"

// palette maps the color names accepted in logger.colors to ANSI codes.
var palette = map[string]string{
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// Initialize installs the process logger. Only the first call has any effect.
// Console output goes to out; when cfg.LogFile is set a rotating JSON file
// sink is added next to it.
func Initialize(cfg config.LoggerConfig, out zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		cores := []zapcore.Core{zapcore.NewCore(encoderFor(cfg), out, level)}
		if cfg.LogFile != "" {
			cores = append(cores, fileCore(cfg, level))
		}

		opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			opts = append(opts, zap.AddCaller())
		}

		name := cfg.ServiceName
		if name == "" {
			name = defaultName
		}
		logger := zap.New(zapcore.NewTee(cores...), opts...).Named(name)
		current.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes the process logger writing to stdout.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

// ResetForTest forgets the installed logger. Tests only.
func ResetForTest() {
	current.Store(nil)
	once = sync.Once{}
}

// fileCore writes JSON regardless of the console format so the file can be
// shipped as is.
func fileCore(cfg config.LoggerConfig, level zap.AtomicLevel) zapcore.Core {
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
	return zapcore.NewCore(encoderFor(config.LoggerConfig{Format: "json"}), w, level)
}

func encoderFor(cfg config.LoggerConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if cfg.Format != "console" {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = levelEncoder(cfg.Colors)
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// levelEncoder renders levels in upper case, wrapped in the configured color
// when one is set for that level.
func levelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  palette[colors.Debug],
		zapcore.InfoLevel:   palette[colors.Info],
		zapcore.WarnLevel:   palette[colors.Warn],
		zapcore.ErrorLevel:  palette[colors.Error],
		zapcore.DPanicLevel: palette[colors.DPanic],
		zapcore.PanicLevel:  palette[colors.Panic],
		zapcore.FatalLevel:  palette[colors.Fatal],
	}
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		text := l.CapitalString()
		if c := byLevel[l]; c != "" {
			text = c + text + ansiReset
		}
		enc.AppendString(text)
	}
}

// GetLogger returns the process logger, or a development logger named
// "fallback" when Initialize has not run yet.
func GetLogger() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Call it before exiting.
func Sync() {
	l := current.Load()
	if l == nil {
		return
	}
	if err := l.Sync(); err != nil && !ignorableSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// ignorableSyncError reports errors from fsync on terminals and pipes, which
// several platforms reject.
func ignorableSyncError(err error) bool {
	msg := err.Error()
	for _, s := range []string{"sync /dev/stdout", "invalid argument", "operation not supported", "inappropriate ioctl"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
