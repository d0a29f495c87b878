package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const defaultService = "krunklink"

// Config drives how the zap logger is built.
type Config struct {
	Development bool
	Level       string
	// Encoding is "console" or "json"; empty picks the zap preset for the mode.
	Encoding string
	// Service is attached to every entry as the "service" field.
	Service string
}

// ConfigFromEnv reads APP_ENV, LOG_LEVEL and LOG_ENCODING. Anything but
// APP_ENV=production is a development setup.
func ConfigFromEnv(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Config{
		Development: getenv("APP_ENV") != "production",
		Level:       getenv("LOG_LEVEL"),
		Encoding:    getenv("LOG_ENCODING"),
		Service:     defaultService,
	}
}

var (
	mu     sync.RWMutex
	global *zap.Logger
	colors = stderrIsTerminal()
)

// MustInit builds the process logger and installs it globally. It panics on a bad config.
func MustInit(cfg Config) *zap.Logger {
	l, err := New(cfg)
	if err != nil {
		panic(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		_ = global.Sync()
	}
	global = l
	return l
}

// Named returns a child of the global logger for one component, or a no-op
// logger before MustInit.
func Named(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global.Named(component)
}

// Sync flushes the global logger. Errors from syncing a terminal are ignored.
func Sync() error {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		return nil
	}

	err := l.Sync()
	if errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EINVAL) || errors.Is(err, os.ErrInvalid) {
		return nil
	}
	return err
}

// New returns a logger writing to stderr; stdout is left to the process.
func New(cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Encoding != "" {
		if cfg.Encoding != "console" && cfg.Encoding != "json" {
			return nil, fmt.Errorf("logger: unsupported encoding %q", cfg.Encoding)
		}
		zapCfg.Encoding = cfg.Encoding
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	service := cfg.Service
	if service == "" {
		service = defaultService
	}

	zapCfg.EncoderConfig = encoderConfig(zapCfg.Encoding == "console")
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.InitialFields = map[string]any{"service": service}

	return zapCfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

func encoderConfig(console bool) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	if !console {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg
	}

	cfg.ConsoleSeparator = " | "
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(paintLevel(level, colors))
	}
	return cfg
}

var levelColors = map[zapcore.Level]string{
	zapcore.DebugLevel:  "\x1b[36m",
	zapcore.InfoLevel:   "\x1b[32m",
	zapcore.WarnLevel:   "\x1b[33m",
	zapcore.ErrorLevel:  "\x1b[31m",
	zapcore.DPanicLevel: "\x1b[35m",
	zapcore.PanicLevel:  "\x1b[35m",
	zapcore.FatalLevel:  "\x1b[31;1m",
}

func paintLevel(level zapcore.Level, color bool) string {
	label := fmt.Sprintf("%-5s", level.CapitalString())
	code, ok := levelColors[level]
	if !color || !ok {
		return label
	}
	return code + label + "\x1b[0m"
}

func stderrIsTerminal() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Elapsed is a duration field rounded to milliseconds.
func Elapsed(start time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(start).Round(time.Millisecond))
}
