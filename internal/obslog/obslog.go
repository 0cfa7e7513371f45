package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var globalLogger *zap.Logger = zap.NewNop()

// L returns the process-wide logger.
func L() *zap.Logger { return globalLogger }

type Options struct {
	Level      string
	Format     string // console or json
	Console    bool
	File       string // empty disables the file sink
	MaxSizeMB  int
	MaxBackups int
	BotName    string
}

// Init builds the global logger: console plus a size-rotated file.
func Init(opts Options) error {
	level := parseLevel(opts.Level)
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format != "json" {
		format = "console"
	}

	var cores []zapcore.Core
	if opts.Console {
		cores = append(cores, zapcore.NewCore(newEncoder(format), zapcore.AddSync(os.Stdout), level))
	}
	if strings.TrimSpace(opts.File) != "" {
		if err := ensureDir(filepath.Dir(opts.File)); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		sink := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    max(opts.MaxSizeMB, 1),
			MaxBackups: opts.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(newEncoder(format), zapcore.AddSync(sink), level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(newEncoder(format), zapcore.AddSync(os.Stdout), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.BotName != "" {
		logger = logger.With(zap.String("bot", opts.BotName), zap.Int("pid", os.Getpid()))
	}
	globalLogger = logger
	return nil
}

// Sync flushes buffered entries. Safe to call on shutdown paths.
func Sync() {
	_ = globalLogger.Sync()
}

// Game opens a dedicated log file for one game and returns a logger that
// writes to it and to the process sinks. The returned func closes the file.
func Game(dir, opponent, gameID string) (*zap.Logger, func(), error) {
	if err := ensureDir(dir); err != nil {
		return nil, nil, fmt.Errorf("create game log dir: %w", err)
	}
	name := fmt.Sprintf("game_%s_%s_%s.log",
		time.Now().UTC().Format("20060102T150405Z"),
		sanitizeName(opponent),
		sanitizeName(gameID))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open game log: %w", err)
	}
	fileCore := zapcore.NewCore(newEncoder("console"), zapcore.AddSync(f), zapcore.DebugLevel)
	logger := zap.New(zapcore.NewTee(globalLogger.Core(), fileCore)).With(zap.String("game_id", gameID))
	closeFn := func() {
		_ = logger.Sync()
		_ = f.Close()
	}
	return logger, closeFn, nil
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newEncoder(format string) zapcore.Encoder {
	if format == "json" {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}
