package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogPath returns a fresh timestamped log file path in the temp directory.
func LogPath(app string) string {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.ReplaceAll(ts, ":", "-")
	ts = strings.ReplaceAll(ts, ".", "-")
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%s.log", app, ts))
}

// NewLogger builds a logger that writes JSON lines to a log file at path and console lines to
// stderr. When the file can not be opened only stderr is used and err says why. The returned
// flush function syncs both outputs.
func NewLogger(path string, level zapcore.Level) (logger *zap.Logger, flush func() error, err error) {
	enabler := zap.NewAtomicLevelAt(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	stderr := zapcore.Lock(os.Stderr)
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), stderr, enabler),
	}
	syncers := []zapcore.WriteSyncer{stderr}

	var f *os.File
	if path != "" {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			fs := zapcore.Lock(f)
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fs, enabler))
			syncers = append(syncers, fs)
		} else {
			err = fmt.Errorf("could not open log file '%s' for writing: %w", path, err)
		}
	}

	logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	flush = func() error {
		for _, s := range syncers {
			// stderr can not be synced on every platform:
			_ = s.Sync()
		}
		return nil
	}
	return
}

// LogPanic records a recovered panic value with its stack and flushes the logger.
func LogPanic(logger *zap.Logger, p any) {
	logger.Error("panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
	_ = logger.Sync()
}

// ParseLevel accepts the zap level names (debug, info, warn, error, ...).
func ParseLevel(s string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
