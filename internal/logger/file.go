package logger

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes a size-rotated JSON log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// WithFile tees l into a rotated JSON file at the same level as l.
// The returned closer releases the file. An empty Path returns l unchanged.
func WithFile(l *zap.Logger, fc FileConfig) (*zap.Logger, io.Closer) {
	if fc.Path == "" {
		return l, nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(rotator),
		l.Core(),
	).With([]zapcore.Field{zap.String("service", "spendgate")})

	teed := l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	return teed, rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
