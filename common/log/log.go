// Package log provides the structured logger shared by every component of a
// participant.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger logs key/value pairs at a given level. Loggers handed to components
// are usually scoped with Named and carry the participant index through With.
type Logger interface {
	Debugw(msg string, keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	// Fatalw logs and exits the process.
	Fatalw(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
	Named(name string) Logger
}

type sugared struct {
	*zap.SugaredLogger
}

func (l *sugared) With(keyvals ...interface{}) Logger {
	return &sugared{l.SugaredLogger.With(keyvals...)}
}

func (l *sugared) Named(name string) Logger {
	return &sugared{l.SugaredLogger.Named(name)}
}

const (
	DebugLevel = int(zapcore.DebugLevel)
	InfoLevel  = int(zapcore.InfoLevel)
	WarnLevel  = int(zapcore.WarnLevel)
	ErrorLevel = int(zapcore.ErrorLevel)
	FatalLevel = int(zapcore.FatalLevel)
)

var (
	defaultOnce   sync.Once
	defaultLogger Logger
)

// DefaultLogger returns the logger used when none was configured: console
// output on stdout at the info level.
func DefaultLogger() Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(nil, InfoLevel, false)
	})
	return defaultLogger
}

// New returns a logger writing statements of at least the given level to
// output, stdout when nil.
func New(output zapcore.WriteSyncer, level int, isJSON bool) Logger {
	if output == nil {
		output = zapcore.Lock(os.Stdout)
	}
	core := zapcore.NewCore(encoder(isJSON), output, zapcore.Level(level))
	return &sugared{zap.New(core, zap.WithCaller(true)).Sugar()}
}

func encoder(isJSON bool) zapcore.Encoder {
	conf := zap.NewProductionEncoderConfig()
	conf.EncodeTime = zapcore.ISO8601TimeEncoder
	conf.EncodeLevel = zapcore.CapitalLevelEncoder
	if isJSON {
		return zapcore.NewJSONEncoder(conf)
	}
	return zapcore.NewConsoleEncoder(conf)
}

// LevelFromString maps level names such as "debug" or "WARN" to their level.
// Empty and unknown names map to def.
func LevelFromString(s string, def int) int {
	var l zapcore.Level
	if s == "" {
		return def
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return def
	}
	return int(l)
}
