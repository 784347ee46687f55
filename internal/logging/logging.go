// Package logging wraps go-logger with printf helpers and component fields.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the logger shared by every component of the server.
type Logger struct {
	base glog.Logger
}

type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "" {
		level = "info"
	}

	if strings.EqualFold(opts.Format, "json") {
		return &Logger{base: glog.NewLogger(
			glog.WithWriter(w),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(level),
		)}
	}
	return &Logger{base: glog.NewLogger(
		glog.WithWriter(w),
		glog.WithLevel(level),
	)}
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	return New(Options{Level: "error", Writer: io.Discard})
}

// With returns a child logger carrying fields.
func (l *Logger) With(fields map[string]any) *Logger {
	if fl, ok := l.base.(glog.FieldsLogger); ok {
		return &Logger{base: fl.WithFields(fields)}
	}
	return l
}

// Component is shorthand for With({"component": name}).
func (l *Logger) Component(name string) *Logger {
	return l.With(map[string]any{"component": name})
}

func (l *Logger) Debugf(format string, args ...any) { l.base.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.base.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.base.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.base.Error(fmt.Sprintf(format, args...)) }
