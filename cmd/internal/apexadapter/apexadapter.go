// Package apexadapter adapts apex/log's package-level logger to the
// streamreplay.Logger interface, so cmd/tx and cmd/rx can hand every
// component a concrete logger without depending on apex/log themselves.
package apexadapter

import (
	"github.com/apex/log"
	apexcli "github.com/apex/log/handlers/cli"

	"github.com/netreplay/streamreplay"
)

// Logger wraps an apex/log entry, carrying whatever fields New attached
// (e.g. a stream name) onto every call.
type Logger struct {
	entry *log.Entry
}

// New configures apex/log's CLI handler at level and returns a Logger
// with fields attached, matching the {name: ...} prefix conf.go's
// StreamParam.Name feeds into every per-stream log line.
func New(level log.Level, fields log.Fields) *Logger {
	log.SetHandler(apexcli.Default)
	log.SetLevel(level)
	return &Logger{entry: log.WithFields(fields)}
}

// With returns a copy of l with additional fields merged in, used by
// cmd/tx and cmd/rx to derive one logger per stream from a shared root.
func (l *Logger) With(fields log.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debug(message string)          { l.entry.Debug(message) }
func (l *Logger) Debugf(format string, v ...any) { l.entry.Debugf(format, v...) }
func (l *Logger) Info(message string)           { l.entry.Info(message) }
func (l *Logger) Infof(format string, v ...any) { l.entry.Infof(format, v...) }
func (l *Logger) Warn(message string)           { l.entry.Warn(message) }
func (l *Logger) Warnf(format string, v ...any) { l.entry.Warnf(format, v...) }
func (l *Logger) Error(message string)          { l.entry.Error(message) }
func (l *Logger) Errorf(format string, v ...any) { l.entry.Errorf(format, v...) }

var _ streamreplay.Logger = &Logger{}
