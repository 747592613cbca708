// Package internal contains internal implementation details shared by the
// cmd/tx and cmd/rx binaries.
//
// Adapted from netem's internal/internal.go.
package internal

import "github.com/netreplay/streamreplay"

// NullLogger is a streamreplay.Logger that does not emit logs, used for
// streams with no_logging set.
type NullLogger struct{}

func (nl *NullLogger) Debug(message string)                 {}
func (nl *NullLogger) Debugf(format string, v ...any)        {}
func (nl *NullLogger) Info(message string)                   {}
func (nl *NullLogger) Infof(format string, v ...any)          {}
func (nl *NullLogger) Warn(message string)                    {}
func (nl *NullLogger) Warnf(format string, v ...any)           {}
func (nl *NullLogger) Error(message string)                   {}
func (nl *NullLogger) Errorf(format string, v ...any)          {}

var _ streamreplay.Logger = &NullLogger{}
