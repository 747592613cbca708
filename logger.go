package streamreplay

//
// Logger is the logging interface every component depends on instead of
// calling a concrete logging library directly. Ported from netem's
// model.go Logger, widened with Error/Errorf since this system treats
// socket bind/create failures as errors worth a distinct level (spec.md §7).
//

// Logger is implemented by the apex/log-backed adapter in cmd/internal/
// apexadapter and by NullLogger (see internal/internal.go) for no_logging
// streams.
type Logger interface {
	Debugf(format string, v ...any)
	Debug(message string)
	Infof(format string, v ...any)
	Info(message string)
	Warnf(format string, v ...any)
	Warn(message string)
	Errorf(format string, v ...any)
	Error(message string)
}
