package internal

import (
	"io"
	"os"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Supported log levels and formats.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
	LogLevelNone  = "none"

	LogFormatLogfmt = "logfmt"
	LogFormatJSON   = "json"
)

// NewLogger returns a log.Logger that prints in the provided format at the
// provided level with a UTC timestamp and the caller of the log entry.
func NewLogger(logLevel, logFormat, name string) log.Logger {
	return NewLoggerTo(os.Stderr, logLevel, logFormat, name)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(w io.Writer, logLevel, logFormat, name string) log.Logger {
	var lvl level.Option

	switch strings.ToLower(logLevel) {
	case LogLevelNone:
		lvl = level.AllowNone()
	case LogLevelError:
		lvl = level.AllowError()
	case LogLevelWarn:
		lvl = level.AllowWarn()
	case LogLevelDebug:
		lvl = level.AllowDebug()
	default:
		lvl = level.AllowInfo()
	}

	var logger log.Logger
	if strings.ToLower(logFormat) == LogFormatJSON {
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}

	logger = level.NewFilter(logger, lvl)

	if name != "" {
		logger = log.With(logger, "name", name)
	}

	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}
