// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookcontext

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/loggo/v2"
)

// LogWriter is a loggo.Writer sending log entries to the unit log through
// juju-log.
type LogWriter struct {
	runner ToolRunner
}

// NewLogWriter returns a LogWriter running juju-log with runner.
func NewLogWriter(runner ToolRunner) *LogWriter {
	return &LogWriter{runner: runner}
}

// Write is part of the loggo.Writer interface.
func (w *LogWriter) Write(entry loggo.Entry) {
	msg := fmt.Sprintf("%s: %s", entry.Module, entry.Message)
	_, err := w.runner.RunTool(context.Background(), "juju-log", "--log-level", jujuLogLevel(entry.Level), msg)
	if err != nil {
		// Fall back to stderr, which the unit agent also captures.
		fmt.Fprintf(os.Stderr, "%s %s\n", entry.Level, msg)
	}
}

func jujuLogLevel(level loggo.Level) string {
	switch level {
	case loggo.TRACE, loggo.DEBUG:
		return "DEBUG"
	case loggo.WARNING:
		return "WARNING"
	case loggo.ERROR, loggo.CRITICAL:
		return "ERROR"
	}
	return "INFO"
}

// ConfigureLogging routes loggo output to juju-log. The level comes from
// LIVEPATCH_LOG_LEVEL, or is DEBUG when JUJU_DEBUG is set.
func ConfigureLogging(runner ToolRunner) error {
	level := loggo.INFO
	if os.Getenv("JUJU_DEBUG") != "" {
		level = loggo.DEBUG
	}
	if spec := os.Getenv("LIVEPATCH_LOG_LEVEL"); spec != "" {
		if l, ok := loggo.ParseLevel(spec); ok {
			level = l
		}
	}
	loggo.ResetWriters()
	if err := loggo.RegisterWriter(loggo.DefaultWriterName, NewLogWriter(runner)); err != nil {
		return err
	}
	loggo.GetLogger("livepatch").SetLogLevel(level)
	return nil
}
