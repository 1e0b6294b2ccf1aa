// Package telemetry wires structured logging for the engine and its
// surrounding command/hub layers. Unlike the teacher's cmd/zeta-serve,
// which calls the logrus package-level functions directly, every logger
// here is constructed and passed explicitly (struct field or functional
// option) so that engine packages never touch a global — the in-memory
// test backend can run with a discarding logger with no shared state
// between test cases.
package telemetry

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures a logger built by New.
type Options struct {
	// JSON selects logrus's JSON formatter (for the hub, where log lines
	// are typically shipped to a collector) over the text formatter (for
	// the CLI, where a human reads stderr directly).
	JSON bool
	// Level is parsed with logrus.ParseLevel; an empty string defaults to
	// "info".
	Level string
	// Output defaults to os.Stderr, matching the teacher's convention of
	// never writing logs to stdout (stdout is reserved for command output).
	Output io.Writer
}

// New builds a *logrus.Entry ready to be threaded into the repository
// façade and command layer. Call sites attach fields with WithField /
// WithFields per operation, mirroring cmd/zeta-serve's per-request fields.
func New(opts Options) *logrus.Entry {
	logger := logrus.New()
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}
	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level := logrus.InfoLevel
	if opts.Level != "" {
		if parsed, err := logrus.ParseLevel(opts.Level); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)
	return logrus.NewEntry(logger)
}

// Silent returns a logger that discards everything — the default for unit
// tests that don't assert on log output, so test runs stay quiet.
func Silent() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
