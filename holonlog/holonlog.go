// Package holonlog provides the engine's structured logging foundation.
// It wraps logrus with the same stdout/stderr stream-splitting behavior
// used across the rest of the codebase, so error-level entries land on
// stderr (for alerting pipelines) while everything else goes to stdout.
package holonlog

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// streamSplitter routes logrus output to stdout or stderr based on level.
type streamSplitter struct{}

func (streamSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Base is the package-wide logger instance. Subsystems derive scoped
// entries from it with For rather than constructing their own logrus
// loggers, so formatting/level/output stay uniform across the engine.
var Base = logrus.New()

func init() {
	Base.SetOutput(streamSplitter{})
}

// For returns a logger entry pre-tagged with the calling subsystem's name,
// e.g. holonlog.For("cache").WithField("relation", "blocks").Info(...).
func For(subsystem string) *logrus.Entry {
	return Base.WithField("subsystem", subsystem)
}
