package testutils

import (
	"io"

	"github.com/sirupsen/logrus"
)

// QuietLogger returns a logger that discards all output
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// DebugLogger returns a debug-level logger writing to w, for tests asserting on log output
func DebugLogger(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}
