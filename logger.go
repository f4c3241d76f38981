package main

import (
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// NewLogger builds the process logger at the given level
func NewLogger(w io.Writer, level string) *log.Logger {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "agawan",
	})
}

// discardLogger is used by tests and by components built without a logger
func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}
