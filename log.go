package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/dacbuione/chinese-learning-sub000/internal/config"
)

// setupLog sends logs to the per-user log file; the terminal only shows
// command output and the final error.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	logFile, err := config.DefaultLogPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		return nil, err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	return f.Close, nil
}
