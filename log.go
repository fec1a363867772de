package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/dgnsrekt/swcache/utils"
)

// setupLog configures the default logger from SWCACHE_LOG_LEVEL and
// SWCACHE_LOG_FILE. Output is JSON when it is not a terminal.
func setupLog() (func() error, error) {
	level, err := log.ParseLevel(environ.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid SWCACHE_LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)

	var (
		out    io.Writer = os.Stderr
		closer           = func() error { return nil }
		tty              = term.IsTerminal(int(os.Stderr.Fd()))
	)

	if environ.LogFile != "" {
		logFile := utils.ExpandPath(environ.LogFile)
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w", err)
		}
		out, closer, tty = f, f.Close, false
	}

	log.SetOutput(out)
	if !tty {
		log.SetFormatter(log.JSONFormatter)
	}
	return closer, nil
}
