// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Overture components.
//
// Built on the standard library slog package. Default output is stderr
// in text format for CLI compatibility; the serve path switches to JSON
// and can tee into a log file.
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("execution starting", "ensemble", ref)
//
// # File Logging
//
//	logger, err := logging.New(logging.Config{
//	    Level:   slog.LevelInfo,
//	    LogDir:  "~/.overture/logs",
//	    Service: "conductor",
//	})
//	defer logger.Close()
//
// This creates `{service}_{date}.log` files in JSON format.
//
// # Security Considerations
//
// This package does NOT redact sensitive data. Callers must ensure
// member inputs containing secrets are not logged verbatim.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity to emit. Default: slog.LevelInfo.
	Level slog.Level

	// JSON switches stderr output from text to JSON.
	JSON bool

	// LogDir, when set, tees JSON logs into a dated file under this
	// directory. Supports ~ expansion. Created if absent.
	LogDir string

	// Service names the log file: {service}_{date}.log.
	Service string
}

// Logger wraps slog with an owned, closable file destination.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New builds a logger per the config. File problems degrade to
// stderr-only logging rather than failing startup.
func New(cfg Config) (*Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var stderrHandler slog.Handler
	if cfg.JSON {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	}

	l := &Logger{}
	if cfg.LogDir == "" {
		l.Logger = slog.New(stderrHandler)
		return l, nil
	}

	dir := expandPath(cfg.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	service := cfg.Service
	if service == "" {
		service = "overture"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l.file = file
	l.Logger = slog.New(newTeeHandler(
		stderrHandler,
		slog.NewJSONHandler(file, opts),
	))
	return l, nil
}

// Default returns a stderr text logger at info level.
func Default() *Logger {
	l, _ := New(Config{})
	return l
}

// Slog exposes the underlying slog.Logger for libraries that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// Writer returns the log file writer, or io.Discard without one. Used to
// hand gin its output sink.
func (l *Logger) Writer() io.Writer {
	if l.file == nil {
		return io.Discard
	}
	return l.file
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
