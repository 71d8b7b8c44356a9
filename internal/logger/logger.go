// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package logger holds the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	Logger *slog.Logger
	level  = new(slog.LevelVar)
	mu     sync.Mutex
)

func init() {
	initLogger(ParseLevel(os.Getenv("ILPATCH_LOG_LEVEL")), os.Stderr, wantJSON(os.Getenv("ILPATCH_LOG_FORMAT")))
}

// ParseLevel maps debug|info|warn|error (any case) to a slog level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func wantJSON(format string) bool {
	return strings.EqualFold(strings.TrimSpace(format), "json")
}

// NewLogger builds a logger that shares the package level.
func NewLogger(w io.Writer, useJSON bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	if useJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func initLogger(lvl slog.Level, w io.Writer, useJSON bool) {
	level.Set(lvl)
	Logger = NewLogger(w, useJSON)
}

func SetLevel(lvl slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	level.Set(lvl)
}

func Level() slog.Level {
	return level.Level()
}

func SetOutput(w io.Writer, useJSON bool) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(level.Level(), w, useJSON)
}

// Configure applies a level name and output format in one step.
func Configure(levelName, format string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(ParseLevel(levelName), w, wantJSON(format))
}

// For returns the shared logger tagged with a component name.
func For(component string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return Logger.With("component", component)
}
