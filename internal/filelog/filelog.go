// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package filelog is the line-oriented debug trace of decoded and emitted
// instructions. Every operation is best-effort: write failures are
// reported once through the structured logger and otherwise ignored. A nil
// *Log discards everything.
package filelog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dotandev/ilpatch/internal/logger"
)

type Log struct {
	mu         sync.Mutex
	path       string
	indentChar string
	indent     int
	buffer     []string
	warned     bool
}

// New returns a sink appending to path.
func New(path string) *Log {
	return &Log{path: path, indentChar: "\t"}
}

func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Log) prefix() string {
	return strings.Repeat(l.indentChar, l.indent)
}

// ChangeIndent shifts the indent level, never below zero.
func (l *Log) ChangeIndent(delta int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.indent = max(0, l.indent+delta)
}

// LogBuffered queues a line until FlushBuffer.
func (l *Log) LogBuffered(s string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = append(l.buffer, l.prefix()+s)
}

// FlushBuffer appends every queued line to the file.
func (l *Log) FlushBuffer() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buffer) == 0 {
		return
	}
	l.appendLines(l.buffer)
	l.buffer = l.buffer[:0]
}

// Log appends one line immediately.
func (l *Log) Log(s string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLines([]string{l.prefix() + s})
}

// LogBytes writes a hex dump, eight bytes per line, then an MD5 of b.
func (l *Log) LogBytes(b []byte) {
	if l == nil {
		return
	}
	var lines []string
	for start := 0; start < len(b); start += 8 {
		end := min(start+8, len(b))
		var sb strings.Builder
		sb.WriteString("#  ")
		for i := start; i < end; i++ {
			if i > start && (i-start)%4 == 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%02X ", b[i])
		}
		lines = append(lines, strings.TrimRight(sb.String(), " "))
	}
	sum := md5.Sum(b)
	lines = append(lines, "HASH: "+strings.ToUpper(hex.EncodeToString(sum[:])))

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range lines {
		lines[i] = l.prefix() + lines[i]
	}
	l.appendLines(lines)
}

// Reset deletes the file and drops any buffered lines.
func (l *Log) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.warn(err)
	}
}

func (l *Log) appendLines(lines []string) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.warn(err)
		return
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			l.warn(err)
			return
		}
	}
}

func (l *Log) warn(err error) {
	if l.warned {
		return
	}
	l.warned = true
	logger.Logger.Warn("debug log unavailable", "path", l.path, "error", err)
}
