package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"sondetrack/config"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	logFileNameLayout  = "20060102-150405"
	maxLogBufferBytes  = 16 * 1024
	logRetention       = 20 // run logs kept before cleanup
)

type lineSink interface {
	WriteLine(line string, now time.Time)
	Close() error
}

type ioLineSink struct {
	w             io.Writer
	withTimestamp bool
}

// Purpose: Write log lines to an io.Writer with optional timestamp prefix.
// Key aspects: Always terminates with newline; timestamp uses local time.
// Upstream: logFanout line dispatch.
// Downstream: io.Writer.Write.
func (s *ioLineSink) WriteLine(line string, now time.Time) {
	if s == nil || s.w == nil {
		return
	}
	if s.withTimestamp {
		line = formatLogTimestamp(now) + " " + line
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *ioLineSink) Close() error {
	return nil
}

// runFileSink appends lines to a single file created for this run.
// Every session of a run lands in the same file, so one flight's scan,
// decode and upload activity stays together.
type runFileSink struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// Purpose: Create a per-run log file named by start time.
// Key aspects: Ensures the directory exists and prunes old run logs.
// Upstream: setupLogging.
// Downstream: os.MkdirAll, os.OpenFile and cleanupOldRunLogs.
func newRunFileSink(dir string, start time.Time) (*runFileSink, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if err := os.MkdirAll(trimmed, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", trimmed, err)
	}
	if err := cleanupOldRunLogs(trimmed, logRetention); err != nil {
		fmt.Fprintf(os.Stderr, "Logging: cleanup failed for %s: %v\n", trimmed, err)
	}
	path := filepath.Join(trimmed, start.UTC().Format(logFileNameLayout)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &runFileSink{path: path, file: file}, nil
}

func (s *runFileSink) WriteLine(line string, now time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	_, _ = s.file.WriteString(formatLogTimestamp(now) + " " + line + "\n")
}

func (s *runFileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

type logFanout struct {
	mu      sync.Mutex
	buf     []byte
	console lineSink
	file    lineSink
}

func newLogFanout(console lineSink, file lineSink) *logFanout {
	return &logFanout{
		console: console,
		file:    file,
	}
}

// Purpose: Wire logging based on config without blocking startup.
// Key aspects: Returns a fanout writer even when file logging fails; an
// interactive terminal gets bare lines while redirected output keeps
// timestamps for correlation.
// Upstream: main startup.
// Downstream: newRunFileSink and log.SetOutput.
func setupLogging(cfg config.LoggingConfig, console *os.File, start time.Time) (*logFanout, error) {
	interactive := term.IsTerminal(int(console.Fd()))
	fanout := newLogFanout(&ioLineSink{w: console, withTimestamp: !interactive}, nil)
	if cfg.Dir == "" {
		return fanout, nil
	}
	fileSink, err := newRunFileSink(cfg.Dir, start)
	if err != nil {
		return fanout, err
	}
	fanout.SetFileSink(fileSink)
	return fanout, nil
}

func (f *logFanout) SetFileSink(sink lineSink) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.file = sink
	f.mu.Unlock()
}

// Purpose: Fan out log output to console and file sinks.
// Key aspects: Line-buffered with bounded internal storage.
// Upstream: log.Logger output.
// Downstream: lineSink.WriteLine.
func (f *logFanout) Write(p []byte) (int, error) {
	if f == nil {
		return len(p), nil
	}
	f.mu.Lock()
	f.buf = append(f.buf, p...)
	data := f.buf
	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			break
		}
		line := string(bytes.TrimRight(data[:idx], "\r"))
		lines = append(lines, line)
		data = data[idx+1:]
	}
	if len(data) > maxLogBufferBytes {
		trimmed := string(bytes.TrimRight(data, "\r"))
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
		data = data[:0]
	}
	f.buf = data
	console := f.console
	file := f.file
	f.mu.Unlock()

	if len(lines) == 0 {
		return len(p), nil
	}
	now := time.Now().UTC()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

func (f *logFanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	console := f.console
	file := f.file
	f.mu.Unlock()

	var firstErr error
	if console != nil {
		_ = console.Close()
	}
	if file != nil {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func formatLogTimestamp(now time.Time) string {
	return now.UTC().Format(logTimestampLayout)
}

func parseRunLogName(name string) (time.Time, bool) {
	if filepath.Ext(name) != ".log" {
		return time.Time{}, false
	}
	base := strings.TrimSuffix(name, ".log")
	parsed, err := time.ParseInLocation(logFileNameLayout, base, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// cleanupOldRunLogs removes the oldest run logs once more than keep exist.
func cleanupOldRunLogs(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var runs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := parseRunLogName(entry.Name()); ok {
			runs = append(runs, entry.Name())
		}
	}
	if len(runs) <= keep {
		return nil
	}
	// Lexicographic order matches chronological order for this layout.
	sort.Strings(runs)
	for _, name := range runs[:len(runs)-keep] {
		_ = os.Remove(filepath.Join(dir, name))
	}
	return nil
}
