// Package auditlog appends send outcomes to channel-specific log files.
//
// The audit log is a host-facing artifact, separate from the service's
// structured logging: a line-per-event text file the blog owner can read in
// place. Logging must never abort a notification send, so every failure in
// here is swallowed.
package auditlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	channelInfo  = "info"
	channelDebug = "debug"

	header = "# comment-notifier audit log\n"
)

// Config holds audit logger configuration.
type Config struct {
	// Dir is the target log directory. When missing or unwritable, files
	// land in the OS temp directory instead.
	Dir string
	// Enabled mirrors the to_log notification flag; when false the logger
	// is a complete no-op.
	Enabled bool
	// DeveloperMode enables the debug channel. Debug lines are always
	// suppressed otherwise.
	DeveloperMode bool
}

// Logger appends timestamped lines to rotating, append-only log files.
type Logger struct {
	cfg   Config
	mu    sync.Mutex
	sinks map[string]io.WriteCloser
	now   func() time.Time
}

// New creates a new audit logger.
func New(cfg Config) *Logger {
	return &Logger{
		cfg:   cfg,
		sinks: make(map[string]io.WriteCloser),
		now:   time.Now,
	}
}

// Log appends a line to the info channel.
func (l *Logger) Log(msg string) {
	l.write(channelInfo, msg)
}

// Debug appends a line to the debug channel. Suppressed unless DeveloperMode
// is set.
func (l *Logger) Debug(msg string) {
	if !l.cfg.DeveloperMode {
		return
	}
	l.write(channelDebug, msg)
}

// Close closes the underlying file sinks.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sink := range l.sinks {
		_ = sink.Close()
	}
	l.sinks = make(map[string]io.WriteCloser)
}

func (l *Logger) write(channel, msg string) {
	if !l.cfg.Enabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sink, ok := l.sinks[channel]
	if !ok {
		sink = l.openSink(channel)
		l.sinks[channel] = sink
	}

	line := fmt.Sprintf("[%s] %s\n", l.now().Format("2006-01-02 15:04:05"), msg)
	// Write failures are swallowed: the audit log must never abort a send.
	_, _ = sink.Write([]byte(line))
}

// openSink picks the log file for a channel and seeds the header marker on
// first creation. The directory is validated with a probe write so an
// unwritable target degrades to the temp path instead of erroring on every
// line.
func (l *Logger) openSink(channel string) io.WriteCloser {
	name := channel + "_log.txt"
	path := filepath.Join(l.cfg.Dir, name)

	if !dirWritable(l.cfg.Dir) {
		path = filepath.Join(os.TempDir(), "comment-notifier-"+name)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(header), 0o600)
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     90, // days
	}
}

func dirWritable(dir string) bool {
	if dir == "" {
		return false
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return true
}
