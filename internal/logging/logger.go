package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config value to a Level, defaulting to info.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the leveled sink every component writes to.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// With returns a logger whose lines are tagged with the given component.
	With(component string) Logger
}

// StdLogger writes "[Component] LEVEL message" lines through the standard log package.
type StdLogger struct {
	out       *log.Logger
	min       Level
	component string
}

// New returns a StdLogger writing to w.
func New(w io.Writer, min Level) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{
		out: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		min: min,
	}
}

func (l *StdLogger) With(component string) Logger {
	return &StdLogger{out: l.out, min: l.min, component: component}
}

func (l *StdLogger) Debugf(format string, args ...any) { l.write(LevelDebug, format, args...) }
func (l *StdLogger) Infof(format string, args ...any)  { l.write(LevelInfo, format, args...) }
func (l *StdLogger) Warnf(format string, args ...any)  { l.write(LevelWarn, format, args...) }
func (l *StdLogger) Errorf(format string, args ...any) { l.write(LevelError, format, args...) }

func (l *StdLogger) write(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.component != "" {
		l.out.Printf("[%s] %s %s", l.component, level, msg)
		return
	}
	l.out.Printf("%s %s", level, msg)
}

// Nop discards everything.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
func (n nopLogger) With(string) Logger  { return n }

// Entry is one recorded log line.
type Entry struct {
	Level     Level
	Component string
	Message   string
}

// Recorder keeps entries in memory so tests can assert on them.
type Recorder struct {
	mu        *sync.Mutex
	entries   *[]Entry
	component string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) With(component string) Logger {
	return &Recorder{mu: r.mu, entries: r.entries, component: component}
}

func (r *Recorder) Debugf(format string, args ...any) { r.add(LevelDebug, format, args...) }
func (r *Recorder) Infof(format string, args ...any)  { r.add(LevelInfo, format, args...) }
func (r *Recorder) Warnf(format string, args ...any)  { r.add(LevelWarn, format, args...) }
func (r *Recorder) Errorf(format string, args ...any) { r.add(LevelError, format, args...) }

func (r *Recorder) add(level Level, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{Level: level, Component: r.component, Message: fmt.Sprintf(format, args...)})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Has reports whether an entry at level contains substr.
func (r *Recorder) Has(level Level, substr string) bool {
	for _, e := range r.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Count returns the number of entries at level.
func (r *Recorder) Count(level Level) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}
