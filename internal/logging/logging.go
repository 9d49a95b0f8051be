// SPDX-License-Identifier: MPL-2.0

// Package logging hands out one logger per mod id.
//
// Loggers are created on first use and shared by every later lookup of the
// same id. Each lookup takes a reference; the last Release closes the
// logger's file sinks and forgets it. Fatal only logs: it never exits the
// process, since a mod must not be able to take the host down.
package logging

import (
	"errors"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/pkg/refcount"
)

// TraceLevel sits below log.DebugLevel.
const TraceLevel = log.DebugLevel - 4

// DefaultID names the loader's own logger.
const DefaultID = "Balloon"

type (
	// Logger is a mod-scoped logger. Its output is the store's console plus
	// any sinks added with AddSink.
	Logger struct {
		id   string
		std  *log.Logger
		out  *fanout
		refs *refcount.Counter
	}

	// Store owns the per-id loggers.
	Store struct {
		mu      sync.Mutex
		console io.Writer
		level   log.Level
		loggers map[string]*Logger
		def     *Logger
	}

	fanout struct {
		mu      sync.RWMutex
		console io.Writer
		sinks   []*sink
	}

	sink struct {
		w io.Writer
	}
)

// ParseLevel accepts the charm level names plus "trace".
func ParseLevel(s string) (log.Level, error) {
	if strings.EqualFold(strings.TrimSpace(s), "trace") {
		return TraceLevel, nil
	}
	return log.ParseLevel(strings.TrimSpace(s))
}

// LevelName is the inverse of ParseLevel.
func LevelName(l log.Level) string {
	if l == TraceLevel {
		return "trace"
	}
	return l.String()
}

// NewStore returns a store whose loggers write to console at level. A nil
// console means os.Stderr.
func NewStore(console io.Writer, level log.Level) *Store {
	if console == nil {
		console = os.Stderr
	}
	s := &Store{console: console, level: level, loggers: make(map[string]*Logger)}
	s.def = s.newLogger(DefaultID)
	return s
}

func (s *Store) newLogger(id string) *Logger {
	out := &fanout{console: s.console}
	std := log.NewWithOptions(out, log.Options{
		Level:           s.level,
		Prefix:          id,
		ReportTimestamp: true,
	})
	styles := log.DefaultStyles()
	styles.Levels[TraceLevel] = lipgloss.NewStyle().SetString("TRAC").Bold(true).MaxWidth(4).Foreground(lipgloss.Color("245"))
	std.SetStyles(styles)
	return &Logger{id: id, std: std, out: out}
}

// Default returns the loader's own logger. It is never released.
func (s *Store) Default() *Logger { return s.def }

// Get returns the logger for id, creating it on first use, and takes a
// reference on it. An empty id returns the default logger.
func (s *Store) Get(id string) *Logger {
	if id == "" || id == DefaultID {
		return s.def
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loggers[id]; ok {
		l.refs.Acquire()
		return l
	}
	l := s.newLogger(id)
	l.refs = refcount.NewCounter(func() { s.drop(l) })
	s.loggers[id] = l
	return l
}

// Lookup returns the logger for id without taking a reference.
func (s *Store) Lookup(id string) (*Logger, bool) {
	if id == "" || id == DefaultID {
		return s.def, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loggers[id]
	return l, ok
}

// IDs lists the live mod loggers.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.loggers))
	for id := range s.loggers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SetLevel changes the level of the store and every live logger.
func (s *Store) SetLevel(level log.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
	s.def.std.SetLevel(level)
	for _, l := range s.loggers {
		l.std.SetLevel(level)
	}
}

// Level returns the store level.
func (s *Store) Level() log.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *Store) drop(l *Logger) {
	s.mu.Lock()
	if s.loggers[l.id] == l {
		delete(s.loggers, l.id)
	}
	s.mu.Unlock()
	if err := l.out.closeSinks(); err != nil {
		s.def.Warn("failed to close log sink", "mod", l.id, "err", err)
	}
}

// ID returns the id the logger belongs to.
func (l *Logger) ID() string { return l.id }

// Std exposes the underlying charm logger for code that takes one.
func (l *Logger) Std() *log.Logger { return l.std }

// Release drops a reference. The default logger ignores it.
func (l *Logger) Release() {
	if l.refs != nil {
		l.refs.Release()
	}
}

// AddSink tees the logger's output into w until the returned function is
// called or the logger is released. w is closed then if it is an
// io.Closer.
func (l *Logger) AddSink(w io.Writer) (remove func()) {
	s := &sink{w: w}
	l.out.mu.Lock()
	l.out.sinks = append(l.out.sinks, s)
	l.out.mu.Unlock()
	return func() {
		l.out.mu.Lock()
		idx := slices.Index(l.out.sinks, s)
		if idx >= 0 {
			l.out.sinks = slices.Delete(l.out.sinks, idx, idx+1)
		}
		l.out.mu.Unlock()
		if c, ok := w.(io.Closer); ok && idx >= 0 {
			_ = c.Close()
		}
	}
}

// SetLevel changes this logger's level only.
func (l *Logger) SetLevel(level log.Level) { l.std.SetLevel(level) }

// Level returns the logger's level.
func (l *Logger) Level() log.Level { return l.std.GetLevel() }

// Trace logs at TraceLevel.
func (l *Logger) Trace(msg string, keyvals ...any) { l.std.Log(TraceLevel, msg, keyvals...) }

// Debug logs at DebugLevel.
func (l *Logger) Debug(msg string, keyvals ...any) { l.std.Log(log.DebugLevel, msg, keyvals...) }

// Info logs at InfoLevel.
func (l *Logger) Info(msg string, keyvals ...any) { l.std.Log(log.InfoLevel, msg, keyvals...) }

// Warn logs at WarnLevel.
func (l *Logger) Warn(msg string, keyvals ...any) { l.std.Log(log.WarnLevel, msg, keyvals...) }

// Error logs at ErrorLevel.
func (l *Logger) Error(msg string, keyvals ...any) { l.std.Log(log.ErrorLevel, msg, keyvals...) }

// Fatal logs at FatalLevel and returns.
func (l *Logger) Fatal(msg string, keyvals ...any) { l.std.Log(log.FatalLevel, msg, keyvals...) }

func (f *fanout) Write(p []byte) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, err := f.console.Write(p)
	for _, s := range f.sinks {
		if _, serr := s.w.Write(p); serr != nil && err == nil {
			err = serr
		}
	}
	return n, err
}

func (f *fanout) closeSinks() error {
	f.mu.Lock()
	sinks := f.sinks
	f.sinks = nil
	f.mu.Unlock()
	var errs []error
	for _, s := range sinks {
		if c, ok := s.w.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
