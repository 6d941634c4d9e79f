// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package log is a small leveled logger in the shape the teacher repo
// imports from "github.com/saferwall/pe/log" — a subpackage that is not
// itself present in the retrieval pack this module was built from. Its
// shape (Logger interface, NewStdLogger, Helper, NewFilter/FilterLevel) is
// reconstructed from its call sites in pe.go/file.go rather than copied,
// since no source for it was available to ground against directly.
package log

import (
	"fmt"
	"io"
	"time"
)

// Level orders log severities from most to least verbose.
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

// Logger is the minimal sink every log call eventually reaches.
type Logger interface {
	Log(level Level, msg string)
}

// stdLogger writes timestamped, leveled lines to an io.Writer.
type stdLogger struct {
	w io.Writer
}

// NewStdLogger builds a Logger that writes plain lines to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{w: w}
}

func (l *stdLogger) Log(level Level, msg string) {
	fmt.Fprintf(l.w, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339), level, msg)
}

// filteredLogger drops any record below a minimum level.
type filteredLogger struct {
	next Logger
	min  Level
}

// FilterOption configures NewFilter.
type FilterOption func(*filteredLogger)

// FilterLevel sets the minimum level a record must meet to pass through.
func FilterLevel(min Level) FilterOption {
	return func(f *filteredLogger) { f.min = min }
}

// NewFilter wraps next with level filtering.
func NewFilter(next Logger, opts ...FilterOption) Logger {
	f := &filteredLogger{next: next, min: LevelDebug}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *filteredLogger) Log(level Level, msg string) {
	if level < f.min {
		return
	}
	f.next.Log(level, msg)
}

// Helper adds printf-style convenience methods over a Logger, the way
// call sites in the teacher repo use pe.logger.Errorf/Debugf.
type Helper struct {
	l Logger
}

// NewHelper wraps l.
func NewHelper(l Logger) *Helper {
	if l == nil {
		l = NewStdLogger(io.Discard)
	}
	return &Helper{l: l}
}

func (h *Helper) Debugf(format string, args ...any) { h.l.Log(LevelDebug, fmt.Sprintf(format, args...)) }
func (h *Helper) Infof(format string, args ...any)  { h.l.Log(LevelInfo, fmt.Sprintf(format, args...)) }
func (h *Helper) Warnf(format string, args ...any)  { h.l.Log(LevelWarn, fmt.Sprintf(format, args...)) }
func (h *Helper) Errorf(format string, args ...any) { h.l.Log(LevelError, fmt.Sprintf(format, args...)) }
