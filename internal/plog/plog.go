// Package plog implements the "produce" logger named in §6: INFO on recipe
// start/completion, ERROR on failure. No record is logged when a task joins
// an output group whose recipe another task has already claimed.
//
// Grounded on friedelschoen-mk's mk.go, which serializes all console output
// under one mutex (mkMsgMutex) and gates ANSI color on whether stdout is a
// terminal. Produce keeps that idiom, swapping the teacher's unwired
// golang.org/x/term check for the dependency its own go.mod actually
// declares, github.com/mattn/go-isatty, and keeps every record in an
// in-memory, unbounded list so
// scenario tests can count emitted records the way
// original_source/testsuite/test_multiple_outputs.py counts Python
// assertLogs output.
package plog

import (
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

// Level is the severity of a logged record.
type Level int

const (
	Info Level = iota
	Error
)

func (l Level) String() string {
	if l == Error {
		return "ERROR"
	}
	return "INFO"
}

// Record is one logged line, retained for tests.
type Record struct {
	Level   Level
	Message string
}

// Logger is the "produce" logger. The zero value is not usable; construct
// one with New.
type Logger struct {
	name  string
	out   *os.File
	color bool

	mu      sync.Mutex
	records []Record
}

// New returns a logger named "produce" writing to out, colorizing its
// output only when out is a terminal.
func New(out *os.File) *Logger {
	return &Logger{
		name:  "produce",
		out:   out,
		color: isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
	}
}

// Infof logs an INFO record.
func (l *Logger) Infof(format string, args ...any) {
	l.log(Info, fmt.Sprintf(format, args...))
}

// Errorf logs an ERROR record.
func (l *Logger) Errorf(format string, args ...any) {
	l.log(Error, fmt.Sprintf(format, args...))
}

func (l *Logger) log(level Level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, Record{Level: level, Message: msg})

	prefix, color := level.String(), ansiGreen
	if level == Error {
		color = ansiRed
	}
	if l.color {
		fmt.Fprintf(l.out, "%s%s%s %s: %s\n", color, prefix, ansiReset, l.name, msg)
	} else {
		fmt.Fprintf(l.out, "%s %s: %s\n", prefix, l.name, msg)
	}
}

// Records returns a snapshot of every record logged so far, in order.
// Intended for scenario tests (e.g. counting that a grouped recipe only
// produced one INFO start + one INFO completion record).
func (l *Logger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// CountLevel returns how many records at the given level have been logged.
func (l *Logger) CountLevel(level Level) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns a process-wide logger writing to stderr, lazily
// constructed. Components that are handed an explicit *Logger (the normal
// case) should prefer that instead; Default exists for call sites (signal
// handlers, package-level helpers) that have no natural place to thread one
// through.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLog = New(os.Stderr)
	})
	return defaultLog
}
