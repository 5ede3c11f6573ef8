package plog

import (
	"os"
	"strings"
	"testing"
)

func TestLoggerRecordsInfoAndError(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	l := New(f)
	l.Infof("building %s", "out.txt")
	l.Errorf("recipe failed for %s", "out.txt")

	records := l.Records()
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Level != Info || !strings.Contains(records[0].Message, "building out.txt") {
		t.Errorf("got %+v", records[0])
	}
	if records[1].Level != Error || !strings.Contains(records[1].Message, "recipe failed for out.txt") {
		t.Errorf("got %+v", records[1])
	}
}

func TestLoggerCountLevel(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	l := New(f)
	l.Infof("one")
	l.Infof("two")
	l.Errorf("three")

	if got := l.CountLevel(Info); got != 2 {
		t.Errorf("got %d info records, want 2", got)
	}
	if got := l.CountLevel(Error); got != 1 {
		t.Errorf("got %d error records, want 1", got)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("expected Default() to return the same logger instance each call")
	}
}
