package depfile

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseSimpleEntry(t *testing.T) {
	entries, err := Parse(strings.NewReader("sayfib.o: fib.h sayfib.c\n"), "sayfib.d")
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{{Targets: []string{"sayfib.o"}, Deps: []string{"fib.h", "sayfib.c"}}}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMultipleTargets(t *testing.T) {
	entries, err := Parse(strings.NewReader("a.o b.o: common.h\n"), "d")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || len(entries[0].Targets) != 2 {
		t.Fatalf("got %v", entries)
	}
}

func TestParseBackslashContinuation(t *testing.T) {
	entries, err := Parse(strings.NewReader("a.o: b.h \\\n    c.h \\\n    d.h\n"), "d")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b.h", "c.h", "d.h"}
	if diff := cmp.Diff(want, entries[0].Deps); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStripsComments(t *testing.T) {
	entries, err := Parse(strings.NewReader("# a comment\na.o: b.h # trailing\n"), "d")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if diff := cmp.Diff([]string{"b.h"}, entries[0].Deps); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMissingColonIsError(t *testing.T) {
	if _, err := Parse(strings.NewReader("not-a-rule\n"), "d"); err == nil {
		t.Fatal("expected error for a line with no ':'")
	}
}

func TestParseBlankAndCommentOnlyLinesAreSkipped(t *testing.T) {
	entries, err := Parse(strings.NewReader("\n# just a comment\n\na.o: b.h\n"), "d")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
}

func TestDepsForUnionsAcrossMatchingEntries(t *testing.T) {
	entries := []Entry{
		{Targets: []string{"a.o"}, Deps: []string{"x.h"}},
		{Targets: []string{"a.o", "b.o"}, Deps: []string{"y.h"}},
		{Targets: []string{"c.o"}, Deps: []string{"z.h"}},
	}
	got := DepsFor(entries, "a.o")
	want := []string{"x.h", "y.h"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDepsForDeduplicates(t *testing.T) {
	entries := []Entry{
		{Targets: []string{"a.o"}, Deps: []string{"x.h"}},
		{Targets: []string{"a.o"}, Deps: []string{"x.h", "y.h"}},
	}
	got := DepsFor(entries, "a.o")
	want := []string{"x.h", "y.h"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDepsForNoMatchIsEmpty(t *testing.T) {
	entries := []Entry{{Targets: []string{"a.o"}, Deps: []string{"x.h"}}}
	got := DepsFor(entries, "nonexistent.o")
	if len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}
