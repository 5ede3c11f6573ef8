package ruleset

import (
	"strings"
	"testing"
)

func TestParseFileSimpleRule(t *testing.T) {
	src := `[${name}.o]
dep.src: ${name}.c
recipe: cc -c ${name}.c -o ${name}.o
`
	rs, err := ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rs.Rules))
	}
	r := rs.Rules[0]
	if r.TargetPattern.Source != "${name}.o" {
		t.Errorf("got pattern %q", r.TargetPattern.Source)
	}
	if len(r.Prereqs) != 1 || r.Prereqs[0] != "${name}.c" {
		t.Errorf("got prereqs %v", r.Prereqs)
	}
	if r.Recipe != "cc -c ${name}.c -o ${name}.o" {
		t.Errorf("got recipe %q", r.Recipe)
	}
	if r.Parallelism != 1 {
		t.Errorf("got parallelism %d, want default 1", r.Parallelism)
	}
	if r.Shell != "/bin/sh" {
		t.Errorf("got shell %q, want default /bin/sh", r.Shell)
	}
}

func TestParseFileMultilineRecipeContinuation(t *testing.T) {
	src := `[out.txt]
recipe: echo one
  echo two
  echo three
`
	rs, err := ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	want := "echo one\necho two\necho three"
	if got := rs.Rules[0].Recipe; got != want {
		t.Errorf("got recipe %q, want %q", got, want)
	}
}

func TestParseFileOutputsAndTypePrereqs(t *testing.T) {
	src := `[${name}.o]
out.hdr: ${name}.h
type.dep: ${name}.d
recipe: cc -c ${name}.c
`
	rs, err := ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	r := rs.Rules[0]
	if len(r.Outputs) != 1 || r.Outputs[0] != "${name}.h" {
		t.Errorf("got outputs %v", r.Outputs)
	}
	if len(r.TypePrereqs) != 1 || r.TypePrereqs[0] != "${name}.d" {
		t.Errorf("got type prereqs %v", r.TypePrereqs)
	}
}

func TestParseFileOutputsSpaceSeparated(t *testing.T) {
	src := `[all]
outputs: a.txt b.txt c.txt
`
	rs, err := ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.txt", "b.txt", "c.txt"}
	got := rs.Rules[0].Outputs
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestParseFileMultipleRulesInOrder(t *testing.T) {
	src := `[a]
recipe: echo a

[b]
recipe: echo b
`
	rs, err := ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("got %d rules", len(rs.Rules))
	}
	if rs.Rules[0].TargetPattern.Source != "a" || rs.Rules[1].TargetPattern.Source != "b" {
		t.Errorf("rules out of order: %v", rs.Rules)
	}
}

func TestParseFileParallelismAndAlwaysBuild(t *testing.T) {
	src := `[a]
parallelism: 4
always_build: true
recipe: echo a
`
	rs, err := ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	r := rs.Rules[0]
	if r.Parallelism != 4 {
		t.Errorf("got parallelism %d, want 4", r.Parallelism)
	}
	if !r.AlwaysBuild {
		t.Error("expected always_build true")
	}
}

func TestParseFileRepeatedDepKeyKeepsBothEntries(t *testing.T) {
	src := `[report]
dep.src: a.txt
dep.src: b.txt
recipe: cat a.txt b.txt > report
`
	rs, err := ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.txt", "b.txt"}
	got := rs.Rules[0].Prereqs
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v (a repeated dep.src key must not collide)", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestParseFileUnknownAttributeIsError(t *testing.T) {
	src := `[a]
bogus: 1
`
	if _, err := ParseFile(strings.NewReader(src), "test.ini"); err == nil {
		t.Fatal("expected error for unknown attribute")
	}
}

func TestParseFileAttributeOutsideSectionIsError(t *testing.T) {
	src := `recipe: echo a
`
	if _, err := ParseFile(strings.NewReader(src), "test.ini"); err == nil {
		t.Fatal("expected error for attribute outside any section")
	}
}

func TestParseFileUnclosedSectionHeaderIsError(t *testing.T) {
	src := `[a
recipe: echo a
`
	if _, err := ParseFile(strings.NewReader(src), "test.ini"); err == nil {
		t.Fatal("expected error for unclosed section header")
	}
}

func TestDefaultTargetLiteral(t *testing.T) {
	src := `[all]
recipe: echo hi
`
	rs, err := ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	name, ok := rs.DefaultTarget()
	if !ok || name != "all" {
		t.Errorf("got (%q, %v), want (all, true)", name, ok)
	}
}

func TestDefaultTargetWithHolesIsNotDefault(t *testing.T) {
	src := `[${name}.o]
recipe: echo hi
`
	rs, err := ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rs.DefaultTarget(); ok {
		t.Error("expected no default target for a pattern-bearing first rule")
	}
}
