package ruleset

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPatternMatchSimpleHole(t *testing.T) {
	pat, err := CompilePattern("${name}.o")
	if err != nil {
		t.Fatal(err)
	}
	b, ok := pat.Match("foo.o")
	if !ok {
		t.Fatal("expected match")
	}
	if diff := cmp.Diff(Binding{"name": "foo"}, b); diff != "" {
		t.Errorf("binding mismatch (-want +got):\n%s", diff)
	}
}

func TestPatternMatchNoMatch(t *testing.T) {
	pat, err := CompilePattern("${name}.o")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pat.Match("foo.c"); ok {
		t.Fatal("expected no match")
	}
}

func TestPatternRepeatedHoleMustAgree(t *testing.T) {
	pat, err := CompilePattern("${name}/${name}.c")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pat.Match("foo/foo.c"); !ok {
		t.Fatal("expected match when repeated hole agrees")
	}
	if _, ok := pat.Match("foo/bar.c"); ok {
		t.Fatal("expected no match when repeated hole disagrees")
	}
}

func TestPatternEscapedDollar(t *testing.T) {
	pat, err := CompilePattern("$$${name}")
	if err != nil {
		t.Fatal(err)
	}
	b, ok := pat.Match("$foo")
	if !ok {
		t.Fatal("expected match")
	}
	if b["name"] != "foo" {
		t.Errorf("got name=%q, want foo", b["name"])
	}
}

func TestCompilePatternUnclosedHole(t *testing.T) {
	if _, err := CompilePattern("${name"); err == nil {
		t.Fatal("expected error for unclosed hole")
	}
}

func TestCompilePatternInvalidHoleName(t *testing.T) {
	if _, err := CompilePattern("${1bad}"); err == nil {
		t.Fatal("expected error for hole name starting with a digit")
	}
}
