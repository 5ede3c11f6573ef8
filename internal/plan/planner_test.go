package plan

import (
	"os"
	"strings"
	"testing"

	"github.com/texttheater/produce/internal/eval"
	"github.com/texttheater/produce/internal/ruleset"
)

// identityEvaluator never has to run since none of these build files use a
// non-identifier ${...} expression; it exists only to satisfy the Planner's
// constructor.
type identityEvaluator struct{}

func (identityEvaluator) Evaluate(expr string, binding eval.Binding) (string, error) {
	return "", nil
}

func parseRules(t *testing.T, src string) *ruleset.RuleSet {
	t.Helper()
	rs, err := ruleset.ParseFile(strings.NewReader(src), "test.ini")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	return rs
}

func TestPlanSourceLeaf(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	if err := os.WriteFile("a.txt", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rs := parseRules(t, `[out]
dep.a: a.txt
recipe: echo hi
`)
	p := New(rs, identityEvaluator{})
	n, err := p.Plan("out")
	if err != nil {
		t.Fatal(err)
	}
	if len(n.Prereqs) != 1 {
		t.Fatalf("got %d prereqs, want 1", len(n.Prereqs))
	}
	if !n.Prereqs[0].IsSource() {
		t.Error("expected a.txt to be planned as a source node")
	}
}

func TestPlanMissingTargetNoRule(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	rs := parseRules(t, `[out]
recipe: echo hi
`)
	p := New(rs, identityEvaluator{})
	if _, err := p.Plan("nonexistent.txt"); err == nil {
		t.Fatal("expected NoRule error")
	}
}

func TestPlanMemoizesByName(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	rs := parseRules(t, `[a]
dep.b: b
recipe: echo a

[b]
recipe: echo b
`)
	p := New(rs, identityEvaluator{})
	n, err := p.Plan("a")
	if err != nil {
		t.Fatal(err)
	}
	b1, err := p.Plan("b")
	if err != nil {
		t.Fatal(err)
	}
	if n.Prereqs[0] != b1 {
		t.Error("expected the same *Node instance for b from both plan paths")
	}
}

func TestPlanDiamondDependencySharesNode(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	rs := parseRules(t, `[top]
dep.l: left
dep.r: right
recipe: echo top

[left]
dep.c: common
recipe: echo left

[right]
dep.c: common
recipe: echo right

[common]
recipe: echo common
`)
	p := New(rs, identityEvaluator{})
	top, err := p.Plan("top")
	if err != nil {
		t.Fatal(err)
	}
	left := top.Prereqs[0]
	right := top.Prereqs[1]
	if left.Prereqs[0] != right.Prereqs[0] {
		t.Error("expected both branches to share the same common Node")
	}
}

func TestPlanHardCycleIsError(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	rs := parseRules(t, `[a]
dep.b: b
recipe: echo a

[b]
dep.a: a
recipe: echo b
`)
	p := New(rs, identityEvaluator{})
	if _, err := p.Plan("a"); err == nil {
		t.Fatal("expected CyclicDependency error")
	}
}

func TestPlanOutputGroupSharesGroup(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	rs := parseRules(t, `[${name}.tab.c]
out.hdr: ${name}.tab.h
recipe: bison ${name}.y
`)
	p := New(rs, identityEvaluator{})
	c, err := p.Plan("parser.tab.c")
	if err != nil {
		t.Fatal(err)
	}
	h, err := p.Plan("parser.tab.h")
	if err != nil {
		t.Fatal(err)
	}
	if c.Group != h.Group {
		t.Error("expected primary and side-output to share one Group")
	}
	if len(c.Group.Members) != 2 {
		t.Errorf("got %d group members, want 2", len(c.Group.Members))
	}
}

func TestPlanRejectsRecipelessRuleWithOutputs(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	rs := parseRules(t, `[${name}.tab.c]
out.hdr: ${name}.tab.h
`)
	p := New(rs, identityEvaluator{})
	if _, err := p.Plan("parser.tab.c"); err == nil {
		t.Fatal("expected an error for a recipeless rule declaring outputs of its own")
	}
}

func TestPlanAllowsRecipelessAggregator(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	rs := parseRules(t, `[all]
dep.a: a
dep.b: b

[a]
recipe: echo a

[b]
recipe: echo b
`)
	p := New(rs, identityEvaluator{})
	n, err := p.Plan("all")
	if err != nil {
		t.Fatal(err)
	}
	if len(n.Prereqs) != 2 {
		t.Errorf("got %d prereqs, want 2", len(n.Prereqs))
	}
}

func TestPlanAdditionalPrereqResolvesViaFindRule(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	rs := parseRules(t, `[${name}.o]
recipe: cc -c ${name}.c
`)
	p := New(rs, identityEvaluator{})
	n, err := p.PlanAdditionalPrereq("foo.o")
	if err != nil {
		t.Fatal(err)
	}
	if n.Name != "foo.o" {
		t.Errorf("got %q", n.Name)
	}
}

func TestPlanResolvesTargetNamedOnlyAsSideOutput(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	rs := parseRules(t, `[${name}.tab.c]
out.hdr: ${name}.tab.h
recipe: bison ${name}.y
`)
	p := New(rs, identityEvaluator{})
	n, err := p.Plan("parser.tab.h")
	if err != nil {
		t.Fatal(err)
	}
	if n.Name != "parser.tab.h" {
		t.Errorf("got %q", n.Name)
	}
	if n.Rule == nil {
		t.Fatal("expected side-output to resolve to the producing rule")
	}
}
