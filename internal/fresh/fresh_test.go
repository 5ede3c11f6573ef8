package fresh

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/texttheater/produce/internal/plan"
	"github.com/texttheater/produce/internal/ruleset"
)

func writeFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func sourceNode(name string) *plan.Node {
	return &plan.Node{Name: name, Group: plan.NewFreshGroup()}
}

func builtNode(t *testing.T, dir, name string, mtime time.Time, prereqs ...*plan.Node) *plan.Node {
	t.Helper()
	path := filepath.Join(dir, name)
	writeFile(t, path, mtime)
	g := plan.NewGroup()
	n := &plan.Node{Name: path, Rule: &ruleset.Rule{Recipe: "echo"}, Group: g, Prereqs: prereqs}
	g.Members = []*plan.Node{n}
	return n
}

func TestEvaluateSourceIsAlwaysSkip(t *testing.T) {
	n := sourceNode("a.c")
	got := Evaluate(&Context{AlwaysBuild: true}, n)
	if got.Decision != Skip {
		t.Errorf("got %v, want Skip", got.Decision)
	}
}

func TestEvaluateForceRebuildsEvenFreshNode(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	target := builtNode(t, dir, "out.o", now)
	got := Evaluate(&Context{AlwaysBuild: true}, target)
	if got.Decision != Run {
		t.Errorf("got %v, want Run", got.Decision)
	}
}

func TestEvaluatePureAggregatorAlwaysSkips(t *testing.T) {
	g := plan.NewGroup()
	n := &plan.Node{Name: "all", Rule: &ruleset.Rule{}, Group: g}
	g.Members = []*plan.Node{n}
	got := Evaluate(&Context{AlwaysBuild: true}, n)
	if got.Decision != Skip {
		t.Errorf("got %v, want Skip (a recipeless aggregator has nothing to run, even under -B)", got.Decision)
	}
}

func TestEvaluateRuleAlwaysBuild(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	target := builtNode(t, dir, "out.o", now)
	target.Rule.AlwaysBuild = true
	got := Evaluate(&Context{}, target)
	if got.Decision != Run {
		t.Errorf("got %v, want Run", got.Decision)
	}
}

func TestEvaluateMissingOutputForcesRun(t *testing.T) {
	dir := t.TempDir()
	g := plan.NewGroup()
	missing := &plan.Node{Name: filepath.Join(dir, "gone.o"), Rule: &ruleset.Rule{Recipe: "echo"}, Group: g}
	g.Members = []*plan.Node{missing}
	got := Evaluate(&Context{}, missing)
	if got.Decision != Run {
		t.Errorf("got %v, want Run", got.Decision)
	}
}

func TestEvaluateStalePrereqForcesRun(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	src := sourceNode(filepath.Join(dir, "a.c"))
	writeFile(t, src.Name, base.Add(time.Minute))
	target := builtNode(t, dir, "a.o", base, src)

	got := Evaluate(&Context{}, target)
	if got.Decision != Run {
		t.Errorf("got %v, want Run", got.Decision)
	}
	if len(got.TouchOnRerun) != 0 {
		t.Errorf("Run decisions should not populate TouchOnRerun, got %v", got.TouchOnRerun)
	}
}

func TestEvaluateUpToDateIsSkip(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	src := sourceNode(filepath.Join(dir, "a.c"))
	writeFile(t, src.Name, base.Add(-time.Minute))
	target := builtNode(t, dir, "a.o", base, src)

	got := Evaluate(&Context{}, target)
	if got.Decision != Skip {
		t.Errorf("got %v, want Skip", got.Decision)
	}
}

func TestEvaluateRebuiltPrereqForcesRunRegardlessOfMtime(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	prereq := builtNode(t, dir, "lib.o", base.Add(-time.Minute))
	prereq.Group.Finish(plan.OutcomeBuilt, nil)
	target := builtNode(t, dir, "out.o", base, prereq)

	got := Evaluate(&Context{}, target)
	if got.Decision != Run {
		t.Errorf("got %v, want Run (a freshly-rebuilt prereq always triggers a rebuild)", got.Decision)
	}
}

func TestMatchesPretendGlob(t *testing.T) {
	c := &Context{PretendPatterns: []string{"*.o"}}
	if !c.MatchesPretend("foo.o") {
		t.Error("expected foo.o to match *.o")
	}
	if c.MatchesPretend("foo.c") {
		t.Error("expected foo.c not to match *.o")
	}
}

func TestEvaluatePretendRecordsTouchOnRerunTriggers(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	src := sourceNode(filepath.Join(dir, "a.c"))
	writeFile(t, src.Name, base.Add(time.Minute))
	target := builtNode(t, dir, "a.o", base, src)

	ctx := &Context{PretendPatterns: []string{filepath.Join(dir, "a.o")}}
	got := Evaluate(ctx, target)
	if got.Decision != Pretend {
		t.Fatalf("got %v, want Pretend", got.Decision)
	}
	if len(got.TouchOnRerun) != 1 || got.TouchOnRerun[0] != src {
		t.Errorf("got TouchOnRerun %v, want [src]", got.TouchOnRerun)
	}
}

func TestEvaluatePretendTakesPrecedenceOverForce(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	src := sourceNode(filepath.Join(dir, "a.c"))
	writeFile(t, src.Name, base.Add(time.Minute))
	target := builtNode(t, dir, "a.o", base, src)

	ctx := &Context{AlwaysBuild: true, PretendPatterns: []string{filepath.Join(dir, "a.o")}}
	got := Evaluate(ctx, target)
	if got.Decision != Pretend {
		t.Errorf("got %v, want Pretend (a pretended node must not rebuild even under -B, §4.3.1 Grade 3)", got.Decision)
	}
}

// A pure aggregator used as a prerequisite has no file of its own; it must
// transparently defer to whether its OWN prerequisites are stale, rather
// than forcing every dependent to rebuild on every single run just because
// the aggregator itself has no mtime to compare.
func TestEvaluateAggregatorPrereqIsTransparentWhenUpToDate(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	src := sourceNode(filepath.Join(dir, "a.c"))
	writeFile(t, src.Name, base.Add(-time.Minute))
	leaf := builtNode(t, dir, "a.o", base, src)

	aggGroup := plan.NewGroup()
	agg := &plan.Node{Name: "all", Rule: &ruleset.Rule{}, Group: aggGroup, Prereqs: []*plan.Node{leaf}}
	aggGroup.Members = []*plan.Node{agg}

	dependentGroup := plan.NewGroup()
	dependent := &plan.Node{
		Name:    filepath.Join(dir, "report"),
		Rule:    &ruleset.Rule{Recipe: "echo"},
		Group:   dependentGroup,
		Prereqs: []*plan.Node{agg},
	}
	writeFile(t, dependent.Name, base.Add(time.Hour))
	dependentGroup.Members = []*plan.Node{dependent}

	got := Evaluate(&Context{}, dependent)
	if got.Decision != Skip {
		t.Errorf("got %v, want Skip (aggregator's own prereq is up to date, so the dependent should not rebuild)", got.Decision)
	}
}

func TestEvaluateAggregatorPrereqPropagatesStaleness(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	src := sourceNode(filepath.Join(dir, "a.c"))
	writeFile(t, src.Name, base.Add(-time.Minute))
	leaf := builtNode(t, dir, "a.o", base, src)
	// Simulate leaf having just been rebuilt earlier in this same build
	// run (as the scheduler would mark it before evaluating dependents).
	leaf.Group.Finish(plan.OutcomeBuilt, nil)

	aggGroup := plan.NewGroup()
	agg := &plan.Node{Name: "all", Rule: &ruleset.Rule{}, Group: aggGroup, Prereqs: []*plan.Node{leaf}}
	aggGroup.Members = []*plan.Node{agg}

	dependentGroup := plan.NewGroup()
	dependent := &plan.Node{
		Name:    filepath.Join(dir, "report"),
		Rule:    &ruleset.Rule{Recipe: "echo"},
		Group:   dependentGroup,
		Prereqs: []*plan.Node{agg},
	}
	writeFile(t, dependent.Name, base.Add(time.Hour))
	dependentGroup.Members = []*plan.Node{dependent}

	got := Evaluate(&Context{}, dependent)
	if got.Decision != Run {
		t.Errorf("got %v, want Run (leaf under the aggregator is stale, so the dependent should rebuild)", got.Decision)
	}
	if _, triggers := wouldRun(dependent); len(triggers) != 1 || triggers[0] != agg {
		t.Errorf("got triggers %v, want [agg] (the direct prerequisite, not the deep leaf)", triggers)
	}
}

func TestEvaluatePretendWithNoTrigger(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	src := sourceNode(filepath.Join(dir, "a.c"))
	writeFile(t, src.Name, base.Add(-time.Minute))
	target := builtNode(t, dir, "a.o", base, src)

	ctx := &Context{PretendPatterns: []string{filepath.Join(dir, "a.o")}}
	got := Evaluate(ctx, target)
	if got.Decision != Pretend {
		t.Fatalf("got %v, want Pretend", got.Decision)
	}
	if len(got.TouchOnRerun) != 0 {
		t.Errorf("got TouchOnRerun %v, want none (nothing would have triggered a rebuild)", got.TouchOnRerun)
	}
}
