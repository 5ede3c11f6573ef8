// Package fresh implements the freshness evaluator (§4.3): given a Node
// whose prerequisites have all reached a terminal state, decide whether its
// recipe should Run, be Skipped, or be Pretended fresh.
//
// Grounded on friedelschoen-mk's mk.go isOutdated()/mkNode() mtime
// comparison (a single, linear "is any prereq newer than the target"
// check), generalized to §4.3's priority-ordered rule list, output groups,
// and the §4.3.1 pretend-up-to-date grades. Per spec.md §9's explicit
// authorial decision, Grade 2's "touch the leaf" behavior is implemented
// (not the alternative, contradictory "leave the leaf alone" behavior also
// found in the upstream project's own test history) — see DESIGN.md.
package fresh

import (
	"path"
	"time"

	"github.com/texttheater/produce/internal/plan"
)

// Decision is the freshness evaluator's verdict for a Node.
type Decision int

const (
	Skip Decision = iota
	Run
	Pretend
)

func (d Decision) String() string {
	switch d {
	case Run:
		return "Run"
	case Pretend:
		return "Pretend"
	default:
		return "Skip"
	}
}

// Context carries the process-global build options the evaluator needs
// (§3 "Build context"). JobBudget and CLI flags unrelated to freshness
// live in internal/exec instead.
type Context struct {
	AlwaysBuild     bool
	PretendPatterns []string
}

// MatchesPretend reports whether name matches any -u pattern (§4.3.1,
// §6). Patterns use shell glob syntax (path.Match), the traditional
// meaning of a "pattern" on a make-alike's command line.
func (c *Context) MatchesPretend(name string) bool {
	for _, pat := range c.PretendPatterns {
		if ok, err := path.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Result is the evaluator's verdict plus, for a Pretend verdict, the
// direct prerequisites that would have triggered Run had the node not been
// pretended — candidates for the Grade 2 "touch the leaf" step. The
// scheduler touches them whenever some dependent of this node rebuilds,
// whatever caused that rebuild (Grade 1: if no dependent rebuilds, nothing
// is ever touched). Run and Skip verdicts leave it empty.
type Result struct {
	Decision     Decision
	TouchOnRerun []*plan.Node
}

// Evaluate decides a Node's freshness. Every prerequisite of n must
// already be in a terminal Group state (§4.4 ordering guarantee); Evaluate
// does not wait on anything itself.
func Evaluate(ctx *Context, n *plan.Node) Result {
	if n.IsSource() {
		return Result{Decision: Skip}
	}

	if n.Rule.IsPureAggregator() {
		// A pure aggregator (§3 invariant: "recipe non-empty unless the
		// rule is a pure aggregator") has no commands and produces no
		// file of its own; by the time Evaluate sees it, the scheduler
		// has already ensured its prerequisites, so there is nothing
		// left for it to do. Running its (empty) recipe would only fail
		// the missing-output check for a target that was never supposed
		// to produce one.
		return Result{Decision: Skip}
	}

	// -u (pretend) is checked before -B (force): §4.3.1 Grade 3 holds that
	// "the same behavior holds when -B is combined with -u" — a pretended
	// node is still not rebuilt, only its triggering leaves are touched
	// once some dependent does rebuild. Checking -B first would make a
	// pretended intermediate rebuild anyway, which defeats the entire
	// point of combining -u with -B (touch the leaves, not the
	// intermediates, then let a later plain run do the real rebuild).
	if ctx.MatchesPretend(n.Name) {
		_, triggers := wouldRun(n)
		return Result{Decision: Pretend, TouchOnRerun: triggers}
	}

	if ctx.AlwaysBuild {
		return Result{Decision: Run}
	}

	if n.Rule.AlwaysBuild {
		return Result{Decision: Run}
	}

	run, _ := wouldRun(n)
	if run {
		return Result{Decision: Run}
	}
	return Result{Decision: Skip}
}

// wouldRun applies §4.3 rules 5 and 6 (missing output, stale prerequisite),
// ignoring whether n itself is pretended or force-flagged — callers decide
// what to do with the answer. It also reports which direct prerequisites
// individually drove a "yes" (for Grade 2 touch-leaf bookkeeping).
func wouldRun(n *plan.Node) (bool, []*plan.Node) {
	minOut, anyMissing := groupMinMtime(n.Group)
	if anyMissing {
		return true, nil
	}

	run := false
	var triggers []*plan.Node
	for _, p := range n.Prereqs {
		if prereqTriggersRun(p, minOut) {
			run = true
			triggers = append(triggers, p)
		}
	}
	return run, triggers
}

// prereqTriggersRun decides whether a single direct prerequisite forces a
// rebuild. A pure aggregator prerequisite (§3) produces no file of its own
// to compare mtimes against — by design, it never itself drives the
// missing-output or stale-mtime checks below. Instead it is transparent:
// it forces a rebuild exactly when one of ITS OWN prerequisites would
// have, recursing through any chain of aggregators. This is the phony-
// target idiom (an aggregator standing in for "any of these changed")
// rather than a gap in the mtime model.
func prereqTriggersRun(p *plan.Node, minOut time.Time) bool {
	if p.Rule != nil && p.Rule.IsPureAggregator() {
		for _, pp := range p.Prereqs {
			if prereqTriggersRun(pp, minOut) {
				return true
			}
		}
		return false
	}
	if p.Group.State() == plan.StateDone && p.Group.OutcomeValue() == plan.OutcomeBuilt {
		return true
	}
	t, ok := p.Stat()
	if ok {
		return t.After(minOut)
	}
	// A non-source prereq whose own output vanished between its
	// evaluation and ours; treat as stale.
	return true
}

// groupMinMtime returns the minimum mtime across a group's member outputs
// (§4.3 rule 5/6: "mtime of any file in N's output group"; "min{mtime(out)
// for out in group(N)}"), and whether any member is missing (which alone
// forces Run).
func groupMinMtime(g *plan.Group) (time.Time, bool) {
	var min time.Time
	first := true
	for _, m := range g.Members {
		t, ok := m.Stat()
		if !ok {
			return time.Time{}, true
		}
		if first || t.Before(min) {
			min = t
			first = false
		}
	}
	return min, false
}
