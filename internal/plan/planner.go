// Planner (§4.2). Grounded on friedelschoen-mk's mk.go "buildgraph" /
// Graph.Build recursive-descent expansion style, generalized with:
//   - output-group instantiation (one Node per declared output, §3, §4.2
//     step 4),
//   - the soft-cycle/hard-cycle distinction of §4.2 step 6, resolved here
//     by letting a rule's Outputs templates double as secondary match
//     patterns (see findRule) so a target reached only via another rule's
//     output list can still be discovered,
//   - depfile-triggered re-planning during scheduling (§4.2 "Depfile
//     expansion happens later"), exposed as PlanAdditionalPrereq.
package plan

import (
	"fmt"
	"os"
	"sync"

	"github.com/texttheater/produce/internal/eval"
	"github.com/texttheater/produce/internal/produceerr"
	"github.com/texttheater/produce/internal/ruleset"
)

// Planner resolves target names into a Node DAG, memoized by name (§4.2
// contract: "plan(target_name) -> Node, memoized").
type Planner struct {
	RuleSet *ruleset.RuleSet
	Eval    eval.Evaluator

	mu    sync.Mutex
	nodes map[string]*Node

	// outputPatterns caches each rule's compiled Outputs templates so a
	// target that is only ever named as a side-output can still resolve
	// to the rule that produces it (see findRule).
	outputPatterns map[*ruleset.Rule][]*ruleset.Pattern
}

// New returns a Planner over rs using ev as the host expression evaluator.
func New(rs *ruleset.RuleSet, ev eval.Evaluator) *Planner {
	return &Planner{
		RuleSet:        rs,
		Eval:           ev,
		nodes:          map[string]*Node{},
		outputPatterns: map[*ruleset.Rule][]*ruleset.Pattern{},
	}
}

// Plan resolves a top-level target name into its Node, planning its entire
// prerequisite subgraph.
func (p *Planner) Plan(target string) (*Node, error) {
	return p.plan(target, nil)
}

// PlanAdditionalPrereq plans a name discovered by depfile parsing after a
// recipe has run (§4.2, §4.6) and returns its Node, to be appended as an
// extra prerequisite of the consuming target. No cycle stack applies here:
// a depfile is data produced by a prior, already-successful build step, not
// part of the original request's recursive expansion.
func (p *Planner) PlanAdditionalPrereq(name string) (*Node, error) {
	return p.plan(name, nil)
}

// Node returns an already-planned Node by name, if any.
func (p *Planner) Node(name string) (*Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[name]
	return n, ok
}

func (p *Planner) plan(target string, stack []string) (*Node, error) {
	// The cycle check must run before the memo lookup: registerNode adds
	// a rule's primary target to p.nodes before its own prerequisites are
	// expanded, so a true cycle (a target that depends on an ancestor
	// still being expanded higher up this very call stack) would
	// otherwise find that ancestor "already planned" and return it
	// silently instead of being caught here.
	for _, s := range stack {
		if s == target {
			return nil, &produceerr.CyclicDependency{Path: append(append([]string{}, stack...), target)}
		}
	}

	p.mu.Lock()
	if n, ok := p.nodes[target]; ok {
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	stack = append(stack, target)

	rule, binding, viaPrimary, found := p.findRule(target)
	if !found {
		if fileExists(target) {
			return p.registerSource(target), nil
		}
		return nil, &produceerr.NoRule{Target: target}
	}

	if !viaPrimary {
		primaryName, err := ruleset.ExpandTemplate(rule.TargetPattern.Source, binding, p.Eval)
		if err != nil {
			return nil, &produceerr.ExpansionError{Template: rule.TargetPattern.Source, Cause: err}
		}
		if _, err := p.plan(primaryName, stack); err != nil {
			return nil, err
		}
		p.mu.Lock()
		n, ok := p.nodes[target]
		p.mu.Unlock()
		if !ok {
			return nil, &produceerr.NoRule{Target: target}
		}
		return n, nil
	}

	return p.planPrimary(target, rule, binding, stack)
}

func (p *Planner) planPrimary(target string, rule *ruleset.Rule, binding ruleset.Binding, stack []string) (*Node, error) {
	group := NewGroup()
	primary := p.registerNode(target, rule, binding, group)
	members := []*Node{primary}

	for _, outTmpl := range rule.Outputs {
		outName, err := ruleset.ExpandTemplate(outTmpl, binding, p.Eval)
		if err != nil {
			return nil, &produceerr.ExpansionError{Template: outTmpl, Cause: err}
		}
		if outName == target {
			continue
		}

		p.mu.Lock()
		_, already := p.nodes[outName]
		p.mu.Unlock()
		if already {
			return nil, &produceerr.CyclicDependency{Path: append(append([]string{}, stack...), outName)}
		}

		outNode := p.registerNode(outName, rule, binding, group)
		members = append(members, outNode)
	}
	group.Members = members

	for _, pt := range rule.Prereqs {
		depName, err := ruleset.ExpandTemplate(pt, binding, p.Eval)
		if err != nil {
			return nil, &produceerr.ExpansionError{Template: pt, Cause: err}
		}
		depNode, err := p.plan(depName, stack)
		if err != nil {
			return nil, err
		}
		primary.Prereqs = append(primary.Prereqs, depNode)
	}
	for _, pt := range rule.TypePrereqs {
		depfilePath, err := ruleset.ExpandTemplate(pt, binding, p.Eval)
		if err != nil {
			return nil, &produceerr.ExpansionError{Template: pt, Cause: err}
		}
		primary.TypePrereqPaths = append(primary.TypePrereqPaths, depfilePath)
	}

	if rule.Recipe == "" && len(rule.Outputs) > 0 {
		return nil, fmt.Errorf("%s:%d: rule for `%s` has no recipe but declares outputs of its own; a pure aggregator (§3) may only gather other rules' prerequisites, not produce outputs", rule.OriginPath, rule.OriginLine, target)
	}

	return primary, nil
}

// findRule looks for a rule whose primary target_pattern matches target
// (§4.2 step 2); failing that, it falls back to each rule's Outputs
// templates, compiled as patterns using the same ${name} grammar, so a
// target named only as a side-output (e.g. a generated header alongside a
// primary .c->.o rule) can still be resolved (§4.2 step 6 soft cycles; see
// DESIGN.md for the worked example this generalizes from
// test_soft_cycle).
func (p *Planner) findRule(target string) (rule *ruleset.Rule, binding ruleset.Binding, viaPrimary bool, found bool) {
	for _, r := range p.RuleSet.Rules {
		if b, ok := r.TargetPattern.Match(target); ok {
			return r, b, true, true
		}
	}
	for _, r := range p.RuleSet.Rules {
		for _, pat := range p.compiledOutputPatterns(r) {
			if b, ok := pat.Match(target); ok {
				return r, b, false, true
			}
		}
	}
	return nil, nil, false, false
}

func (p *Planner) compiledOutputPatterns(r *ruleset.Rule) []*ruleset.Pattern {
	p.mu.Lock()
	if pats, ok := p.outputPatterns[r]; ok {
		p.mu.Unlock()
		return pats
	}
	p.mu.Unlock()

	var pats []*ruleset.Pattern
	for _, tmpl := range r.Outputs {
		if pat, err := ruleset.CompilePattern(tmpl); err == nil {
			pats = append(pats, pat)
		}
	}

	p.mu.Lock()
	p.outputPatterns[r] = pats
	p.mu.Unlock()
	return pats
}

func (p *Planner) registerNode(name string, rule *ruleset.Rule, binding ruleset.Binding, group *Group) *Node {
	n := &Node{Name: name, Rule: rule, Binding: binding, Group: group}
	p.mu.Lock()
	p.nodes[name] = n
	p.mu.Unlock()
	return n
}

func (p *Planner) registerSource(name string) *Node {
	n := &Node{Name: name, Group: NewFreshGroup()}
	p.mu.Lock()
	p.nodes[name] = n
	p.mu.Unlock()
	return n
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
