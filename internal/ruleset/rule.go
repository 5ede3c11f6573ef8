// Rule and RuleSet, the in-memory form of a parsed build file (§3 "Rule
// (from the build file)", §4.1). Pure data; consulted read-only after
// parsing, per §2 ("RuleSet ... Pure data; consulted read-only
// thereafter").
package ruleset

// Rule is one parsed and compiled build-file section.
type Rule struct {
	TargetPattern *Pattern

	// Prereqs are ordinary prerequisite templates, checked for freshness.
	Prereqs []string
	// TypePrereqs are depfile-consumer prerequisite templates: parsed,
	// not checked for freshness directly (§4.1, §4.6).
	TypePrereqs []string
	// Outputs are additional output templates forming this rule's output
	// group together with the primary target (§4.1, §4.3.2).
	Outputs []string

	Recipe      string
	Parallelism int
	AlwaysBuild bool
	Shell       string

	OriginPath string
	OriginLine int
}

// IsPureAggregator reports whether this rule has no recipe of its own — the
// "pure aggregator" case the invariant in §3 permits to have an empty
// recipe, and the condition §4.2's soft-cycle rule keys on.
func (r *Rule) IsPureAggregator() bool {
	return r.Recipe == ""
}

// RuleSet is the ordered list of declared rules (§4.1: "Rule ordering is
// file order").
type RuleSet struct {
	Rules []*Rule
}

// FindRule returns the first rule (in file order) whose target pattern
// matches target, along with the resulting binding.
func (rs *RuleSet) FindRule(target string) (*Rule, Binding, bool) {
	for _, r := range rs.Rules {
		if b, ok := r.TargetPattern.Match(target); ok {
			return r, b, true
		}
	}
	return nil, nil, false
}

// DefaultTarget returns the build file's first rule's primary target
// pattern source, used when produce is invoked with no targets (§6: "With
// no targets, build the file's first rule's primary target"). It only
// makes sense for rules whose pattern has no holes (a literal target);
// callers should treat a pattern-bearing first rule as "nothing to build".
func (rs *RuleSet) DefaultTarget() (string, bool) {
	if len(rs.Rules) == 0 {
		return "", false
	}
	first := rs.Rules[0]
	if len(first.TargetPattern.groupsByHole) > 0 {
		return "", false
	}
	if _, ok := first.TargetPattern.Match(first.TargetPattern.Source); ok {
		return first.TargetPattern.Source, true
	}
	return "", false
}
