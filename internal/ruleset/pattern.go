// Target pattern compilation (§4.1). Grounded on
// original_source/produce/rules.py's parse_target, which walks a target
// string character by character building a regexp with one named capture
// group per ${name} hole. Go's regexp package forbids two capture groups
// from sharing a name, so Produce assigns each occurrence of a repeated
// hole its own internal group and checks after a match that every group
// sharing a logical name captured the same substring — the backreference
// semantics §4.1 asks for ("multiple occurrences of the same name must
// agree").
package ruleset

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled target_pattern: it matches a candidate target
// string and, on success, returns a Binding of hole name to captured
// substring.
type Pattern struct {
	Source string
	re     *regexp.Regexp
	// groupsByHole maps a logical hole name to the (possibly several,
	// if repeated) internal regexp group names capturing it.
	groupsByHole map[string][]string
}

// Binding maps a pattern hole name (or, for prereq/recipe expansion, any
// other variable name) to its value.
type Binding = map[string]string

// CompilePattern compiles a target_pattern of literal text, "$$" (escaped
// "$"), and "${name}" (named, non-empty hole) into a Pattern.
func CompilePattern(source string) (*Pattern, error) {
	var sb strings.Builder
	sb.WriteString("^")

	groups := map[string][]string{}
	occurrence := map[string]int{}

	rest := source
	for len(rest) > 0 {
		switch {
		case strings.HasPrefix(rest, "$$"):
			sb.WriteString(regexp.QuoteMeta("$"))
			rest = rest[2:]

		case strings.HasPrefix(rest, "${"):
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				return nil, fmt.Errorf("unclosed ${ in target pattern %q", source)
			}
			name := rest[2:end]
			if !isIdent(name) {
				return nil, fmt.Errorf("invalid hole name %q in target pattern %q", name, source)
			}
			occurrence[name]++
			groupName := fmt.Sprintf("%s__%d", sanitizeGroup(name), occurrence[name])
			groups[name] = append(groups[name], groupName)
			sb.WriteString(fmt.Sprintf("(?P<%s>.+)", groupName))
			rest = rest[end+1:]

		default:
			// Copy one rune of literal text, quoted.
			r := []rune(rest)
			sb.WriteString(regexp.QuoteMeta(string(r[0])))
			rest = string(r[1:])
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("compiling target pattern %q: %w", source, err)
	}

	return &Pattern{Source: source, re: re, groupsByHole: groups}, nil
}

// Match attempts to match target against the pattern. It returns the
// Binding and true on success, or false if the target does not match or a
// repeated hole's occurrences disagree.
func (p *Pattern) Match(target string) (Binding, bool) {
	m := p.re.FindStringSubmatch(target)
	if m == nil {
		return nil, false
	}
	names := p.re.SubexpNames()

	captured := make(map[string]string, len(names))
	for i, n := range names {
		if n == "" {
			continue
		}
		captured[n] = m[i]
	}

	binding := make(Binding, len(p.groupsByHole))
	for hole, groupNames := range p.groupsByHole {
		first := captured[groupNames[0]]
		for _, g := range groupNames[1:] {
			if captured[g] != first {
				return nil, false
			}
		}
		binding[hole] = first
	}
	return binding, true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}

// sanitizeGroup is a no-op for valid identifiers (isIdent already
// guarantees the name is regexp-group-name-safe); kept separate from
// isIdent so a future, looser hole-name grammar only needs to change this
// function.
func sanitizeGroup(name string) string {
	return name
}
