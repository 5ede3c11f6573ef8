// produce.ini parsing (§6 "Build file"). Grounded on friedelschoen-mk's
// parser.go Graph.parseFile / parseLine line-oriented scanning loop, adapted
// from mk's colon-rule syntax to produce.ini's section-per-rule syntax:
// a "[target_pattern]" header followed by indented-continuation
// "key: value" attribute lines, per §6's attribute table.
package ruleset

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/texttheater/produce/internal/produceerr"
)

// section accumulates one build-file rule while it is being parsed.
type section struct {
	pattern    string
	originLine int

	// entries preserves insertion order of every attribute line, one
	// *attrEntry per occurrence (mirroring §4.1's "ordered list of
	// templates"). Repeated keys — most commonly several "dep.<label>"
	// lines — are deliberately allowed and each keeps its own entry; a
	// map keyed by the raw key string would collide two occurrences of
	// the exact same key into one.
	entries []*attrEntry
}

type attrEntry struct {
	key        string
	value      strings.Builder
	indentWid  int
	sawIndent  bool
	continued  bool
	firstValue bool
}

// ParseFile parses a produce.ini build file into a RuleSet.
func ParseFile(r io.Reader, path string) (*RuleSet, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	rs := &RuleSet{}
	var cur *section
	lineNo := 0

	flush := func() error {
		if cur == nil {
			return nil
		}
		rule, err := buildRule(cur, path)
		if err != nil {
			return err
		}
		rs.Rules = append(rs.Rules, rule)
		cur = nil
		return nil
	}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()

		if strings.TrimSpace(raw) == "" {
			continue
		}
		trimmed := strings.TrimLeft(raw, " \t")
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		isIndented := len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t')

		if !isIndented && strings.HasPrefix(trimmed, "[") {
			if !strings.HasSuffix(trimmed, "]") {
				return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: lineNo, Message: "unclosed '[' in section header"}
			}
			if err := flush(); err != nil {
				return nil, err
			}
			cur = &section{
				pattern:    trimmed[1 : len(trimmed)-1],
				originLine: lineNo,
			}
			continue
		}

		if cur == nil {
			return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: lineNo, Message: "attribute line outside of any [target_pattern] section"}
		}

		if isIndented {
			if len(cur.entries) == 0 {
				return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: lineNo, Message: "continuation line with no preceding attribute"}
			}
			appendContinuation(cur.entries[len(cur.entries)-1], raw)
			continue
		}

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: lineNo, Message: "expected 'key: value'"}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: lineNo, Message: "empty attribute key"}
		}

		entry := &attrEntry{key: key}
		entry.value.WriteString(value)
		entry.firstValue = value != ""
		cur.entries = append(cur.entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, &produceerr.BuildFileIOError{Path: path, Cause: err}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return rs, nil
}

// appendContinuation folds an indented line into the value of the attribute
// it continues, stripping the indentation established by the first
// continuation line — the same "strip to a common column" behavior as
// friedelschoen-mk's recipe.go stripIndentation, so a recipe block written
// at the build file's own indentation level begins at column 0.
func appendContinuation(entry *attrEntry, raw string) {
	lead := 0
	for lead < len(raw) && (raw[lead] == ' ' || raw[lead] == '\t') {
		lead++
	}
	if !entry.sawIndent {
		entry.indentWid = lead
		entry.sawIndent = true
	}
	strip := entry.indentWid
	if strip > lead {
		strip = lead
	}
	line := raw[strip:]

	if entry.firstValue || entry.continued {
		entry.value.WriteString("\n")
	}
	entry.value.WriteString(line)
	entry.continued = true
}

// buildRule compiles a section's accumulated pattern + attributes into a
// Rule. It rejects an empty target pattern itself; whether a rule without a
// recipe is acceptable is left to the planner (Planner.planPrimary).
func buildRule(s *section, path string) (*Rule, error) {
	if strings.TrimSpace(s.pattern) == "" {
		return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: s.originLine, Message: "empty target pattern"}
	}
	pat, err := CompilePattern(s.pattern)
	if err != nil {
		return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: s.originLine, Message: err.Error()}
	}

	r := &Rule{
		TargetPattern: pat,
		Parallelism:   1,
		Shell:         "/bin/sh",
		OriginPath:    path,
		OriginLine:    s.originLine,
	}

	for _, entry := range s.entries {
		value := entry.value.String()
		switch {
		case entry.key == "recipe":
			r.Recipe = value
		case entry.key == "parallelism":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: s.originLine, Message: fmt.Sprintf("invalid parallelism %q", value)}
			}
			r.Parallelism = n
		case entry.key == "always_build":
			b, err := parseBool(value)
			if err != nil {
				return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: s.originLine, Message: err.Error()}
			}
			r.AlwaysBuild = b
		case entry.key == "shell":
			r.Shell = value
		case entry.key == "outputs":
			r.Outputs = append(r.Outputs, strings.Fields(value)...)
		case strings.HasPrefix(entry.key, "dep."):
			r.Prereqs = append(r.Prereqs, value)
		case strings.HasPrefix(entry.key, "type."):
			r.TypePrereqs = append(r.TypePrereqs, value)
		case strings.HasPrefix(entry.key, "out."):
			r.Outputs = append(r.Outputs, value)
		default:
			return nil, &produceerr.BuildFileSyntaxError{Path: path, Line: s.originLine, Message: fmt.Sprintf("unknown attribute %q", entry.key)}
		}
	}

	return r, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}
