// Default Evaluator implementation, backed by github.com/jmespath/go-jmespath
// — one of the teacher repo's declared-but-unwired dependencies (it ships
// transitively via aws-sdk-go in friedelschoen-mk's go.mod). Produce gives it
// a direct, exercised role: the whole inner text of a ${...} span that is
// not a bare identifier is evaluated as a JMESPath query against the current
// variable binding. No "expr:" prefix is recognised; the text is passed to
// JMESPath as it stands.
package eval

import (
	"fmt"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// listSeparator joins multi-valued binding entries so they survive through
// the string-keyed Binding map and still present as a JSON array to
// JMESPath queries. The planner's bindings hold only the target pattern's
// hole captures; it adds no multi-valued entries (no "prereqs" or
// "outputs" variables) of its own.
const listSeparator = "\x1f"

// JoinList joins values for a multi-valued binding entry.
func JoinList(values []string) string {
	return strings.Join(values, listSeparator)
}

// JMESPathEvaluator evaluates embedded expressions as JMESPath queries
// against the binding, converting multi-valued entries (joined with
// listSeparator) into JSON arrays and everything else into plain strings.
type JMESPathEvaluator struct{}

func (JMESPathEvaluator) Evaluate(expr string, binding Binding) (string, error) {
	data := make(map[string]interface{}, len(binding))
	for k, v := range binding {
		if strings.Contains(v, listSeparator) {
			parts := strings.Split(v, listSeparator)
			vals := make([]interface{}, len(parts))
			for i, p := range parts {
				vals[i] = p
			}
			data[k] = vals
		} else {
			data[k] = v
		}
	}

	result, err := jmespath.Search(expr, data)
	if err != nil {
		return "", fmt.Errorf("jmespath: %w", err)
	}
	return stringify(result), nil
}

// stringify renders a JMESPath result the way a recipe template wants to
// see it: scalars print bare, lists join on a single space (mirroring how
// Produce joins multi-valued prereq lists elsewhere), nil renders empty.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", t)
	}
}
