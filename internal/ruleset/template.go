// Prerequisite/recipe/output template expansion (§4.1): "${name}" holes plus
// embedded expressions the host evaluator resolves. Produce treats the
// evaluator as opaque; this file only tokenizes far enough to find hole/
// expression spans, respecting nested braces, and hands anything that is not
// a bare identifier off to an eval.Evaluator.
package ruleset

import (
	"fmt"
	"strings"

	"github.com/texttheater/produce/internal/eval"
)

// ExpandTemplate expands every "${...}" span in template against binding.
// A span whose inner text is a bare identifier is looked up directly in
// binding (falling back to the empty string if absent, matching how the
// teacher's expand.go treats an unset mk variable as empty rather than an
// error). Any other span is passed to ev as an embedded expression.
// "$$" is the escape for a literal "$".
func ExpandTemplate(template string, binding eval.Binding, ev eval.Evaluator) (string, error) {
	var out strings.Builder
	rest := template

	for len(rest) > 0 {
		switch {
		case strings.HasPrefix(rest, "$$"):
			out.WriteByte('$')
			rest = rest[2:]

		case strings.HasPrefix(rest, "${"):
			inner, remainder, err := scanBraceSpan(rest[2:])
			if err != nil {
				return "", fmt.Errorf("in template %q: %w", template, err)
			}
			rest = remainder

			if isIdent(inner) {
				out.WriteString(binding[inner])
				continue
			}

			val, err := ev.Evaluate(inner, binding)
			if err != nil {
				return "", fmt.Errorf("in template %q: %w", template, err)
			}
			out.WriteString(val)

		default:
			r := []rune(rest)
			out.WriteRune(r[0])
			rest = string(r[1:])
		}
	}

	return out.String(), nil
}

// scanBraceSpan consumes input up to (and past) the brace that matches the
// "${" already consumed by the caller, respecting nested "{"/"}" so that an
// embedded expression may itself contain braces (§4.1: "Braces inside
// expressions are respected by the tokenizer"). It returns the span's inner
// text and the remainder of input after the closing brace.
func scanBraceSpan(input string) (inner string, remainder string, err error) {
	depth := 1
	for i, r := range input {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return input[:i], input[i+1:], nil
			}
		}
	}
	return "", "", fmt.Errorf("mismatched braces")
}
