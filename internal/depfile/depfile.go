// Package depfile parses the Makefile-fragment files a recipe may emit to
// declare prerequisites discovered at recipe time rather than at build-file
// authoring time (§4.6). Grounded on the word-splitting style of
// friedelschoen-mk's lex.go (bareword scanning on whitespace, backslash as
// an escape/continuation character) but trimmed to the one grammar rule
// depfiles actually need: "TARGETS : DEPS", continued across lines with a
// trailing backslash.
package depfile

import (
	"bufio"
	"io"
	"strings"

	"github.com/texttheater/produce/internal/produceerr"
)

// Entry is one "TARGETS : DEPS" record.
type Entry struct {
	Targets []string
	Deps    []string
}

// Parse reads a depfile and returns its entries in file order.
func Parse(r io.Reader, path string) ([]Entry, error) {
	logical, err := joinContinuations(r, path)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, line := range logical {
		line = stripComment(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		targetsPart, depsPart, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &produceerr.BuildFileSyntaxError{Path: path, Message: "depfile line missing ':'"}
		}
		entries = append(entries, Entry{
			Targets: strings.Fields(targetsPart),
			Deps:    strings.Fields(depsPart),
		})
	}
	return entries, nil
}

// DepsFor returns the union of Deps across every entry whose Targets
// includes name.
func DepsFor(entries []Entry, name string) []string {
	var deps []string
	seen := map[string]bool{}
	for _, e := range entries {
		for _, t := range e.Targets {
			if t != name {
				continue
			}
			for _, d := range e.Deps {
				if !seen[d] {
					seen[d] = true
					deps = append(deps, d)
				}
			}
			break
		}
	}
	return deps
}

// joinContinuations folds `\`-terminated lines into their successor,
// producing one logical line per record.
func joinContinuations(r io.Reader, path string) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var logical []string
	var acc strings.Builder
	continuing := false

	for scanner.Scan() {
		raw := scanner.Text()
		if continuing {
			acc.WriteString(" ")
		}
		trimmed := strings.TrimSuffix(raw, "\\")
		acc.WriteString(trimmed)
		continuing = strings.HasSuffix(raw, "\\")
		if !continuing {
			logical = append(logical, acc.String())
			acc.Reset()
		}
	}
	if continuing {
		logical = append(logical, acc.String())
	}
	if err := scanner.Err(); err != nil {
		return nil, &produceerr.BuildFileIOError{Path: path, Cause: err}
	}
	return logical, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}
