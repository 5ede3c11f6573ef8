// Package plan implements the Planner (§4.2) and the Node/Graph data model
// (§3) on top of internal/ruleset's RuleSet. Grounded on friedelschoen-mk's
// mk.go node/edge state machine (nodeStatusReady/Started/Done/Nop/Failed),
// generalized to the richer Fresh/Planned/Ready/Running/Done/Failed model
// §3 calls for, plus output-group coalescing (§4.3.2) the teacher's single-
// output assumption never needed.
package plan

import (
	"os"
	"sync"
	"time"

	"github.com/texttheater/produce/internal/ruleset"
)

// Node is one instantiated target (§3 "Node (instantiated target)").
type Node struct {
	Name    string
	Rule    *ruleset.Rule // nil for a leaf source file
	Binding ruleset.Binding

	// Prereqs are ordinary prerequisites: their freshness is checked
	// against this Node's (§4.3 rule 6). Depfile discovery (§4.6) appends
	// to this same slice once a recipe's declared type-prereq file is
	// parsed, since a discovered dependency is, from then on, exactly an
	// ordinary prerequisite.
	Prereqs []*Node

	// TypePrereqPaths are the expanded `type.<label>` templates: file
	// names to be read, if present, as depfiles before this Node's
	// freshness is evaluated (§4.2 "depfile expansion", §4.6). They name
	// files, not Nodes — a depfile need not exist, or match any rule, at
	// plan time, since a recipe may be the one that first creates it.
	TypePrereqPaths []string

	// Group is the set of Nodes (including this one) that share one
	// recipe execution (§3 "Multi-output groups"; §4.3.2).
	Group *Group

	mtimeMu      sync.Mutex
	mtimeKnown   bool
	mtimeMissing bool
	mtimeVal     time.Time
}

// IsSource reports whether this Node has no owning rule (a leaf file that
// existed on disk at plan time, per §4.2 step 3).
func (n *Node) IsSource() bool {
	return n.Rule == nil
}

// Stat returns the Node's mtime, consulting and populating mtime_cache
// (§3). A missing file reports ok=false.
func (n *Node) Stat() (t time.Time, ok bool) {
	n.mtimeMu.Lock()
	defer n.mtimeMu.Unlock()
	if n.mtimeKnown {
		return n.mtimeVal, !n.mtimeMissing
	}
	n.statLocked()
	return n.mtimeVal, !n.mtimeMissing
}

func (n *Node) statLocked() {
	info, err := os.Stat(n.Name)
	if err != nil {
		n.mtimeMissing = true
		n.mtimeKnown = true
		return
	}
	n.mtimeVal = info.ModTime()
	n.mtimeMissing = false
	n.mtimeKnown = true
}

// Refresh forces a re-stat of the underlying file, discarding any cached
// value. §4.3.2: "After the recipe ends, mtimes of all declared outputs are
// re-stat'd to refresh the cache."
func (n *Node) Refresh() {
	n.mtimeMu.Lock()
	defer n.mtimeMu.Unlock()
	n.mtimeKnown = false
	n.statLocked()
}

// Touch sets the cached mtime directly without touching the filesystem.
// The scheduler uses it in place of TouchDisk for the Grade 2 leaf touch
// during a dry run (-n), where nothing is written to disk.
func (n *Node) Touch(t time.Time) {
	n.mtimeMu.Lock()
	defer n.mtimeMu.Unlock()
	n.mtimeVal = t
	n.mtimeMissing = false
	n.mtimeKnown = true
}

// TouchDisk advances this Node's file to mtime t on disk (os.Chtimes) and
// then updates the in-memory cache to match. This backs the pretend-up-
// to-date Grade 2 "touch the leaf input" behavior (§4.3.1): since every
// produce invocation starts from a freshly-stat'd graph, only a real
// on-disk mtime change — not an in-process cache entry — is visible to a
// later, non-pretend run.
func (n *Node) TouchDisk(t time.Time) error {
	if err := os.Chtimes(n.Name, t, t); err != nil {
		return err
	}
	n.Touch(t)
	return nil
}
