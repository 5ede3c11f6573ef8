// Group coalescing (§3 "Multi-output groups", §4.3.2, §9 design notes:
// "Output groups are modeled as a shared set object referenced by each
// member Node; create it once at planning, mutate never afterwards except
// for the single Done transition, guarded by a one-shot event.")
package plan

import "sync"

// Outcome is the terminal disposition of a Group's single execution.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeBuilt
	OutcomeSkipped
	OutcomePretended
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBuilt:
		return "Built"
	case OutcomeSkipped:
		return "Skipped"
	case OutcomePretended:
		return "Pretended"
	default:
		return "None"
	}
}

// State is a Group's position in the §3 state machine
// (Planned -> Ready -> Running -> Done|Failed). Fresh is reserved for
// source nodes, whose singleton Group is created already terminal.
type State int

const (
	StatePlanned State = iota
	StateReady
	StateRunning
	StateDone
	StateFailed
	StateFresh
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	case StateFresh:
		return "Fresh"
	default:
		return "Planned"
	}
}

// Group is the shared execution unit for one or more Nodes produced by a
// single recipe invocation (or, for a source Node, a singleton containing
// just itself).
type Group struct {
	Members []*Node

	mu      sync.Mutex
	state   State
	outcome Outcome
	err     error
	claimed bool
	done    chan struct{}

	// pendingTouch holds the direct prerequisites that would have
	// triggered a rebuild of this Group, had it not been pretended
	// fresh (§4.3.1 Grade 2). Set once, by FinishPretend, by whoever
	// evaluated this Group's freshness; read by any dependent that ends up
	// rebuilding, whatever the cause, so it can touch those prerequisites'
	// mtimes forward in turn.
	pendingTouch []*Node
}

// NewGroup returns a fresh, unstarted Group.
func NewGroup() *Group {
	return &Group{state: StatePlanned, done: make(chan struct{})}
}

// NewFreshGroup returns a Group already in its terminal Fresh state, for a
// source Node (§4.3 rule 1: "If R is absent (pure source) -> Skip").
func NewFreshGroup() *Group {
	g := &Group{state: StateFresh, done: make(chan struct{})}
	close(g.done)
	return g
}

// State returns the current state.
func (g *Group) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SetReady transitions Planned -> Ready, once every prereq has completed.
func (g *Group) SetReady() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StatePlanned {
		g.state = StateReady
	}
}

// TryClaim returns true exactly once across however many of the Group's
// member-owning tasks call it concurrently — the caller that receives true
// is responsible for running (or skipping) the recipe and calling Finish;
// every other caller should block on Wait instead. This is the "exactly
// one recipe invocation" guarantee of §4.3.2 and invariant 1 of §8.
func (g *Group) TryClaim() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed {
		return false
	}
	g.claimed = true
	g.state = StateRunning
	return true
}

// Finish records the Group's terminal outcome and wakes every waiter. Must
// be called exactly once, by whichever task's TryClaim returned true.
func (g *Group) Finish(outcome Outcome, err error) {
	g.mu.Lock()
	g.outcome = outcome
	g.err = err
	if err != nil {
		g.state = StateFailed
	} else {
		g.state = StateDone
	}
	g.mu.Unlock()
	close(g.done)
}

// FinishPretend is Finish(OutcomePretended, nil) plus recording the
// touch-on-rerun candidates a dependent consults once it has rebuilt
// (§4.3.1 Grade 2).
func (g *Group) FinishPretend(touchOnRerun []*Node) {
	g.mu.Lock()
	g.outcome = OutcomePretended
	g.pendingTouch = touchOnRerun
	g.state = StateDone
	g.mu.Unlock()
	close(g.done)
}

// PendingTouch returns the touch-on-rerun candidates recorded by
// FinishPretend, if any.
func (g *Group) PendingTouch() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingTouch
}

// OutcomeValue returns the Group's recorded outcome. Only meaningful once
// State is Done or Failed; zero value (OutcomeNone) otherwise.
func (g *Group) OutcomeValue() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome
}

// Wait blocks until the Group reaches a terminal state and returns its
// outcome and error. Safe to call from any number of goroutines, including
// ones that never called TryClaim.
func (g *Group) Wait() (Outcome, error) {
	<-g.done
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome, g.err
}

// Done returns the channel that closes when the Group reaches a terminal
// state, for callers that need to select on it alongside other events (e.g.
// the scheduler's abort flag).
func (g *Group) Done() <-chan struct{} {
	return g.done
}
