// Package exec implements the parallel scheduler (§4.4): walking the Node
// DAG bottom-up, coalescing multi-output recipes to one execution, enforcing
// the job budget, and guaranteeing clean termination on failure or signal.
//
// Grounded on friedelschoen-mk's mk.go mkNode/mkNodePrereqs pair (one task
// per node, blocking on a per-node listener channel, started lazily by
// whichever caller reaches the node first) and its reserveSubproc/
// finishSubproc job-slot accounting, generalized to plan.Group's shared
// completion handle (so multi-output coalescing and diamond-dependency
// safety are the same mechanism: Group.TryClaim) and to the richer
// pretend-up-to-date, depfile, and atomic-output machinery §4.3–§4.6 add.
package exec

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/texttheater/produce/internal/depfile"
	"github.com/texttheater/produce/internal/eval"
	"github.com/texttheater/produce/internal/fresh"
	"github.com/texttheater/produce/internal/plan"
	"github.com/texttheater/produce/internal/plog"
	"github.com/texttheater/produce/internal/produceerr"
)

// Scheduler runs recipes for a planned Node DAG (§4.4 contract:
// "build(requested_targets) -> Ok | Error").
type Scheduler struct {
	Planner *plan.Planner
	Eval    eval.Evaluator
	Fresh   *fresh.Context
	Logger  *plog.Logger

	JobBudget int
	DryRun    bool
	// BuildOnly restricts which targets may actually have their recipe
	// run (-b); empty means unrestricted.
	BuildOnly map[string]bool

	sem    *jobSemaphore
	abort  atomic.Bool
	cancel context.CancelFunc

	mu       sync.Mutex
	abortErr error
	running  map[*exec.Cmd]struct{}
}

// New returns a Scheduler ready to build.
func New(planner *plan.Planner, ev eval.Evaluator, fc *fresh.Context, logger *plog.Logger, jobBudget int, dryRun bool, buildOnly map[string]bool) *Scheduler {
	return &Scheduler{
		Planner:   planner,
		Eval:      ev,
		Fresh:     fc,
		Logger:    logger,
		JobBudget: jobBudget,
		DryRun:    dryRun,
		BuildOnly: buildOnly,
		sem:       newJobSemaphore(jobBudget),
		running:   map[*exec.Cmd]struct{}{},
	}
}

// HandleSignals arranges for SIGTERM/SIGINT to trigger the same abort path
// as a failed node (§4.4 "Signal handling"). The returned func stops
// watching and should be deferred by the caller.
func (s *Scheduler) HandleSignals() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			s.triggerAbort(&produceerr.Aborted{Reason: "signal received"})
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// RunningCount reports how many recipe subprocesses are currently in
// flight, for -dd introspection.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Build runs the recipes needed to bring every target in targets up to date
// (§4.4). Multiple top-level targets build concurrently.
func (s *Scheduler) Build(ctx context.Context, targets []*plan.Node) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t *plan.Node) {
			defer wg.Done()
			errs[i] = s.ensure(ctx, t)
		}(i, t)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	if s.abort.Load() {
		s.mu.Lock()
		err := s.abortErr
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// ensure brings n's Group to a terminal state, running its recipe at most
// once no matter how many callers (diamond dependents, sibling output-group
// members) reach it concurrently (§4.4 "Diamond safety"; §8 invariant 1).
func (s *Scheduler) ensure(ctx context.Context, n *plan.Node) error {
	g := n.Group
	if g.State() == plan.StateFresh {
		return nil
	}

	if !g.TryClaim() {
		_, err := g.Wait()
		return err
	}

	primary := g.Members[0]

	if s.abort.Load() {
		err := &produceerr.Aborted{Reason: "build already aborting"}
		g.Finish(plan.OutcomeNone, err)
		return err
	}

	if err := s.ensurePrereqs(ctx, primary); err != nil {
		g.Finish(plan.OutcomeNone, err)
		return err
	}

	if err := s.expandDepfiles(primary); err != nil {
		g.Finish(plan.OutcomeNone, err)
		s.triggerAbort(err)
		return err
	}

	// A second prereq pass: depfile expansion may have discovered new
	// prerequisites that themselves need building before freshness can
	// be judged.
	if err := s.ensurePrereqs(ctx, primary); err != nil {
		g.Finish(plan.OutcomeNone, err)
		return err
	}

	if s.abort.Load() {
		err := &produceerr.Aborted{Reason: "build already aborting"}
		g.Finish(plan.OutcomeNone, err)
		return err
	}

	result := fresh.Evaluate(s.Fresh, primary)
	switch result.Decision {
	case fresh.Skip:
		g.Finish(plan.OutcomeSkipped, nil)
		return nil

	case fresh.Pretend:
		s.Logger.Infof("%s: pretending up to date", primary.Name)
		g.FinishPretend(result.TouchOnRerun)
		return nil

	default: // fresh.Run
		if !s.allowedToRun(g) {
			s.Logger.Infof("%s: restricted by -b, not rebuilding", primary.Name)
			g.Finish(plan.OutcomeSkipped, nil)
			return nil
		}
		return s.run(ctx, primary, g)
	}
}

func (s *Scheduler) run(ctx context.Context, primary *plan.Node, g *plan.Group) error {
	slots := primary.Rule.Parallelism
	if !s.sem.acquire(slots, s.abort.Load) {
		err := &produceerr.Aborted{Reason: "build already aborting"}
		g.Finish(plan.OutcomeNone, err)
		return err
	}
	defer s.sem.release(slots)

	if s.abort.Load() {
		err := &produceerr.Aborted{Reason: "build already aborting"}
		g.Finish(plan.OutcomeNone, err)
		return err
	}

	err := s.runRecipe(ctx, primary, g)
	if err != nil {
		g.Finish(plan.OutcomeNone, err)
		s.triggerAbort(err)
		return err
	}

	s.touchGrade2Leaves(primary)
	g.Finish(plan.OutcomeBuilt, nil)
	return nil
}

// ensurePrereqs brings every ordinary prerequisite of primary to a terminal
// state concurrently (§4.4 "no required ordering between sibling
// prereqs").
func (s *Scheduler) ensurePrereqs(ctx context.Context, primary *plan.Node) error {
	if len(primary.Prereqs) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(primary.Prereqs))
	for _, p := range primary.Prereqs {
		wg.Add(1)
		go func(p *plan.Node) {
			defer wg.Done()
			if err := s.ensure(ctx, p); err != nil {
				errCh <- err
			}
		}(p)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// expandDepfiles implements §4.2's "depfile expansion happens later" and
// §4.6: before freshness is judged, any type-prereq file that already
// exists on disk (from an earlier invocation, or — for a rule re-evaluated
// within the same run — from this one) is parsed and its listed
// dependencies are planned and appended as ordinary prerequisites.
func (s *Scheduler) expandDepfiles(primary *plan.Node) error {
	for _, path := range primary.TypePrereqPaths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		entries, parseErr := depfile.Parse(f, path)
		f.Close()
		if parseErr != nil {
			return parseErr
		}

		var names []string
		for _, m := range primary.Group.Members {
			names = append(names, m.Name)
		}
		depNames := map[string]bool{}
		for _, name := range names {
			for _, d := range depfile.DepsFor(entries, name) {
				depNames[d] = true
			}
		}

		for depName := range depNames {
			if alreadyPrereq(primary, depName) {
				continue
			}
			depNode, err := s.Planner.PlanAdditionalPrereq(depName)
			if err != nil {
				return err
			}
			primary.Prereqs = append(primary.Prereqs, depNode)
		}
	}
	return nil
}

func alreadyPrereq(primary *plan.Node, name string) bool {
	for _, p := range primary.Prereqs {
		if p.Name == name {
			return true
		}
	}
	return false
}

// allowedToRun applies the -b restriction: when non-empty, only groups
// containing a named target may actually execute their recipe.
func (s *Scheduler) allowedToRun(g *plan.Group) bool {
	if len(s.BuildOnly) == 0 {
		return true
	}
	for _, m := range g.Members {
		if s.BuildOnly[m.Name] {
			return true
		}
	}
	return false
}

// touchGrade2Leaves implements §4.3.1 Grade 2: once primary has actually
// rebuilt, every direct prerequisite that was pretended fresh has its own
// recorded trigger nodes (Group.PendingTouch) advanced to "now" ON DISK, so
// that a later plain (non-pretend) invocation — which starts from nothing
// but a fresh stat of the filesystem — still sees the leaf as newer than
// the (just-rebuilt) intermediate and rebuilds it again. The touch happens
// whatever made primary rebuild; it is not limited to rebuilds that the
// pretended prerequisite caused. In a dry run only the in-memory mtime
// cache is advanced (Node.Touch); nothing is written to disk.
func (s *Scheduler) touchGrade2Leaves(primary *plan.Node) {
	now := time.Now()
	for _, p := range primary.Prereqs {
		if p.Group.OutcomeValue() != plan.OutcomePretended {
			continue
		}
		for _, leaf := range p.Group.PendingTouch() {
			if s.DryRun {
				leaf.Touch(now)
				continue
			}
			if err := leaf.TouchDisk(now); err != nil {
				s.Logger.Errorf("%s: failed to touch leaf after pretended rebuild: %v", leaf.Name, err)
			}
		}
	}
}

func (s *Scheduler) triggerAbort(err error) {
	s.mu.Lock()
	first := s.abortErr == nil
	if first {
		s.abortErr = err
	}
	cancel := s.cancel
	s.mu.Unlock()
	s.abort.Store(true)
	s.sem.wake()
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) trackCmd(cmd *exec.Cmd) {
	s.mu.Lock()
	s.running[cmd] = struct{}{}
	s.mu.Unlock()
}

func (s *Scheduler) untrackCmd(cmd *exec.Cmd) {
	s.mu.Lock()
	delete(s.running, cmd)
	s.mu.Unlock()
}
