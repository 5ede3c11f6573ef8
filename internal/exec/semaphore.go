// Job-slot counting semaphore (§4.4 "Job budget"). Grounded on
// friedelschoen-mk's mk.go reserveSubproc/finishSubproc pair
// (subprocsRunningCond *sync.Cond guarding subprocsRunning/subprocsAllowed),
// generalized to acquire more than one slot at a time for a recipe that
// declares parallelism > 1, and to wake early when the scheduler aborts.
package exec

import "sync"

type jobSemaphore struct {
	mu     sync.Mutex
	cond   *sync.Cond
	budget int
	inUse  int
}

func newJobSemaphore(budget int) *jobSemaphore {
	if budget < 1 {
		budget = 1
	}
	s := &jobSemaphore{budget: budget}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// acquire blocks until n slots (clamped to the semaphore's total budget, per
// §4.4: "a recipe that declares parallelism = k acquires min(k,
// job_budget) slots") are available, or abort reports true, in which case
// acquire returns false without taking any slots.
func (s *jobSemaphore) acquire(n int, abort func() bool) bool {
	if n <= 0 {
		return true
	}
	if n > s.budget {
		n = s.budget
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inUse+n > s.budget {
		if abort() {
			return false
		}
		s.cond.Wait()
	}
	s.inUse += n
	return true
}

func (s *jobSemaphore) release(n int) {
	if n <= 0 {
		return
	}
	if n > s.budget {
		n = s.budget
	}
	s.mu.Lock()
	s.inUse -= n
	s.mu.Unlock()
	s.cond.Broadcast()
}

// wake broadcasts without changing inUse, so blocked acquirers re-check
// abort() promptly after it flips true.
func (s *jobSemaphore) wake() {
	s.cond.Broadcast()
}
