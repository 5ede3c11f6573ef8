package exec

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestJobSemaphoreClampsBudget(t *testing.T) {
	s := newJobSemaphore(0)
	if s.budget != 1 {
		t.Errorf("got budget %d, want clamped to 1", s.budget)
	}
}

func TestJobSemaphoreAcquireReleaseRoundTrip(t *testing.T) {
	s := newJobSemaphore(2)
	if !s.acquire(2, func() bool { return false }) {
		t.Fatal("expected acquire to succeed within budget")
	}
	s.release(2)
	if !s.acquire(2, func() bool { return false }) {
		t.Fatal("expected acquire to succeed again after release")
	}
	s.release(2)
}

func TestJobSemaphoreBlocksUntilSlotFrees(t *testing.T) {
	s := newJobSemaphore(1)
	if !s.acquire(1, func() bool { return false }) {
		t.Fatal("expected first acquire to succeed")
	}

	acquired := make(chan struct{})
	go func() {
		if s.acquire(1, func() bool { return false }) {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked while the slot was held")
	case <-time.After(50 * time.Millisecond):
	}

	s.release(1)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestJobSemaphoreAcquireClampsRequestToBudget(t *testing.T) {
	s := newJobSemaphore(2)
	if !s.acquire(100, func() bool { return false }) {
		t.Fatal("expected acquire of more than budget to clamp and succeed")
	}
	if s.inUse != 2 {
		t.Errorf("got inUse %d, want clamped to budget 2", s.inUse)
	}
}

func TestJobSemaphoreAbortUnblocksWaiter(t *testing.T) {
	s := newJobSemaphore(1)
	s.acquire(1, func() bool { return false })

	var abort atomic.Bool
	done := make(chan bool)
	go func() {
		done <- s.acquire(1, abort.Load)
	}()

	time.Sleep(20 * time.Millisecond)
	abort.Store(true)
	s.wake()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected acquire to report failure once aborted")
		}
	case <-time.After(time.Second):
		t.Fatal("aborted acquire never returned")
	}
}
