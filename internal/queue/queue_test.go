package queue

import (
	"sync"
	"testing"
	"time"
)

func TestAddRunOrdersInvocations(t *testing.T) {
	m := NewManager()
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		m.Add("nav-1", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}, 0)
	}
	m.Run("nav-1", false)

	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected in-order 1,2,3, got %v", order)
	}
}

func TestSuspendResumeNetsOut(t *testing.T) {
	m := NewManager()
	done := make(chan struct{})
	m.Add("q", func() { close(done) }, 0)

	m.Suspend("q")
	m.Suspend("q")
	m.Resume("q", false)
	select {
	case <-done:
		t.Fatal("task ran while still suspended")
	case <-time.After(20 * time.Millisecond):
	}

	m.Resume("q", false)
	waitClosed(t, done)
}

func TestSyncRunDrainsInline(t *testing.T) {
	m := NewManager()
	var order []int
	m.Add("q", func() { order = append(order, 1) }, 50*time.Millisecond)
	m.Add("q", func() { order = append(order, 2) }, 50*time.Millisecond)
	m.Run("q", true)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("sync run did not drain inline in order: %v", order)
	}
}

func TestCancelDiscardsOutstandingItems(t *testing.T) {
	m := NewManager()
	ran := false
	m.Add("q", func() { ran = true }, time.Hour)
	m.Cancel("q")
	if m.Exists("q") {
		t.Fatal("queue should be removed after cancel")
	}
	time.Sleep(10 * time.Millisecond)
	if ran {
		t.Fatal("cancelled task should not run")
	}
}

func TestCancelAllExceptRespectsPrefixAndSkip(t *testing.T) {
	m := NewManager()
	m.Add("navigate-1", func() {}, time.Hour)
	m.Add("navigate-2", func() {}, time.Hour)
	m.Add("prefetch-1", func() {}, time.Hour)

	m.CancelAllExcept("navigate-", "navigate-2")

	if m.Exists("navigate-1") {
		t.Fatal("navigate-1 should have been cancelled")
	}
	if !m.Exists("navigate-2") {
		t.Fatal("navigate-2 (skip key) should survive")
	}
	if !m.Exists("prefetch-1") {
		t.Fatal("prefetch-1 does not match the prefix and should survive")
	}
}

func TestPanicInTaskDoesNotAbortQueue(t *testing.T) {
	m := NewManager()
	second := make(chan struct{})
	m.Add("q", func() { panic("boom") }, 0)
	m.Add("q", func() { close(second) }, 0)
	m.Run("q", true)
	waitClosed(t, second)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tasks")
	}
}

func waitClosed(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
