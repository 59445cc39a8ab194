package pubsub

import "testing"

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	d := New()
	var order []int
	d.Subscribe("t", func(args ...any) { order = append(order, 1) })
	d.Subscribe("t", func(args ...any) { order = append(order, 2) })
	d.Subscribe("t", func(args ...any) { order = append(order, 3) })

	d.Publish("t")

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected subscription order 1,2,3, got %v", order)
	}
}

func TestPanicIsIsolated(t *testing.T) {
	d := New()
	var secondRan bool
	d.Subscribe("t", func(args ...any) { panic("boom") })
	d.Subscribe("t", func(args ...any) { secondRan = true })

	d.Publish("t")

	if !secondRan {
		t.Fatal("publish should continue past a panicking subscriber")
	}
}

func TestFlushPublishesThenClears(t *testing.T) {
	d := New()
	calls := 0
	d.Subscribe("t", func(args ...any) { calls++ })

	d.Flush("t")
	d.Publish("t") // no-op, subscribers were cleared

	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestRenameConcatenatesThenClearsOld(t *testing.T) {
	d := New()
	var order []string
	d.Subscribe("old", func(args ...any) { order = append(order, "old") })
	d.Subscribe("new", func(args ...any) { order = append(order, "new") })

	d.Rename("old", "new")
	d.Publish("new")
	d.Publish("old") // should be empty now

	if len(order) != 2 || order[0] != "old" || order[1] != "new" {
		t.Fatalf("expected old-then-new ordering, got %v", order)
	}
}

func TestUnsubscribeTombstonesSlot(t *testing.T) {
	d := New()
	called := false
	tok := d.SubscribeToken("t", func(args ...any) { called = true })
	d.Unsubscribe(tok)
	d.Publish("t")
	if called {
		t.Fatal("unsubscribed callback should not fire")
	}
}
