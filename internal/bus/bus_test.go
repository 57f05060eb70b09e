package bus

import (
	"testing"
)

func TestEmitOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe("tick", func(Event) { order = append(order, 1) })
	b.Subscribe("tick", func(Event) { order = append(order, 2) })
	b.SubscribeAll(func(Event) { order = append(order, 3) })

	b.Emit("tick", "", nil)

	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	for i, want := range []int{1, 2, 3} {
		if order[i] != want {
			t.Fatalf("delivery %d: expected %d, got %d", i, want, order[i])
		}
	}
}

func TestPanickingSubscriberIsolated(t *testing.T) {
	b := New()
	var got []string
	var errEvents int

	b.OnError(func(Event) { errEvents++ })
	b.Subscribe("tick", func(Event) { got = append(got, "first") })
	b.Subscribe("tick", func(Event) { panic("boom") })
	b.Subscribe("tick", func(Event) { got = append(got, "third") })

	b.Emit("tick", "ctx-1", nil)

	if len(got) != 2 || got[1] != "third" {
		t.Fatalf("remaining subscribers not notified: %v", got)
	}
	if errEvents != 1 {
		t.Fatalf("expected 1 error event, got %d", errEvents)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	off := b.Subscribe("tick", func(Event) { calls++ })
	b.Emit("tick", "", nil)
	off()
	b.Emit("tick", "", nil)
	if calls != 1 {
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestWildcardSeesAllNames(t *testing.T) {
	b := New()
	var names []string
	b.SubscribeAll(func(ev Event) { names = append(names, ev.Name) })
	b.Emit("execution-started", "", nil)
	b.Emit("execution-completed", "", nil)
	if len(names) != 2 || names[0] != "execution-started" || names[1] != "execution-completed" {
		t.Fatalf("unexpected names: %v", names)
	}
}
