package eventbus

import (
	"testing"
)

func TestPublishDispatchesInSubscriptionOrder(t *testing.T) {
	b := New(0, nil)
	var order []string

	b.Subscribe(TaskCreated, func(Event) { order = append(order, "first") })
	b.Subscribe(TaskCreated, func(Event) { order = append(order, "second") })
	b.SubscribeAll(func(Event) { order = append(order, "wildcard") })

	b.Publish(TaskCreatedEvent{Base: Base{Task: "t1"}, Title: "x"})

	want := []string{"first", "second", "wildcard"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestPublishStampsIDAndTimestamp(t *testing.T) {
	b := New(0, nil)
	e := b.Publish(TaskCreatedEvent{Base: Base{Task: "t1"}})
	if e.EventID() == "" {
		t.Error("Publish() did not stamp an id")
	}
	if e.OccurredAt().IsZero() {
		t.Error("Publish() did not stamp a timestamp")
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New(0, nil)
	var ranSecond bool

	b.Subscribe(TaskStarted, func(Event) { panic("boom") })
	b.Subscribe(TaskStarted, func(Event) { ranSecond = true })

	b.Publish(TaskStartedEvent{Base: Base{Task: "t1"}})

	if !ranSecond {
		t.Error("handler panic prevented a later handler from running")
	}
}

func TestRingBufferBoundedAndFilterable(t *testing.T) {
	b := New(3, nil)
	for i := 0; i < 5; i++ {
		b.Publish(TaskCreatedEvent{Base: Base{Task: "t1"}})
	}
	b.Publish(TaskStartedEvent{Base: Base{Task: "t2"}})

	all := b.Recent("", "")
	if len(all) != 3 {
		t.Fatalf("Recent() len = %d, want 3 (ring capacity)", len(all))
	}

	started := b.Recent(TaskStarted, "")
	if len(started) != 1 {
		t.Fatalf("Recent(TaskStarted) len = %d, want 1", len(started))
	}

	byTask := b.Recent("", "t2")
	if len(byTask) != 1 {
		t.Fatalf("Recent(taskID=t2) len = %d, want 1", len(byTask))
	}
}
