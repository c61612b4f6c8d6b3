package breaker

import (
	"log/slog"
	"testing"
	"time"

	"github.com/boshu2/agentctl/internal/eventbus"
)

type fakeUnassigner struct {
	openTasks map[string][]string
	calls     []string
}

func (f *fakeUnassigner) UnassignOpenTasks(agent string) ([]string, error) {
	f.calls = append(f.calls, agent)
	return f.openTasks[agent], nil
}

type fakeLog struct {
	entries []string
}

func (f *fakeLog) Log(kind, account, detail string, at time.Time) error {
	f.entries = append(f.entries, kind+":"+account+":"+detail)
	return nil
}

func TestConsecutiveFailuresQuarantinesAndReassigns(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	tasks := &fakeUnassigner{openTasks: map[string][]string{"alice": {"t1", "t2"}}}
	log := &fakeLog{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := New(Config{ConsecutiveFailureLimit: 3}, bus, tasks, log, func() time.Time { return now })

	var reassignments []eventbus.Event
	bus.Subscribe(eventbus.Reassignment, func(e eventbus.Event) { reassignments = append(reassignments, e) })

	for i := 0; i < 3; i++ {
		bus.Publish(eventbus.TaskCompletedEvent{
			Base:   eventbus.Base{At: now, Task: "t"},
			Agent:  "alice",
			Result: "failure",
		})
	}

	if !b.IsQuarantined("alice") {
		t.Fatal("alice should be quarantined after 3 consecutive failures")
	}
	if len(reassignments) != 2 {
		t.Fatalf("got %d reassignment events, want 2 (one per open task)", len(reassignments))
	}
	if len(tasks.calls) != 1 {
		t.Errorf("UnassignOpenTasks called %d times, want exactly once (no double-quarantine)", len(tasks.calls))
	}
}

func TestSuccessResetsConsecutiveFailureCounter(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	tasks := &fakeUnassigner{}
	now := time.Now()
	b := New(Config{ConsecutiveFailureLimit: 3}, bus, tasks, nil, func() time.Time { return now })

	bus.Publish(eventbus.TaskCompletedEvent{Base: eventbus.Base{At: now}, Agent: "bob", Result: "failure"})
	bus.Publish(eventbus.TaskCompletedEvent{Base: eventbus.Base{At: now}, Agent: "bob", Result: "failure"})
	bus.Publish(eventbus.TaskCompletedEvent{Base: eventbus.Base{At: now}, Agent: "bob", Result: "success"})
	bus.Publish(eventbus.TaskCompletedEvent{Base: eventbus.Base{At: now}, Agent: "bob", Result: "failure"})
	bus.Publish(eventbus.TaskCompletedEvent{Base: eventbus.Base{At: now}, Agent: "bob", Result: "failure"})

	if b.IsQuarantined("bob") {
		t.Error("bob should not be quarantined; the success reset the streak")
	}
}

func TestTrustDropWithinWindowQuarantines(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	tasks := &fakeUnassigner{}
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := New(Config{TrustDropWindow: 24 * time.Hour, TrustDropThreshold: 20}, bus, tasks, nil, func() time.Time { return base })

	bus.Publish(eventbus.TrustUpdateEvent{Base: eventbus.Base{At: base}, Agent: "carol", Delta: -10})
	if b.IsQuarantined("carol") {
		t.Fatal("carol should not yet be quarantined after one -10 drop")
	}
	bus.Publish(eventbus.TrustUpdateEvent{Base: eventbus.Base{At: base.Add(time.Hour)}, Agent: "carol", Delta: -15})

	if !b.IsQuarantined("carol") {
		t.Error("carol should be quarantined: -25 total within the 24h window")
	}
}

func TestTrustDropOutsideWindowDoesNotAccumulate(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	tasks := &fakeUnassigner{}
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := New(Config{TrustDropWindow: 24 * time.Hour, TrustDropThreshold: 20}, bus, tasks, nil, func() time.Time { return base })

	bus.Publish(eventbus.TrustUpdateEvent{Base: eventbus.Base{At: base}, Agent: "dave", Delta: -10})
	bus.Publish(eventbus.TrustUpdateEvent{Base: eventbus.Base{At: base.Add(25 * time.Hour)}, Agent: "dave", Delta: -15})

	if b.IsQuarantined("dave") {
		t.Error("dave should not be quarantined: the two drops are outside each other's 24h window")
	}
}

func TestScanUnresponsiveQuarantines(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	tasks := &fakeUnassigner{openTasks: map[string][]string{"erin": {"t1"}}}
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := New(Config{UnresponsiveAfter: 30 * time.Minute}, bus, tasks, nil, func() time.Time { return base })

	b.RecordProgress("erin", base.Add(-40*time.Minute))
	b.ScanUnresponsive(base)

	if !b.IsQuarantined("erin") {
		t.Error("erin should be quarantined after 40 minutes without progress")
	}
}

func TestScanUnresponsiveIgnoresRecentProgress(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	tasks := &fakeUnassigner{}
	base := time.Now()
	b := New(Config{UnresponsiveAfter: 30 * time.Minute}, bus, tasks, nil, func() time.Time { return base })

	b.RecordProgress("frank", base.Add(-5*time.Minute))
	b.ScanUnresponsive(base)

	if b.IsQuarantined("frank") {
		t.Error("frank made progress recently and should not be quarantined")
	}
}

func TestReinstateClearsQuarantine(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	tasks := &fakeUnassigner{openTasks: map[string][]string{"gail": {"t1"}}}
	log := &fakeLog{}
	now := time.Now()
	b := New(Config{ConsecutiveFailureLimit: 1}, bus, tasks, log, func() time.Time { return now })

	bus.Publish(eventbus.TaskCompletedEvent{Base: eventbus.Base{At: now}, Agent: "gail", Result: "failure"})
	if !b.IsQuarantined("gail") {
		t.Fatal("gail should be quarantined")
	}

	b.Reinstate("gail")
	if b.IsQuarantined("gail") {
		t.Error("gail should no longer be quarantined after Reinstate")
	}

	bus.Publish(eventbus.TaskCompletedEvent{Base: eventbus.Base{At: now}, Agent: "gail", Result: "failure"})
	if !b.IsQuarantined("gail") {
		t.Error("gail's failure streak should restart cleanly after reinstatement")
	}
}
