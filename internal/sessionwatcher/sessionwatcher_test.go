package sessionwatcher

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/boshu2/agentctl/internal/eventbus"
)

type fakeLinker struct {
	links   map[string]string
	unlinks []string
}

func (f *fakeLinker) Link(sessionID, taskID, expectedFilesJSON string, now time.Time) error {
	if f.links == nil {
		f.links = make(map[string]string)
	}
	f.links[sessionID] = taskID
	return nil
}

func (f *fakeLinker) Unlink(sessionID string) error {
	f.unlinks = append(f.unlinks, sessionID)
	return nil
}

func writeSession(t *testing.T, dir, name string, st State) {
	t.Helper()
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBaselineDoesNotEmitEvents(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "s1.json", State{SessionID: "s1", Phase: PhaseActive})

	bus := eventbus.New(0, slog.Default())
	var fired bool
	bus.SubscribeAll(func(eventbus.Event) { fired = true })

	w := New(dir, bus, nil, nil, nil)
	if err := w.Baseline(); err != nil {
		t.Fatal(err)
	}
	if fired {
		t.Error("Baseline() should not emit events")
	}
}

func TestBaselineSkipsTmpFiles(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "s1.json.tmp", State{SessionID: "s1", Phase: PhaseActive})

	w := New(dir, eventbus.New(0, slog.Default()), nil, nil, nil)
	if err := w.Baseline(); err != nil {
		t.Fatal(err)
	}
	if len(w.seen) != 0 {
		t.Errorf("seen = %+v, want .tmp file excluded", w.seen)
	}
}

func TestReconcileIdleToActiveEmitsTaskStarted(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	var got []eventbus.Event
	bus.SubscribeAll(func(e eventbus.Event) { got = append(got, e) })

	now := time.Now()
	w := New(t.TempDir(), bus, nil, nil, func() time.Time { return now })
	w.seen["s.json"] = observed{state: State{SessionID: "s1", TaskID: "t1", Phase: PhaseIdle}, atTime: now}

	w.reconcile("s.json", State{SessionID: "s1", TaskID: "t1", Phase: PhaseActive})

	if len(got) != 1 || got[0].Type() != eventbus.TaskStarted {
		t.Fatalf("got %+v, want a single TASK_STARTED event", got)
	}
}

func TestReconcileCheckpointIncrease(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	var got []eventbus.Event
	bus.Subscribe(eventbus.CheckpointReached, func(e eventbus.Event) { got = append(got, e) })

	now := time.Now()
	w := New(t.TempDir(), bus, nil, nil, func() time.Time { return now })
	w.seen["s.json"] = observed{state: State{Phase: PhaseActive, CheckpointCount: 1}, atTime: now}

	w.reconcile("s.json", State{Phase: PhaseActive, CheckpointCount: 2})

	if len(got) != 1 {
		t.Fatalf("got %d CHECKPOINT_REACHED events, want 1", len(got))
	}
	ev := got[0].(eventbus.CheckpointReachedEvent)
	if ev.Percent != 30 {
		t.Errorf("Percent = %d, want 15*2=30", ev.Percent)
	}
}

func TestReconcileTokenIncreaseEmitsProgressAndResourceWarning(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	var progress, warnings []eventbus.Event
	bus.Subscribe(eventbus.ProgressUpdate, func(e eventbus.Event) { progress = append(progress, e) })
	bus.Subscribe(eventbus.ResourceWarning, func(e eventbus.Event) { warnings = append(warnings, e) })

	now := time.Now()
	w := New(t.TempDir(), bus, nil, nil, func() time.Time { return now })
	w.seen["s.json"] = observed{state: State{Phase: PhaseActive, TokensTotal: 1000, ContextWindow: 10000}, atTime: now.Add(-time.Minute)}

	w.reconcile("s.json", State{Phase: PhaseActive, TokensTotal: 9000, ContextWindow: 10000})

	if len(progress) != 1 {
		t.Fatalf("got %d PROGRESS_UPDATE events, want 1", len(progress))
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d RESOURCE_WARNING events, want 1 (saturation 0.9 > 0.80)", len(warnings))
	}
}

func TestReconcileFilesGrowthEmitsProgress(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	var got []eventbus.Event
	bus.Subscribe(eventbus.ProgressUpdate, func(e eventbus.Event) { got = append(got, e) })

	now := time.Now()
	w := New(t.TempDir(), bus, nil, nil, func() time.Time { return now })
	w.seen["s.json"] = observed{state: State{Phase: PhaseActive, FilesTouched: []string{"a.go"}}, atTime: now}

	w.reconcile("s.json", State{Phase: PhaseActive, FilesTouched: []string{"a.go", "b.go"}})

	if len(got) != 1 {
		t.Fatalf("got %d PROGRESS_UPDATE events, want 1", len(got))
	}
}

func TestReconcileActiveToIdleEmitsTaskCompleted(t *testing.T) {
	bus := eventbus.New(0, slog.Default())
	var got []eventbus.Event
	bus.Subscribe(eventbus.TaskCompleted, func(e eventbus.Event) { got = append(got, e) })

	now := time.Now()
	w := New(t.TempDir(), bus, nil, nil, func() time.Time { return now })
	w.seen["s.json"] = observed{state: State{Phase: PhaseActive}, atTime: now}

	w.reconcile("s.json", State{Phase: PhaseIdle})

	if len(got) != 1 {
		t.Fatalf("got %d TASK_COMPLETED events, want 1", len(got))
	}
}

func TestReconcileLinksSessionToTask(t *testing.T) {
	link := &fakeLinker{}
	bus := eventbus.New(0, slog.Default())
	now := time.Now()
	w := New(t.TempDir(), bus, link, nil, func() time.Time { return now })

	w.reconcile("s.json", State{SessionID: "s1", TaskID: "t1", Phase: PhaseActive})

	if link.links["s1"] != "t1" {
		t.Errorf("links[s1] = %q, want t1", link.links["s1"])
	}
}

func TestHandleFSEventSkipsUnparsableWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.json")
	os.WriteFile(path, []byte("{not json"), 0o644)

	bus := eventbus.New(0, slog.Default())
	var fired bool
	bus.SubscribeAll(func(eventbus.Event) { fired = true })
	w := New(dir, bus, nil, nil, nil)
	w.handleFSEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})

	st, ok := readState(path)
	if ok {
		t.Fatalf("readState() = %+v, true; want ok=false for garbage content", st)
	}
	if fired {
		t.Error("no event should be published for unparsable content")
	}
}

func TestSnapshotReflectsBaseline(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "s1.json", State{SessionID: "s1", TaskID: "t1", Phase: PhaseActive})
	writeSession(t, dir, "s2.json", State{SessionID: "s2", TaskID: "t2", Phase: PhaseIdle})

	w := New(dir, eventbus.New(0, slog.Default()), nil, nil, nil)
	if err := w.Baseline(); err != nil {
		t.Fatal(err)
	}

	snap := w.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() returned %d states, want 2", len(snap))
	}
}

func TestIsSessionFileExcludesTmp(t *testing.T) {
	cases := map[string]bool{
		"session.json":     true,
		"session.tmp.json": false,
		"session.json.tmp": false,
		"notes.txt":        false,
	}
	for name, want := range cases {
		if got := isSessionFile(name); got != want {
			t.Errorf("isSessionFile(%q) = %v, want %v", name, got, want)
		}
	}
}
