// Package sessionwatcher watches a directory of external agent session
// state files and turns their changes into bus events (spec §4.11). The
// fsnotify directory-watch loop and the re-read-on-every-event shape
// are grounded on github.com/fsnotify/fsnotify's own examples, the only
// fsnotify usage anywhere in the example pack's dependency surface.
package sessionwatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/boshu2/agentctl/internal/eventbus"
)

// Phase is a session's external lifecycle phase, read straight off disk.
type Phase string

const (
	PhaseActive          Phase = "active"
	PhaseActiveCommitted Phase = "active_committed"
	PhaseIdle            Phase = "idle"
	PhaseEnded           Phase = "ended"
)

func isActive(p Phase) bool { return p == PhaseActive || p == PhaseActiveCommitted }

// State is the on-disk shape of one session file. Unknown fields are
// ignored; missing fields default to zero values.
type State struct {
	SessionID       string   `json:"sessionId"`
	TaskID          string   `json:"taskId,omitempty"`
	Phase           Phase    `json:"phase"`
	CheckpointCount int      `json:"checkpointCount"`
	TokensTotal     int      `json:"tokensTotal"`
	ContextWindow   int      `json:"contextWindow"`
	FilesTouched    []string `json:"filesTouched,omitempty"`
	ExpectedFiles   []string `json:"expectedFiles,omitempty"`
	ExpectedSteps   int      `json:"expectedSteps,omitempty"`
}

func (s State) filesKey() string { return strings.Join(s.FilesTouched, "\x00") }

// Linker persists the session-id <-> task-id and session-id <->
// expected-files correlations the watcher builds at runtime.
type Linker interface {
	Link(sessionID, taskID string, expectedFilesJSON string, now time.Time) error
	Unlink(sessionID string) error
}

// Watcher watches dir for *.json session files (excluding *.tmp) and
// emits bus events for the transitions in the spec's table.
type Watcher struct {
	dir    string
	bus    *eventbus.Bus
	link   Linker
	log    *slog.Logger
	now    func() time.Time
	fswatch *fsnotify.Watcher

	mu   sync.Mutex
	seen map[string]observed
}

type observed struct {
	state  State
	atTime time.Time
}

// New creates a Watcher over dir. Call Baseline to seed initial state
// before Run.
func New(dir string, bus *eventbus.Bus, link Linker, log *slog.Logger, now func() time.Time) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Watcher{dir: dir, bus: bus, link: link, log: log, now: now, seen: make(map[string]observed)}
}

// Snapshot returns the last-observed state of every session file the
// watcher currently knows about, for callers (the adaptive-SLA poller)
// that need a point-in-time read without subscribing to the bus.
func (w *Watcher) Snapshot() []State {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]State, 0, len(w.seen))
	for _, o := range w.seen {
		out = append(out, o.state)
	}
	return out
}

func isSessionFile(name string) bool {
	if filepath.Ext(name) != ".json" {
		return false
	}
	return !strings.HasSuffix(name, ".tmp.json") && !strings.Contains(name, ".tmp")
}

// Baseline reads every existing session file in dir without emitting any
// events, establishing the "previously" side of the transition table.
func (w *Watcher) Baseline() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || !isSessionFile(entry.Name()) {
			continue
		}
		st, ok := readState(filepath.Join(w.dir, entry.Name()))
		if !ok {
			continue
		}
		w.seen[entry.Name()] = observed{state: st, atTime: now}
	}
	return nil
}

func readState(path string) (State, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return State{}, false
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false
	}
	return st, true
}

// Run watches for filesystem changes until stop is closed, or the watcher
// itself is closed.
func (w *Watcher) Run(stop <-chan struct{}) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fswatch = fsw
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("sessionwatcher: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if !isSessionFile(name) {
		return
	}
	if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
		w.forget(name)
		return
	}

	st, ok := readState(ev.Name)
	if !ok {
		// Partial/unparsable write; skip until the next change event.
		return
	}
	w.reconcile(name, st)
}

func (w *Watcher) forget(name string) {
	w.mu.Lock()
	prior, existed := w.seen[name]
	delete(w.seen, name)
	w.mu.Unlock()
	if existed && w.link != nil && prior.state.SessionID != "" {
		_ = w.link.Unlink(prior.state.SessionID)
	}
}

// reconcile compares the new state against the last seen state for name
// and emits every event the transition table requires.
func (w *Watcher) reconcile(name string, next State) {
	now := w.now()

	w.mu.Lock()
	prior, existed := w.seen[name]
	w.seen[name] = observed{state: next, atTime: now}
	w.mu.Unlock()

	if w.link != nil && next.SessionID != "" && next.TaskID != "" {
		expected, _ := json.Marshal(next.ExpectedFiles)
		_ = w.link.Link(next.SessionID, next.TaskID, string(expected), now)
	}

	if !existed {
		if isActive(next.Phase) {
			w.publish(eventbus.TaskStartedEvent{
				Base:      eventbus.Base{At: now, Task: next.TaskID},
				SessionID: next.SessionID,
			})
		}
		return
	}
	priorState := prior.state

	if !isActive(priorState.Phase) && isActive(next.Phase) {
		w.publish(eventbus.TaskStartedEvent{
			Base:      eventbus.Base{At: now, Task: next.TaskID},
			SessionID: next.SessionID,
		})
	}

	if next.CheckpointCount > priorState.CheckpointCount {
		w.publish(eventbus.CheckpointReachedEvent{
			Base:    eventbus.Base{At: now, Task: next.TaskID},
			Percent: checkpointPercent(next),
		})
	}

	if next.TokensTotal > priorState.TokensTotal {
		elapsedMin := math.Max(1, now.Sub(prior.atTime).Minutes())
		burnRate := float64(next.TokensTotal-priorState.TokensTotal) / elapsedMin
		w.publish(eventbus.ProgressUpdateEvent{
			Base: eventbus.Base{At: now, Task: next.TaskID},
			Step: fmt.Sprintf("tokens: %d, burn rate: %.1f/min", next.TokensTotal, burnRate),
		})
		if saturation := contextSaturation(next); saturation > 0.80 {
			w.publish(eventbus.ResourceWarningEvent{
				Base:     eventbus.Base{At: now, Task: next.TaskID},
				Resource: "context_window",
				Value:    saturation,
			})
		}
	}

	if next.filesKey() != priorState.filesKey() && len(next.FilesTouched) > len(priorState.FilesTouched) {
		w.publish(eventbus.ProgressUpdateEvent{
			Base:  eventbus.Base{At: now, Task: next.TaskID},
			Files: next.FilesTouched,
		})
	}

	if isActive(priorState.Phase) && !isActive(next.Phase) {
		w.publish(eventbus.TaskCompletedEvent{
			Base:   eventbus.Base{At: now, Task: next.TaskID},
			Result: "success",
		})
	}
}

func checkpointPercent(st State) int {
	if len(st.ExpectedFiles) > 0 && len(st.FilesTouched) > 0 {
		pct := int(math.Round(float64(len(st.FilesTouched)) / float64(len(st.ExpectedFiles)) * 100))
		if pct > 95 {
			pct = 95
		}
		return pct
	}
	pct := 15 * st.CheckpointCount
	if pct > 95 {
		pct = 95
	}
	return pct
}

func contextSaturation(st State) float64 {
	if st.ContextWindow == 0 {
		return 0
	}
	return float64(st.TokensTotal) / float64(st.ContextWindow)
}

func (w *Watcher) publish(e eventbus.Event) {
	w.bus.Publish(e)
}
