package daemon

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/boshu2/agentctl/internal/adaptivesla"
	"github.com/boshu2/agentctl/internal/breaker"
	"github.com/boshu2/agentctl/internal/config"
	"github.com/boshu2/agentctl/internal/council"
	"github.com/boshu2/agentctl/internal/eventbus"
	"github.com/boshu2/agentctl/internal/filestore"
	"github.com/boshu2/agentctl/internal/git"
	"github.com/boshu2/agentctl/internal/receipts"
	"github.com/boshu2/agentctl/internal/sessionwatcher"
	"github.com/boshu2/agentctl/internal/sla"
	"github.com/boshu2/agentctl/internal/store"
	"github.com/boshu2/agentctl/internal/task"
	"github.com/boshu2/agentctl/internal/workspace"
)

// Daemon wires every domain component into one long-lived object the
// server dispatches RPCs against. It owns no network state itself —
// see Server.
type Daemon struct {
	Config *config.Config
	Log    *slog.Logger
	State  *State
	Bus    *eventbus.Bus
	Now    func() time.Time

	Messages     *store.MessageStore
	Workspaces   *store.WorkspaceStore
	Capabilities *store.CapabilityStore
	Trust        *store.TrustStore
	Knowledge    *store.KnowledgeStore
	Sessions     *store.SessionStore
	Workflows    *store.WorkflowStore
	Retro        *store.RetroStore
	Activity     *store.ActivityStore

	WorkspaceMgr *workspace.Manager
	Breaker      *breaker.Breaker
	Adaptive     *adaptivesla.Engine
	SessionW     *sessionwatcher.Watcher
	ReceiptKey   []byte

	// Council, CouncilMembers, and CouncilChairman are nil/empty when
	// CouncilConfig.Members is unset; handlers treat that as "no council
	// configured" and fall back to a non-council verification method.
	Council         council.LLMCaller
	CouncilMembers  []string
	CouncilChairman string

	tasksPath              string
	councilAnalysesPath    string
	councilVerificationsPath string

	slaStop      chan struct{}
	adaptiveStop chan struct{}
	breakerStop  chan struct{}
	sessionStop  chan struct{}
	watchdog     *Watchdog
}

// Open opens every store and wires every engine per cfg. Callers must
// call Close on shutdown.
func Open(cfg *config.Config, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.HubDir, 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create hub dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.HubDir, "tokens"), 0o700); err != nil {
		return nil, fmt.Errorf("daemon: create tokens dir: %w", err)
	}

	d := &Daemon{
		Config: cfg, Log: log, State: NewState(), Now: time.Now,
		tasksPath:                filepath.Join(cfg.HubDir, "tasks.json"),
		councilAnalysesPath:      filepath.Join(cfg.HubDir, "council-analyses.json"),
		councilVerificationsPath: filepath.Join(cfg.HubDir, "council-verifications.json"),
	}
	if len(cfg.Council.Members) > 0 {
		d.Council = council.NewExecLLMCaller(cfg.Council.Command, cfg.Council.Timeout)
		d.CouncilMembers = cfg.Council.Members
		d.CouncilChairman = cfg.Council.Chairman
	}
	d.Bus = eventbus.New(eventbus.DefaultRingSize, log)

	var err error
	if d.Messages, err = store.OpenMessageStore(filepath.Join(cfg.HubDir, "messages.db")); err != nil {
		return nil, err
	}
	if d.Workspaces, err = store.OpenWorkspaceStore(filepath.Join(cfg.HubDir, "workspaces.db")); err != nil {
		return nil, err
	}
	if d.Capabilities, err = store.OpenCapabilityStore(filepath.Join(cfg.HubDir, "capabilities.db")); err != nil {
		return nil, err
	}
	if d.Trust, err = store.OpenTrustStore(filepath.Join(cfg.HubDir, "trust.db")); err != nil {
		return nil, err
	}
	if d.Knowledge, err = store.OpenKnowledgeStore(filepath.Join(cfg.HubDir, "knowledge.db")); err != nil {
		return nil, err
	}
	if d.Sessions, err = store.OpenSessionStore(filepath.Join(cfg.HubDir, "sessions.db")); err != nil {
		return nil, err
	}
	if d.Workflows, err = store.OpenWorkflowStore(filepath.Join(cfg.HubDir, "workflows.db")); err != nil {
		return nil, err
	}
	if d.Retro, err = store.OpenRetroStore(filepath.Join(cfg.HubDir, "retro.db")); err != nil {
		return nil, err
	}
	if d.Activity, err = store.OpenActivityStore(filepath.Join(cfg.HubDir, "activity.db")); err != nil {
		return nil, err
	}

	if board, ok, err := loadBoard(d.tasksPath); err != nil {
		return nil, err
	} else if ok {
		d.State.board = board
	}

	d.WorkspaceMgr = workspace.New(d.Workspaces, git.ExecExecutor{Bin: "git"}, d.Now)
	if _, err := d.WorkspaceMgr.RecoverStaleWorkspaces(); err != nil {
		log.Warn("daemon: recover stale workspaces", "error", err)
	}

	d.Breaker = breaker.New(breaker.Config{
		ConsecutiveFailureLimit: cfg.Breaker.ConsecutiveFailureLimit,
		TrustDropWindow:         cfg.Breaker.TrustDropWindow,
		TrustDropThreshold:      math.Abs(cfg.Breaker.TrustDropThreshold),
		UnresponsiveAfter:       cfg.Breaker.UnresponsiveAfter,
	}, d.Bus, taskUnassigner{d}, activityLogger{d}, d.Now)

	d.Adaptive = adaptivesla.New(adaptivesla.Config{
		NoCheckpointAfter:      cfg.Adaptive.NoCheckpointAfter,
		ContextSaturationRatio: cfg.Adaptive.ContextSaturationRatio,
		DefaultWindowTokens:    cfg.Adaptive.DefaultWindowTokens,
		Cooldown:               cfg.Adaptive.Cooldown,
	})

	d.SessionW = sessionwatcher.New(filepath.Join(cfg.HubDir, "sessions"), d.Bus, d.Sessions, log, d.Now)

	key, err := receipts.LoadOrCreateKey(cfg.HubDir)
	if err != nil {
		return nil, err
	}
	d.ReceiptKey = key

	return d, nil
}

// Close closes every store. Safe to call multiple times.
func (d *Daemon) Close() {
	for _, c := range []interface{ Close() error }{d.Messages, d.Workspaces, d.Capabilities, d.Trust, d.Knowledge, d.Sessions, d.Workflows, d.Retro, d.Activity} {
		if c != nil {
			_ = c.Close()
		}
	}
}

// taskUnassigner adapts the daemon's task board to breaker.TaskUnassigner.
type taskUnassigner struct{ d *Daemon }

func (u taskUnassigner) UnassignOpenTasks(agent string) ([]string, error) {
	var affected []string
	err := u.d.State.UpdateBoard(func(b task.Board) (task.Board, error) {
		for _, t := range b.Sorted() {
			if t.Assignee != agent {
				continue
			}
			if t.Status != task.StatusTodo && t.Status != task.StatusInProgress {
				continue
			}
			var err error
			b, err = task.AssignTask(b, u.d.Now(), t.ID, "")
			if err != nil {
				return b, err
			}
			affected = append(affected, t.ID)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	_ = u.d.persistBoard()
	return affected, nil
}

// activityLogger adapts the daemon's activity store to breaker.ActivityLogger.
type activityLogger struct{ d *Daemon }

func (a activityLogger) Log(kind, account, detail string, at time.Time) error {
	return a.d.Activity.Log(kind, account, detail, at)
}

func (d *Daemon) persistBoard() error {
	board := d.State.Board()
	return filestore.AtomicWrite(d.tasksPath, board, filestore.LockOptions{Now: d.Now})
}

func loadBoard(path string) (task.Board, bool, error) {
	var board task.Board
	ok, err := filestore.AtomicRead(path, &board)
	if err != nil {
		return task.Board{}, false, err
	}
	if !ok || board.Tasks == nil {
		return task.NewBoard(), false, nil
	}
	return board, true, nil
}

// RunBackgroundLoops starts every timer-driven engine: the SLA scanner,
// the adaptive-SLA poller, the circuit breaker's unresponsive-session
// scan, the watchdog, and the session-file watcher's fsnotify loop. Stop
// with StopBackgroundLoops.
func (d *Daemon) RunBackgroundLoops() {
	d.slaStop = make(chan struct{})
	d.adaptiveStop = make(chan struct{})
	d.breakerStop = make(chan struct{})
	d.sessionStop = make(chan struct{})

	go d.runSLALoop()
	go d.runWatchdog()
	go d.runAdaptiveSLALoop()
	go d.runBreakerScanLoop()
	go d.runSessionWatcher()
}

// runAdaptiveSLALoop polls the session watcher's last-known states on
// Config.Adaptive.PollInterval and feeds each into the adaptive-SLA
// engine, publishing a ReassignmentEvent (reason "<trigger>:<action>")
// for every finding the engine returns.
func (d *Daemon) runAdaptiveSLALoop() {
	interval := d.Config.Adaptive.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.adaptiveStop:
			return
		case <-ticker.C:
			now := d.Now()
			board := d.State.Board()
			for _, st := range d.SessionW.Snapshot() {
				if st.TaskID == "" {
					continue
				}
				t, ok := board.Tasks[st.TaskID]
				if !ok {
					continue
				}
				metrics := adaptivesla.SessionMetrics{
					TaskID:           st.TaskID,
					TaskStatus:       string(t.Status),
					Criticality:      criticalityFor(t.Priority),
					Phase:            adaptivesla.SessionPhase(st.Phase),
					ContextTokens:    st.TokensTotal,
					WindowTokens:     st.ContextWindow,
					LastCheckpointAt: t.StatusSince(),
				}
				for _, f := range d.Adaptive.Evaluate(metrics, now) {
					d.Bus.Publish(eventbus.ReassignmentEvent{
						Base:   eventbus.Base{At: now, Task: st.TaskID},
						From:   t.Assignee,
						Reason: string(f.Trigger) + ":" + string(f.Action),
					})
				}
			}
		}
	}
}

func criticalityFor(p task.Priority) adaptivesla.Criticality {
	switch p {
	case task.PriorityP0:
		return adaptivesla.CriticalityCritical
	case task.PriorityP1:
		return adaptivesla.CriticalityHigh
	default:
		return adaptivesla.CriticalityNormal
	}
}

func (d *Daemon) runBreakerScanLoop() {
	interval := d.Config.Breaker.UnresponsiveAfter / 2
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.breakerStop:
			return
		case <-ticker.C:
			d.Breaker.ScanUnresponsive(d.Now())
		}
	}
}

func (d *Daemon) runSessionWatcher() {
	if err := d.SessionW.Baseline(); err != nil {
		d.Log.Warn("daemon: session watcher baseline", "error", err)
		return
	}
	if err := d.SessionW.Run(d.sessionStop); err != nil {
		d.Log.Warn("daemon: session watcher", "error", err)
	}
}

func (d *Daemon) runSLALoop() {
	interval := d.Config.SLA.ScanInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.slaStop:
			return
		case <-ticker.C:
			escalations := sla.Scan(d.State.Board(), d.Now(), sla.Thresholds{
				PingAfter:            d.Config.SLA.PingAfter,
				ReassignAfter:        d.Config.SLA.ReassignAfter,
				BlockedEscalateAfter: d.Config.SLA.BlockedEscalateAfter,
				ReviewPingAfter:      d.Config.SLA.ReviewPingAfter,
			})
			for _, e := range escalations {
				d.Bus.Publish(eventbus.SLAWarningEvent{
					Base:    eventbus.Base{At: d.Now(), Task: e.TaskID},
					Action:  string(e.Action),
					Message: sla.FormatEscalationMessage(e.TaskID, e),
				})
			}
		}
	}
}

func (d *Daemon) runWatchdog() {
	d.watchdog = NewWatchdog(d.Config.Watchdog.Interval, d.Config.Watchdog.MemoryLimitMiB, func() error {
		_, _, err := d.Trust.Get("__probe__")
		return err
	}, func(snap HealthSnapshot) {
		d.Log.Warn("daemon: watchdog unhealthy", "memoryMiB", snap.MemoryMiB, "storeOK", snap.StoreOK)
	}, d.Now)
	d.watchdog.Run()
}

// StopBackgroundLoops stops every timer-driven loop. Safe to call once.
func (d *Daemon) StopBackgroundLoops() {
	if d.slaStop != nil {
		close(d.slaStop)
	}
	if d.adaptiveStop != nil {
		close(d.adaptiveStop)
	}
	if d.breakerStop != nil {
		close(d.breakerStop)
	}
	if d.sessionStop != nil {
		close(d.sessionStop)
	}
	if d.watchdog != nil {
		d.watchdog.Stop()
	}
}
