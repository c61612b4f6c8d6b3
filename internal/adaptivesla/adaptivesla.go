// Package adaptivesla implements the session-metrics-driven SLA engine
// (spec §4.9). Per spec §9 Open Question (a), the cooldown map is owned
// by the Engine instance rather than being module-scoped, so tests never
// pollute each other.
package adaptivesla

import (
	"sync"
	"time"
)

// Criticality is a task's escalation sensitivity.
type Criticality string

const (
	CriticalityNormal      Criticality = "normal"
	CriticalityHigh        Criticality = "high"
	CriticalityCritical    Criticality = "critical"
	CriticalityIrreversible Criticality = "irreversible"
)

// SessionPhase mirrors the external agent session's lifecycle phase.
type SessionPhase string

const (
	PhaseActive          SessionPhase = "active"
	PhaseActiveCommitted SessionPhase = "active_committed"
	PhaseIdle            SessionPhase = "idle"
	PhaseEnded           SessionPhase = "ended"
)

// Trigger is one of the four detectable conditions.
type Trigger string

const (
	TriggerTokenBurnRate          Trigger = "token_burn_rate"
	TriggerNoCheckpoint           Trigger = "no_checkpoint"
	TriggerContextSaturation      Trigger = "context_saturation"
	TriggerSessionEndedIncomplete Trigger = "session_ended_incomplete"
)

// Action is the coordinator action a trigger maps to.
type Action string

const (
	ActionPing            Action = "ping"
	ActionSuggestReassign Action = "suggest_reassign"
	ActionAutoReassign    Action = "auto_reassign"
	ActionEscalateHuman   Action = "escalate_human"
	ActionTerminate       Action = "terminate"
)

// SessionMetrics is a point-in-time read of an external agent session,
// supplied by the injected session-metrics source per task.
type SessionMetrics struct {
	TaskID                string
	TaskStatus            string
	Criticality           Criticality
	Phase                 SessionPhase
	TokenBurnRate         float64
	AvgTokenBurnRate      float64
	LastCheckpointAt      time.Time
	ContextTokens         int
	WindowTokens          int
	UnresponsiveSince     *time.Time
}

// Config configures the engine's thresholds.
type Config struct {
	NoCheckpointAfter      time.Duration
	ContextSaturationRatio float64
	DefaultWindowTokens    int
	Cooldown               time.Duration
}

func (c Config) withDefaults() Config {
	if c.NoCheckpointAfter == 0 {
		c.NoCheckpointAfter = 10 * time.Minute
	}
	if c.ContextSaturationRatio == 0 {
		c.ContextSaturationRatio = 0.80
	}
	if c.DefaultWindowTokens == 0 {
		c.DefaultWindowTokens = 200_000
	}
	if c.Cooldown == 0 {
		c.Cooldown = 15 * time.Minute
	}
	return c
}

// Finding pairs a detected trigger with the action it produces.
type Finding struct {
	Trigger Trigger
	Action  Action
}

// Engine evaluates session metrics and suppresses repeated actions per
// task via a per-task cooldown.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	cooldown map[string]time.Time
}

// New returns an Engine with its own cooldown map.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults(), cooldown: make(map[string]time.Time)}
}

// Evaluate detects triggers for m at time now and maps them to actions,
// upgrading per the criticality/unresponsive rules. It returns nil when
// the task is within its cooldown window.
func (e *Engine) Evaluate(m SessionMetrics, now time.Time) []Finding {
	e.mu.Lock()
	until, cooling := e.cooldown[m.TaskID]
	e.mu.Unlock()
	if cooling && now.Before(until) {
		return nil
	}

	var findings []Finding

	if m.AvgTokenBurnRate > 0 && m.TokenBurnRate > 2*m.AvgTokenBurnRate {
		findings = append(findings, Finding{Trigger: TriggerTokenBurnRate, Action: ActionPing})
	}
	if !m.LastCheckpointAt.IsZero() && now.Sub(m.LastCheckpointAt) > e.cfg.NoCheckpointAfter {
		findings = append(findings, Finding{Trigger: TriggerNoCheckpoint, Action: ActionPing})
	}
	if window := m.WindowTokens; window > 0 || e.cfg.DefaultWindowTokens > 0 {
		if window == 0 {
			window = e.cfg.DefaultWindowTokens
		}
		if float64(m.ContextTokens)/float64(window) > e.cfg.ContextSaturationRatio {
			action := ActionSuggestReassign
			if m.Criticality == CriticalityHigh || m.Criticality == CriticalityCritical {
				action = ActionAutoReassign
			}
			findings = append(findings, Finding{Trigger: TriggerContextSaturation, Action: action})
		}
	}
	if (m.Phase == PhaseEnded || m.Phase == PhaseIdle) && m.TaskStatus == "in_progress" {
		action := ActionSuggestReassign
		if m.Criticality == CriticalityCritical {
			action = ActionAutoReassign
		}
		findings = append(findings, Finding{Trigger: TriggerSessionEndedIncomplete, Action: action})
	}

	for i := range findings {
		if m.Criticality == CriticalityIrreversible {
			findings[i].Action = ActionEscalateHuman
		}
		if m.UnresponsiveSince != nil && now.Sub(*m.UnresponsiveSince) > 2*e.cfg.NoCheckpointAfter {
			findings[i].Action = ActionTerminate
		}
	}

	if isReassignAction(findingsActions(findings)) {
		e.mu.Lock()
		e.cooldown[m.TaskID] = now.Add(e.cfg.Cooldown)
		e.mu.Unlock()
	}

	return findings
}

func findingsActions(findings []Finding) []Action {
	out := make([]Action, len(findings))
	for i, f := range findings {
		out[i] = f.Action
	}
	return out
}

func isReassignAction(actions []Action) bool {
	for _, a := range actions {
		if a == ActionSuggestReassign || a == ActionAutoReassign {
			return true
		}
	}
	return false
}
