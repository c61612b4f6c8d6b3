package adaptivesla

import (
	"testing"
	"time"
)

func TestEvaluateTokenBurnRate(t *testing.T) {
	e := New(Config{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := SessionMetrics{TaskID: "t1", TokenBurnRate: 500, AvgTokenBurnRate: 200}

	findings := e.Evaluate(m, now)
	if !hasTrigger(findings, TriggerTokenBurnRate) {
		t.Fatalf("Evaluate() = %+v, want token_burn_rate trigger", findings)
	}
	if f := findingFor(findings, TriggerTokenBurnRate); f.Action != ActionPing {
		t.Errorf("action = %s, want ping", f.Action)
	}
}

func TestEvaluateNoCheckpoint(t *testing.T) {
	e := New(Config{NoCheckpointAfter: 10 * time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := SessionMetrics{TaskID: "t1", LastCheckpointAt: now.Add(-20 * time.Minute)}

	findings := e.Evaluate(m, now)
	if !hasTrigger(findings, TriggerNoCheckpoint) {
		t.Fatalf("Evaluate() = %+v, want no_checkpoint trigger", findings)
	}
}

func TestEvaluateContextSaturationUpgradesForHighCriticality(t *testing.T) {
	e := New(Config{})
	now := time.Now()

	normal := e.Evaluate(SessionMetrics{TaskID: "a", ContextTokens: 180_000, WindowTokens: 200_000, Criticality: CriticalityNormal}, now)
	if f := findingFor(normal, TriggerContextSaturation); f.Action != ActionSuggestReassign {
		t.Errorf("normal criticality action = %s, want suggest_reassign", f.Action)
	}

	e2 := New(Config{})
	high := e2.Evaluate(SessionMetrics{TaskID: "b", ContextTokens: 180_000, WindowTokens: 200_000, Criticality: CriticalityHigh}, now)
	if f := findingFor(high, TriggerContextSaturation); f.Action != ActionAutoReassign {
		t.Errorf("high criticality action = %s, want auto_reassign", f.Action)
	}
}

func TestEvaluateSessionEndedIncomplete(t *testing.T) {
	e := New(Config{})
	now := time.Now()
	m := SessionMetrics{TaskID: "t1", TaskStatus: "in_progress", Phase: PhaseEnded}

	findings := e.Evaluate(m, now)
	if !hasTrigger(findings, TriggerSessionEndedIncomplete) {
		t.Fatalf("Evaluate() = %+v, want session_ended_incomplete trigger", findings)
	}
}

func TestEvaluateIrreversibleAlwaysEscalatesHuman(t *testing.T) {
	e := New(Config{})
	now := time.Now()
	m := SessionMetrics{
		TaskID: "t1", TaskStatus: "in_progress", Phase: PhaseIdle,
		Criticality: CriticalityIrreversible,
	}

	findings := e.Evaluate(m, now)
	for _, f := range findings {
		if f.Action != ActionEscalateHuman {
			t.Errorf("action = %s, want escalate_human for an irreversible task", f.Action)
		}
	}
}

func TestEvaluateUnresponsiveTerminates(t *testing.T) {
	e := New(Config{NoCheckpointAfter: 10 * time.Minute})
	now := time.Now()
	since := now.Add(-25 * time.Minute)
	m := SessionMetrics{
		TaskID: "t1", TaskStatus: "in_progress", Phase: PhaseIdle,
		UnresponsiveSince: &since,
	}

	findings := e.Evaluate(m, now)
	for _, f := range findings {
		if f.Action != ActionTerminate {
			t.Errorf("action = %s, want terminate for an unresponsive session", f.Action)
		}
	}
}

func TestEvaluateCooldownSuppressesRepeats(t *testing.T) {
	e := New(Config{Cooldown: 15 * time.Minute})
	now := time.Now()
	m := SessionMetrics{TaskID: "t1", TaskStatus: "in_progress", Phase: PhaseEnded}

	first := e.Evaluate(m, now)
	if len(first) == 0 {
		t.Fatal("first Evaluate() returned no findings")
	}

	again := e.Evaluate(m, now.Add(time.Minute))
	if again != nil {
		t.Errorf("Evaluate() within cooldown = %+v, want nil", again)
	}

	later := e.Evaluate(m, now.Add(16*time.Minute))
	if len(later) == 0 {
		t.Error("Evaluate() after cooldown expired returned no findings")
	}
}

func TestEvaluateCooldownIsPerEngineInstance(t *testing.T) {
	// Regression for spec §9 Open Question (a): the cooldown must be
	// engine-instance state, not shared across Engine values.
	now := time.Now()
	m := SessionMetrics{TaskID: "t1", TaskStatus: "in_progress", Phase: PhaseEnded}

	a := New(Config{})
	b := New(Config{})

	a.Evaluate(m, now)
	if findings := b.Evaluate(m, now); len(findings) == 0 {
		t.Error("a second Engine instance was affected by another instance's cooldown")
	}
}

func hasTrigger(findings []Finding, trig Trigger) bool {
	return findingFor(findings, trig).Trigger == trig
}

func findingFor(findings []Finding, trig Trigger) Finding {
	for _, f := range findings {
		if f.Trigger == trig {
			return f
		}
	}
	return Finding{}
}
