// Package sla implements the periodic stale-task scanner (spec §4.8).
// The injected-clock, config-driven-threshold shape mirrors the new
// timer-driven engines introduced across this daemon; nothing in the
// teacher scans a task board on a timer, so this is grounded on the
// spec's own threshold table, with the config layering grounded on the
// teacher's internal/config.
package sla

import (
	"fmt"
	"time"

	"github.com/boshu2/agentctl/internal/task"
)

// Action is the escalation an overdue task produces.
type Action string

const (
	ActionPing               Action = "ping"
	ActionReassignSuggestion Action = "reassign_suggestion"
	ActionEscalate           Action = "escalate"
)

// Thresholds configures the scanner. Zero values fall back to the spec's
// documented defaults.
type Thresholds struct {
	PingAfter            time.Duration
	ReassignAfter        time.Duration
	BlockedEscalateAfter time.Duration
	ReviewPingAfter      time.Duration
}

func (t Thresholds) withDefaults() Thresholds {
	if t.PingAfter == 0 {
		t.PingAfter = 30 * time.Minute
	}
	if t.ReassignAfter == 0 {
		t.ReassignAfter = 60 * time.Minute
	}
	if t.BlockedEscalateAfter == 0 {
		t.BlockedEscalateAfter = 15 * time.Minute
	}
	if t.ReviewPingAfter == 0 {
		t.ReviewPingAfter = 10 * time.Minute
	}
	return t
}

// Escalation is one scan finding.
type Escalation struct {
	TaskID    string
	Action    Action
	Staleness time.Duration
}

// Scan evaluates every in_progress or ready_for_review task in b and
// returns the escalations the threshold table in spec §4.8 produces.
func Scan(b task.Board, now time.Time, thresholds Thresholds) []Escalation {
	th := thresholds.withDefaults()
	var out []Escalation

	for _, t := range b.Sorted() {
		staleness := now.Sub(t.StatusSince())

		switch t.Status {
		case task.StatusInProgress:
			switch {
			case t.HasTag("blocked") && staleness > th.BlockedEscalateAfter:
				out = append(out, Escalation{TaskID: t.ID, Action: ActionEscalate, Staleness: staleness})
			case staleness > 2*th.PingAfter:
				out = append(out, Escalation{TaskID: t.ID, Action: ActionReassignSuggestion, Staleness: staleness})
			case staleness > th.PingAfter:
				out = append(out, Escalation{TaskID: t.ID, Action: ActionPing, Staleness: staleness})
			}
		case task.StatusReadyForReview:
			if staleness > th.ReviewPingAfter {
				out = append(out, Escalation{TaskID: t.ID, Action: ActionPing, Staleness: staleness})
			}
		}
	}
	return out
}

// FormatEscalationMessage renders a human string with a severity prefix.
func FormatEscalationMessage(taskTitle string, e Escalation) string {
	prefix := "⏰"
	switch e.Action {
	case ActionReassignSuggestion:
		prefix = "⚠️"
	case ActionEscalate:
		prefix = "🚨"
	}
	return fmt.Sprintf("%s %s has been stale for %s (%s)", prefix, taskTitle, e.Staleness.Round(time.Second), e.Action)
}
