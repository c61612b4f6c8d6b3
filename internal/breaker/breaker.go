// Package breaker implements the per-agent circuit breaker (spec §4.10).
// It subscribes to the event bus the same way the spec's other reactive
// engines do, grounded on internal/eventbus's subscription model; the
// quarantine/reinstate state machine itself has no teacher analogue and
// is built directly from the spec's own rule table.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/boshu2/agentctl/internal/eventbus"
)

// Reason identifies why an agent was quarantined.
type Reason string

const (
	ReasonConsecutiveFailures Reason = "consecutive_failures"
	ReasonTrustDrop           Reason = "trust_drop"
	ReasonUnresponsive        Reason = "unresponsive"
)

// Config configures the breaker's thresholds.
type Config struct {
	ConsecutiveFailureLimit int
	TrustDropWindow         time.Duration
	TrustDropThreshold      float64
	UnresponsiveAfter       time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConsecutiveFailureLimit == 0 {
		c.ConsecutiveFailureLimit = 3
	}
	if c.TrustDropWindow == 0 {
		c.TrustDropWindow = 24 * time.Hour
	}
	if c.TrustDropThreshold == 0 {
		c.TrustDropThreshold = 20
	}
	if c.UnresponsiveAfter == 0 {
		c.UnresponsiveAfter = 30 * time.Minute
	}
	return c
}

// TaskUnassigner unassigns every open (todo/in_progress) task owned by
// agent and reports which task ids were affected, so the breaker can
// emit a REASSIGNMENT event per task.
type TaskUnassigner interface {
	UnassignOpenTasks(agent string) ([]string, error)
}

// ActivityLogger records a quarantine/reinstatement for operator visibility.
type ActivityLogger interface {
	Log(kind, account, detail string, at time.Time) error
}

type trustSample struct {
	at    time.Time
	delta float64
}

// Breaker tracks per-agent health and quarantines agents that trip any
// of the spec's three detectors.
type Breaker struct {
	cfg   Config
	bus   *eventbus.Bus
	tasks TaskUnassigner
	log   ActivityLogger
	now   func() time.Time

	mu             sync.Mutex
	consecutiveFail map[string]int
	trustSamples    map[string][]trustSample
	lastProgress    map[string]time.Time
	quarantined     map[string]Reason
}

// New wires a Breaker to bus, subscribing to TASK_COMPLETED and
// TRUST_UPDATE events.
func New(cfg Config, bus *eventbus.Bus, tasks TaskUnassigner, log ActivityLogger, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	b := &Breaker{
		cfg: cfg.withDefaults(), bus: bus, tasks: tasks, log: log, now: now,
		consecutiveFail: make(map[string]int),
		trustSamples:    make(map[string][]trustSample),
		lastProgress:    make(map[string]time.Time),
		quarantined:     make(map[string]Reason),
	}
	bus.Subscribe(eventbus.TaskCompleted, b.onTaskCompleted)
	bus.Subscribe(eventbus.TrustUpdate, b.onTrustUpdate)
	return b
}

func (b *Breaker) onTaskCompleted(e eventbus.Event) {
	ev, ok := e.(eventbus.TaskCompletedEvent)
	if !ok || ev.Agent == "" {
		return
	}
	b.RecordProgress(ev.Agent, ev.OccurredAt())

	b.mu.Lock()
	if ev.Result == "failure" {
		b.consecutiveFail[ev.Agent]++
	} else {
		b.consecutiveFail[ev.Agent] = 0
	}
	n := b.consecutiveFail[ev.Agent]
	limit := b.cfg.ConsecutiveFailureLimit
	b.mu.Unlock()

	if n >= limit {
		b.quarantine(ev.Agent, ReasonConsecutiveFailures, fmt.Sprintf("%d consecutive task failures", n))
	}
}

func (b *Breaker) onTrustUpdate(e eventbus.Event) {
	ev, ok := e.(eventbus.TrustUpdateEvent)
	if !ok || ev.Agent == "" || ev.Delta >= 0 {
		return
	}
	now := ev.OccurredAt()

	b.mu.Lock()
	samples := append(b.trustSamples[ev.Agent], trustSample{at: now, delta: ev.Delta})
	cutoff := now.Add(-b.cfg.TrustDropWindow)
	kept := samples[:0]
	total := 0.0
	for _, s := range samples {
		if s.at.Before(cutoff) {
			continue
		}
		kept = append(kept, s)
		total += s.delta
	}
	b.trustSamples[ev.Agent] = kept
	drop := -total
	threshold := b.cfg.TrustDropThreshold
	b.mu.Unlock()

	if drop >= threshold {
		b.quarantine(ev.Agent, ReasonTrustDrop, fmt.Sprintf("trust dropped %.1f within %s", drop, b.cfg.TrustDropWindow))
	}
}

// RecordProgress marks agent as having made progress at t, resetting the
// unresponsive clock.
func (b *Breaker) RecordProgress(agent string, t time.Time) {
	if agent == "" {
		return
	}
	b.mu.Lock()
	b.lastProgress[agent] = t
	b.mu.Unlock()
}

// ScanUnresponsive quarantines any tracked agent whose last recorded
// progress is older than the unresponsive threshold.
func (b *Breaker) ScanUnresponsive(now time.Time) {
	b.mu.Lock()
	var stale []string
	for agent, last := range b.lastProgress {
		if _, already := b.quarantined[agent]; already {
			continue
		}
		if now.Sub(last) > b.cfg.UnresponsiveAfter {
			stale = append(stale, agent)
		}
	}
	b.mu.Unlock()

	for _, agent := range stale {
		b.quarantine(agent, ReasonUnresponsive, fmt.Sprintf("no progress for over %s", b.cfg.UnresponsiveAfter))
	}
}

func (b *Breaker) quarantine(agent string, reason Reason, detail string) {
	b.mu.Lock()
	if _, already := b.quarantined[agent]; already {
		b.mu.Unlock()
		return
	}
	b.quarantined[agent] = reason
	b.mu.Unlock()

	now := b.now()
	if b.log != nil {
		_ = b.log.Log("agent_quarantined", agent, fmt.Sprintf("%s: %s", reason, detail), now)
	}
	if b.tasks == nil {
		return
	}
	taskIDs, err := b.tasks.UnassignOpenTasks(agent)
	if err != nil {
		return
	}
	for _, id := range taskIDs {
		b.bus.Publish(eventbus.ReassignmentEvent{
			Base:   eventbus.Base{At: now, Task: id},
			From:   agent,
			Reason: string(reason),
		})
	}
}

// IsQuarantined reports whether agent is currently quarantined.
func (b *Breaker) IsQuarantined(agent string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.quarantined[agent]
	return ok
}

// Reinstate clears agent's quarantine and failure/trust history so it
// can be routed to again.
func (b *Breaker) Reinstate(agent string) {
	b.mu.Lock()
	delete(b.quarantined, agent)
	delete(b.consecutiveFail, agent)
	delete(b.trustSamples, agent)
	b.lastProgress[agent] = b.now()
	b.mu.Unlock()

	if b.log != nil {
		_ = b.log.Log("agent_reinstated", agent, "quarantine cleared", b.now())
	}
}
