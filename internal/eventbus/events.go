// Package eventbus implements the in-process, typed publish/subscribe bus
// that wires the daemon's handlers and background loops together (spec
// §4.4). The event taxonomy is a closed sum type: Event is an interface
// implemented only by the structs below, so a switch over Type() that
// forgets a case is caught by the exhaustive-switch lints a reviewer
// would run, not silently skipped at runtime.
package eventbus

import "time"

// Type discriminates the event taxonomy.
type Type string

const (
	TaskCreated       Type = "TASK_CREATED"
	TaskAssigned      Type = "TASK_ASSIGNED"
	TaskStarted       Type = "TASK_STARTED"
	CheckpointReached Type = "CHECKPOINT_REACHED"
	ResourceWarning   Type = "RESOURCE_WARNING"
	ProgressUpdate    Type = "PROGRESS_UPDATE"
	SLAWarning        Type = "SLA_WARNING"
	SLABreach         Type = "SLA_BREACH"
	TaskCompleted     Type = "TASK_COMPLETED"
	TaskVerified      Type = "TASK_VERIFIED"
	Reassignment      Type = "REASSIGNMENT"
	DelegationChain   Type = "DELEGATION_CHAIN"
	TrustUpdate       Type = "TRUST_UPDATE"
	TDDCycleStart     Type = "TDD_CYCLE_START"
	TDDTestPass       Type = "TDD_TEST_PASS"
	TDDTestFail       Type = "TDD_TEST_FAIL"
	TDDRefactor       Type = "TDD_REFACTOR"
)

// Event is implemented by every member of the taxonomy. The bus stamps
// ID at emission time, and At too when the caller left it zero.
type Event interface {
	Type() Type
	EventID() string
	OccurredAt() time.Time
	TaskID() string
}

// Base carries the fields common to every event; embed it in each
// concrete event type.
type Base struct {
	ID   string    `json:"id"`
	At   time.Time `json:"at"`
	Task string    `json:"taskId,omitempty"`
}

func (b Base) EventID() string      { return b.ID }
func (b Base) OccurredAt() time.Time { return b.At }
func (b Base) TaskID() string       { return b.Task }

type TaskCreatedEvent struct {
	Base
	Title    string `json:"title"`
	Assignee string `json:"assignee,omitempty"`
}

func (TaskCreatedEvent) Type() Type { return TaskCreated }

type TaskAssignedEvent struct {
	Base
	Assignee string `json:"assignee"`
}

func (TaskAssignedEvent) Type() Type { return TaskAssigned }

type TaskStartedEvent struct {
	Base
	SessionID string `json:"sessionId,omitempty"`
}

func (TaskStartedEvent) Type() Type { return TaskStarted }

type CheckpointReachedEvent struct {
	Base
	Percent int `json:"percent"`
}

func (CheckpointReachedEvent) Type() Type { return CheckpointReached }

type ResourceWarningEvent struct {
	Base
	Resource string  `json:"resource"`
	Value    float64 `json:"value"`
}

func (ResourceWarningEvent) Type() Type { return ResourceWarning }

type ProgressUpdateEvent struct {
	Base
	Step  string   `json:"step"`
	Files []string `json:"files,omitempty"`
}

func (ProgressUpdateEvent) Type() Type { return ProgressUpdate }

type SLAWarningEvent struct {
	Base
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (SLAWarningEvent) Type() Type { return SLAWarning }

type SLABreachEvent struct {
	Base
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (SLABreachEvent) Type() Type { return SLABreach }

type TaskCompletedEvent struct {
	Base
	Agent  string `json:"agent"`
	Result string `json:"result"` // "success" | "failure"
}

func (TaskCompletedEvent) Type() Type { return TaskCompleted }

type TaskVerifiedEvent struct {
	Base
	Verdict string `json:"verdict"`
}

func (TaskVerifiedEvent) Type() Type { return TaskVerified }

type ReassignmentEvent struct {
	Base
	From   string `json:"from"`
	Reason string `json:"reason"`
}

func (ReassignmentEvent) Type() Type { return Reassignment }

type DelegationChainEvent struct {
	Base
	Chain []string `json:"chain"`
}

func (DelegationChainEvent) Type() Type { return DelegationChain }

type TrustUpdateEvent struct {
	Base
	Agent string  `json:"agent"`
	Delta float64 `json:"delta"`
	Kind  string  `json:"kind"`
}

func (TrustUpdateEvent) Type() Type { return TrustUpdate }

type TDDCycleStartEvent struct{ Base }

func (TDDCycleStartEvent) Type() Type { return TDDCycleStart }

type TDDTestPassEvent struct{ Base }

func (TDDTestPassEvent) Type() Type { return TDDTestPass }

type TDDTestFailEvent struct {
	Base
	Reason string `json:"reason,omitempty"`
}

func (TDDTestFailEvent) Type() Type { return TDDTestFail }

type TDDRefactorEvent struct{ Base }

func (TDDRefactorEvent) Type() Type { return TDDRefactor }
