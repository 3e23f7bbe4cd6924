// Package tasks implements the Task Manager: a stateful facade over the
// tasks collection enforcing the finite state machine described in spec
// §3/§4.7. It is the sole authority on task status transitions — no other
// package may write Status directly.
package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/andycufari/portero/internal/store"
)

// ErrInvalidTransition signals an attempted state transition the FSM does
// not permit. Per spec §4.7 this is a programming error and must fail
// loudly rather than being silently clamped or ignored.
type ErrInvalidTransition struct {
	From, To store.TaskStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("tasks: invalid transition %s -> %s", e.From, e.To)
}

// allowedTransitions encodes the FSM in spec §3:
//
//	pending-approval --approve--> approved-queued --dispatch--> executing --success--> completed
//	       |                                                        |
//	       |--deny--> denied                                        |--failure--> error
//	       |--send-failure--> error
var allowedTransitions = map[store.TaskStatus]map[store.TaskStatus]bool{
	store.StatusPendingApproval: {
		store.StatusApprovedQueued: true,
		store.StatusDenied:         true,
		store.StatusError:          true,
	},
	store.StatusApprovedQueued: {
		store.StatusExecuting: true,
		store.StatusError:     true,
	},
	store.StatusExecuting: {
		store.StatusCompleted: true,
		store.StatusError:     true,
	},
}

// Manager enforces the task FSM over a *store.TaskStore.
type Manager struct {
	tasks *store.TaskStore
	now   func() time.Time
}

// New creates a Manager over the given task store.
func New(tasks *store.TaskStore) *Manager {
	return &Manager{tasks: tasks, now: time.Now}
}

// Create records a new task in pending-approval with createdAt = now.
func (m *Manager) Create(toolName string, realArgs, originalArgs any, action store.PolicyAction) (*store.Task, error) {
	task := &store.Task{
		ID:           uuid.NewString(),
		ToolName:     toolName,
		RealArgs:     realArgs,
		OriginalArgs: originalArgs,
		Status:       store.StatusPendingApproval,
		PolicyAction: action,
		CreatedAt:    m.now(),
	}
	return m.tasks.Create(task)
}

// Get returns the task with the given id.
func (m *Manager) Get(id string) (*store.Task, error) {
	return m.tasks.Get(id)
}

// List returns tasks, optionally filtered by status and capped at limit.
func (m *Manager) List(status *store.TaskStatus, limit int) ([]*store.Task, error) {
	return m.tasks.List(status, limit)
}

// TransitionTo moves the task to target if the FSM permits it from the
// task's current status, stamping approvedAt/executedAt as spec §4.7
// requires. Any disallowed transition returns *ErrInvalidTransition.
func (m *Manager) TransitionTo(id string, target store.TaskStatus) (*store.Task, error) {
	now := m.now()
	return m.tasks.Update(id, func(t *store.Task) error {
		if !allowedTransitions[t.Status][target] {
			return &ErrInvalidTransition{From: t.Status, To: target}
		}
		from := t.Status
		t.Status = target
		switch target {
		case store.StatusApprovedQueued:
			t.ApprovedAt = &now
		case store.StatusExecuting:
			t.ExecutedAt = &now
		case store.StatusCompleted, store.StatusError:
			if from == store.StatusExecuting {
				t.ExecutedAt = &now
			}
		}
		return nil
	})
}

// SetResult marks the task completed with the given result. Permitted only
// from executing or approved-queued (a task may fail before dispatch ever
// reaches the executor, e.g. a send-failure path that still yields a
// result is not modeled — this mirrors spec §4.7's operation table
// verbatim).
func (m *Manager) SetResult(id string, result any) (*store.Task, error) {
	now := m.now()
	return m.tasks.Update(id, func(t *store.Task) error {
		if t.Status != store.StatusExecuting && t.Status != store.StatusApprovedQueued {
			return &ErrInvalidTransition{From: t.Status, To: store.StatusCompleted}
		}
		t.Status = store.StatusCompleted
		t.Result = result
		t.ExecutedAt = &now
		return nil
	})
}

// SetError marks the task errored with msg. Permitted from any non-terminal
// status.
func (m *Manager) SetError(id string, msg string) (*store.Task, error) {
	now := m.now()
	return m.tasks.Update(id, func(t *store.Task) error {
		if isTerminal(t.Status) {
			return &ErrInvalidTransition{From: t.Status, To: store.StatusError}
		}
		t.Status = store.StatusError
		t.Error = msg
		t.ExecutedAt = &now
		return nil
	})
}

// MarkChecked stamps checkedAt for observability; it does not gate or
// otherwise participate in the state machine.
func (m *Manager) MarkChecked(id string) (*store.Task, error) {
	now := m.now()
	return m.tasks.Update(id, func(t *store.Task) error {
		t.CheckedAt = &now
		return nil
	})
}

// SetChannelMessage records the Approval Channel's opaque handle for the
// rendered approval request (spec §4.8: "records the message handle into
// the task"). It does not participate in the state machine.
func (m *Manager) SetChannelMessage(id, handle string) (*store.Task, error) {
	return m.tasks.Update(id, func(t *store.Task) error {
		t.ChannelMessage = handle
		return nil
	})
}

func isTerminal(s store.TaskStatus) bool {
	switch s {
	case store.StatusCompleted, store.StatusDenied, store.StatusError:
		return true
	default:
		return false
	}
}
