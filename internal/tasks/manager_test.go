package tasks

import (
	"errors"
	"testing"

	"github.com/andycufari/portero/internal/store"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	return New(store.New(t.TempDir()).Tasks())
}

func TestCreateStartsPendingApproval(t *testing.T) {
	m := newManager(t)
	task, err := m.Create("fs/read_file", map[string]any{"path": "/a"}, map[string]any{"path": "FAKE"}, store.ActionRequireApproval)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != store.StatusPendingApproval {
		t.Fatalf("expected pending-approval, got %s", task.Status)
	}
	if task.CreatedAt.IsZero() {
		t.Fatal("expected createdAt to be stamped")
	}
}

func TestHappyPathTransitions(t *testing.T) {
	m := newManager(t)
	task, _ := m.Create("fs/read_file", nil, nil, store.ActionRequireApproval)

	task, err := m.TransitionTo(task.ID, store.StatusApprovedQueued)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if task.ApprovedAt == nil {
		t.Fatal("expected approvedAt stamped on entry to approved-queued")
	}

	task, err = m.TransitionTo(task.ID, store.StatusExecuting)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if task.ExecutedAt == nil {
		t.Fatal("expected executedAt stamped on entry to executing")
	}

	task, err = m.SetResult(task.ID, map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("set result: %v", err)
	}
	if task.Status != store.StatusCompleted || task.Result == nil {
		t.Fatalf("expected completed with result, got %+v", task)
	}
	if task.Error != "" {
		t.Fatalf("expected no error on completed task, got %q", task.Error)
	}
}

func TestDenyFromPendingApproval(t *testing.T) {
	m := newManager(t)
	task, _ := m.Create("fs/delete_file", nil, nil, store.ActionRequireApproval)

	task, err := m.TransitionTo(task.ID, store.StatusDenied)
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if task.Status != store.StatusDenied {
		t.Fatalf("expected denied, got %s", task.Status)
	}
}

func TestInvalidTransitionFailsLoudly(t *testing.T) {
	m := newManager(t)
	task, _ := m.Create("fs/delete_file", nil, nil, store.ActionRequireApproval)

	_, err := m.TransitionTo(task.ID, store.StatusCompleted)
	var invalid *ErrInvalidTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if invalid.From != store.StatusPendingApproval || invalid.To != store.StatusCompleted {
		t.Fatalf("unexpected transition detail: %+v", invalid)
	}
}

func TestSetErrorFromAnyNonTerminalStatus(t *testing.T) {
	m := newManager(t)
	task, _ := m.Create("fs/read_file", nil, nil, store.ActionRequireApproval)

	task, err := m.SetError(task.ID, "send failure")
	if err != nil {
		t.Fatalf("set error: %v", err)
	}
	if task.Status != store.StatusError || task.Error != "send failure" {
		t.Fatalf("unexpected task after SetError: %+v", task)
	}
	if task.ExecutedAt == nil {
		t.Fatal("expected executedAt stamped by SetError")
	}
}

func TestSetErrorRejectsTerminalStatus(t *testing.T) {
	m := newManager(t)
	task, _ := m.Create("fs/read_file", nil, nil, store.ActionRequireApproval)
	task, _ = m.TransitionTo(task.ID, store.StatusDenied)

	if _, err := m.SetError(task.ID, "too late"); err == nil {
		t.Fatal("expected error setting error on a terminal task")
	}
}

func TestMarkCheckedDoesNotGateState(t *testing.T) {
	m := newManager(t)
	task, _ := m.Create("fs/read_file", nil, nil, store.ActionRequireApproval)

	task, err := m.MarkChecked(task.ID)
	if err != nil {
		t.Fatalf("mark checked: %v", err)
	}
	if task.CheckedAt == nil {
		t.Fatal("expected checkedAt stamped")
	}
	if task.Status != store.StatusPendingApproval {
		t.Fatalf("expected status unaffected by MarkChecked, got %s", task.Status)
	}
}

func TestResultPresentIffCompletedErrorPresentIffError(t *testing.T) {
	m := newManager(t)

	completed, _ := m.Create("fs/read_file", nil, nil, store.ActionAllow)
	completed, _ = m.TransitionTo(completed.ID, store.StatusApprovedQueued)
	completed, _ = m.TransitionTo(completed.ID, store.StatusExecuting)
	completed, _ = m.SetResult(completed.ID, "done")
	if completed.Result == nil || completed.Error != "" {
		t.Fatalf("invariant violated on completed task: %+v", completed)
	}

	errored, _ := m.Create("fs/read_file", nil, nil, store.ActionAllow)
	errored, _ = m.SetError(errored.ID, "boom")
	if errored.Error == "" || errored.Result != nil {
		t.Fatalf("invariant violated on errored task: %+v", errored)
	}
}
