// Package executor drains approved tasks: it dispatches the task's
// real (pre-anonymization-reversed) arguments through the Router, applies
// outbound anonymization to the result, and persists the outcome via the
// Task Manager (spec §4.9). It performs no policy check of its own —
// approval authorizes execution at the moment it is granted — and it never
// retries: a failed dispatch is terminal.
//
// Grounded on the reference tasks/executor.go's AgentExecutor dispatch-and-
// log shape, adapted to call internal/router instead of driving an LLM
// agent loop.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andycufari/portero/internal/audit"
	"github.com/andycufari/portero/internal/mcp"
	"github.com/andycufari/portero/internal/observability"
	"github.com/andycufari/portero/internal/store"
)

// Router is the subset of *router.Router the Executor depends on.
type Router interface {
	Call(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error)
}

// Anonymizer is the subset of *anonymize.Anonymizer the Executor depends on.
type Anonymizer interface {
	Outbound(value any) any
}

// TaskManager is the subset of *tasks.Manager the Executor depends on.
type TaskManager interface {
	TransitionTo(id string, target store.TaskStatus) (*store.Task, error)
	SetResult(id string, result any) (*store.Task, error)
	SetError(id string, msg string) (*store.Task, error)
}

// AuditLogger is the subset of *audit.Logger the Executor depends on.
type AuditLogger interface {
	Log(ctx context.Context, event audit.Event)
}

// Notice is the outcome of one execution, handed back to whatever invoked
// Execute so it can be queued into the approval channel's activity digest
// (spec §4.8's "execution notices from the pipeline are queued"). Returning
// a value here instead of calling back into the approval package directly
// keeps approval -> executor a one-way dependency.
type Notice struct {
	TaskID   string
	ToolName string
	Status   store.TaskStatus
	Reason   string
}

// Executor dispatches approved tasks to their owning backend.
type Executor struct {
	router     Router
	anonymizer Anonymizer
	tasks      TaskManager
	audit      AuditLogger
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates an Executor.
func New(router Router, anonymizer Anonymizer, tasks TaskManager, auditLogger AuditLogger, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		router:     router,
		anonymizer: anonymizer,
		tasks:      tasks,
		audit:      auditLogger,
		logger:     logger.With("component", "executor"),
		metrics:    metrics,
	}
}

// Execute runs one approved task to completion (spec §4.9 steps 1-4):
// transition to executing, dispatch via the Router with the task's
// realArgs, then on success apply outbound anonymization and persist the
// result, or on failure persist the error. Concurrency: callers may invoke
// Execute for many tasks in parallel; the Executor applies no per-backend
// serialization of its own.
func (e *Executor) Execute(ctx context.Context, task *store.Task) Notice {
	start := time.Now()

	if _, err := e.tasks.TransitionTo(task.ID, store.StatusExecuting); err != nil {
		e.logger.Error("transition to executing failed", "task_id", task.ID, "error", err)
		return e.fail(ctx, task, fmt.Sprintf("internal error: %v", err), start)
	}
	if e.metrics != nil {
		e.metrics.RecordTaskTransition(string(store.StatusApprovedQueued), string(store.StatusExecuting))
	}

	args, _ := task.RealArgs.(map[string]any)
	result, err := e.router.Call(ctx, task.ToolName, args)
	duration := time.Since(start)
	if e.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		backend, _, splitErr := splitBackend(task.ToolName)
		if splitErr != nil {
			backend = "unknown"
		}
		e.metrics.RecordToolDispatch(backend, task.ToolName, outcome, duration.Seconds())
	}
	if err != nil {
		e.logger.Warn("dispatch failed", "task_id", task.ID, "tool_name", task.ToolName, "error", err)
		return e.fail(ctx, task, err.Error(), start)
	}

	anonymized := e.anonymizer.Outbound(resultToAny(result))
	if _, err := e.tasks.SetResult(task.ID, anonymized); err != nil {
		e.logger.Error("persisting result failed", "task_id", task.ID, "error", err)
		return e.fail(ctx, task, fmt.Sprintf("internal error: %v", err), start)
	}
	if e.metrics != nil {
		e.metrics.RecordTaskTransition(string(store.StatusExecuting), string(store.StatusCompleted))
	}

	e.audit.Log(ctx, audit.Event{
		Type:         audit.EventApproved,
		TaskID:       task.ID,
		ToolName:     task.ToolName,
		PolicyAction: string(task.PolicyAction),
		Action:       "task_completed",
		Duration:     time.Since(start),
	})

	return Notice{TaskID: task.ID, ToolName: task.ToolName, Status: store.StatusCompleted}
}

func (e *Executor) fail(ctx context.Context, task *store.Task, msg string, start time.Time) Notice {
	if _, err := e.tasks.SetError(task.ID, msg); err != nil {
		e.logger.Error("persisting error failed", "task_id", task.ID, "error", err)
	}
	e.audit.Log(ctx, audit.Event{
		Type:         audit.EventError,
		TaskID:       task.ID,
		ToolName:     task.ToolName,
		PolicyAction: string(task.PolicyAction),
		Action:       "task_execution_failed",
		Error:        msg,
		Duration:     time.Since(start),
		Details:      map[string]any{"approvalStatus": "approved"},
	})
	return Notice{TaskID: task.ID, ToolName: task.ToolName, Status: store.StatusError, Reason: msg}
}

func resultToAny(r *mcp.ToolCallResult) any {
	if r == nil {
		return nil
	}
	items := make([]any, 0, len(r.Content))
	for _, c := range r.Content {
		items = append(items, map[string]any{
			"type":     c.Type,
			"text":     c.Text,
			"data":     c.Data,
			"mimeType": c.MimeType,
		})
	}
	return map[string]any{"content": items, "isError": r.IsError}
}

func splitBackend(name string) (string, string, error) {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			if i == 0 || i == len(name)-1 {
				break
			}
			return name[:i], name[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("executor: malformed tool name %q", name)
}
