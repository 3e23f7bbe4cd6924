// Package pipeline implements the Request Pipeline (spec §4.10): it
// orchestrates every other core component per JSON-RPC invocation —
// anonymization, policy resolution, grant lookup, task parking, and
// synchronous dispatch — and owns the four virtual tools the gateway
// exposes alongside the backend catalog.
//
// The pipeline never blocks waiting for human approval (spec §9): a
// require-approval decision with no active grant creates a task and
// returns immediately; the admin's eventual decision and the executor's
// eventual run happen on entirely separate goroutines driven by
// internal/approval and internal/executor.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andycufari/portero/internal/anonymize"
	"github.com/andycufari/portero/internal/audit"
	"github.com/andycufari/portero/internal/mcp"
	"github.com/andycufari/portero/internal/observability"
	"github.com/andycufari/portero/internal/policy"
	"github.com/andycufari/portero/internal/registry"
	"github.com/andycufari/portero/internal/router"
	"github.com/andycufari/portero/internal/store"
)

// Registry is the subset of *registry.Registry the pipeline depends on.
type Registry interface {
	Filtered() []registry.Tool
	Unfiltered() []registry.Tool
	Search(query, category string) []registry.Tool
	MarkUsed(name string)
	ReadResource(ctx context.Context, uri string) ([]*mcp.ResourceContent, error)
}

// Router is the subset of *router.Router the pipeline depends on.
type Router interface {
	Call(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error)
}

// Anonymizer is the subset of *anonymize.Anonymizer the pipeline depends
// on.
type Anonymizer interface {
	Inbound(value any) any
	Outbound(value any) any
}

// Resolver is the subset of *policy.Resolver the pipeline depends on.
type Resolver interface {
	Decide(toolName string) (policy.Decision, error)
}

// Grants is the subset of *store.GrantStore the pipeline depends on.
type Grants interface {
	List() ([]*store.Grant, error)
}

// TaskManager is the subset of *tasks.Manager the pipeline depends on.
type TaskManager interface {
	Create(toolName string, realArgs, originalArgs any, action store.PolicyAction) (*store.Task, error)
	Get(id string) (*store.Task, error)
	List(status *store.TaskStatus, limit int) ([]*store.Task, error)
	MarkChecked(id string) (*store.Task, error)
	SetError(id string, msg string) (*store.Task, error)
}

// ApprovalChannel is the subset of *approval.Manager the pipeline depends
// on.
type ApprovalChannel interface {
	RequestApproval(ctx context.Context, task *store.Task) error
	NotifyDispatched(toolName string)
	NotifyBlocked(toolName, reason string)
	NotifyError(toolName, reason string)
}

// AuditLogger is the subset of *audit.Logger the pipeline depends on.
type AuditLogger interface {
	Log(ctx context.Context, event audit.Event)
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Registry   Registry
	Router     Router
	Anonymizer Anonymizer
	Resolver   Resolver
	Grants     Grants
	Tasks      TaskManager
	Approval   ApprovalChannel
	Audit      AuditLogger
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Pipeline is the Request Pipeline: the one component every JSON-RPC
// method passes through.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, logger: logger.With("component", "pipeline")}
}

// DenyError is returned when the policy resolver denies a tool call (spec
// §7 "policy denial ... reported to the caller as a JSON-RPC application
// error").
type DenyError struct {
	ToolName string
	Pattern  string
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("tool %q denied by policy (pattern %q)", e.ToolName, e.Pattern)
}

// PendingResult is the caller-facing envelope for a call parked as a task
// (spec §6 "Pending-approval reply shape").
type PendingResult struct {
	Status   string `json:"status"`
	TaskID   string `json:"taskId"`
	ToolName string `json:"toolName"`
	Message  string `json:"message"`
}

// CallTool runs the full pipeline for a non-virtual tool call (spec §4.10
// step 2): anonymize inbound, resolve policy, check grants, then either
// deny, park as a task, or dispatch synchronously.
func (p *Pipeline) CallTool(ctx context.Context, name string, originalArgs map[string]any) (any, error) {
	realArgsAny := p.deps.Anonymizer.Inbound(toAny(originalArgs))
	realArgs, _ := realArgsAny.(map[string]any)

	decision, err := p.deps.Resolver.Decide(name)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolving policy for %q: %w", name, err)
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordPolicyDecision(string(decision.Action), string(decision.Source))
	}

	if decision.Action == store.ActionDeny {
		p.auditAndNotifyDeny(ctx, name, decision)
		return nil, &DenyError{ToolName: name, Pattern: decision.Pattern}
	}

	hasGrant, err := p.hasActiveGrant(name)
	if err != nil {
		return nil, fmt.Errorf("pipeline: checking grants for %q: %w", name, err)
	}

	if decision.Action == store.ActionRequireApproval && !hasGrant {
		return p.park(ctx, name, realArgs, originalArgs, decision)
	}

	result, err := p.dispatch(ctx, name, realArgs)
	if err != nil {
		p.auditAndNotifyError(ctx, name, decision, err)
		return nil, err
	}
	p.deps.Registry.MarkUsed(name)
	p.deps.Audit.Log(ctx, audit.Event{
		Type:         audit.EventDispatch,
		ToolName:     name,
		Action:       "tool_dispatched",
		PolicyAction: string(decision.Action),
		PolicySource: string(decision.Source),
	})
	p.deps.Approval.NotifyDispatched(name)
	return result, nil
}

// dispatch calls the Router with already-anonymized arguments and applies
// outbound anonymization to the reply (spec §4.10 step f).
func (p *Pipeline) dispatch(ctx context.Context, name string, realArgs map[string]any) (any, error) {
	start := time.Now()
	result, err := p.deps.Router.Call(ctx, name, realArgs)
	duration := time.Since(start)
	if p.deps.Metrics != nil {
		backend, _, splitErr := router.Split(name)
		if splitErr != nil {
			backend = "unknown"
		}
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		p.deps.Metrics.RecordToolDispatch(backend, name, outcome, duration.Seconds())
	}
	if err != nil {
		return nil, err
	}
	return p.deps.Anonymizer.Outbound(resultToAny(result)), nil
}

// park creates a pending-approval task and requests approval out of band,
// returning the pending envelope immediately (spec §4.10 step e). An
// approval-send failure moves the task to error; the caller still receives
// the pending envelope and learns of the failure by polling check_task
// (spec §7).
func (p *Pipeline) park(ctx context.Context, name string, realArgs map[string]any, originalArgs map[string]any, decision policy.Decision) (any, error) {
	task, err := p.deps.Tasks.Create(name, realArgs, originalArgs, decision.Action)
	if err != nil {
		return nil, fmt.Errorf("pipeline: creating task for %q: %w", name, err)
	}

	p.deps.Audit.Log(ctx, audit.Event{
		Type:         audit.EventPending,
		TaskID:       task.ID,
		ToolName:     name,
		Action:       "task_created",
		PolicyAction: string(decision.Action),
		PolicySource: string(decision.Source),
	})

	if err := p.deps.Approval.RequestApproval(ctx, task); err != nil {
		p.logger.Error("approval request send failed", "task_id", task.ID, "tool_name", name, "error", err)
		if _, sErr := p.deps.Tasks.SetError(task.ID, err.Error()); sErr != nil {
			p.logger.Error("marking task error after send failure failed", "task_id", task.ID, "error", sErr)
		}
		p.deps.Audit.Log(ctx, audit.Event{
			Type:         audit.EventError,
			TaskID:       task.ID,
			ToolName:     name,
			Action:       "approval_send_failed",
			PolicyAction: string(decision.Action),
			Error:        err.Error(),
		})
	}

	return PendingResult{
		Status:   "pending-approval",
		TaskID:   task.ID,
		ToolName: name,
		Message:  "this call requires admin approval; poll portero/check_task with this task id",
	}, nil
}

func (p *Pipeline) hasActiveGrant(name string) (bool, error) {
	grants, err := p.deps.Grants.List()
	if err != nil {
		return false, err
	}
	now := time.Now()
	for _, g := range grants {
		if g.Active(now) && policy.MatchPattern(g.Pattern, name) {
			return true, nil
		}
	}
	return false, nil
}

func (p *Pipeline) auditAndNotifyDeny(ctx context.Context, name string, decision policy.Decision) {
	p.deps.Audit.Log(ctx, audit.Event{
		Type:         audit.EventDeny,
		ToolName:     name,
		Action:       "tool_denied",
		PolicyAction: string(decision.Action),
		PolicySource: string(decision.Source),
		Error:        "denied by policy",
	})
	p.deps.Approval.NotifyBlocked(name, "denied by policy")
}

func (p *Pipeline) auditAndNotifyError(ctx context.Context, name string, decision policy.Decision, err error) {
	p.deps.Audit.Log(ctx, audit.Event{
		Type:         audit.EventError,
		ToolName:     name,
		Action:       "tool_dispatch_failed",
		PolicyAction: string(decision.Action),
		PolicySource: string(decision.Source),
		Error:        err.Error(),
	})
	p.deps.Approval.NotifyError(name, err.Error())
}

func toAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
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
