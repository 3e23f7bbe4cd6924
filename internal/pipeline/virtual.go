package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/andycufari/portero/internal/registry"
	"github.com/andycufari/portero/internal/store"
)

// Virtual tool names (spec §6 "Virtual tools").
const (
	ToolSearchTools = "portero/search_tools"
	ToolCall        = "portero/call"
	ToolCheckTask   = "portero/check_task"
	ToolListTasks   = "portero/list_tasks"
)

const defaultListTasksLimit = 20
const maxListTasksLimit = 100

// IsVirtual reports whether name is one of the four always-present virtual
// tools.
func IsVirtual(name string) bool {
	switch name {
	case ToolSearchTools, ToolCall, ToolCheckTask, ToolListTasks:
		return true
	default:
		return false
	}
}

// VirtualTools returns the fixed virtual-tool descriptors prepended to the
// filtered catalog on tools/list (spec §6).
func VirtualTools() []registry.Tool {
	return []registry.Tool{
		{Name: ToolSearchTools, Description: "Search the full tool catalog by query or category, including tools not currently visible in tools/list."},
		{Name: ToolCall, Description: "Call any tool by its full namespaced name, going through the same policy pipeline as a direct call."},
		{Name: ToolCheckTask, Description: "Retrieve a parked task's status, or its result once completed."},
		{Name: ToolListTasks, Description: "Summarize recent tasks, optionally filtered by status."},
	}
}

// CallVirtual dispatches one of the four virtual tools (spec §4.10 step 1 /
// §6).
func (p *Pipeline) CallVirtual(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolSearchTools:
		return p.searchTools(args), nil
	case ToolCall:
		return p.callByName(ctx, args)
	case ToolCheckTask:
		return p.checkTask(args)
	case ToolListTasks:
		return p.listTasks(args)
	default:
		return nil, fmt.Errorf("pipeline: %q is not a virtual tool", name)
	}
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type searchResult struct {
	Count int           `json:"count"`
	Tools []toolSummary `json:"tools"`
}

// searchTools implements portero/search_tools over the unfiltered catalog
// (spec §4.3 "used by the search virtual tool").
func (p *Pipeline) searchTools(args map[string]any) searchResult {
	query, _ := args["query"].(string)
	category, _ := args["category"].(string)

	tools := p.deps.Registry.Search(query, category)
	out := searchResult{Count: len(tools), Tools: make([]toolSummary, 0, len(tools))}
	for _, t := range tools {
		out.Tools = append(out.Tools, toolSummary{Name: t.Name, Description: t.Description})
	}
	return out
}

// callByName implements portero/call: delegate through the pipeline to any
// tool by full name, as if the caller had invoked it directly (spec §6).
func (p *Pipeline) callByName(ctx context.Context, args map[string]any) (any, error) {
	tool, _ := args["tool"].(string)
	if tool == "" {
		return nil, fmt.Errorf("pipeline: portero/call requires a non-empty \"tool\" argument")
	}
	innerArgs, _ := args["args"].(map[string]any)
	if IsVirtual(tool) {
		return p.CallVirtual(ctx, tool, innerArgs)
	}
	return p.CallTool(ctx, tool, innerArgs)
}

// checkTaskResult is the status envelope returned for a task that has not
// yet completed (spec §6: "if completed, returns the stored result
// verbatim; else a status envelope").
type checkTaskResult struct {
	Status   store.TaskStatus `json:"status"`
	TaskID   string           `json:"taskId"`
	ToolName string           `json:"toolName,omitempty"`
	Error    string           `json:"error,omitempty"`
	Found    bool             `json:"found"`
}

// checkTask implements portero/check_task (spec §6, §7 "Task-not-found ...
// returns a structured response, not an error").
func (p *Pipeline) checkTask(args map[string]any) (any, error) {
	id, _ := args["task_id"].(string)
	if id == "" {
		return nil, fmt.Errorf("pipeline: portero/check_task requires a non-empty \"task_id\" argument")
	}

	task, err := p.deps.Tasks.Get(id)
	if err != nil {
		return checkTaskResult{TaskID: id, Found: false}, nil
	}
	if _, err := p.deps.Tasks.MarkChecked(id); err != nil {
		p.logger.Warn("marking task checked failed", "task_id", id, "error", err)
	}

	if task.Status == store.StatusCompleted {
		return task.Result, nil
	}
	return checkTaskResult{
		Status:   task.Status,
		TaskID:   task.ID,
		ToolName: task.ToolName,
		Error:    task.Error,
		Found:    true,
	}, nil
}

type taskSummary struct {
	ID       string           `json:"id"`
	ToolName string           `json:"toolName"`
	Status   store.TaskStatus `json:"status"`
	Created  string           `json:"createdAt"`
}

// listTasks implements portero/list_tasks (spec §6: cap 100, default 20).
func (p *Pipeline) listTasks(args map[string]any) (any, error) {
	limit := defaultListTasksLimit
	if raw, ok := args["limit"]; ok {
		n, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("pipeline: portero/list_tasks \"limit\" must be a number: %w", err)
		}
		limit = n
	}
	if limit <= 0 {
		limit = defaultListTasksLimit
	}
	if limit > maxListTasksLimit {
		limit = maxListTasksLimit
	}

	var statusFilter *store.TaskStatus
	if raw, ok := args["status"].(string); ok && raw != "" {
		s := store.TaskStatus(raw)
		statusFilter = &s
	}

	list, err := p.deps.Tasks.List(statusFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: listing tasks: %w", err)
	}

	out := make([]taskSummary, 0, len(list))
	for _, t := range list {
		out = append(out, taskSummary{ID: t.ID, ToolName: t.ToolName, Status: t.Status, Created: t.CreatedAt.Format("2006-01-02T15:04:05Z07:00")})
	}
	return struct {
		Count int           `json:"count"`
		Tasks []taskSummary `json:"tasks"`
	}{Count: len(out), Tasks: out}, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
