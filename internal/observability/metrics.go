package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Tool dispatch volume and latency per backend/tool
//   - Policy decisions by resolved action and source tier
//   - Task lifecycle transitions (pending, approved, denied, error)
//   - HTTP request latency for the MCP-facing listener
//   - Approval channel message flow and grant issuance
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolDispatch("github", "create_issue", "success", 0.23)
type Metrics struct {
	// ToolDispatchCounter counts tool dispatches by backend, tool, and outcome.
	// Labels: backend, tool_name, outcome (success|error)
	ToolDispatchCounter *prometheus.CounterVec

	// ToolDispatchDuration measures router dispatch latency in seconds.
	// Labels: backend, tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolDispatchDuration *prometheus.HistogramVec

	// PolicyDecisionCounter counts resolved policy decisions.
	// Labels: action (allow|deny|ask), source (dynamic-exact|dynamic-pattern|static-exact|static-pattern|default)
	PolicyDecisionCounter *prometheus.CounterVec

	// TaskTransitionCounter counts task FSM transitions.
	// Labels: from, to
	TaskTransitionCounter *prometheus.CounterVec

	// PendingTasks is a gauge tracking tasks currently awaiting approval.
	PendingTasks prometheus.Gauge

	// ActiveGrants is a gauge tracking currently active (non-expired) grants.
	ActiveGrants prometheus.Gauge

	// HTTPRequestDuration measures HTTP request latency on the MCP listener.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// ApprovalChannelMessages counts messages sent to or received from the
	// approval channel transport.
	// Labels: direction (inbound|outbound), kind (approval_request|digest|admin)
	ApprovalChannelMessages *prometheus.CounterVec

	// ApprovalDecisionCounter counts admin decisions on pending tasks.
	// Labels: decision (approve|deny|approve_grant_short|approve_grant_long|approve_always_allow|deny_always_deny)
	ApprovalDecisionCounter *prometheus.CounterVec

	// AuditWriteErrors counts failures writing audit records.
	AuditWriteErrors prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolDispatchCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portero_tool_dispatches_total",
				Help: "Total number of tool dispatches by backend, tool name, and outcome",
			},
			[]string{"backend", "tool_name", "outcome"},
		),

		ToolDispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portero_tool_dispatch_duration_seconds",
				Help:    "Duration of tool dispatches through the router in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"backend", "tool_name"},
		),

		PolicyDecisionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portero_policy_decisions_total",
				Help: "Total number of policy resolutions by action and source tier",
			},
			[]string{"action", "source"},
		),

		TaskTransitionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portero_task_transitions_total",
				Help: "Total number of task lifecycle transitions by from and to state",
			},
			[]string{"from", "to"},
		),

		PendingTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "portero_pending_tasks",
				Help: "Current number of tasks awaiting approval",
			},
		),

		ActiveGrants: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "portero_active_grants",
				Help: "Current number of non-expired grants",
			},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portero_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portero_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		ApprovalChannelMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portero_approval_channel_messages_total",
				Help: "Total number of approval channel messages by direction and kind",
			},
			[]string{"direction", "kind"},
		),

		ApprovalDecisionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portero_approval_decisions_total",
				Help: "Total number of admin decisions on pending tasks",
			},
			[]string{"decision"},
		),

		AuditWriteErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "portero_audit_write_errors_total",
				Help: "Total number of failures writing audit records",
			},
		),
	}
}

// RecordToolDispatch records metrics for a tool dispatch through the router.
//
// Example:
//
//	start := time.Now()
//	// ... dispatch tool ...
//	metrics.RecordToolDispatch("github", "create_issue", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolDispatch(backend, toolName, outcome string, durationSeconds float64) {
	m.ToolDispatchCounter.WithLabelValues(backend, toolName, outcome).Inc()
	m.ToolDispatchDuration.WithLabelValues(backend, toolName).Observe(durationSeconds)
}

// RecordPolicyDecision records a resolved policy decision.
//
// Example:
//
//	metrics.RecordPolicyDecision("ask", "static-pattern")
func (m *Metrics) RecordPolicyDecision(action, source string) {
	m.PolicyDecisionCounter.WithLabelValues(action, source).Inc()
}

// RecordTaskTransition records a task FSM transition.
//
// Example:
//
//	metrics.RecordTaskTransition("pending-approval", "approved-queued")
func (m *Metrics) RecordTaskTransition(from, to string) {
	m.TaskTransitionCounter.WithLabelValues(from, to).Inc()
}

// SetPendingTasks sets the current pending-approval task count.
func (m *Metrics) SetPendingTasks(n int) {
	m.PendingTasks.Set(float64(n))
}

// SetActiveGrants sets the current active grant count.
func (m *Metrics) SetActiveGrants(n int) {
	m.ActiveGrants.Set(float64(n))
}

// RecordHTTPRequest records metrics for an HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("POST", "/mcp/message", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordApprovalChannelMessage records a message sent to or received from
// the approval channel transport.
//
// Example:
//
//	metrics.RecordApprovalChannelMessage("outbound", "approval_request")
func (m *Metrics) RecordApprovalChannelMessage(direction, kind string) {
	m.ApprovalChannelMessages.WithLabelValues(direction, kind).Inc()
}

// RecordApprovalDecision records an admin decision on a pending task.
//
// Example:
//
//	metrics.RecordApprovalDecision("approve_grant_short")
func (m *Metrics) RecordApprovalDecision(decision string) {
	m.ApprovalDecisionCounter.WithLabelValues(decision).Inc()
}

// RecordAuditWriteError increments the audit write failure counter.
func (m *Metrics) RecordAuditWriteError() {
	m.AuditWriteErrors.Inc()
}
