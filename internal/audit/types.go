// Package audit provides structured, append-only audit logging for the
// gateway's terminal paths: dispatch, denial, task creation, and every
// eventual task outcome (spec §7: "every terminal path produces one audit
// record and one admin notification").
package audit

import (
	"time"
)

// EventType categorizes audit events. The vocabulary is narrowed to this
// gateway's terminal-path outcomes rather than a general agent-action log.
type EventType string

const (
	// EventDispatch is recorded when a tool call is allowed and dispatched
	// synchronously to its backend.
	EventDispatch EventType = "dispatch"

	// EventDeny is recorded when the policy resolver denies a tool call
	// outright.
	EventDeny EventType = "deny"

	// EventPending is recorded when a tool call is parked as a
	// pending-approval task.
	EventPending EventType = "pending"

	// EventApproved is recorded when an admin approves a pending task.
	EventApproved EventType = "approved"

	// EventDenied is recorded when an admin denies a pending task.
	EventDenied EventType = "denied"

	// EventError is recorded on any task terminating in the error status,
	// including approval-send failures and backend failures surfaced
	// during execution.
	EventError EventType = "error"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a single audit log entry for one terminal-path outcome.
type Event struct {
	// ID is a unique identifier for this audit event.
	ID string `json:"id"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Level is the severity level.
	Level Level `json:"level"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// ToolName is the namespaced tool the event concerns.
	ToolName string `json:"tool_name,omitempty"`

	// TaskID links the event to a task, when one exists (absent for
	// synchronous dispatch/deny events that never became a task).
	TaskID string `json:"task_id,omitempty"`

	// PolicyAction is the resolved policy action at the time of the event.
	PolicyAction string `json:"policy_action,omitempty"`

	// PolicySource records which tier of the resolver produced the action.
	PolicySource string `json:"policy_source,omitempty"`

	// Action describes what happened, e.g. "tool_dispatched".
	Action string `json:"action"`

	// Details contains event-specific structured data.
	Details map[string]any `json:"details,omitempty"`

	// Duration is the time taken for timed operations.
	Duration time.Duration `json:"duration,omitempty"`

	// Error contains error information if applicable.
	Error string `json:"error,omitempty"`

	// AdminChatID identifies the paired admin principal notified of this
	// event, when applicable.
	AdminChatID string `json:"admin_chat_id,omitempty"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON   OutputFormat = "json"
	FormatLogfmt OutputFormat = "logfmt"
	FormatText   OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	// Enabled determines if audit logging is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Level is the minimum level to log.
	Level Level `json:"level" yaml:"level"`

	// Format specifies the output format.
	Format OutputFormat `json:"format" yaml:"format"`

	// Output specifies where to write logs.
	// Supported: "stdout", "stderr", "file:/path/to/file.log"
	Output string `json:"output" yaml:"output"`

	// IncludeArguments determines whether tool arguments are logged in
	// full rather than just a hash. Defaults to false for privacy, since
	// the arguments recorded here are post-anonymization but may still
	// carry operationally sensitive shape.
	IncludeArguments bool `json:"include_arguments" yaml:"include_arguments"`

	// MaxFieldSize limits the size of logged fields.
	MaxFieldSize int `json:"max_field_size" yaml:"max_field_size"`

	// SampleRate controls what fraction of events are logged. Defaulted
	// to 1.0: spec §7 requires exactly one audit record per terminal
	// path, so sampling below 100% is not a supported configuration for
	// this logger and is only retained as a buffer-pressure escape hatch.
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// FlushInterval is how often to flush the buffer.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Level:            LevelInfo,
		Format:           FormatJSON,
		Output:           "stdout",
		IncludeArguments: false,
		MaxFieldSize:     1024,
		SampleRate:        1.0,
		BufferSize:       1000,
		FlushInterval:    5 * time.Second,
	}
}
