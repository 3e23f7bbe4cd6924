package store

import "time"

// TaskStatus is one of the six states in the task finite state machine
// described in spec §3. Terminal states are StatusCompleted, StatusDenied,
// and StatusError.
type TaskStatus string

const (
	StatusPendingApproval TaskStatus = "pending-approval"
	StatusApprovedQueued  TaskStatus = "approved-queued"
	StatusExecuting       TaskStatus = "executing"
	StatusCompleted       TaskStatus = "completed"
	StatusDenied          TaskStatus = "denied"
	StatusError           TaskStatus = "error"
)

// PolicyAction is the outcome of a policy resolution.
type PolicyAction string

const (
	ActionAllow           PolicyAction = "allow"
	ActionDeny            PolicyAction = "deny"
	ActionRequireApproval PolicyAction = "require-approval"
)

// PolicySource records which tier of the resolver produced an action.
type PolicySource string

const (
	SourceDynamicRule  PolicySource = "dynamic-rule"
	SourceStaticExact  PolicySource = "static-exact"
	SourceStaticPattern PolicySource = "static-pattern"
	SourceDefault      PolicySource = "default"
)

// Task is the central durable entity: a single tool invocation that has
// been deferred pending admin approval, or is progressing through
// execution after approval.
type Task struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"toolName"`
	RealArgs   any            `json:"realArgs"`
	OriginalArgs any          `json:"originalArgs"`
	Status     TaskStatus     `json:"status"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	PolicyAction PolicyAction `json:"policyAction"`

	// ChannelMessage is the approval channel's opaque handle for the
	// rendered approval request (e.g. a chat message timestamp/id), set
	// once the Approval Channel has dispatched the request.
	ChannelMessage string `json:"channelMessage,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	ExecutedAt *time.Time `json:"executedAt,omitempty"`
	CheckedAt  *time.Time `json:"checkedAt,omitempty"`
}

// Grant is a time-bounded override causing require-approval to behave as
// allow for any tool name matching Pattern.
type Grant struct {
	ID        string    `json:"id"`
	Pattern   string    `json:"pattern"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Active reports whether the grant has not yet expired.
func (g *Grant) Active(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// Rule is a persisted, admin-editable policy entry that overrides static
// configuration. Exactly one rule exists per Pattern at any time (spec §8
// invariant 3); Upsert enforces this.
type Rule struct {
	ID        string       `json:"id"`
	Pattern   string       `json:"pattern"`
	Action    PolicyAction `json:"action"`
	CreatedAt time.Time    `json:"createdAt"`
}

// AdminPairing is the single record identifying the paired approval-channel
// principal. AdminChatID is empty until pairing succeeds.
type AdminPairing struct {
	AdminChatID string    `json:"adminChatId,omitempty"`
	PairedAt    time.Time `json:"pairedAt,omitempty"`
}

// taskDocument, grantDocument, ruleDocument, and adminDocument are the
// on-disk shapes: one top-level field holding an insertion-newest-first
// ordered list, per spec §6's persisted-state layout. AdminPairing is a
// single record rather than a list.
type taskDocument struct {
	Tasks []*Task `json:"tasks"`
}

type grantDocument struct {
	Grants []*Grant `json:"grants"`
}

type ruleDocument struct {
	Rules []*Rule `json:"rules"`
}

type adminDocument struct {
	Admin AdminPairing `json:"admin"`
}
