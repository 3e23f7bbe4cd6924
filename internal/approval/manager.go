package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andycufari/portero/internal/audit"
	"github.com/andycufari/portero/internal/channels"
	"github.com/andycufari/portero/internal/executor"
	"github.com/andycufari/portero/internal/observability"
	"github.com/andycufari/portero/internal/ratelimit"
	"github.com/andycufari/portero/internal/store"
)

// Decision side effects an admin may attach to an approval (spec §4.8).
const (
	DecisionApprove           = "approve"
	DecisionDeny              = "deny"
	DecisionApproveGrantShort = "approve-grant-short"
	DecisionApproveGrantLong  = "approve-grant-long"
	DecisionApproveAlwaysAllow = "approve-always-allow"
	DecisionDenyAlwaysDeny    = "deny-always-deny"
)

// Open question resolved here (see DESIGN.md): spec.md does not name exact
// grant durations for "approve+grant-short"/"approve+grant-long". These
// mirror the reference codebase's pairing.PendingTTL order of magnitude: a
// short grant covers one interactive session, a long one covers a day.
const (
	DefaultGrantShort = 15 * time.Minute
	DefaultGrantLong  = 24 * time.Hour
)

// TaskManager is the subset of *tasks.Manager the Approval Channel depends
// on.
type TaskManager interface {
	Get(id string) (*store.Task, error)
	List(status *store.TaskStatus, limit int) ([]*store.Task, error)
	TransitionTo(id string, target store.TaskStatus) (*store.Task, error)
	SetChannelMessage(id, handle string) (*store.Task, error)
}

// GrantStore is the subset of *store.GrantStore the Approval Channel
// depends on.
type GrantStore interface {
	Create(grant *store.Grant) (*store.Grant, error)
	List() ([]*store.Grant, error)
	Remove(id string) error
}

// RuleStore is the subset of *store.RuleStore the Approval Channel depends
// on.
type RuleStore interface {
	Upsert(rule *store.Rule) (*store.Rule, error)
	List() ([]*store.Rule, error)
	Remove(pattern string) error
}

// Executor is the subset of *executor.Executor the Approval Channel depends
// on: handing an approved task to the executor happens from inside the
// decision-ingestion path, in a goroutine, so approving a task never blocks
// the channel's message loop.
type Executor interface {
	Execute(ctx context.Context, task *store.Task) executor.Notice
}

// AuditLogger is the subset of *audit.Logger the Approval Channel depends
// on.
type AuditLogger interface {
	Log(ctx context.Context, event audit.Event)
}

// Config configures the Approval Channel core.
type Config struct {
	PairingSecret string
	BatchWindow   time.Duration
	MaxPerFlush   int
	GrantShort    time.Duration
	GrantLong     time.Duration
}

// Manager is the transport-agnostic Approval Channel core (spec §4.8): it
// owns pairing, approval-request dispatch, decision ingestion, the activity
// digest, and admin command handling, and drives zero or more Transport
// adapters.
type Manager struct {
	cfg Config

	pairing *pairing
	grants  GrantStore
	rules   RuleStore
	tasks   TaskManager
	exec    Executor
	audit   AuditLogger
	logger  *slog.Logger
	metrics *observability.Metrics
	limiter *ratelimit.Limiter
	chunker *channels.MessageChunker
	now     func() time.Time

	mu         sync.Mutex
	transports map[channels.ChannelType]Transport
	digest     *digest

	// taskDecided serializes decision ingestion per task: the FSM's own
	// transition guard already rejects a second decision, but a mutex per
	// manager avoids two concurrent decisions racing on the same read of
	// task state before either has written (spec §4.8 "first decision
	// wins").
	decisionMu sync.Mutex
}

// New creates an Approval Channel core.
func New(cfg Config, admin AdminStore, grants GrantStore, rules RuleStore, tasks TaskManager, exec Executor, auditLogger AuditLogger, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if cfg.GrantShort <= 0 {
		cfg.GrantShort = DefaultGrantShort
	}
	if cfg.GrantLong <= 0 {
		cfg.GrantLong = DefaultGrantLong
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "approval")

	m := &Manager{
		cfg:        cfg,
		pairing:    newPairing(admin, cfg.PairingSecret),
		grants:     grants,
		rules:      rules,
		tasks:      tasks,
		exec:       exec,
		audit:      auditLogger,
		logger:     logger,
		metrics:    metrics,
		limiter:    ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		chunker:    channels.NewMessageChunker(4000),
		now:        time.Now,
		transports: make(map[channels.ChannelType]Transport),
	}
	m.digest = newDigest(cfg.BatchWindow, cfg.MaxPerFlush, m.sendToAdmin, logger)
	return m
}

// RegisterTransport adds a channel adapter the manager will listen on and
// may send through, once an admin has paired over it (or any transport,
// prior to pairing).
func (m *Manager) RegisterTransport(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[t.Type()] = t
}

// Start starts every registered transport's lifecycle and its own inbound
// message loops and digest flusher. It returns once every transport has
// started; listening continues in background goroutines until ctx is
// canceled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	transports := make([]Transport, 0, len(m.transports))
	for _, t := range m.transports {
		transports = append(transports, t)
	}
	m.mu.Unlock()

	for _, t := range transports {
		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("approval: starting %s transport: %w", t.Type(), err)
		}
		go m.listen(ctx, t)
	}
	go m.digest.Run(ctx)
	return nil
}

// Stop stops every registered transport.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var lastErr error
	for _, t := range m.transports {
		if err := t.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) listen(ctx context.Context, t Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-t.Messages():
			if !ok {
				return
			}
			if m.metrics != nil {
				m.metrics.RecordApprovalChannelMessage("inbound", "admin")
			}
			m.handleMessage(ctx, t, msg)
		}
	}
}

// sendToAdmin sends text to the paired admin's transport. If no admin has
// paired yet, it is a no-op (there is nowhere to deliver the message).
func (m *Manager) sendToAdmin(ctx context.Context, text string) error {
	paired, principal, err := m.pairing.isPaired()
	if err != nil {
		return err
	}
	if !paired {
		return nil
	}
	channel, channelID, ok := splitPrincipal(principal)
	if !ok {
		return nil
	}
	m.mu.Lock()
	t, ok := m.transports[channel]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if !m.limiter.Allow(ratelimit.CompositeKey("approval", string(channel))) {
		return fmt.Errorf("approval: outbound rate limit exceeded for %s", channel)
	}
	for _, chunk := range m.chunker.Chunk(text) {
		if err := t.Send(ctx, &channels.Message{
			Channel:   channel,
			ChannelID: channelID,
			Direction: channels.DirectionOutbound,
			Content:   chunk,
			CreatedAt: m.now(),
		}); err != nil {
			return err
		}
	}
	if m.metrics != nil {
		m.metrics.RecordApprovalChannelMessage("outbound", "admin")
	}
	return nil
}

func splitPrincipal(principal string) (channels.ChannelType, string, bool) {
	idx := strings.Index(principal, ":")
	if idx <= 0 {
		return "", "", false
	}
	return channels.ChannelType(principal[:idx]), principal[idx+1:], true
}

// RequestApproval renders task and sends it to the paired admin, recording
// the channel's message handle on the task (spec §4.8 "Approval request").
func (m *Manager) RequestApproval(ctx context.Context, task *store.Task) error {
	text := renderApproval(task)
	if err := m.sendToAdmin(ctx, text); err != nil {
		return err
	}
	if _, err := m.tasks.SetChannelMessage(task.ID, "sent:"+m.now().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return nil
}

// NotifyDispatched queues a successful synchronous dispatch into the
// activity digest.
func (m *Manager) NotifyDispatched(toolName string) {
	m.digest.Queue(activityEntry{Status: "dispatched", ToolName: toolName})
}

// NotifyBlocked queues a policy denial into the activity digest (spec
// §4.10 step d: "notify Approval Channel as blocked").
func (m *Manager) NotifyBlocked(toolName, reason string) {
	m.digest.Queue(activityEntry{Status: "blocked", ToolName: toolName, Reason: reason})
}

// NotifyError queues a synchronous-path failure into the activity digest.
func (m *Manager) NotifyError(toolName, reason string) {
	m.digest.Queue(activityEntry{Status: "error", ToolName: toolName, Reason: reason})
}

// QueueNotice queues an executor completion/failure notice into the
// activity digest (spec §4.9 "notify the Approval Channel").
func (m *Manager) QueueNotice(n executor.Notice) {
	m.digest.Queue(activityEntry{Status: string(n.Status), ToolName: n.ToolName, Reason: n.Reason})
}

// handleMessage dispatches one inbound message: pairing commands if
// unpaired, otherwise admin commands from the paired principal only.
func (m *Manager) handleMessage(ctx context.Context, t Transport, msg *channels.Message) {
	fields := strings.Fields(msg.Content)
	if len(fields) == 0 {
		return
	}
	if strings.EqualFold(fields[0], "portero") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	paired, _, err := m.pairing.isPaired()
	if err != nil {
		m.logger.Error("pairing lookup failed", "error", err)
		return
	}
	if !paired {
		m.handleUnpaired(ctx, t, msg, cmd, args)
		return
	}

	isAdmin, err := m.pairing.isAdmin(msg)
	if err != nil {
		m.logger.Error("admin check failed", "error", err)
		return
	}
	if !isAdmin {
		m.reply(ctx, t, msg, "unauthorized: this channel is not the paired admin")
		return
	}
	m.handleAdminCommand(ctx, t, msg, cmd, args)
}

func (m *Manager) handleUnpaired(ctx context.Context, t Transport, msg *channels.Message, cmd string, args []string) {
	switch cmd {
	case "whoami":
		m.reply(ctx, t, msg, fmt.Sprintf("channel=%s id=%s (unpaired)", msg.Channel, msg.ChannelID))
	case "pair":
		if len(args) != 1 {
			m.reply(ctx, t, msg, "usage: portero pair <secret>")
			return
		}
		ok, err := m.pairing.pair(msg, args[0])
		if err != nil {
			m.logger.Error("pairing failed", "error", err)
			m.reply(ctx, t, msg, "pairing failed: internal error")
			return
		}
		if !ok {
			m.reply(ctx, t, msg, "pairing failed: invalid secret or already paired")
			return
		}
		m.reply(ctx, t, msg, "paired successfully — you are now the approval admin")
	default:
		m.reply(ctx, t, msg, "unpaired: send \"portero pair <secret>\" to claim this channel")
	}
}

func (m *Manager) reply(ctx context.Context, t Transport, msg *channels.Message, text string) {
	_ = t.Send(ctx, &channels.Message{
		Channel:   t.Type(),
		ChannelID: msg.ChannelID,
		Direction: channels.DirectionOutbound,
		Content:   text,
		CreatedAt: m.now(),
	})
}

func (m *Manager) handleAdminCommand(ctx context.Context, t Transport, msg *channels.Message, cmd string, args []string) {
	switch cmd {
	case DecisionApprove, DecisionDeny, DecisionApproveGrantShort, DecisionApproveGrantLong, DecisionApproveAlwaysAllow, DecisionDenyAlwaysDeny:
		if len(args) != 1 {
			m.reply(ctx, t, msg, "usage: portero "+cmd+" <task_id>")
			return
		}
		reply := m.decide(ctx, args[0], cmd)
		m.reply(ctx, t, msg, reply)
	case "status":
		m.reply(ctx, t, msg, m.renderStatus())
	case "grant":
		m.reply(ctx, t, msg, m.handleGrantCommand(args))
	case "rule":
		m.reply(ctx, t, msg, m.handleRuleCommand(args))
	case "tasks":
		m.reply(ctx, t, msg, m.renderTasks(args))
	case "audit":
		m.reply(ctx, t, msg, m.renderRecentAudit(args))
	default:
		m.reply(ctx, t, msg, "unrecognized command: "+cmd)
	}
}

// decide ingests a decision for taskID (spec §4.8 "Decision ingestion").
// Re-decisions on an already-processed task are rejected with a
// user-visible note rather than silently ignored.
func (m *Manager) decide(ctx context.Context, taskID, decision string) string {
	m.decisionMu.Lock()
	defer m.decisionMu.Unlock()

	task, err := m.tasks.Get(taskID)
	if err != nil {
		return fmt.Sprintf("task %s not found", taskID)
	}
	if task.Status != store.StatusPendingApproval {
		return fmt.Sprintf("task %s already processed (status=%s)", taskID, task.Status)
	}

	approve := strings.HasPrefix(decision, "approve")
	target := store.StatusDenied
	if approve {
		target = store.StatusApprovedQueued
	}
	updated, err := m.tasks.TransitionTo(taskID, target)
	if err != nil {
		return fmt.Sprintf("task %s already processed", taskID)
	}
	if m.metrics != nil {
		m.metrics.RecordTaskTransition(string(store.StatusPendingApproval), string(target))
		m.metrics.RecordApprovalDecision(strings.ReplaceAll(decision, "-", "_"))
	}

	var sideEffectNote string
	switch decision {
	case DecisionApproveGrantShort:
		sideEffectNote = m.applyGrant(updated.ToolName, m.cfg.GrantShort)
	case DecisionApproveGrantLong:
		sideEffectNote = m.applyGrant(updated.ToolName, m.cfg.GrantLong)
	case DecisionApproveAlwaysAllow:
		sideEffectNote = m.applyRule(updated.ToolName, store.ActionAllow)
	case DecisionDenyAlwaysDeny:
		sideEffectNote = m.applyRule(updated.ToolName, store.ActionDeny)
	}

	evType := audit.EventApproved
	if !approve {
		evType = audit.EventDenied
	}
	m.audit.Log(ctx, audit.Event{
		Type:         evType,
		TaskID:       taskID,
		ToolName:     updated.ToolName,
		PolicyAction: string(updated.PolicyAction),
		Action:       "task_" + string(target),
	})

	if approve {
		go func() {
			notice := m.exec.Execute(context.Background(), updated)
			m.QueueNotice(notice)
		}()
		return fmt.Sprintf("approved task %s%s", taskID, sideEffectNote)
	}
	return fmt.Sprintf("denied task %s%s", taskID, sideEffectNote)
}

func (m *Manager) applyGrant(toolName string, ttl time.Duration) string {
	now := m.now()
	_, err := m.grants.Create(&store.Grant{
		ID:        uuid.NewString(),
		Pattern:   toolName,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		m.logger.Error("creating grant failed", "tool_name", toolName, "error", err)
		return " (grant creation failed)"
	}
	return fmt.Sprintf(" (granted for %s)", ttl)
}

func (m *Manager) applyRule(toolName string, action store.PolicyAction) string {
	_, err := m.rules.Upsert(&store.Rule{
		ID:        uuid.NewString(),
		Pattern:   toolName,
		Action:    action,
		CreatedAt: m.now(),
	})
	if err != nil {
		m.logger.Error("upserting rule failed", "tool_name", toolName, "error", err)
		return " (rule upsert failed)"
	}
	return fmt.Sprintf(" (rule set: %s=%s)", toolName, action)
}

func (m *Manager) renderStatus() string {
	pending, _ := m.tasks.List(statusPtr(store.StatusPendingApproval), 0)
	grants, _ := m.grants.List()
	rules, _ := m.rules.List()
	active := 0
	now := m.now()
	for _, g := range grants {
		if g.Active(now) {
			active++
		}
	}
	return fmt.Sprintf("pending tasks: %d\nactive grants: %d\ndynamic rules: %d", len(pending), active, len(rules))
}

func (m *Manager) handleGrantCommand(args []string) string {
	if len(args) == 0 {
		return "usage: portero grant create <pattern> <duration> | portero grant revoke <id>"
	}
	switch strings.ToLower(args[0]) {
	case "create":
		if len(args) != 3 {
			return "usage: portero grant create <pattern> <duration>"
		}
		ttl, err := time.ParseDuration(args[2])
		if err != nil {
			return "invalid duration: " + args[2]
		}
		now := m.now()
		g, err := m.grants.Create(&store.Grant{ID: uuid.NewString(), Pattern: args[1], CreatedAt: now, ExpiresAt: now.Add(ttl)})
		if err != nil {
			return "grant creation failed: " + err.Error()
		}
		return fmt.Sprintf("created grant %s for %s expiring %s", g.ID, g.Pattern, g.ExpiresAt.Format(time.RFC3339))
	case "revoke":
		if len(args) != 2 {
			return "usage: portero grant revoke <id>"
		}
		if err := m.grants.Remove(args[1]); err != nil {
			return "grant revoke failed: " + err.Error()
		}
		return "revoked grant " + args[1]
	default:
		return "unrecognized grant subcommand: " + args[0]
	}
}

func (m *Manager) handleRuleCommand(args []string) string {
	if len(args) == 0 {
		return "usage: portero rule set <pattern> <allow|deny|require-approval> | rule list | rule remove <pattern>"
	}
	switch strings.ToLower(args[0]) {
	case "set":
		if len(args) != 3 {
			return "usage: portero rule set <pattern> <allow|deny|require-approval>"
		}
		action := store.PolicyAction(args[2])
		switch action {
		case store.ActionAllow, store.ActionDeny, store.ActionRequireApproval:
		default:
			return "invalid action: " + args[2]
		}
		r, err := m.rules.Upsert(&store.Rule{ID: uuid.NewString(), Pattern: args[1], Action: action, CreatedAt: m.now()})
		if err != nil {
			return "rule upsert failed: " + err.Error()
		}
		return fmt.Sprintf("rule set: %s=%s", r.Pattern, r.Action)
	case "list":
		rules, err := m.rules.List()
		if err != nil {
			return "rule list failed: " + err.Error()
		}
		if len(rules) == 0 {
			return "no dynamic rules"
		}
		var b strings.Builder
		for _, r := range rules {
			fmt.Fprintf(&b, "%s: %s\n", r.Pattern, r.Action)
		}
		return strings.TrimRight(b.String(), "\n")
	case "remove":
		if len(args) != 2 {
			return "usage: portero rule remove <pattern>"
		}
		if err := m.rules.Remove(args[1]); err != nil {
			return "rule remove failed: " + err.Error()
		}
		return "removed rule " + args[1]
	default:
		return "unrecognized rule subcommand: " + args[0]
	}
}

func (m *Manager) renderTasks(args []string) string {
	var status *store.TaskStatus
	limit := 20
	if len(args) > 0 {
		s := store.TaskStatus(args[0])
		status = &s
	}
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	tasks, err := m.tasks.List(status, limit)
	if err != nil {
		return "listing tasks failed: " + err.Error()
	}
	if len(tasks) == 0 {
		return "no tasks"
	}
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s %s\n", t.ID, t.ToolName, t.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusPtr(s store.TaskStatus) *store.TaskStatus { return &s }
