package approval

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/andycufari/portero/internal/audit"
	"github.com/andycufari/portero/internal/channels"
	"github.com/andycufari/portero/internal/executor"
	"github.com/andycufari/portero/internal/observability"
	"github.com/andycufari/portero/internal/store"
)

type fakeAdminStore struct {
	mu  sync.Mutex
	rec store.AdminPairing
}

func (f *fakeAdminStore) Get() (*store.AdminPairing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.rec
	return &rec, nil
}

func (f *fakeAdminStore) Pair(p store.AdminPairing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec = p
	return nil
}

type fakeGrantStore struct {
	mu     sync.Mutex
	grants []*store.Grant
}

func (f *fakeGrantStore) Create(g *store.Grant) (*store.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, g)
	return g, nil
}
func (f *fakeGrantStore) List() ([]*store.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.Grant(nil), f.grants...), nil
}
func (f *fakeGrantStore) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, g := range f.grants {
		if g.ID == id {
			f.grants = append(f.grants[:i], f.grants[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("not found")
}

type fakeRuleStore struct {
	mu    sync.Mutex
	rules map[string]*store.Rule
}

func newFakeRuleStore() *fakeRuleStore { return &fakeRuleStore{rules: make(map[string]*store.Rule)} }

func (f *fakeRuleStore) Upsert(r *store.Rule) (*store.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[r.Pattern] = r
	return r, nil
}
func (f *fakeRuleStore) List() ([]*store.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Rule
	for _, r := range f.rules {
		out = append(out, r)
	}
	return out, nil
}
func (f *fakeRuleStore) Remove(pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rules, pattern)
	return nil
}

type fakeTaskManager struct {
	mu    sync.Mutex
	tasks map[string]*store.Task
}

func newFakeTaskManager() *fakeTaskManager { return &fakeTaskManager{tasks: make(map[string]*store.Task)} }

func (f *fakeTaskManager) put(t *store.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
}

func (f *fakeTaskManager) Get(id string) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskManager) List(status *store.TaskStatus, limit int) ([]*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Task
	for _, t := range f.tasks {
		if status == nil || t.Status == *status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTaskManager) TransitionTo(id string, target store.TaskStatus) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	if t.Status != store.StatusPendingApproval {
		return nil, fmt.Errorf("invalid transition")
	}
	t.Status = target
	cp := *t
	return &cp, nil
}

func (f *fakeTaskManager) SetChannelMessage(id, handle string) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	t.ChannelMessage = handle
	cp := *t
	return &cp, nil
}

type fakeExecutor struct {
	called int32
	mu     sync.Mutex
}

func (f *fakeExecutor) Execute(ctx context.Context, task *store.Task) executor.Notice {
	f.mu.Lock()
	f.called++
	f.mu.Unlock()
	return executor.Notice{TaskID: task.ID, ToolName: task.ToolName, Status: store.StatusCompleted}
}

type fakeAuditLogger struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAuditLogger) Log(ctx context.Context, e interface{ GetType() string }) {}

type fakeTransport struct {
	typ      channels.ChannelType
	inbound  chan *channels.Message
	mu       sync.Mutex
	outbound []*channels.Message
}

func newFakeTransport(typ channels.ChannelType) *fakeTransport {
	return &fakeTransport{typ: typ, inbound: make(chan *channels.Message, 16)}
}

func (f *fakeTransport) Type() channels.ChannelType { return f.typ }
func (f *fakeTransport) Start(ctx context.Context) error { return nil }
func (f *fakeTransport) Stop(ctx context.Context) error  { return nil }
func (f *fakeTransport) Send(ctx context.Context, msg *channels.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, msg)
	return nil
}
func (f *fakeTransport) Messages() <-chan *channels.Message { return f.inbound }

func (f *fakeTransport) lastOutbound() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outbound) == 0 {
		return ""
	}
	return f.outbound[len(f.outbound)-1].Content
}

// simpleAuditLogger implements the real approval.AuditLogger interface.
type simpleAuditLogger struct {
	mu     sync.Mutex
	events int
}

func newManagerForTest(t *testing.T) (*Manager, *fakeAdminStore, *fakeGrantStore, *fakeRuleStore, *fakeTaskManager, *fakeExecutor) {
	t.Helper()
	admin := &fakeAdminStore{}
	grants := &fakeGrantStore{}
	rules := newFakeRuleStore()
	tasks := newFakeTaskManager()
	exec := &fakeExecutor{}
	m := New(Config{PairingSecret: "s3cret", BatchWindow: 10 * time.Millisecond, MaxPerFlush: 25},
		admin, grants, rules, tasks, exec, noopAudit{}, nil, observability.NewMetrics())
	return m, admin, grants, rules, tasks, exec
}

type noopAudit struct{}

func (noopAudit) Log(ctx context.Context, e audit_Event) {}

func TestPairing_UnpairedAcceptsOnlyPairAndWhoami(t *testing.T) {
	m, _, _, _, _, _ := newManagerForTest(t)
	transport := newFakeTransport(channels.ChannelSlack)
	m.RegisterTransport(transport)

	msg := &channels.Message{Channel: channels.ChannelSlack, ChannelID: "U1", Content: "status"}
	m.handleMessage(context.Background(), transport, msg)
	if got := transport.lastOutbound(); got == "" {
		t.Fatalf("expected a reply for unrecognized unpaired command")
	}

	msg2 := &channels.Message{Channel: channels.ChannelSlack, ChannelID: "U1", Content: "pair wrongsecret"}
	m.handleMessage(context.Background(), transport, msg2)
	paired, _, _ := m.pairing.isPaired()
	if paired {
		t.Fatalf("expected pairing to fail with wrong secret")
	}

	msg3 := &channels.Message{Channel: channels.ChannelSlack, ChannelID: "U1", Content: "pair s3cret"}
	m.handleMessage(context.Background(), transport, msg3)
	paired, principal, _ := m.pairing.isPaired()
	if !paired || principal != "slack:U1" {
		t.Fatalf("expected pairing to succeed, got paired=%v principal=%q", paired, principal)
	}
}

func TestDecide_ApproveTransitionsAndExecutes(t *testing.T) {
	m, admin, _, _, tasks, exec := newManagerForTest(t)
	admin.Pair(store.AdminPairing{AdminChatID: "slack:U1", PairedAt: time.Now()})
	tasks.put(&store.Task{ID: "t1", ToolName: "gmail/send", Status: store.StatusPendingApproval, PolicyAction: store.ActionRequireApproval, RealArgs: map[string]any{}})

	reply := m.decide(context.Background(), "t1", DecisionApprove)
	if reply == "" {
		t.Fatalf("expected non-empty reply")
	}
	task, _ := tasks.Get("t1")
	if task.Status != store.StatusApprovedQueued {
		t.Fatalf("expected approved-queued, got %s", task.Status)
	}

	deadline := time.Now().Add(time.Second)
	for exec.called == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if exec.called == 0 {
		t.Fatalf("expected executor to be invoked")
	}
}

func TestDecide_SecondDecisionRejected(t *testing.T) {
	m, admin, _, _, tasks, _ := newManagerForTest(t)
	admin.Pair(store.AdminPairing{AdminChatID: "slack:U1", PairedAt: time.Now()})
	tasks.put(&store.Task{ID: "t2", ToolName: "gmail/send", Status: store.StatusPendingApproval, PolicyAction: store.ActionRequireApproval, RealArgs: map[string]any{}})

	first := m.decide(context.Background(), "t2", DecisionApprove)
	second := m.decide(context.Background(), "t2", DecisionDeny)

	if first == second {
		t.Fatalf("expected differing replies for first vs second decision")
	}
	task, _ := tasks.Get("t2")
	if task.Status != store.StatusApprovedQueued {
		t.Fatalf("second decision must not override the first: got %s", task.Status)
	}
}

func TestDecide_GrantShortCreatesGrant(t *testing.T) {
	m, admin, grants, _, tasks, _ := newManagerForTest(t)
	admin.Pair(store.AdminPairing{AdminChatID: "slack:U1", PairedAt: time.Now()})
	tasks.put(&store.Task{ID: "t3", ToolName: "gmail/send", Status: store.StatusPendingApproval, PolicyAction: store.ActionRequireApproval, RealArgs: map[string]any{}})

	m.decide(context.Background(), "t3", DecisionApproveGrantShort)

	list, _ := grants.List()
	if len(list) != 1 || list[0].Pattern != "gmail/send" {
		t.Fatalf("expected one grant for gmail/send, got %+v", list)
	}
}

func TestDecide_AlwaysDenyCreatesRule(t *testing.T) {
	m, admin, _, rules, tasks, _ := newManagerForTest(t)
	admin.Pair(store.AdminPairing{AdminChatID: "slack:U1", PairedAt: time.Now()})
	tasks.put(&store.Task{ID: "t4", ToolName: "stripe/charge", Status: store.StatusPendingApproval, PolicyAction: store.ActionRequireApproval, RealArgs: map[string]any{}})

	m.decide(context.Background(), "t4", DecisionDenyAlwaysDeny)

	list, _ := rules.List()
	if len(list) != 1 || list[0].Action != store.ActionDeny {
		t.Fatalf("expected a deny rule, got %+v", list)
	}
}

func TestRenderApproval_EmailFields(t *testing.T) {
	task := &store.Task{ID: "t5", ToolName: "gmail/send", RealArgs: map[string]any{"to": "a@example.com", "subject": "hi", "body": "hello"}}
	text := renderApproval(task)
	if !contains(text, "to: a@example.com") || !contains(text, "subject: hi") {
		t.Fatalf("expected rendered email fields, got: %s", text)
	}
}

func TestRenderDigest_GroupsByStatusToolReason(t *testing.T) {
	entries := []activityEntry{
		{Status: "dispatched", ToolName: "fs/read"},
		{Status: "dispatched", ToolName: "fs/read"},
		{Status: "blocked", ToolName: "stripe/charge", Reason: "deny"},
	}
	text := renderDigest(entries)
	if !contains(text, "dispatched: fs/read (x2)") {
		t.Fatalf("expected grouped count, got: %s", text)
	}
	if !contains(text, "blocked: stripe/charge — deny") {
		t.Fatalf("expected blocked entry with reason, got: %s", text)
	}
}

func TestDigest_FlushesOnTick(t *testing.T) {
	var mu sync.Mutex
	var got string
	d := newDigest(5*time.Millisecond, 25, func(ctx context.Context, text string) error {
		mu.Lock()
		got = text
		mu.Unlock()
		return nil
	}, nil)
	d.Queue(activityEntry{Status: "dispatched", ToolName: "fs/read"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go d.Run(ctx)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		g := got
		mu.Unlock()
		if g != "" {
			break
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if got == "" {
		t.Fatalf("expected digest to flush within timeout")
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
