package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTaskCreateGetUpdate(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	tasks := s.Tasks()

	created, err := tasks.Create(&Task{
		ID:           "t1",
		ToolName:     "filesystem/read_file",
		Status:       StatusPendingApproval,
		PolicyAction: ActionRequireApproval,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != StatusPendingApproval {
		t.Fatalf("unexpected status: %v", created.Status)
	}

	got, err := tasks.Get("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ToolName != "filesystem/read_file" {
		t.Fatalf("unexpected tool name: %v", got.ToolName)
	}

	_, err = tasks.Update("t1", func(task *Task) error {
		task.Status = StatusApprovedQueued
		now := time.Now()
		task.ApprovedAt = &now
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err = tasks.Get("t1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != StatusApprovedQueued || got.ApprovedAt == nil {
		t.Fatalf("update did not persist: %+v", got)
	}
}

func TestTaskGetMissingReturnsNotFound(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Tasks().Get("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskListOrderingAndFilter(t *testing.T) {
	s := New(t.TempDir())
	tasks := s.Tasks()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := tasks.Create(&Task{ID: id, Status: StatusPendingApproval, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := tasks.Update("b", func(task *Task) error {
		task.Status = StatusCompleted
		return nil
	}); err != nil {
		t.Fatalf("update b: %v", err)
	}

	all, err := tasks.List(nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Insertion-newest-first: c, b, a.
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", all)
	}

	pending := StatusPendingApproval
	filtered, err := tasks.List(&pending, 0)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(filtered))
	}
}

func TestGrantActiveInvariant(t *testing.T) {
	s := New(t.TempDir())
	grants := s.Grants()

	now := time.Now()
	if _, err := grants.Create(&Grant{ID: "g1", Pattern: "x/*", CreatedAt: now, ExpiresAt: now.Add(-time.Minute)}); err == nil {
		t.Fatalf("expected error for expiresAt before createdAt")
	}

	g, err := grants.Create(&Grant{ID: "g2", Pattern: "x/*", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !g.Active(now.Add(time.Minute)) {
		t.Fatalf("expected grant to be active")
	}
	if g.Active(now.Add(2 * time.Hour)) {
		t.Fatalf("expected grant to be expired")
	}
}

func TestGrantRemoveExpired(t *testing.T) {
	s := New(t.TempDir())
	grants := s.Grants()
	now := time.Now()

	if _, err := grants.Create(&Grant{ID: "expired", Pattern: "x/*", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if _, err := grants.Create(&Grant{ID: "live", Pattern: "y/*", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create live: %v", err)
	}

	removed, err := grants.RemoveExpired(now)
	if err != nil {
		t.Fatalf("remove expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	remaining, err := grants.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "live" {
		t.Fatalf("unexpected remaining grants: %+v", remaining)
	}
}

func TestRuleUpsertReplacesByPattern(t *testing.T) {
	s := New(t.TempDir())
	rules := s.Rules()

	if _, err := rules.Upsert(&Rule{ID: "r1", Pattern: "x/*", Action: ActionAllow, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if _, err := rules.Upsert(&Rule{ID: "r2", Pattern: "x/*", Action: ActionDeny, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	all, err := rules.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one rule per pattern, got %d", len(all))
	}
	if all[0].Action != ActionDeny {
		t.Fatalf("expected most recent upsert to win, got %v", all[0].Action)
	}
}

func TestAdminPairOnce(t *testing.T) {
	s := New(t.TempDir())
	admin := s.Admin()

	before, err := admin.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if before.AdminChatID != "" {
		t.Fatalf("expected unpaired gateway to have empty AdminChatID")
	}

	if err := admin.Pair(AdminPairing{AdminChatID: "U123", PairedAt: time.Now()}); err != nil {
		t.Fatalf("pair: %v", err)
	}

	after, err := admin.Get()
	if err != nil {
		t.Fatalf("get after pair: %v", err)
	}
	if after.AdminChatID != "U123" {
		t.Fatalf("pairing did not persist: %+v", after)
	}
}

// TestAtomicWriteSurvivesPartialTemp simulates a crash between the temp-file
// write and the rename (spec §8 invariant 7): a stray .tmp file with partial
// content must not affect what readers see, since the committed file is only
// ever replaced by a completed rename.
func TestAtomicWriteSurvivesPartialTemp(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	tasks := s.Tasks()

	if _, err := tasks.Create(&Task{ID: "t1", Status: StatusPendingApproval, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Simulate an interrupted write: a leftover temp file with garbage.
	tmp := filepath.Join(dir, tasksCollection+".json.tmp")
	if err := os.WriteFile(tmp, []byte("not valid json at all"), 0o600); err != nil {
		t.Fatalf("write stray temp: %v", err)
	}

	got, err := tasks.Get("t1")
	if err != nil {
		t.Fatalf("get after stray temp file: %v", err)
	}
	if got.ID != "t1" {
		t.Fatalf("unexpected task: %+v", got)
	}
}
