package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/andycufari/portero/internal/observability"
	"github.com/andycufari/portero/internal/store"
)

type fakeGrantStore struct {
	mu      sync.Mutex
	grants  map[string]*store.Grant
	removed []string
}

func newFakeGrantStore(grants ...*store.Grant) *fakeGrantStore {
	m := make(map[string]*store.Grant, len(grants))
	for _, g := range grants {
		m[g.ID] = g
	}
	return &fakeGrantStore{grants: m}
}

func (f *fakeGrantStore) List() ([]*store.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Grant, 0, len(f.grants))
	for _, g := range f.grants {
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeGrantStore) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.grants, id)
	f.removed = append(f.removed, id)
	return nil
}

func TestLoop_PrunesOnlyExpiredGrants(t *testing.T) {
	now := time.Now()
	active := &store.Grant{ID: "active", Pattern: "a/*", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)}
	expired := &store.Grant{ID: "expired", Pattern: "b/*", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Minute)}
	grants := newFakeGrantStore(active, expired)

	loop := New(grants, time.Hour, nil, observability.NewMetrics())
	loop.tick()

	remaining, err := grants.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "active" {
		t.Fatalf("expected only the active grant to remain, got %+v", remaining)
	}
	if len(grants.removed) != 1 || grants.removed[0] != "expired" {
		t.Fatalf("expected the expired grant to be removed, got %+v", grants.removed)
	}
}

func TestLoop_RunStopsOnContextCancel(t *testing.T) {
	grants := newFakeGrantStore()
	loop := New(grants, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
