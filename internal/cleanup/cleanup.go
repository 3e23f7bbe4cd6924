// Package cleanup implements the Cleanup Loop (spec §4.11): a periodic
// ticker that prunes expired grants. Failures are logged and swallowed —
// the loop never stops on a single bad tick (spec §4.11, §7 "cleanup-loop
// failures being logged").
//
// Grounded on the reference internal/pairing/store.go's
// pruneExpired/pruneExcess helpers, adapted from pending pairing requests
// to grants.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/andycufari/portero/internal/observability"
	"github.com/andycufari/portero/internal/store"
)

// DefaultInterval is the loop's tick period when none is configured (spec
// §4.11 "default 60s").
const DefaultInterval = 60 * time.Second

// GrantStore is the subset of *store.GrantStore the loop depends on.
type GrantStore interface {
	List() ([]*store.Grant, error)
	Remove(id string) error
}

// Loop periodically prunes expired grants.
//
// spec.md §4.11 also calls for expiring "pending approval records" on the
// same ticker. That refers to the vestigial approvals collection spec.md
// §9's Open Question resolves to: this implementation carries no separate
// approvals collection, only the task FSM (internal/tasks), whose
// pending-approval tasks have no expiresAt and persist indefinitely until
// admin action (spec §5 "approval waits have no deadline"). There is
// nothing for this loop to prune on that side.
type Loop struct {
	grants   GrantStore
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// New creates a Loop over the given grant store, ticking every interval
// (DefaultInterval if <= 0).
func New(grants GrantStore, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		grants:   grants,
		interval: interval,
		logger:   logger.With("component", "cleanup"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run ticks until ctx is canceled, pruning expired grants on every tick.
// It also runs one pass immediately so a long-lived process doesn't carry
// stale grants for a full interval after startup.
func (l *Loop) Run(ctx context.Context) {
	l.tick()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	grants, err := l.grants.List()
	if err != nil {
		l.logger.Error("listing grants for cleanup failed", "error", err)
		return
	}

	now := l.now()
	active := 0
	for _, g := range grants {
		if g.Active(now) {
			active++
			continue
		}
		if err := l.grants.Remove(g.ID); err != nil {
			l.logger.Error("removing expired grant failed", "grant_id", g.ID, "error", err)
			continue
		}
		l.logger.Debug("removed expired grant", "grant_id", g.ID, "pattern", g.Pattern)
	}

	if l.metrics != nil {
		l.metrics.SetActiveGrants(active)
	}
}
