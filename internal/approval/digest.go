package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// activityEntry is one queued execution notice (spec §4.8 "Activity
// digest"): a synchronous dispatch/deny outcome, or an async executor
// completion/failure.
type activityEntry struct {
	Status   string // "dispatched" | "blocked" | "completed" | "error"
	ToolName string
	Reason   string
}

type digestKey struct {
	Status   string
	ToolName string
	Reason   string
}

// digest batches activityEntry values and flushes them as one message per
// batch window (default 3s, max 25 entries per flush), grouped by
// (status, toolName, reason), preserving arrival order within and across
// flushes (spec §5).
type digest struct {
	window  time.Duration
	maxSize int
	send    func(ctx context.Context, text string) error
	logger  *slog.Logger

	mu      sync.Mutex
	pending []activityEntry
}

func newDigest(window time.Duration, maxSize int, send func(ctx context.Context, text string) error, logger *slog.Logger) *digest {
	if window <= 0 {
		window = 3 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 25
	}
	return &digest{window: window, maxSize: maxSize, send: send, logger: logger}
}

// Queue adds an entry to the pending batch.
func (d *digest) Queue(entry activityEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, entry)
}

// Run flushes the pending batch on every tick until ctx is canceled.
func (d *digest) Run(ctx context.Context) {
	ticker := time.NewTicker(d.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.flush(ctx)
		}
	}
}

func (d *digest) flush(ctx context.Context) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.pending
	if len(batch) > d.maxSize {
		d.pending = append([]activityEntry(nil), batch[d.maxSize:]...)
		batch = batch[:d.maxSize]
	} else {
		d.pending = nil
	}
	d.mu.Unlock()

	text := renderDigest(batch)
	if err := d.send(ctx, text); err != nil && d.logger != nil {
		d.logger.Warn("activity digest send failed", "error", err)
	}
}

// renderDigest groups entries by (status, toolName, reason), preserving the
// order each group's first member was seen.
func renderDigest(entries []activityEntry) string {
	counts := make(map[digestKey]int)
	var order []digestKey
	for _, e := range entries {
		k := digestKey{Status: e.Status, ToolName: e.ToolName, Reason: e.Reason}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	var b strings.Builder
	b.WriteString("Activity digest\n")
	for _, k := range order {
		n := counts[k]
		if n == 1 {
			fmt.Fprintf(&b, "- %s: %s", k.Status, k.ToolName)
		} else {
			fmt.Fprintf(&b, "- %s: %s (x%d)", k.Status, k.ToolName, n)
		}
		if k.Reason != "" {
			fmt.Fprintf(&b, " — %s", k.Reason)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
