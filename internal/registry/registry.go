// Package registry tracks connected backends and produces the namespaced,
// policy-filtered tool catalog exposed to the caller (spec §4.2/§4.3).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andycufari/portero/internal/mcp"
)

// Tool is a backend tool namespaced as "backend/local-name".
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Backend     string          `json:"-"`
	Local       string          `json:"-"`
}

// Registry owns the backend connection manager, the per-backend pinned
// tool sets it reads from backend configuration, and the process-wide
// recency set (spec §4.2). The Aggregator lives here too since it shares
// the registry's mutex-guarded cache (spec §9: "the Aggregator cache,
// recency set ... require a single guard each").
type Registry struct {
	manager *mcp.Manager

	mu      sync.Mutex
	recency map[string]struct{}

	cacheMu    sync.Mutex
	cacheAt    time.Time
	cacheTTL   time.Duration
	unfiltered []Tool
}

// New creates a Registry over manager with the given Aggregator cache TTL
// (spec §3: default 60s).
func New(manager *mcp.Manager, cacheTTL time.Duration) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	return &Registry{
		manager:  manager,
		recency:  make(map[string]struct{}),
		cacheTTL: cacheTTL,
	}
}

// namespacedName builds the "backend/local" identifier.
func namespacedName(backend, local string) string {
	return backend + "/" + local
}

// MarkUsed inserts name into the process-wide recency set.
func (r *Registry) MarkUsed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recency[name] = struct{}{}
}

func (r *Registry) isRecentlyUsed(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.recency[name]
	return ok
}

// Unfiltered returns the full namespaced tool union across all connected
// backends, recomputing the cache if it has expired.
func (r *Registry) Unfiltered() []Tool {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if time.Since(r.cacheAt) < r.cacheTTL && r.unfiltered != nil {
		return r.unfiltered
	}

	var tools []Tool
	for backend, backendTools := range r.manager.AllTools() {
		for _, t := range backendTools {
			tools = append(tools, Tool{
				Name:        namespacedName(backend, t.Name),
				Description: t.Description,
				InputSchema: t.InputSchema,
				Backend:     backend,
				Local:       t.Name,
			})
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	r.unfiltered = tools
	r.cacheAt = time.Now()
	return tools
}

// pinnedTools returns the backend's configured pinned tool set, or nil if
// it declares none.
func (r *Registry) pinnedTools(backend string) ([]string, bool) {
	client, ok := r.manager.Client(backend)
	if !ok {
		return nil, false
	}
	cfg := client.Config()
	if len(cfg.PinnedTools) == 0 {
		return nil, false
	}
	return cfg.PinnedTools, true
}

// Filtered returns the view published to the client (spec §4.3): equal to
// Unfiltered if no backend declares a pinned set; otherwise, per tool,
// included iff its backend declares no pinned set, or its local name is
// pinned, or its full name is in the recency set.
func (r *Registry) Filtered() []Tool {
	return filterTools(r.Unfiltered(), r.pinnedTools, r.isRecentlyUsed)
}

// filterTools is the pure filtering algorithm behind Filtered, factored out
// so it can be exercised without a live backend connection manager.
func filterTools(all []Tool, pinnedFor func(backend string) ([]string, bool), isRecent func(name string) bool) []Tool {
	seen := make(map[string]bool)
	anyPinned := false
	for _, t := range all {
		if seen[t.Backend] {
			continue
		}
		seen[t.Backend] = true
		if _, ok := pinnedFor(t.Backend); ok {
			anyPinned = true
			break
		}
	}
	if !anyPinned {
		return all
	}

	var out []Tool
	for _, t := range all {
		pinned, has := pinnedFor(t.Backend)
		if !has {
			out = append(out, t)
			continue
		}
		if containsString(pinned, t.Local) || isRecent(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Search filters the unfiltered catalog by query/category, case
// insensitively, for the portero/search_tools virtual tool. Category
// keywords are matched against name and description; unknown categories
// fall through to a literal substring match against query.
func (r *Registry) Search(query, category string) []Tool {
	return searchInTools(r.Unfiltered(), query, category)
}

// searchInTools is the pure matching algorithm behind Search, factored out
// so it can be exercised against fixture tool lists directly.
func searchInTools(all []Tool, query, category string) []Tool {
	if query == "" && category == "" {
		return all
	}

	keywords, known := toolCategories[strings.ToLower(category)]
	if !known && category != "" {
		keywords = []string{category}
	}
	needle := strings.ToLower(query)

	var out []Tool
	for _, t := range all {
		haystack := strings.ToLower(t.Name + " " + t.Description)
		matched := needle != "" && strings.Contains(haystack, needle)
		for _, kw := range keywords {
			if strings.Contains(haystack, strings.ToLower(kw)) {
				matched = true
				break
			}
		}
		if matched {
			out = append(out, t)
		}
	}
	return out
}

// toolCategories is the fixed keyword map used by the search virtual tool
// (spec §6).
var toolCategories = map[string][]string{
	"filesystem": {"file", "read_file", "write_file", "directory"},
	"google":     {"google", "search"},
	"gmail":      {"gmail", "email", "mail"},
	"calendar":   {"calendar", "event"},
	"drive":      {"drive", "document"},
	"email":      {"email", "mail", "smtp"},
	"stripe":     {"stripe", "payment", "charge", "invoice"},
}

// ReadResource peels the "backend://" prefix from uri and forwards to the
// owning backend (spec §4.3/§4.4).
func (r *Registry) ReadResource(ctx context.Context, uri string) ([]*mcp.ResourceContent, error) {
	backend, original, err := SplitResourceURI(uri)
	if err != nil {
		return nil, err
	}
	return r.manager.ReadResource(ctx, backend, original)
}

// SplitResourceURI splits a "backend://original-uri" resource identifier.
func SplitResourceURI(uri string) (backend, original string, err error) {
	const sep = "://"
	idx := strings.Index(uri, sep)
	if idx <= 0 {
		return "", "", fmt.Errorf("malformed resource uri %q: missing backend:// prefix", uri)
	}
	return uri[:idx], uri[idx+len(sep):], nil
}

// Manager exposes the underlying backend connection manager for components
// (Router, pipeline) that need direct dispatch.
func (r *Registry) Manager() *mcp.Manager { return r.manager }
