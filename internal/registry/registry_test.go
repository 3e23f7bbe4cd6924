package registry

import "testing"

func tools(names ...string) []Tool {
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		backend, local, _ := SplitResourceURI(backendURI(n))
		out = append(out, Tool{Name: n, Backend: backend, Local: local, Description: n})
	}
	return out
}

// backendURI turns "backend/local" into "backend://local" so SplitResourceURI
// can be reused to derive Backend/Local for test fixtures.
func backendURI(namespaced string) string {
	for i := 0; i < len(namespaced); i++ {
		if namespaced[i] == '/' {
			return namespaced[:i] + "://" + namespaced[i+1:]
		}
	}
	return "://" + namespaced
}

func TestFilterToolsNoBackendPinnedReturnsAll(t *testing.T) {
	all := tools("fs/read_file", "fs/write_file", "gmail/send")
	noPins := func(string) ([]string, bool) { return nil, false }
	notRecent := func(string) bool { return false }

	out := filterTools(all, noPins, notRecent)
	if len(out) != len(all) {
		t.Fatalf("expected unfiltered passthrough, got %d of %d", len(out), len(all))
	}
}

func TestFilterToolsPinnedBackendRestricts(t *testing.T) {
	all := tools("fs/read_file", "fs/write_file", "fs/delete_file", "gmail/send")
	pinned := func(backend string) ([]string, bool) {
		if backend == "fs" {
			return []string{"read_file"}, true
		}
		return nil, false
	}
	notRecent := func(string) bool { return false }

	out := filterTools(all, pinned, notRecent)
	var names []string
	for _, t := range out {
		names = append(names, t.Name)
	}
	want := map[string]bool{"fs/read_file": true, "gmail/send": true}
	if len(names) != len(want) {
		t.Fatalf("expected %d tools, got %v", len(want), names)
	}
	for _, n := range names {
		if !want[n] {
			t.Fatalf("unexpected tool %q in filtered view", n)
		}
	}
}

func TestFilterToolsRecencySurfacesUnpinnedTool(t *testing.T) {
	all := tools("fs/read_file", "fs/delete_file")
	pinned := func(backend string) ([]string, bool) { return []string{"read_file"}, true }
	recent := func(name string) bool { return name == "fs/delete_file" }

	out := filterTools(all, pinned, recent)
	if len(out) != 2 {
		t.Fatalf("expected recently-used tool to survive filtering, got %v", out)
	}
}

func TestSearchByQuerySubstring(t *testing.T) {
	all := tools("fs/read_file", "gmail/send_email")
	matches := searchInTools(all, "read", "")
	if len(matches) != 1 || matches[0].Name != "fs/read_file" {
		t.Fatalf("unexpected search result: %+v", matches)
	}
}

func TestSearchByCategoryKeyword(t *testing.T) {
	all := tools("gmail/send_email", "fs/read_file", "stripe/charge_card")
	matches := searchInTools(all, "", "stripe")
	if len(matches) != 1 || matches[0].Name != "stripe/charge_card" {
		t.Fatalf("unexpected category search result: %+v", matches)
	}
}

func TestSearchEmptyQueryAndCategoryReturnsAll(t *testing.T) {
	all := tools("fs/read_file", "gmail/send_email")
	matches := searchInTools(all, "", "")
	if len(matches) != len(all) {
		t.Fatalf("expected all tools with no filter, got %d", len(matches))
	}
}

func TestSplitResourceURI(t *testing.T) {
	backend, original, err := SplitResourceURI("fs://tmp/notes.txt")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if backend != "fs" || original != "tmp/notes.txt" {
		t.Fatalf("unexpected split: backend=%q original=%q", backend, original)
	}

	if _, _, err := SplitResourceURI("not-a-resource-uri"); err == nil {
		t.Fatal("expected error for malformed uri")
	}
}

func TestMarkUsedAndRecency(t *testing.T) {
	r := New(nil, 0)
	if r.isRecentlyUsed("fs/read_file") {
		t.Fatal("expected no recency before MarkUsed")
	}
	r.MarkUsed("fs/read_file")
	if !r.isRecentlyUsed("fs/read_file") {
		t.Fatal("expected recency after MarkUsed")
	}
}
