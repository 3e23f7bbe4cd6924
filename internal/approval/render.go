package approval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/andycufari/portero/internal/store"
)

// renderApproval builds the human-readable summary for a pending-approval
// task (spec §6 "Approval message format"). Rendering works off the task's
// realArgs — the values that will actually reach the backend — since the
// admin is the trusted reviewer of the action's real effect, not a party
// the anonymizer needs to protect from the real values the way a caller is.
func renderApproval(task *store.Task) string {
	args, _ := task.RealArgs.(map[string]any)
	var b strings.Builder
	fmt.Fprintf(&b, "Approval requested: %s\n", task.ToolName)
	fmt.Fprintf(&b, "Task: %s\n\n", task.ID)
	b.WriteString(renderFields(args))
	b.WriteString("\n\nReply with one of:\n")
	b.WriteString("  portero approve " + task.ID + "\n")
	b.WriteString("  portero deny " + task.ID + "\n")
	b.WriteString("  portero approve-grant-short " + task.ID + "\n")
	b.WriteString("  portero approve-grant-long " + task.ID + "\n")
	b.WriteString("  portero approve-always-allow " + task.ID + "\n")
	b.WriteString("  portero deny-always-deny " + task.ID)
	return b.String()
}

func renderFields(args map[string]any) string {
	switch {
	case hasAll(args, "to") && hasAny(args, "subject", "body"):
		return renderEmail(args)
	case hasKey(args, "summary") && hasAny(args, "start", "end"):
		return renderCalendar(args)
	case hasKey(args, "path"):
		return renderFileOp(args)
	case hasAll(args, "owner", "repo"):
		return renderSourceControl(args)
	case hasAll(args, "amount", "currency"):
		return renderPayment(args)
	case hasAny(args, "record_id", "database_id", "table", "collection"):
		return renderRecord(args)
	default:
		return renderGeneric(args)
	}
}

func renderEmail(args map[string]any) string {
	var b strings.Builder
	writeField(&b, "to", args["to"])
	writeField(&b, "cc", args["cc"])
	writeField(&b, "bcc", args["bcc"])
	writeField(&b, "subject", args["subject"])
	writeField(&b, "body", truncate(str(args["body"]), 800))
	return b.String()
}

func renderCalendar(args map[string]any) string {
	var b strings.Builder
	writeField(&b, "summary", args["summary"])
	writeField(&b, "start", args["start"])
	writeField(&b, "end", args["end"])
	writeField(&b, "attendees", args["attendees"])
	writeField(&b, "location", args["location"])
	writeField(&b, "description", args["description"])
	return b.String()
}

func renderFileOp(args map[string]any) string {
	var b strings.Builder
	writeField(&b, "path", args["path"])
	writeField(&b, "destination", args["destination"])
	if content, ok := args["content"]; ok {
		fmt.Fprintf(&b, "content-length: %d\n", len(str(content)))
	}
	return b.String()
}

func renderSourceControl(args map[string]any) string {
	var b strings.Builder
	writeField(&b, "owner", args["owner"])
	writeField(&b, "repo", args["repo"])
	writeField(&b, "title", args["title"])
	writeField(&b, "body", args["body"])
	writeField(&b, "branch", args["branch"])
	writeField(&b, "head", args["head"])
	writeField(&b, "base", args["base"])
	return b.String()
}

func renderPayment(args map[string]any) string {
	var b strings.Builder
	writeField(&b, "amount", args["amount"])
	writeField(&b, "currency", args["currency"])
	writeField(&b, "customer", args["customer"])
	writeField(&b, "description", args["description"])
	writeField(&b, "email", args["email"])
	writeField(&b, "name", args["name"])
	return b.String()
}

func renderRecord(args map[string]any) string {
	var b strings.Builder
	for _, k := range []string{"record_id", "database_id", "table", "collection"} {
		if v, ok := args[k]; ok {
			writeField(&b, k, v)
		}
	}
	b.WriteString(renderGeneric(args))
	return b.String()
}

// renderGeneric is the fallback for unrecognized argument shapes: the first
// 8 fields in sorted key order, values truncated at 200 chars.
func renderGeneric(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 8 {
		keys = keys[:8]
	}
	var b strings.Builder
	for _, k := range keys {
		writeField(&b, k, truncate(str(args[k]), 200))
	}
	return b.String()
}

func writeField(b *strings.Builder, name string, value any) {
	if value == nil {
		return
	}
	if s, ok := value.(string); ok && s == "" {
		return
	}
	fmt.Fprintf(b, "%s: %v\n", name, value)
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func hasAll(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if !hasKey(m, k) {
			return false
		}
	}
	return true
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if hasKey(m, k) {
			return true
		}
	}
	return false
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
