package policy

import "strings"

// MatchPattern implements the spec's small, deliberately unextendable
// pattern language: `*` matches any run of characters not containing the
// `/` namespace separator, `**` matches any characters including the
// separator, and every other character is literal. Patterns anchor
// full-string — there is no implicit prefix/suffix matching and no
// character classes.
//
// This must not grow `mcp:*`-style source wildcards or namespace-prefix
// shortcuts the way the broader policy matcher elsewhere in this codebase
// does: production authorization decisions depend on exactly these three
// symbols and nothing else.
func MatchPattern(pattern, name string) bool {
	// A bare "*" matches every tool, including namespaced ones — this is
	// the one stated exception to "* does not cross the separator".
	if pattern == "*" {
		return true
	}
	return matchFrom(pattern, name)
}

func matchFrom(pattern, name string) bool {
	for {
		if pattern == "" {
			return name == ""
		}
		if strings.HasPrefix(pattern, "**") {
			rest := pattern[2:]
			if rest == "" {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchFrom(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if strings.HasPrefix(pattern, "*") {
			rest := pattern[1:]
			// A single * must not cross a '/' boundary.
			for i := 0; i <= len(name); i++ {
				if i > 0 && name[i-1] == '/' {
					break
				}
				if matchFrom(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if name == "" || pattern[0] != name[0] {
			return false
		}
		pattern = pattern[1:]
		name = name[1:]
	}
}
