package agent

import (
	"fmt"
	"sort"
	"strings"
)

// CatalogVersion identifies the tool set below. Bump it whenever a tool is added or removed.
const CatalogVersion = "2025.10"

// AllTools is the allow-list sentinel meaning "every tool, no flags".
const AllTools = "all"

var catalog = []string{
	"Bash",
	"BashOutput",
	"Edit",
	"ExitPlanMode",
	"Glob",
	"Grep",
	"KillShell",
	"LS",
	"MultiEdit",
	"NotebookEdit",
	"NotebookRead",
	"Read",
	"SlashCommand",
	"Task",
	"TodoWrite",
	"WebFetch",
	"WebSearch",
	"Write",
}

var catalogSet = func() map[string]bool {
	m := make(map[string]bool, len(catalog))
	for _, name := range catalog {
		m[name] = true
	}
	return m
}()

// Catalog returns a copy of the known tool names in sorted order.
func Catalog() []string {
	out := make([]string, len(catalog))
	copy(out, catalog)
	return out
}

// UnknownToolError is returned when an allow-list names a tool outside the catalog.
type UnknownToolError struct {
	Names []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool(s) %s (catalog %s)", strings.Join(e.Names, ", "), CatalogVersion)
}

// ResolveTools derives the deny-list as the catalog complement of allowed.
//
// A nil allow-list or the single entry "all" yields two empty lists. A non-nil
// empty allow-list denies the whole catalog. Only bare catalog names are
// accepted; scoped entries such as "Bash(git:*)" are unknown tools.
func ResolveTools(allowed []string) (allow, deny []string, err error) {
	if allowed == nil || (len(allowed) == 1 && allowed[0] == AllTools) {
		return nil, nil, nil
	}

	seen := make(map[string]bool, len(allowed))
	var unknown []string
	allow = make([]string, 0, len(allowed))
	for _, raw := range allowed {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if !catalogSet[name] {
			unknown = append(unknown, name)
			continue
		}
		allow = append(allow, name)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, nil, &UnknownToolError{Names: unknown}
	}
	sort.Strings(allow)

	deny = make([]string, 0, len(catalog)-len(allow))
	for _, name := range catalog {
		if !seen[name] {
			deny = append(deny, name)
		}
	}
	return allow, deny, nil
}
