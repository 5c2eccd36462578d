package gate

import (
	"strings"
	"sync"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/geonexus/entitlements/internal/entitlement"
)

// Allowlist holds identities that bypass verification. Entries containing
// '*' or '?' are wildcard patterns. A nil Allowlist allows nobody.
type Allowlist struct {
	mu       sync.RWMutex
	exact    map[string]struct{}
	patterns []string
}

func NewAllowlist(entries ...string) *Allowlist {
	a := &Allowlist{}
	a.Replace(entries)
	return a
}

// Replace swaps the entries in one step.
func (a *Allowlist) Replace(entries []string) {
	exact := make(map[string]struct{}, len(entries))
	var patterns []string
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.ContainsAny(e, "*?") {
			patterns = append(patterns, e)
			continue
		}
		exact[e] = struct{}{}
	}

	a.mu.Lock()
	a.exact = exact
	a.patterns = patterns
	a.mu.Unlock()
}

// Allowed reports whether id is on the list.
func (a *Allowlist) Allowed(id entitlement.Identity) bool {
	if a == nil || id.IsZero() {
		return false
	}
	s := strings.TrimSpace(string(id))

	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.exact[s]; ok {
		return true
	}
	for _, p := range a.patterns {
		if wildcard.Match(p, s) {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.exact) + len(a.patterns)
}

// ParseAllowlist splits text on commas and newlines. Blank lines and lines
// starting with '#' are skipped.
func ParseAllowlist(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
