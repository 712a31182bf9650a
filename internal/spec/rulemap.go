// Package spec implements the Event Specification engine: per-event-kind
// rule tables built atop Condition Trees, exposing the witness…
// queries the Instrumentor consults.
package spec

import (
	"strings"

	"witnessd/internal/condition"
)

// RuleMap maps a location key to EventConditions for one event kind:
// a flat table from name key to a Condition Tree
// that is itself keyed by enclosing-method location.
type RuleMap struct {
	entries map[string]*condition.Tree
}

// NewRuleMap constructs an empty rule map.
func NewRuleMap() *RuleMap {
	return &RuleMap{entries: map[string]*condition.Tree{}}
}

func stripWildcard(name string) string {
	return strings.TrimSuffix(name, ".*")
}

// Tree returns the EventConditions tree for name, creating it if
// absent.
func (m *RuleMap) Tree(name string) *condition.Tree {
	name = stripWildcard(name)
	t, ok := m.entries[name]
	if !ok {
		t = condition.New()
		m.entries[name] = t
	}
	return t
}

// Has reports whether an explicit entry exists for name (no implicit
// creation).
func (m *RuleMap) Has(name string) bool {
	_, ok := m.entries[stripWildcard(name)]
	return ok
}

// Remove drops the entry for name entirely, restoring the
// default-exclude for every future query against it.
func (m *RuleMap) Remove(name string) {
	delete(m.entries, stripWildcard(name))
}

// Names iterates every name key with an explicit entry.
func (m *RuleMap) Names() []string {
	out := make([]string, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	return out
}

// prefixes returns every dotted prefix of nameKey from most to least
// specific, plus the "*" global key.
func prefixes(nameKey string) []string {
	nameKey = stripWildcard(nameKey)
	if nameKey == "" {
		return []string{"*"}
	}
	toks := strings.Split(nameKey, ".")
	out := make([]string, 0, len(toks)+1)
	for i := len(toks); i >= 1; i-- {
		out = append(out, strings.Join(toks[:i], "."))
	}
	out = append(out, "*")
	return out
}

// Witness resolves the rule map for nameKey against locKey: walk
// dotted prefixes of nameKey (most specific first, plus the global "*"
// key); for every prefix with an explicit entry,
// call Check(locKey) and keep the highest-rank Condition. Missing
// keys contribute nothing; if no prefix has an entry, the result is
// condition.DefaultExclude.
func (m *RuleMap) Witness(nameKey, locKey string) condition.Condition {
	best := condition.DefaultExclude
	for _, p := range prefixes(nameKey) {
		tree, ok := m.entries[p]
		if !ok {
			continue
		}
		cond := tree.Check(locKey)
		if cond.Rank >= best.Rank {
			best = cond
		}
	}
	return best
}

// AnyInclusions reports whether any entry under nameKey's prefixes
// could possibly include, conservatively (never a false negative).
func (m *RuleMap) AnyInclusions(nameKey string) bool {
	for _, p := range prefixes(nameKey) {
		tree, ok := m.entries[p]
		if !ok {
			continue
		}
		if tree.AnyInclusions().Inclusion {
			return true
		}
	}
	return false
}
