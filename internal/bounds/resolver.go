package bounds

import (
	"witnessd/internal/condition"
	"witnessd/internal/werrors"
)

// TypeEntry pairs a per-element-type inclusion rule (an EventConditions
// tree, keyed by enclosing location) with its configured interval.
type TypeEntry struct {
	Conditions *condition.Tree
	Interval   Interval
}

// Conditions is the per-action mapping elementType -> TypeEntry for one
// array-element action (load or store), plus the distinguished Any
// wildcard entry.
type Conditions struct {
	byType map[string]*TypeEntry
}

// NewConditions constructs an empty per-action type mapping.
func NewConditions() *Conditions {
	return &Conditions{byType: map[string]*TypeEntry{}}
}

// Set installs (or replaces) the rule for elementType. Replacing an
// existing entry for the same type is a conflict (a duplicate
// array-element request for the same type) unless replace is true.
func (c *Conditions) Set(elementType string, entry *TypeEntry, replace bool) error {
	if _, exists := c.byType[elementType]; exists && !replace {
		return werrors.Conflict(elementType)
	}
	c.byType[elementType] = entry
	return nil
}

// Get returns the entry for an exact element type.
func (c *Conditions) Get(elementType string) (*TypeEntry, bool) {
	e, ok := c.byType[elementType]
	return e, ok
}

// Wildcard returns the Any entry, if configured.
func (c *Conditions) Wildcard() (*TypeEntry, bool) { return c.Get(Any) }

// All iterates every configured (type, entry) pair including Any.
func (c *Conditions) All() map[string]*TypeEntry { return c.byType }

// Globals holds suite-wide default bounds (GlobalConstraints) shared
// across specifications.
type Globals struct {
	byType map[string]Interval
}

// NewGlobals constructs an empty global-bounds overlay.
func NewGlobals() *Globals {
	return &Globals{byType: map[string]Interval{}}
}

// Set installs the global default interval for a type (or Any).
func (g *Globals) Set(elementType string, iv Interval) { g.byType[elementType] = iv }

// Get returns the global interval for a type, if any.
func (g *Globals) Get(elementType string) (Interval, bool) {
	iv, ok := g.byType[elementType]
	return iv, ok
}

// All iterates every (type, interval) global entry.
func (g *Globals) All() map[string]Interval { return g.byType }

// ReferenceTypeChecker reports whether a JVM-style type descriptor
// names a reference type (object or array), as opposed to a
// primitive. Supplied by the bytecode repository collaborator; this
// package makes no assumption about descriptor syntax beyond what the
// checker tells it.
type ReferenceTypeChecker func(elementType string) bool

// Resolved is one (elementType, interval) tuple the instrumentor must
// witness for a given array-element instruction.
type Resolved struct {
	ElementType string
	Interval    Interval
}

// Resolve implements the per-site resolution algorithm: given the
// instruction's static element type and the action's
// Conditions/Globals, return every (elementType, interval) tuple that
// must be witnessed at this site.
func Resolve(loc string, staticType string, conds *Conditions, globals *Globals, isRef ReferenceTypeChecker) []Resolved {
	if staticType == ObjectType {
		return resolvePolymorphic(loc, conds, globals, isRef)
	}
	return resolveConcrete(loc, staticType, conds, globals)
}

func resolvePolymorphic(loc string, conds *Conditions, globals *Globals, isRef ReferenceTypeChecker) []Resolved {
	var out []Resolved

	if wc, ok := conds.Wildcard(); ok && wc.Conditions.Check(loc).Inclusion {
		out = append(out, Resolved{ElementType: Any, Interval: wc.Interval})
		for t, g := range globals.All() {
			if t == Any || isRef(t) {
				out = append(out, Resolved{ElementType: t, Interval: MergeGlobal(wc.Interval, g)})
			}
		}
		return out
	}

	consumed := map[string]bool{}
	for t, entry := range conds.All() {
		if t == Any {
			continue
		}
		if !isRef(t) {
			continue
		}
		if !entry.Conditions.Check(loc).Inclusion {
			continue
		}
		merged := entry.Interval
		if g, ok := globals.Get(t); ok {
			merged = MergeGlobal(merged, g)
			consumed[t] = true
		}
		out = append(out, Resolved{ElementType: t, Interval: merged})
	}

	if _, hasWildcard := conds.Wildcard(); hasWildcard {
		for t, g := range globals.All() {
			if consumed[t] {
				continue
			}
			out = append(out, Resolved{ElementType: t, Interval: g})
		}
	}

	return out
}

func resolveConcrete(loc string, staticType string, conds *Conditions, globals *Globals) []Resolved {
	entry, ok := conds.Get(staticType)
	effectiveType := staticType
	if !ok {
		entry, ok = conds.Wildcard()
		effectiveType = Any
	}
	if !ok || !entry.Conditions.Check(loc).Inclusion {
		return nil
	}

	merged := entry.Interval
	if g, ok := globals.Get(staticType); ok {
		merged = MergeGlobal(merged, g)
	} else if g, ok := globals.Get(Any); ok {
		merged = MergeGlobal(merged, g)
	}

	return []Resolved{{ElementType: effectiveType, Interval: merged}}
}
