// Package session encapsulates the process-wide global mutable state
// the core needs: the interned string table used by trigger payloads,
// the finished-class set, and the probe-class static fields used by
// the class-prepare and start-probe workarounds. All of it is
// encapsulated as one process-wide session object; tests construct a
// fresh session per scenario.
package session

import "sync"

// StringTable interns strings into stable 20-bit indices for the
// inst_code payload. Single-writer (the Instrumentor); concurrent
// readers are tolerated once compilation has finished.
type StringTable struct {
	mu      sync.RWMutex
	strings []string
	index   map[string]int
}

// NewStringTable constructs an empty table.
func NewStringTable() *StringTable {
	return &StringTable{index: map[string]int{}}
}

// Add interns s, returning its stable index. Repeated calls with the
// same s return the same index.
func (t *StringTable) Add(s string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.index[s]; ok {
		return i
	}
	i := len(t.strings)
	t.strings = append(t.strings, s)
	t.index[s] = i
	return i
}

// Lookup returns the interned string at idx.
func (t *StringTable) Lookup(idx int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || idx >= len(t.strings) {
		return "", false
	}
	return t.strings[idx], true
}

// All returns a snapshot of every interned string, in index order.
func (t *StringTable) All() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.strings))
	copy(out, t.strings)
	return out
}

// Session is the single process-wide object collecting the global
// mutable state the instrumentation framework needs outside of any
// one class's log. Construct a fresh Session per test scenario or per
// instrumentor run.
type Session struct {
	Strings *StringTable

	mu            sync.Mutex
	finished      map[string]bool
	classPrepFlag map[string]*byte // probe-class wait-flag per class, cleared by the dispatcher
	startFired    bool
}

// New constructs a fresh Session.
func New() *Session {
	return &Session{
		Strings:       NewStringTable(),
		finished:      map[string]bool{},
		classPrepFlag: map[string]*byte{},
	}
}

// MarkFinished records that class has completed instrumentation,
// adding it to the finished-class set.
func (s *Session) MarkFinished(class string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[class] = true
}

// IsFinished reports whether class was previously marked finished.
func (s *Session) IsFinished(class string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished[class]
}

// ClassPrepareFlag returns the shared wait-flag byte for class,
// allocating it on first use. The preparing thread spins on this flag;
// the dispatcher clears it once class-prepare has been observed.
func (s *Session) ClassPrepareFlag(class string) *byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.classPrepFlag[class]
	if !ok {
		v := byte(1)
		f = &v
		s.classPrepFlag[class] = f
	}
	return f
}

// TryFireStart reports true exactly once per session: the first
// caller receives true and every subsequent caller receives false,
// implementing the one-shot EVENT_START probe.
func (s *Session) TryFireStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startFired {
		return false
	}
	s.startFired = true
	return true
}
