// Package tracker implements the Probe Tracker: it observes the
// Instrumentor, normalizes edit records into the Probe Log Model,
// tracks live specification keys per probe, and allocates/recycles
// probe IDs.
package tracker

import (
	"context"
	"sort"
	"sync"

	"witnessd/internal/events"
	"witnessd/internal/problog"
)

// Anchor is an opaque instruction-position handle supplied by the
// Instrumentor for a buffered insertion; only the Instrumentor's
// OffsetResolver knows how to turn it into a byte offset. The Tracker
// never interprets it.
type Anchor any

// OffsetResolver resolves a buffered Anchor to its final byte offset
// in the rewritten method, called once at MethodEnd: buffered probe
// insertions are sorted by resolved start offset.
type OffsetResolver func(Anchor) int

// Observer is the contract the Instrumentor drives as it rewrites one
// class.
type Observer interface {
	ClassBegin(className string)
	ClassEnd() *problog.ClassLog

	MethodBegin(sig string)
	MethodEnd(resolve OffsetResolver) *problog.MethodLog

	// NewProbe allocates a probe ID: pop from the free list, else bump
	// the counter; liveKeys records which specification keys currently
	// request this probe.
	NewProbe(ctx context.Context, eventCode events.Code, liveKeys ...string) (int, error)

	// ProbeInserted buffers one inserted instruction sequence of
	// patchLength bytes, anchored at a not-yet-resolved position.
	ProbeInserted(id int, eventCode events.Code, patchLength int, anchor Anchor, precedes bool)

	ExceptionHandlerAdded(id int, handler problog.AddedExceptionHandler, removable bool)

	// CallInterceptorAdded and FieldInterceptorAdded record a
	// replace-in-place edit: the original instruction at [start,
	// start+length) became an invoke of the synthesized interceptor
	// described by intercept.
	CallInterceptorAdded(id int, eventCode events.Code, start, length int, intercept problog.InterceptRecord)
	FieldInterceptorAdded(id int, eventCode events.Code, start, length int, intercept problog.InterceptRecord)

	// FieldInterceptorMethodAdded registers that interceptorSig now
	// exists on the current class, so later call sites targeting the
	// same (class, member, signature) reuse it instead of synthesizing
	// a duplicate (design note: interceptor caching).
	FieldInterceptorMethodAdded(interceptorSig string)

	// StaticInitializerAdded marks that the current class's static
	// initializer was patched or synthesized for the class-prepare
	// probe.
	StaticInitializerAdded()

	ExitProbeAdded(id int)

	// ProbeRemoved decrements the probe's live change count; once it
	// reaches zero the ID is released to the free list.
	ProbeRemoved(ctx context.Context, id int, eventCode events.Code) error
}

type bufferedInsert struct {
	id        int
	eventCode events.Code
	length    int
	anchor    Anchor
	precedes  bool
}

// Tracker is the default in-process Observer implementation.
type Tracker struct {
	store Store

	mu      sync.Mutex
	records map[int]*problog.ProbeRecord

	class    *problog.ClassLog
	method   *problog.MethodLog
	buffered []bufferedInsert
}

var _ Observer = (*Tracker)(nil)

// New constructs a Tracker backed by store for ID allocation. Pass
// memory.New() for a process-local default.
func New(store Store) *Tracker {
	return &Tracker{store: store, records: map[int]*problog.ProbeRecord{}}
}

// ClassBegin starts a fresh class log.
func (t *Tracker) ClassBegin(className string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.class = problog.NewClassLog(className)
}

// ClassEnd returns the completed class log and clears tracker state
// for the next class.
func (t *Tracker) ClassEnd() *problog.ClassLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.class
	t.class = nil
	return c
}

// MethodBegin starts buffering inserts for sig.
func (t *Tracker) MethodBegin(sig string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.method = t.class.Method(sig)
	t.buffered = nil
}

// MethodEnd resolves every buffered insertion's offset via resolve,
// merges them into the method's bytecodeLog in ascending offset
// order, and returns the finished method log.
func (t *Tracker) MethodEnd(resolve OffsetResolver) *problog.MethodLog {
	t.mu.Lock()
	defer t.mu.Unlock()

	resolved := make([]problog.BytecodeChange, len(t.buffered))
	for i, b := range t.buffered {
		resolved[i] = problog.BytecodeChange{
			ID:        b.id,
			EventCode: b.eventCode,
			Start:     resolve(b.anchor),
			Length:    b.length,
			Precedes:  b.precedes,
			Action:    events.ActionInsert,
		}
	}
	sort.SliceStable(resolved, func(i, j int) bool { return resolved[i].Start < resolved[j].Start })
	t.method.MergeInserts(resolved)

	m := t.method
	t.method = nil
	t.buffered = nil
	return m
}

// NewProbe implements Observer.
func (t *Tracker) NewProbe(ctx context.Context, eventCode events.Code, liveKeys ...string) (int, error) {
	id, err := t.store.Allocate(ctx)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[id] = problog.NewProbeRecord(id, t.method.MethodSig, liveKeys...)
	return id, nil
}

// ProbeInserted implements Observer.
func (t *Tracker) ProbeInserted(id int, eventCode events.Code, patchLength int, anchor Anchor, precedes bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffered = append(t.buffered, bufferedInsert{id: id, eventCode: eventCode, length: patchLength, anchor: anchor, precedes: precedes})
	if r, ok := t.records[id]; ok {
		r.ChangeCount++
	}
}

// ExceptionHandlerAdded implements Observer.
func (t *Tracker) ExceptionHandlerAdded(id int, handler problog.AddedExceptionHandler, removable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.method.HandlerLog = append(t.method.HandlerLog, handler)
	if !removable {
		t.method.SyntheticHandlers[handler.HandlerPC] = struct{}{}
	}
	if r, ok := t.records[id]; ok {
		r.ChangeCount++
	}
}

// CallInterceptorAdded implements Observer.
func (t *Tracker) CallInterceptorAdded(id int, eventCode events.Code, start, length int, intercept problog.InterceptRecord) {
	t.recordIntercept(id, eventCode, start, length, events.ActionCallIntercept, intercept)
}

// FieldInterceptorAdded implements Observer.
func (t *Tracker) FieldInterceptorAdded(id int, eventCode events.Code, start, length int, intercept problog.InterceptRecord) {
	t.recordIntercept(id, eventCode, start, length, events.ActionFieldIntercept, intercept)
}

func (t *Tracker) recordIntercept(id int, eventCode events.Code, start, length int, action events.Action, intercept problog.InterceptRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ic := intercept
	t.method.BytecodeLog = append(t.method.BytecodeLog, problog.BytecodeChange{
		ID: id, EventCode: eventCode, Start: start, Length: length, Action: action, Interceptor: &ic,
	})
	if r, ok := t.records[id]; ok {
		r.ChangeCount++
	}
}

// FieldInterceptorMethodAdded implements Observer.
func (t *Tracker) FieldInterceptorMethodAdded(interceptorSig string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.class.AddedMethods[interceptorSig]; !ok {
		t.class.AddedMethods[interceptorSig] = map[int]struct{}{}
	}
}

// StaticInitializerAdded implements Observer.
func (t *Tracker) StaticInitializerAdded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.class.HasPatchedStaticInit = true
}

// ExitProbeAdded implements Observer.
func (t *Tracker) ExitProbeAdded(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.method.ExitProbeID = id
	t.method.HasExitProbe = true
}

// ProbeRemoved implements Observer: decrements the probe's live
// change count, releasing its ID to the free list once no physical
// edit remains attributed to it.
func (t *Tracker) ProbeRemoved(ctx context.Context, id int, eventCode events.Code) error {
	t.mu.Lock()
	r, ok := t.records[id]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	r.ChangeCount--
	drained := r.ChangeCount <= 0
	if drained {
		delete(t.records, id)
	}
	t.mu.Unlock()

	if drained {
		return t.store.Release(ctx, id)
	}
	return nil
}

// LiveKeys exposes the live specification keys for id, for callers
// deciding whether removing one key's rule still leaves the probe
// requested by another.
func (t *Tracker) LiveKeys(id int) (map[string]struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return nil, false
	}
	return r.LiveKeys, true
}
