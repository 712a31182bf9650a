// Package dispatch implements the Dispatcher Facade: the host-side
// consumer of the four fixed trigger signatures the instrumented class
// calls, and the in-process fan-out to registered listeners.
package dispatch

import (
	"context"
	"sync"

	"witnessd/internal/events"
	"witnessd/internal/session"
	"witnessd/internal/telemetry"
)

// Event is one resolved probe firing, decoded from a trigger call and
// the shared string table.
type Event struct {
	Code      events.Code
	Flags     uint8
	String    string // resolved via the session string table
	ObjectRef ObjectRef // set for trigger_obj
	ClassRef  string    // set for trigger_catch
}

// Exceptional reports whether the exceptional-return flag bit is set.
func (e Event) Exceptional() bool { return e.Flags&events.FlagExceptional != 0 }

// Intercepted reports whether the interceptor flag bit is set.
func (e Event) Intercepted() bool { return e.Flags&events.FlagIntercepted != 0 }

// ObjectRef is an opaque identity token for a target-process object,
// assigned by the wire-level agent collaborator; the dispatcher never
// dereferences it.
type ObjectRef string

// Listener receives dispatched events. Handle must not block
// indefinitely: the dispatcher delivers on a per-listener bounded
// channel and, while that channel is full, drops each new event for
// that listener rather than stall every other listener (see
// defaultBuffer).
type Listener interface {
	Handle(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ctx context.Context, ev Event)

// Handle implements Listener.
func (f ListenerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

const defaultBuffer = 64

type subscription struct {
	ch     chan Event
	cancel context.CancelFunc
}

// Dispatcher fans out dispatched events to registered listeners, one
// buffered channel and drain goroutine per listener, mirroring the
// teacher's Pulse subscriber shape without depending on Pulse itself.
type Dispatcher struct {
	session *session.Session
	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu   sync.RWMutex
	subs map[int]*subscription
	next int

	retentionMu sync.Mutex
	retained    map[ObjectRef]struct{}
}

// New constructs a Dispatcher bound to sess for string-table lookups.
func New(sess *session.Session, logger telemetry.Logger, metrics telemetry.Metrics) *Dispatcher {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Dispatcher{
		session:  sess,
		logger:   logger,
		metrics:  metrics,
		subs:     map[int]*subscription{},
		retained: map[ObjectRef]struct{}{},
	}
}

// Subscribe registers l and returns an unsubscribe function. Events
// are delivered to l.Handle from a dedicated goroutine so one slow
// listener cannot stall TriggerX callers.
func (d *Dispatcher) Subscribe(ctx context.Context, l Listener) context.CancelFunc {
	runCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, defaultBuffer)

	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = &subscription{ch: ch, cancel: cancel}
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				l.Handle(runCtx, ev)
			}
		}
	}()

	return func() {
		cancel()
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// publish fans ev out to every subscriber's channel, dropping it for a
// subscriber whose buffer is full rather than blocking the caller.
func (d *Dispatcher) publish(ctx context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.subs {
		select {
		case s.ch <- ev:
		default:
			d.logger.Warn(ctx, "dispatch: dropped event, listener buffer full", "code", ev.Code)
		}
	}
	if d.metrics != nil {
		d.metrics.IncCounter(ctx, "witnessd.dispatch.events", 1)
	}
}

// resolveString resolves a string-table index to its interned value,
// falling back to an empty string for an invalid index.
func (d *Dispatcher) resolveString(idx int) string {
	s, _ := d.session.Strings.Lookup(idx)
	return s
}

// TriggerStatic implements the trigger_static(inst_code) entry point.
func (d *Dispatcher) TriggerStatic(ctx context.Context, instCode int32) {
	code, flags, idx := events.DecodeInstCode(instCode)
	d.publish(ctx, Event{Code: code, Flags: flags, String: d.resolveString(idx)})
}

// TriggerObj implements the trigger_obj(obj_ref, inst_code) entry
// point.
func (d *Dispatcher) TriggerObj(ctx context.Context, objRef ObjectRef, instCode int32) {
	code, flags, idx := events.DecodeInstCode(instCode)
	d.publish(ctx, Event{Code: code, Flags: flags, String: d.resolveString(idx), ObjectRef: objRef})
}

// TriggerMon implements the trigger_mon(mon_obj_ref, mon_event_code)
// entry point.
func (d *Dispatcher) TriggerMon(ctx context.Context, objRef ObjectRef, monEventCode byte) {
	d.publish(ctx, Event{Code: events.Code(monEventCode), ObjectRef: objRef})
}

// TriggerCatch implements the trigger_catch(class_ref) entry point.
func (d *Dispatcher) TriggerCatch(ctx context.Context, classRef string) {
	d.publish(ctx, Event{Code: events.Catch, ClassRef: classRef})
}

// PublishExternal fans out an event already decoded by an
// out-of-process transport (grpcdispatch), bypassing inst_code
// decoding since the wire-level agent collaborator sends resolved
// fields directly.
func (d *Dispatcher) PublishExternal(ctx context.Context, ev Event) {
	d.publish(ctx, ev)
}

// Retain records that ref is held by a caller. The retention map is
// cooperatively managed: every client must only release entries it
// inserted.
func (d *Dispatcher) Retain(ref ObjectRef) {
	d.retentionMu.Lock()
	defer d.retentionMu.Unlock()
	d.retained[ref] = struct{}{}
}

// Release drops ref from the retention map.
func (d *Dispatcher) Release(ref ObjectRef) {
	d.retentionMu.Lock()
	defer d.retentionMu.Unlock()
	delete(d.retained, ref)
}

// IsRetained reports whether ref is currently retained.
func (d *Dispatcher) IsRetained(ref ObjectRef) bool {
	d.retentionMu.Lock()
	defer d.retentionMu.Unlock()
	_, ok := d.retained[ref]
	return ok
}

// ClearClassPrepare clears the shared wait-flag byte for class,
// releasing any preparing thread spinning on it.
func (d *Dispatcher) ClearClassPrepare(class string) {
	flag := d.session.ClassPrepareFlag(class)
	*flag = 0
}
