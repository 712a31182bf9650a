// Package instrument implements the Instrumentor: it rewrites one
// class's methods so that every event a loaded specification witnesses
// produces a probe call, drives the Probe Tracker observer to build
// the log, and carries the class-prepare and start-probe workarounds.
package instrument

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"witnessd/internal/bounds"
	"witnessd/internal/bytecode"
	"witnessd/internal/events"
	"witnessd/internal/problog"
	"witnessd/internal/session"
	"witnessd/internal/spec"
	"witnessd/internal/telemetry"
	"witnessd/internal/tracker"
	"witnessd/internal/werrors"
)

// Approximate encoded widths of the inserted probe sequences. The
// instrumentor only plans edits at this package's abstraction level;
// the bytecode-writing library owns the exact encoded byte count.
const (
	lenTriggerStatic = 7 // PUSH int32 mask; INVOKESTATIC trigger_static
	lenTriggerObj    = 8 // DUP; PUSH int32 mask; INVOKESTATIC trigger_obj
	lenTriggerMon    = 6 // DUP; [PUSH byte;] INVOKESTATIC trigger_mon
	lenTriggerCatch  = 6 // DUP; INVOKEVIRTUAL getClass; INVOKESTATIC trigger_catch
	lenArraySite     = 12
)

// Config wires the Instrumentor's collaborators.
type Config struct {
	Specifications []*spec.EventSpecification
	Repository      bytecode.Repository
	Hierarchy       bytecode.Hierarchy
	Session         *session.Session
	Observer        tracker.Observer
	IsReferenceType bounds.ReferenceTypeChecker

	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics
}

// Instrumentor rewrites classes against a loaded suite.
type Instrumentor struct {
	cfg Config
}

// New constructs an Instrumentor. Logger/Tracer/Metrics default to
// no-ops when nil so callers can omit telemetry in tests.
func New(cfg Config) *Instrumentor {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NoopLogger{}
	}
	return &Instrumentor{cfg: cfg}
}

// InstrumentClass rewrites every eligible method of className and
// returns the resulting class log.
func (in *Instrumentor) InstrumentClass(ctx context.Context, className string) (*problog.ClassLog, error) {
	var span telemetry.Span
	if in.cfg.Tracer != nil {
		ctx, span = in.cfg.Tracer.Start(ctx, "instrument.class", attribute.String("class", className))
		defer span.End()
	}

	class, err := in.cfg.Repository.Class(className)
	if err != nil {
		if span != nil {
			span.SetError(err)
		}
		return nil, werrors.BadFile(className, err)
	}
	if class == nil {
		return nil, werrors.IncompleteClasspath(className)
	}

	in.cfg.Observer.ClassBegin(className)

	for _, m := range class.Methods {
		if m.IsAbstract() || m.IsNative() {
			continue
		}
		if err := in.instrumentMethod(ctx, class, m); err != nil {
			return nil, err
		}
	}

	if err := in.maybeStartProbe(ctx, class); err != nil {
		return nil, err
	}
	if err := in.maybeClassPreparePatch(ctx, class); err != nil {
		return nil, err
	}

	log := in.cfg.Observer.ClassEnd()
	if in.cfg.Metrics != nil {
		in.cfg.Metrics.IncCounter(ctx, "witnessd.instrument.classes", 1, attribute.String("class", className))
	}
	in.cfg.Logger.Info(ctx, "instrumented class", "class", className, "methods", len(class.Methods))
	return log, nil
}

// liveKeys returns the specification keys for which pred holds.
func (in *Instrumentor) liveKeys(pred func(*spec.EventSpecification) bool) []string {
	var keys []string
	for _, s := range in.cfg.Specifications {
		if pred(s) {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

func (in *Instrumentor) instrumentMethod(ctx context.Context, class *bytecode.Class, m *bytecode.Method) error {
	in.cfg.Observer.MethodBegin(m.Signature)

	origStart := preambleStart(class, m, in.cfg.Hierarchy)

	if m.IsSynchronized() {
		if err := in.desugarSynchronized(ctx, class, m); err != nil {
			return err
		}
	}

	openHandlers := handlersOpeningAt(m)

	for _, instr := range m.Instructions {
		if instr.Pos < 0 {
			continue
		}

		if handler, ok := openHandlers[instr.Pos]; ok {
			if err := in.emitCatchProbe(ctx, m, handler); err != nil {
				return err
			}
		}

		var err error
		switch instr.Op {
		case bytecode.OpNew:
			err = in.emitNewProbe(ctx, m, instr)
		case bytecode.OpMonitorEnter:
			err = in.emitMonitorProbes(ctx, m, instr, true)
		case bytecode.OpMonitorExit:
			err = in.emitMonitorProbes(ctx, m, instr, false)
		case bytecode.OpInvokeStatic, bytecode.OpInvokeVirtual, bytecode.OpInvokeInterface, bytecode.OpInvokeSpecial:
			err = in.emitCallProbes(ctx, class, m, instr, origStart)
		case bytecode.OpGetStatic, bytecode.OpPutStatic, bytecode.OpGetField, bytecode.OpPutField:
			err = in.emitFieldIntercept(ctx, class, m, instr)
		case bytecode.OpArrayLoad, bytecode.OpArrayStore:
			err = in.emitArraySite(ctx, m, instr)
		case bytecode.OpReturn:
			err = in.emitExitProbe(ctx, m, instr)
		}
		if err != nil {
			return err
		}
	}

	if err := in.emitEntryProbe(ctx, m, origStart); err != nil {
		return err
	}

	offsets := identityResolver(m)
	in.cfg.Observer.MethodEnd(offsets)
	return nil
}

// preambleStart returns the instruction position instrumentation
// should treat as method entry: for constructors, immediately after
// the first super-constructor (or chained this()) call; for everything
// else, position 0. The search confirms the call's target class against
// the hierarchy oracle rather than assuming the first INVOKESPECIAL
// with a nonempty target is the right one, since a constructor may
// allocate and initialize unrelated objects (e.g. INVOKESPECIAL on an
// inner helper) before reaching its own super call.
func preambleStart(class *bytecode.Class, m *bytecode.Method, hierarchy bytecode.Hierarchy) int {
	if !m.IsConstructor {
		return 0
	}
	for _, instr := range m.Instructions {
		if instr.Op != bytecode.OpInvokeSpecial || !isConstructorTarget(instr) {
			continue
		}
		target := targetClass(instr.Target)
		if target == class.Name || (hierarchy != nil && hierarchy.IsSubclass(class.Name, target)) {
			return instr.Pos + instr.Length
		}
	}
	return 0
}

// handlersOpeningAt indexes every one of the method's pre-existing
// handlers by its startPC; when two handlers share a startPC, the
// later one in the list wins.
func handlersOpeningAt(m *bytecode.Method) map[int]bytecode.Handler {
	out := make(map[int]bytecode.Handler, len(m.Handlers))
	for _, h := range m.Handlers {
		out[h.StartPC] = h
	}
	return out
}

// identityResolver resolves an Anchor produced by this package back to
// its original instruction position: at this abstraction level
// anchors ARE positions, so no rewriting is needed beyond the
// type assertion.
func identityResolver(_ *bytecode.Method) tracker.OffsetResolver {
	return func(a tracker.Anchor) int {
		pos, ok := a.(int)
		if !ok {
			panic(fmt.Sprintf("instrument: anchor %#v is not a position", a))
		}
		return pos
	}
}

func (in *Instrumentor) emitEntryProbe(ctx context.Context, m *bytecode.Method, origStart int) error {
	var keys []string
	if m.IsConstructor {
		keys = in.liveKeys(func(s *spec.EventSpecification) bool {
			return s.WitnessConstruct(className(m), true, m.Signature)
		})
	} else {
		keys = in.liveKeys(func(s *spec.EventSpecification) bool {
			return s.WitnessMethod(m.Signature, m.IsStatic(), true, m.Signature)
		})
	}
	if len(keys) == 0 {
		return nil
	}
	code := events.VMethodEnter
	if m.IsStatic() {
		code = events.SMethodEnter
	}
	if m.IsConstructor {
		code = events.ConstructorEnter
	}
	id, err := in.cfg.Observer.NewProbe(ctx, code, keys...)
	if err != nil {
		return err
	}
	in.cfg.Observer.ProbeInserted(id, code, lenTriggerStatic, origStart, false)
	return nil
}

func (in *Instrumentor) emitExitProbe(ctx context.Context, m *bytecode.Method, instr bytecode.Instruction) error {
	var keys []string
	if m.IsConstructor {
		keys = in.liveKeys(func(s *spec.EventSpecification) bool {
			return s.WitnessConstruct(className(m), false, m.Signature)
		})
	} else {
		keys = in.liveKeys(func(s *spec.EventSpecification) bool {
			return s.WitnessMethod(m.Signature, m.IsStatic(), false, m.Signature)
		})
	}
	if len(keys) == 0 {
		return nil
	}
	code := events.VMethodExit
	if m.IsStatic() {
		code = events.SMethodExit
	}
	if m.IsConstructor {
		code = events.ConstructorExit
	}
	id, err := in.cfg.Observer.NewProbe(ctx, code, keys...)
	if err != nil {
		return err
	}
	in.cfg.Observer.ProbeInserted(id, code, lenTriggerStatic, instr.Pos, true)
	in.cfg.Observer.ExitProbeAdded(id)
	return nil
}

// className extracts the owning class name from a dotted method
// signature (class.method.jniSig).
func className(m *bytecode.Method) string {
	for i := 0; i < len(m.Signature); i++ {
		if m.Signature[i] == '.' {
			return m.Signature[:i]
		}
	}
	return m.Signature
}
