package instrument

import (
	"context"
	"strings"

	"witnessd/internal/bounds"
	"witnessd/internal/bytecode"
	"witnessd/internal/events"
	"witnessd/internal/problog"
	"witnessd/internal/spec"
)

func (in *Instrumentor) emitNewProbe(ctx context.Context, m *bytecode.Method, instr bytecode.Instruction) error {
	keys := in.liveKeys(func(s *spec.EventSpecification) bool {
		return s.WitnessNew(instr.Target, m.Signature)
	})
	if len(keys) == 0 {
		return nil
	}
	id, err := in.cfg.Observer.NewProbe(ctx, events.NewObj, keys...)
	if err != nil {
		return err
	}
	in.cfg.Observer.ProbeInserted(id, events.NewObj, lenTriggerStatic, instr.Pos, true)
	return nil
}

func (in *Instrumentor) emitMonitorProbes(ctx context.Context, m *bytecode.Method, instr bytecode.Instruction, enter bool) error {
	owner := className(m)
	kinds := []spec.MonitorKind{spec.MonPreRelease, spec.MonRelease}
	codes := []events.Code{events.MonPreRelease, events.MonRelease}
	if enter {
		kinds = []spec.MonitorKind{spec.MonContend, spec.MonAcquire}
		codes = []events.Code{events.MonContend, events.MonAcquire}
	}

	for i, kind := range kinds {
		keys := in.liveKeys(func(s *spec.EventSpecification) bool {
			return s.WitnessMonitor(owner, kind, m.Signature)
		})
		if len(keys) == 0 {
			continue
		}
		id, err := in.cfg.Observer.NewProbe(ctx, codes[i], keys...)
		if err != nil {
			return err
		}
		in.cfg.Observer.ProbeInserted(id, codes[i], lenTriggerMon, instr.Pos, true)
	}
	return nil
}

func callKind(instr bytecode.Instruction, isCtor bool) spec.CallKind {
	switch {
	case isCtor:
		return spec.CallConstructor
	case instr.Op == bytecode.OpInvokeStatic:
		return spec.CallStatic
	case instr.Op == bytecode.OpInvokeInterface:
		return spec.CallInterface
	default:
		return spec.CallVirtual
	}
}

// emitCallProbes instruments one call site. origStart is the position
// returned by preambleStart: for a constructor, calls strictly before
// it execute with an uninitialized this (the super-constructor call
// hasn't been witnessed yet) and must not be instrumented at all.
func (in *Instrumentor) emitCallProbes(ctx context.Context, class *bytecode.Class, m *bytecode.Method, instr bytecode.Instruction, origStart int) error {
	if m.IsConstructor && instr.Pos < origStart {
		return nil
	}

	isCtor := instr.Op == bytecode.OpInvokeSpecial && isConstructorTarget(instr)
	kind := callKind(instr, isCtor)

	witness := func(s *spec.EventSpecification) bool {
		return s.WitnessCall(instr.Target, kind, m.Signature)
	}
	keys := in.liveKeys(witness)
	if len(keys) == 0 {
		return nil
	}

	if in.anyUseIntercept(instr.Target, witness) {
		id, err := in.cfg.Observer.NewProbe(ctx, events.StaticCall, keys...)
		if err != nil {
			return err
		}
		in.cfg.Observer.CallInterceptorAdded(id, events.StaticCall, instr.Pos, instr.Length, problog.InterceptRecord{
			Opcode:    opcodeName(instr.Op),
			ClassName: targetClass(instr.Target),
			Member:    instr.Target,
		})
		return nil
	}

	callID, err := in.cfg.Observer.NewProbe(ctx, events.StaticCall, keys...)
	if err != nil {
		return err
	}
	in.cfg.Observer.ProbeInserted(callID, events.StaticCall, lenTriggerStatic, instr.Pos, true)

	returnID, err := in.cfg.Observer.NewProbe(ctx, events.CallReturn, keys...)
	if err != nil {
		return err
	}
	in.cfg.Observer.ProbeInserted(returnID, events.CallReturn, lenTriggerStatic, instr.Pos+instr.Length, false)

	handlerPC := instr.Pos + instr.Length + lenTriggerStatic
	in.cfg.Observer.ExceptionHandlerAdded(returnID, problog.AddedExceptionHandler{
		ProbeID:   returnID,
		StartPC:   instr.Pos,
		EndPC:     handlerPC,
		HandlerPC: handlerPC,
		CatchType: bytecode.CatchAny,
	}, true)
	return nil
}

// anyUseIntercept reports whether any specification matched by witness
// also requests replacement-style instrumentation for target via
// call:use_intercept.
func (in *Instrumentor) anyUseIntercept(target string, witness func(*spec.EventSpecification) bool) bool {
	for _, s := range in.cfg.Specifications {
		if witness(s) && s.Properties.UseIntercept(target) {
			return true
		}
	}
	return false
}

// targetClass extracts the owning class from a dotted call target
// (class.method, possibly with a trailing JNI-style signature).
func targetClass(target string) string {
	i := strings.LastIndex(target, ".")
	if i < 0 {
		return target
	}
	return target[:i]
}

// isConstructorTarget reports whether an INVOKESPECIAL instruction
// targets a constructor (<init>), as opposed to a private/super
// ordinary method call.
func isConstructorTarget(instr bytecode.Instruction) bool {
	return strings.Contains(instr.Target, "<init>")
}

func (in *Instrumentor) emitFieldIntercept(ctx context.Context, class *bytecode.Class, m *bytecode.Method, instr bytecode.Instruction) error {
	access := spec.FieldGet
	switch instr.Op {
	case bytecode.OpPutStatic, bytecode.OpPutField:
		access = spec.FieldPut
	}

	keys := in.liveKeys(func(s *spec.EventSpecification) bool {
		return s.WitnessField(class.Name, instr.FieldName, instr.IsStatic, access, m.Signature)
	})
	if len(keys) == 0 {
		return nil
	}

	code := events.GetField
	switch {
	case instr.IsStatic && access == spec.FieldGet:
		code = events.GetStatic
	case instr.IsStatic && access == spec.FieldPut:
		code = events.PutStatic
	case !instr.IsStatic && access == spec.FieldPut:
		code = events.PutField
	}

	interceptorSig := fieldInterceptorSig(class.Name, instr.FieldName, access)
	in.cfg.Observer.FieldInterceptorMethodAdded(interceptorSig)

	id, err := in.cfg.Observer.NewProbe(ctx, code, keys...)
	if err != nil {
		return err
	}
	in.cfg.Observer.FieldInterceptorAdded(id, code, instr.Pos, instr.Length, problog.InterceptRecord{
		Opcode:    opcodeName(instr.Op),
		ClassName: class.Name,
		Member:    instr.FieldName,
		FieldType: instr.FieldType,
		IsStatic:  instr.IsStatic,
	})
	return nil
}

func fieldInterceptorSig(class, field string, access spec.FieldAccess) string {
	verb := "$get"
	if access == spec.FieldPut {
		verb = "$put"
	}
	return class + "." + verb + field
}

func opcodeName(op bytecode.Opcode) string {
	switch op {
	case bytecode.OpGetStatic:
		return "GETSTATIC"
	case bytecode.OpPutStatic:
		return "PUTSTATIC"
	case bytecode.OpGetField:
		return "GETFIELD"
	case bytecode.OpPutField:
		return "PUTFIELD"
	case bytecode.OpInvokeStatic:
		return "INVOKESTATIC"
	case bytecode.OpInvokeVirtual:
		return "INVOKEVIRTUAL"
	case bytecode.OpInvokeInterface:
		return "INVOKEINTERFACE"
	case bytecode.OpInvokeSpecial:
		return "INVOKESPECIAL"
	default:
		return "UNKNOWN"
	}
}

func (in *Instrumentor) emitArraySite(ctx context.Context, m *bytecode.Method, instr bytecode.Instruction) error {
	store := instr.Op == bytecode.OpArrayStore

	type hit struct {
		resolved bounds.Resolved
		keys     []string
	}
	var hits []hit

	for _, s := range in.cfg.Specifications {
		conds := s.ArrayElementConditions(store)
		for _, r := range bounds.Resolve(m.Signature, instr.ElementType, conds, s.Globals, in.cfg.IsReferenceType) {
			var merged bool
			for i := range hits {
				if hits[i].resolved.ElementType == r.ElementType {
					hits[i].keys = append(hits[i].keys, s.Key)
					merged = true
					break
				}
			}
			if !merged {
				hits = append(hits, hit{resolved: r, keys: []string{s.Key}})
			}
		}
	}
	if len(hits) == 0 {
		return nil
	}

	code := events.GetField
	if store {
		code = events.PutField
	}
	for _, h := range hits {
		id, err := in.cfg.Observer.NewProbe(ctx, code, h.keys...)
		if err != nil {
			return err
		}
		in.cfg.Observer.ProbeInserted(id, code, lenArraySite, instr.Pos, true)
	}
	return nil
}

func (in *Instrumentor) emitCatchProbe(ctx context.Context, m *bytecode.Method, handler bytecode.Handler) error {
	owner := handler.CatchType
	keys := in.liveKeys(func(s *spec.EventSpecification) bool {
		return s.WitnessThrowable(owner, spec.ThrowableCatch, m.Signature)
	})
	if len(keys) == 0 {
		return nil
	}
	id, err := in.cfg.Observer.NewProbe(ctx, events.Catch, keys...)
	if err != nil {
		return err
	}
	in.cfg.Observer.ProbeInserted(id, events.Catch, lenTriggerCatch, handler.HandlerPC, true)
	return nil
}

// desugarSynchronized clears the synchronized flag's runtime effect by
// synthesizing explicit MONITORENTER/MONITOREXIT probes around the
// body and a release-on-exception handler, per the synchronized-method
// transform.
func (in *Instrumentor) desugarSynchronized(ctx context.Context, class *bytecode.Class, m *bytecode.Method) error {
	owner := class.Name

	enterKeys := in.liveKeys(func(s *spec.EventSpecification) bool {
		return s.WitnessMonitor(owner, spec.MonContend, m.Signature) || s.WitnessMonitor(owner, spec.MonAcquire, m.Signature)
	})
	if len(enterKeys) > 0 {
		id, err := in.cfg.Observer.NewProbe(ctx, events.MonAcquire, enterKeys...)
		if err != nil {
			return err
		}
		in.cfg.Observer.ProbeInserted(id, events.MonAcquire, lenTriggerMon, 0, true)
	}

	releaseKeys := in.liveKeys(func(s *spec.EventSpecification) bool {
		return s.WitnessMonitor(owner, spec.MonPreRelease, m.Signature) || s.WitnessMonitor(owner, spec.MonRelease, m.Signature)
	})
	if len(releaseKeys) == 0 {
		return nil
	}
	id, err := in.cfg.Observer.NewProbe(ctx, events.MonRelease, releaseKeys...)
	if err != nil {
		return err
	}
	handlerPC := methodEndPos(m)
	in.cfg.Observer.ProbeInserted(id, events.MonRelease, lenTriggerMon, handlerPC, false)
	in.cfg.Observer.ExceptionHandlerAdded(id, problog.AddedExceptionHandler{
		ProbeID:   id,
		StartPC:   0,
		EndPC:     handlerPC,
		HandlerPC: handlerPC,
		CatchType: bytecode.CatchAny,
	}, false)
	return nil
}

func methodEndPos(m *bytecode.Method) int {
	end := 0
	for _, instr := range m.Instructions {
		if p := instr.Pos + instr.Length; p > end {
			end = p
		}
	}
	return end
}
