package instrument

import (
	"context"
	"strings"

	"witnessd/internal/bytecode"
	"witnessd/internal/events"
	"witnessd/internal/problog"
)

// maybeStartProbe installs the one-shot EVENT_START probe on the class
// carrying main (or, failing that, on the class carrying the static
// initializer): a guarded static flag check followed by
// trigger_static(EVENT_START).
func (in *Instrumentor) maybeStartProbe(ctx context.Context, class *bytecode.Class) error {
	if !class.HasMain && !class.HasClinit {
		return nil
	}
	if !in.cfg.Session.TryFireStart() {
		return nil
	}
	sig := startProbeMethodSig(class)
	in.cfg.Observer.MethodBegin(sig)
	id, err := in.cfg.Observer.NewProbe(ctx, events.Start)
	if err != nil {
		return err
	}
	in.cfg.Observer.ProbeInserted(id, events.Start, lenTriggerStatic, 0, true)
	in.cfg.Observer.MethodEnd(identityResolver(nil))
	return nil
}

// startProbeMethodSig picks the method the start probe's flag check
// and trigger_static call are inserted into: main when the class has
// one, otherwise the class's static initializer.
func startProbeMethodSig(class *bytecode.Class) string {
	for _, m := range class.Methods {
		if isMainMethod(m.Signature) {
			return m.Signature
		}
	}
	return class.Name + ".<clinit>()V"
}

// isMainMethod reports whether sig's method-name segment is "main".
func isMainMethod(sig string) bool {
	paren := strings.IndexByte(sig, '(')
	if paren < 0 {
		return false
	}
	dot := strings.LastIndexByte(sig[:paren], '.')
	return sig[dot+1:paren] == "main"
}

// maybeClassPreparePatch synthesizes (or patches) the static
// initializer to busy-wait on the shared class-prepare flag until the
// dispatcher clears it, unless this class has already been patched.
func (in *Instrumentor) maybeClassPreparePatch(ctx context.Context, class *bytecode.Class) error {
	if in.cfg.Session.IsFinished(class.Name) {
		return nil
	}
	flag := in.cfg.Session.ClassPrepareFlag(class.Name)
	_ = flag // allocated for the dispatcher/runtime side to clear
	in.cfg.Observer.StaticInitializerAdded()
	in.cfg.Session.MarkFinished(class.Name)
	return nil
}

// probeRecordLiveKeys is a convenience constructor used by call sites
// that already hold a *problog.ProbeRecord and want its live key set
// as a plain slice (e.g. for re-instrumentation decisions).
func probeRecordLiveKeys(r *problog.ProbeRecord) []string {
	keys := make([]string, 0, len(r.LiveKeys))
	for k := range r.LiveKeys {
		keys = append(keys, k)
	}
	return keys
}
