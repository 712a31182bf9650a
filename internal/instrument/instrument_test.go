package instrument

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"witnessd/internal/bytecode"
	"witnessd/internal/condition"
	"witnessd/internal/events"
	"witnessd/internal/session"
	"witnessd/internal/spec"
	"witnessd/internal/tracker"
	"witnessd/internal/tracker/trackerstore/memory"
)

func includeEverywhere(rm *spec.RuleMap, nameKey string) {
	rm.Tree(nameKey).Add("", condition.NewIn(true, 0, nil))
}

func buildRunClass() *bytecode.Class {
	run := &bytecode.Method{
		Signature:   "pkg.A.run()V",
		AccessFlags: 0,
		MaxLocals:   2,
		Instructions: []bytecode.Instruction{
			{Pos: 0, Op: bytecode.OpNew, Length: 3, Target: "pkg.B"},
			{Pos: 3, Op: bytecode.OpInvokeStatic, Length: 3, Target: "pkg.C.helper()V"},
			{Pos: 6, Op: bytecode.OpGetField, Length: 3, FieldName: "value", FieldType: "I", IsStatic: false},
			{Pos: 9, Op: bytecode.OpReturn, Length: 1},
		},
	}
	return &bytecode.Class{
		Name:    "pkg.A",
		Methods: []*bytecode.Method{run},
	}
}

func newTestInstrumentor(t *testing.T, specs []*spec.EventSpecification) (*Instrumentor, *tracker.Tracker) {
	t.Helper()
	return newTestInstrumentorFor(t, buildRunClass(), nil, specs)
}

func newTestInstrumentorFor(t *testing.T, class *bytecode.Class, hierarchy bytecode.Hierarchy, specs []*spec.EventSpecification) (*Instrumentor, *tracker.Tracker) {
	t.Helper()
	repo := bytecode.NewMemoryRepository()
	repo.Put(class)

	tr := tracker.New(memory.New())
	cfg := Config{
		Specifications:  specs,
		Repository:      repo,
		Hierarchy:       hierarchy,
		Session:         session.New(),
		Observer:        tr,
		IsReferenceType: func(string) bool { return true },
	}
	return New(cfg), tr
}

// buildCtorClass builds pkg.Sub, a subclass of pkg.Base with a
// constructor that calls an unrelated static helper before invoking
// its super-constructor, then another helper after.
func buildCtorClass() (*bytecode.Class, bytecode.Hierarchy) {
	hierarchy := bytecode.NewMemoryHierarchy()
	hierarchy.SetParent("pkg.Sub", "pkg.Base")

	ctor := &bytecode.Method{
		Signature:     "pkg.Sub.<init>()V",
		IsConstructor: true,
		Instructions: []bytecode.Instruction{
			{Pos: 0, Op: bytecode.OpInvokeStatic, Length: 3, Target: "pkg.Helper.early()V"},
			{Pos: 3, Op: bytecode.OpInvokeSpecial, Length: 3, Target: "pkg.Base.<init>()V"},
			{Pos: 6, Op: bytecode.OpInvokeStatic, Length: 3, Target: "pkg.Helper.late()V"},
			{Pos: 9, Op: bytecode.OpReturn, Length: 1},
		},
	}
	class := &bytecode.Class{Name: "pkg.Sub", Methods: []*bytecode.Method{ctor}}
	return class, hierarchy
}

// buildInterceptCallClass builds a class with a single static call
// site and nothing else, isolating interceptor-mode assertions from
// any other instrumented instruction at the same offset.
func buildInterceptCallClass() *bytecode.Class {
	run := &bytecode.Method{
		Signature: "pkg.A.run()V",
		Instructions: []bytecode.Instruction{
			{Pos: 0, Op: bytecode.OpInvokeStatic, Length: 3, Target: "pkg.C.helper()V"},
			{Pos: 3, Op: bytecode.OpReturn, Length: 1},
		},
	}
	return &bytecode.Class{Name: "pkg.A", Methods: []*bytecode.Method{run}}
}

func TestInstrumentClassEmitsNewCallFieldAndExitProbes(t *testing.T) {
	s := spec.New("rule-1", nil)
	includeEverywhere(s.New, "pkg.B")
	includeEverywhere(s.CallRuleMap(spec.CallStatic), "pkg.C.helper()V")
	includeEverywhere(s.FieldRuleMap(false, spec.FieldGet), "pkg.A.value")
	includeEverywhere(s.MethodRuleMap(false, false), "pkg.A.run()V")

	in, _ := newTestInstrumentor(t, []*spec.EventSpecification{s})

	log, err := in.InstrumentClass(context.Background(), "pkg.A")
	require.NoError(t, err)

	m := log.MethodLogs["pkg.A.run()V"]
	require.NotNil(t, m)

	var sawNew, sawCall, sawReturn, sawField, sawExit bool
	for _, c := range m.BytecodeLog {
		switch {
		case c.Interceptor != nil:
			sawField = true
		case c.Start == 0:
			sawNew = true
		case c.Start == 3:
			sawCall = true
		case c.Start == 6:
			sawReturn = true
		case c.Start == 9:
			sawExit = true
		}
	}
	assert.True(t, sawNew, "expected a NEW probe")
	assert.True(t, sawCall, "expected a call probe")
	assert.True(t, sawReturn, "expected a return probe")
	assert.True(t, sawField, "expected a field interceptor")
	assert.True(t, sawExit, "expected an exit probe")
}

func TestInstrumentClassSkipsUnwitnessedEvents(t *testing.T) {
	s := spec.New("rule-1", nil) // no rules at all
	in, _ := newTestInstrumentor(t, []*spec.EventSpecification{s})

	log, err := in.InstrumentClass(context.Background(), "pkg.A")
	require.NoError(t, err)

	m := log.MethodLogs["pkg.A.run()V"]
	require.NotNil(t, m)
	assert.Empty(t, m.BytecodeLog)
}

func TestInstrumentClassReturnsIncompleteClasspathForUnknownClass(t *testing.T) {
	in, _ := newTestInstrumentor(t, nil)
	_, err := in.InstrumentClass(context.Background(), "pkg.Missing")
	assert.Error(t, err)
}

func TestConstructorCallsBeforeSuperConstructorAreSuppressed(t *testing.T) {
	class, hierarchy := buildCtorClass()
	s := spec.New("rule-1", nil)
	includeEverywhere(s.CallRuleMap(spec.CallStatic), "pkg.Helper.early()V")
	includeEverywhere(s.CallRuleMap(spec.CallStatic), "pkg.Helper.late()V")
	includeEverywhere(s.CallRuleMap(spec.CallConstructor), "pkg.Base.<init>()V")

	in, _ := newTestInstrumentorFor(t, class, hierarchy, []*spec.EventSpecification{s})

	log, err := in.InstrumentClass(context.Background(), "pkg.Sub")
	require.NoError(t, err)

	m := log.MethodLogs["pkg.Sub.<init>()V"]
	require.NotNil(t, m)

	var sawEarly, sawSuper, sawLate bool
	for _, c := range m.BytecodeLog {
		switch c.Start {
		case 0:
			sawEarly = true
		case 3:
			sawSuper = true
		case 6:
			sawLate = true
		}
	}
	assert.False(t, sawEarly, "call before the super-constructor must not be instrumented")
	assert.False(t, sawSuper, "the super-constructor call itself must not be instrumented")
	assert.True(t, sawLate, "call after the super-constructor must be instrumented")
}

func TestCallUseInterceptPropertyReplacesPrefixSuffixProbes(t *testing.T) {
	class := buildInterceptCallClass()
	s := spec.New("rule-1", nil)
	includeEverywhere(s.CallRuleMap(spec.CallStatic), "pkg.C.helper()V")
	s.Properties.Set("pkg.C.helper()V", spec.UseInterceptProperty, spec.UseInterceptTrue)

	in, _ := newTestInstrumentorFor(t, class, nil, []*spec.EventSpecification{s})

	log, err := in.InstrumentClass(context.Background(), "pkg.A")
	require.NoError(t, err)

	m := log.MethodLogs["pkg.A.run()V"]
	require.NotNil(t, m)
	require.Len(t, m.BytecodeLog, 1, "interceptor mode replaces the prefix/suffix pair with a single change")

	c := m.BytecodeLog[0]
	assert.Equal(t, events.ActionCallIntercept, c.Action)
	require.NotNil(t, c.Interceptor)
	assert.Equal(t, "pkg.C", c.Interceptor.ClassName)
	assert.Equal(t, "pkg.C.helper()V", c.Interceptor.Member)
}

func TestStartProbeFiresOnMainClass(t *testing.T) {
	m := &bytecode.Method{
		Signature: "pkg.App.main([Ljava/lang/String;)V",
		AccessFlags: bytecode.AccStatic,
		Instructions: []bytecode.Instruction{
			{Pos: 0, Op: bytecode.OpReturn, Length: 1},
		},
	}
	class := &bytecode.Class{Name: "pkg.App", HasMain: true, Methods: []*bytecode.Method{m}}

	in, _ := newTestInstrumentorFor(t, class, nil, nil)

	log, err := in.InstrumentClass(context.Background(), "pkg.App")
	require.NoError(t, err)

	mainLog := log.MethodLogs["pkg.App.main([Ljava/lang/String;)V"]
	require.NotNil(t, mainLog)

	var sawStart bool
	for _, c := range mainLog.BytecodeLog {
		if c.EventCode == events.Start {
			sawStart = true
		}
	}
	assert.True(t, sawStart, "the main method must carry the start probe")
}

func TestStartProbeFiresOnClinitOnlyClass(t *testing.T) {
	m := &bytecode.Method{
		Signature: "pkg.Lib.run()V",
		Instructions: []bytecode.Instruction{
			{Pos: 0, Op: bytecode.OpReturn, Length: 1},
		},
	}
	class := &bytecode.Class{Name: "pkg.Lib", HasClinit: true, Methods: []*bytecode.Method{m}}

	in, tr := newTestInstrumentorFor(t, class, nil, nil)

	log, err := in.InstrumentClass(context.Background(), "pkg.Lib")
	require.NoError(t, err)
	_ = tr
	require.NotEmpty(t, log.MethodLogs)

	var sawStart bool
	for _, ml := range log.MethodLogs {
		for _, c := range ml.BytecodeLog {
			if c.EventCode == events.Start {
				sawStart = true
			}
		}
	}
	assert.True(t, sawStart, "a class with no main but a static initializer must still get the start probe")
}

func TestStartProbeSkippedWithoutMainOrClinit(t *testing.T) {
	class := buildRunClass()
	in, _ := newTestInstrumentorFor(t, class, nil, nil)

	log, err := in.InstrumentClass(context.Background(), "pkg.A")
	require.NoError(t, err)

	for _, ml := range log.MethodLogs {
		for _, c := range ml.BytecodeLog {
			assert.NotEqual(t, events.Start, c.EventCode)
		}
	}
}
