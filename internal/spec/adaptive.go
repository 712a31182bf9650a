package spec

import "witnessd/internal/condition"

// adaptiveRank is the base rank adaptive mutations request; AddForce
// recomputes the effective rank to dominate whatever currently
// resolves for the affected key.
const adaptiveRank = 1

func (s *EventSpecification) namesFor(name string) []string {
	if name != "*" {
		return []string{name}
	}
	classes := s.ModuleUnits.Classes()
	out := make([]string, 0, len(classes))
	for c := range classes {
		out = append(out, c)
	}
	return out
}

func forceRoot(rm *RuleMap, name string, inclusion bool) {
	rm.Tree(name).AddForce("", condition.NewIn(inclusion, adaptiveRank, nil))
}

// AddField installs an always-include rule for owner.field at runtime,
// dominating any prior rule on that exact name. name="*" applies to
// every class in the module.
func (s *EventSpecification) AddField(name string, isStatic bool, access FieldAccess) {
	rm := s.fields.pick(isStatic, access)
	for _, n := range s.namesFor(name) {
		forceRoot(rm, n, true)
	}
}

// RemoveField drops the rule for owner.field, restoring the
// default-exclude.
func (s *EventSpecification) RemoveField(name string, isStatic bool, access FieldAccess) {
	rm := s.fields.pick(isStatic, access)
	for _, n := range s.namesFor(name) {
		rm.Remove(n)
	}
}

// AddMethodEvent installs an always-include rule for method enter or
// exit.
func (s *EventSpecification) AddMethodEvent(name string, isStatic, enter bool) {
	rm := s.methods.pick(isStatic, enter)
	for _, n := range s.namesFor(name) {
		forceRoot(rm, n, true)
	}
}

// RemoveConstructorEntry drops the constructor-enter rule for class.
func (s *EventSpecification) RemoveConstructorEntry(name string) {
	for _, n := range s.namesFor(name) {
		s.constructs.Enter.Remove(n)
	}
}

// RemoveAllEvents drops every rule, across every rule map, for name
// ("*" drops every rule for every module class).
func (s *EventSpecification) RemoveAllEvents(name string) {
	for _, n := range s.namesFor(name) {
		s.New.Remove(n)
		s.fields.GetStatic.Remove(n)
		s.fields.PutStatic.Remove(n)
		s.fields.GetField.Remove(n)
		s.fields.PutField.Remove(n)
		s.calls.Constructor.Remove(n)
		s.calls.Static.Remove(n)
		s.calls.Virtual.Remove(n)
		s.calls.Interface.Remove(n)
		s.constructs.Enter.Remove(n)
		s.constructs.Exit.Remove(n)
		s.methods.StaticEnter.Remove(n)
		s.methods.StaticExit.Remove(n)
		s.methods.VirtualEnter.Remove(n)
		s.methods.VirtualExit.Remove(n)
		s.monitors.Contend.Remove(n)
		s.monitors.Acquire.Remove(n)
		s.monitors.PreRelease.Remove(n)
		s.monitors.Release.Remove(n)
		s.throwables.Throw.Remove(n)
		s.throwables.Catch.Remove(n)
		s.StaticInit.Remove(n)
	}
}
