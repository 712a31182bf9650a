package spec

// ProgramUnit is a set of classes contributing to either the system
// closure or the module.
type ProgramUnit struct {
	Location    string
	UseLocation bool
	IsJar       bool
	classes     map[string]struct{}
}

// NewProgramUnit constructs an empty unit.
func NewProgramUnit() *ProgramUnit {
	return &ProgramUnit{classes: map[string]struct{}{}}
}

// Add records a fully-qualified class name as part of the unit.
func (u *ProgramUnit) Add(class string) { u.classes[class] = struct{}{} }

// Contains reports whether class belongs to the unit.
func (u *ProgramUnit) Contains(class string) bool {
	_, ok := u.classes[class]
	return ok
}

// Classes returns the unit's class set. Callers must not mutate it.
func (u *ProgramUnit) Classes() map[string]struct{} { return u.classes }

// IsSubsetOf reports whether every class in u also belongs to other,
// the invariant moduleUnits ⊆ systemUnits requires.
func (u *ProgramUnit) IsSubsetOf(other *ProgramUnit) bool {
	for c := range u.classes {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}
