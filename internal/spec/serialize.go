package spec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/uuid"

	"witnessd/internal/bounds"
	"witnessd/internal/bytecode"
	"witnessd/internal/condition"
	"witnessd/internal/werrors"
	"witnessd/internal/wire"
)

// suiteMagic identifies an EDL suite file. suiteVersion lets future
// field additions fail loudly on an old reader instead of silently
// misreading the stream.
const (
	suiteMagic   = "EDL1"
	suiteVersion = int32(2)
)

// SuiteMetadata carries the identity of one compiled suite, independent
// of its content. ID distinguishes two suites compiled from the same
// specifications at different times, which matters to a tracker store
// that keys allocator snapshots by the suite that produced them.
type SuiteMetadata struct {
	ID string
}

// Suite is the on-disk unit the Instrumentor writes and the
// Dispatcher Facade loads: every compiled EventSpecification for one
// instrumentation run, plus the interned strings referenced by probe
// payloads.
type Suite struct {
	Metadata       SuiteMetadata
	Specifications []*EventSpecification
	Strings        []string
}

// NewSuite constructs an empty Suite with a freshly generated ID.
func NewSuite() *Suite {
	return &Suite{Metadata: SuiteMetadata{ID: uuid.NewString()}}
}

// EncodeSuite writes suite in the binary layout: header | id |
// [per-specification block]* | string_table.
func EncodeSuite(w io.Writer, suite *Suite) error {
	if _, err := io.WriteString(w, suiteMagic); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, suiteVersion); err != nil {
		return err
	}
	id := suite.Metadata.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := wire.WriteString(w, id); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, int32(len(suite.Specifications))); err != nil {
		return err
	}
	for _, s := range suite.Specifications {
		if err := encodeSpecification(w, s); err != nil {
			return err
		}
	}
	if err := wire.WriteInt32(w, int32(len(suite.Strings))); err != nil {
		return err
	}
	for _, str := range suite.Strings {
		if err := wire.WriteString(w, str); err != nil {
			return err
		}
	}
	return nil
}

// DecodeSuite reads a stream written by EncodeSuite. hierarchy is
// threaded into every decoded EventSpecification for throwable
// subclass resolution; pass nil if not needed.
func DecodeSuite(r io.Reader, hierarchy bytecode.Hierarchy) (*Suite, error) {
	magic := make([]byte, len(suiteMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	if string(magic) != suiteMagic {
		return nil, werrors.BadFile("suite", fmt.Errorf("bad magic %q", magic))
	}
	version, err := wire.ReadInt32(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	if version != suiteVersion {
		return nil, werrors.BadFile("suite", fmt.Errorf("unsupported suite version %d", version))
	}
	id, err := wire.ReadString(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	specCount, err := wire.ReadInt32(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	suite := &Suite{
		Metadata:       SuiteMetadata{ID: id},
		Specifications: make([]*EventSpecification, 0, specCount),
	}
	for i := int32(0); i < specCount; i++ {
		s, err := decodeSpecification(r, hierarchy)
		if err != nil {
			return nil, err
		}
		suite.Specifications = append(suite.Specifications, s)
	}
	strCount, err := wire.ReadInt32(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	suite.Strings = make([]string, 0, strCount)
	for i := int32(0); i < strCount; i++ {
		str, err := wire.ReadString(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		suite.Strings = append(suite.Strings, str)
	}
	return suite, nil
}

// encodeSpecification writes one specification block in the fixed
// field order: key | systemUnits | moduleUnits | globals? |
// new_rules | field_rules×4 | call_rules×4 | constructor_rules×2 |
// method_rules×4 | monitor_rules×4 | throwable_rules×2 |
// throwable_inc_subclass×2 | static_init_rules |
// array_elem_conditions×2 | event_properties.
func encodeSpecification(w io.Writer, s *EventSpecification) error {
	if err := wire.WriteString(w, s.Key); err != nil {
		return err
	}
	if err := encodeProgramUnit(w, s.SystemUnits); err != nil {
		return err
	}
	if err := encodeProgramUnit(w, s.ModuleUnits); err != nil {
		return err
	}
	if err := encodeGlobals(w, s.Globals); err != nil {
		return err
	}
	if err := encodeRuleMap(w, s.New); err != nil {
		return err
	}
	for _, rm := range []*RuleMap{s.fields.GetStatic, s.fields.PutStatic, s.fields.GetField, s.fields.PutField} {
		if err := encodeRuleMap(w, rm); err != nil {
			return err
		}
	}
	for _, rm := range []*RuleMap{s.calls.Constructor, s.calls.Static, s.calls.Virtual, s.calls.Interface} {
		if err := encodeRuleMap(w, rm); err != nil {
			return err
		}
	}
	for _, rm := range []*RuleMap{s.constructs.Enter, s.constructs.Exit} {
		if err := encodeRuleMap(w, rm); err != nil {
			return err
		}
	}
	for _, rm := range []*RuleMap{s.methods.StaticEnter, s.methods.StaticExit, s.methods.VirtualEnter, s.methods.VirtualExit} {
		if err := encodeRuleMap(w, rm); err != nil {
			return err
		}
	}
	for _, rm := range []*RuleMap{s.monitors.Contend, s.monitors.Acquire, s.monitors.PreRelease, s.monitors.Release} {
		if err := encodeRuleMap(w, rm); err != nil {
			return err
		}
	}
	for _, rm := range []*RuleMap{s.throwables.Throw, s.throwables.Catch} {
		if err := encodeRuleMap(w, rm); err != nil {
			return err
		}
	}
	for _, m := range []map[string]condition.Condition{s.throwables.IncludeSubclassThrow, s.throwables.IncludeSubclassCatch} {
		if err := encodeSubclassSet(w, m); err != nil {
			return err
		}
	}
	if err := encodeRuleMap(w, s.StaticInit); err != nil {
		return err
	}
	for _, c := range []*bounds.Conditions{s.arrayElem.Load, s.arrayElem.Store} {
		if err := encodeConditions(w, c); err != nil {
			return err
		}
	}
	return encodeProperties(w, s.Properties)
}

func decodeSpecification(r io.Reader, hierarchy bytecode.Hierarchy) (*EventSpecification, error) {
	key, err := wire.ReadString(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	s := New(key, hierarchy)

	if s.SystemUnits, err = decodeProgramUnit(r); err != nil {
		return nil, err
	}
	if s.ModuleUnits, err = decodeProgramUnit(r); err != nil {
		return nil, err
	}
	if s.Globals, err = decodeGlobals(r); err != nil {
		return nil, err
	}
	if s.New, err = decodeRuleMap(r); err != nil {
		return nil, err
	}
	for _, slot := range []**RuleMap{&s.fields.GetStatic, &s.fields.PutStatic, &s.fields.GetField, &s.fields.PutField} {
		if *slot, err = decodeRuleMap(r); err != nil {
			return nil, err
		}
	}
	for _, slot := range []**RuleMap{&s.calls.Constructor, &s.calls.Static, &s.calls.Virtual, &s.calls.Interface} {
		if *slot, err = decodeRuleMap(r); err != nil {
			return nil, err
		}
	}
	for _, slot := range []**RuleMap{&s.constructs.Enter, &s.constructs.Exit} {
		if *slot, err = decodeRuleMap(r); err != nil {
			return nil, err
		}
	}
	for _, slot := range []**RuleMap{&s.methods.StaticEnter, &s.methods.StaticExit, &s.methods.VirtualEnter, &s.methods.VirtualExit} {
		if *slot, err = decodeRuleMap(r); err != nil {
			return nil, err
		}
	}
	for _, slot := range []**RuleMap{&s.monitors.Contend, &s.monitors.Acquire, &s.monitors.PreRelease, &s.monitors.Release} {
		if *slot, err = decodeRuleMap(r); err != nil {
			return nil, err
		}
	}
	for _, slot := range []**RuleMap{&s.throwables.Throw, &s.throwables.Catch} {
		if *slot, err = decodeRuleMap(r); err != nil {
			return nil, err
		}
	}
	for _, slot := range []*map[string]condition.Condition{&s.throwables.IncludeSubclassThrow, &s.throwables.IncludeSubclassCatch} {
		if *slot, err = decodeSubclassSet(r); err != nil {
			return nil, err
		}
	}
	if s.StaticInit, err = decodeRuleMap(r); err != nil {
		return nil, err
	}
	for _, slot := range []**bounds.Conditions{&s.arrayElem.Load, &s.arrayElem.Store} {
		if *slot, err = decodeConditions(r); err != nil {
			return nil, err
		}
	}
	if s.Properties, err = decodeProperties(r); err != nil {
		return nil, err
	}
	if err := ValidateProperties(s.Properties); err != nil {
		return nil, err
	}
	return s, nil
}

func encodeProgramUnit(w io.Writer, u *ProgramUnit) error {
	if err := wire.WriteString(w, u.Location); err != nil {
		return err
	}
	if err := wire.WriteBool(w, u.UseLocation); err != nil {
		return err
	}
	if err := wire.WriteBool(w, u.IsJar); err != nil {
		return err
	}
	classes := u.Classes()
	if err := wire.WriteInt32(w, int32(len(classes))); err != nil {
		return err
	}
	for c := range classes {
		if err := wire.WriteString(w, c); err != nil {
			return err
		}
	}
	return nil
}

func decodeProgramUnit(r io.Reader) (*ProgramUnit, error) {
	u := NewProgramUnit()
	var err error
	if u.Location, err = wire.ReadString(r); err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	if u.UseLocation, err = wire.ReadBool(r); err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	if u.IsJar, err = wire.ReadBool(r); err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	n, err := wire.ReadInt32(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	for i := int32(0); i < n; i++ {
		c, err := wire.ReadString(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		u.Add(c)
	}
	return u, nil
}

func encodeInterval(w io.Writer, iv bounds.Interval) error {
	hasMin := iv.Min != nil
	if err := wire.WriteBool(w, hasMin); err != nil {
		return err
	}
	if hasMin {
		if err := wire.WriteInt32(w, int32(*iv.Min)); err != nil {
			return err
		}
	}
	hasMax := iv.Max != nil
	if err := wire.WriteBool(w, hasMax); err != nil {
		return err
	}
	if hasMax {
		if err := wire.WriteInt32(w, int32(*iv.Max)); err != nil {
			return err
		}
	}
	return nil
}

func decodeInterval(r io.Reader) (bounds.Interval, error) {
	var iv bounds.Interval
	hasMin, err := wire.ReadBool(r)
	if err != nil {
		return iv, werrors.BadFile("suite", err)
	}
	if hasMin {
		v, err := wire.ReadInt32(r)
		if err != nil {
			return iv, werrors.BadFile("suite", err)
		}
		vv := int(v)
		iv.Min = &vv
	}
	hasMax, err := wire.ReadBool(r)
	if err != nil {
		return iv, werrors.BadFile("suite", err)
	}
	if hasMax {
		v, err := wire.ReadInt32(r)
		if err != nil {
			return iv, werrors.BadFile("suite", err)
		}
		vv := int(v)
		iv.Max = &vv
	}
	return iv, nil
}

func encodeGlobals(w io.Writer, g *bounds.Globals) error {
	all := g.All()
	if err := wire.WriteInt32(w, int32(len(all))); err != nil {
		return err
	}
	for t, iv := range all {
		if err := wire.WriteString(w, t); err != nil {
			return err
		}
		if err := encodeInterval(w, iv); err != nil {
			return err
		}
	}
	return nil
}

func decodeGlobals(r io.Reader) (*bounds.Globals, error) {
	g := bounds.NewGlobals()
	n, err := wire.ReadInt32(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	for i := int32(0); i < n; i++ {
		t, err := wire.ReadString(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		iv, err := decodeInterval(r)
		if err != nil {
			return nil, err
		}
		g.Set(t, iv)
	}
	return g, nil
}

func encodeConditions(w io.Writer, c *bounds.Conditions) error {
	all := c.All()
	if err := wire.WriteInt32(w, int32(len(all))); err != nil {
		return err
	}
	for t, entry := range all {
		if err := wire.WriteString(w, t); err != nil {
			return err
		}
		if err := entry.Conditions.Encode(w); err != nil {
			return err
		}
		if err := encodeInterval(w, entry.Interval); err != nil {
			return err
		}
	}
	return nil
}

func decodeConditions(r io.Reader) (*bounds.Conditions, error) {
	c := bounds.NewConditions()
	n, err := wire.ReadInt32(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	for i := int32(0); i < n; i++ {
		t, err := wire.ReadString(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		tree, err := condition.Decode(r)
		if err != nil {
			return nil, err
		}
		iv, err := decodeInterval(r)
		if err != nil {
			return nil, err
		}
		if err := c.Set(t, &bounds.TypeEntry{Conditions: tree, Interval: iv}, true); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// encodeRuleMap writes a rule map as size:i32 | (key:utf8,
// EventConditions)*.
func encodeRuleMap(w io.Writer, m *RuleMap) error {
	if err := wire.WriteInt32(w, int32(len(m.entries))); err != nil {
		return err
	}
	for k, tree := range m.entries {
		if err := wire.WriteString(w, k); err != nil {
			return err
		}
		if err := tree.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func decodeRuleMap(r io.Reader) (*RuleMap, error) {
	m := NewRuleMap()
	n, err := wire.ReadInt32(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	for i := int32(0); i < n; i++ {
		k, err := wire.ReadString(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		tree, err := condition.Decode(r)
		if err != nil {
			return nil, err
		}
		m.entries[k] = tree
	}
	return m, nil
}

func encodeSubclassSet(w io.Writer, m map[string]condition.Condition) error {
	if err := wire.WriteInt32(w, int32(len(m))); err != nil {
		return err
	}
	for ancestor, cond := range m {
		if err := wire.WriteString(w, ancestor); err != nil {
			return err
		}
		if err := wire.WriteBool(w, cond.Inclusion); err != nil {
			return err
		}
		if err := wire.WriteInt32(w, int32(cond.Rank)); err != nil {
			return err
		}
	}
	return nil
}

func decodeSubclassSet(r io.Reader) (map[string]condition.Condition, error) {
	m := map[string]condition.Condition{}
	n, err := wire.ReadInt32(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	for i := int32(0); i < n; i++ {
		ancestor, err := wire.ReadString(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		inclusion, err := wire.ReadBool(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		rank, err := wire.ReadInt32(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		m[ancestor] = condition.Condition{Inclusion: inclusion, Rank: int(rank)}
	}
	return m, nil
}

func encodeProperties(w io.Writer, b *PropertyBag) error {
	all := b.All()
	if err := wire.WriteInt32(w, int32(len(all))); err != nil {
		return err
	}
	for prefix, kv := range all {
		if err := wire.WriteString(w, prefix); err != nil {
			return err
		}
		if err := wire.WriteInt32(w, int32(len(kv))); err != nil {
			return err
		}
		for k, v := range kv {
			if err := wire.WriteString(w, k); err != nil {
				return err
			}
			if err := wire.WriteString(w, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeProperties(r io.Reader) (*PropertyBag, error) {
	b := NewPropertyBag()
	n, err := wire.ReadInt32(r)
	if err != nil {
		return nil, werrors.BadFile("suite", err)
	}
	for i := int32(0); i < n; i++ {
		prefix, err := wire.ReadString(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		kvN, err := wire.ReadInt32(r)
		if err != nil {
			return nil, werrors.BadFile("suite", err)
		}
		for j := int32(0); j < kvN; j++ {
			k, err := wire.ReadString(r)
			if err != nil {
				return nil, werrors.BadFile("suite", err)
			}
			v, err := wire.ReadString(r)
			if err != nil {
				return nil, werrors.BadFile("suite", err)
			}
			b.Set(prefix, k, v)
		}
	}
	return b, nil
}

// EncodeSuiteBytes is a convenience wrapper for callers holding the
// whole suite in memory (e.g. tests).
func EncodeSuiteBytes(suite *Suite) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeSuite(&buf, suite); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSuiteBytes is the inverse of EncodeSuiteBytes.
func DecodeSuiteBytes(b []byte, hierarchy bytecode.Hierarchy) (*Suite, error) {
	return DecodeSuite(bytes.NewReader(b), hierarchy)
}
