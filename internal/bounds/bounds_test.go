package bounds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"witnessd/internal/condition"
)

func alwaysInclude() *condition.Tree {
	tr := condition.New()
	tr.Add("pkg.A.m", condition.NewIn(true, 1, nil))
	return tr
}

// TestArrayLoadGlobalNarrowsSiteBound: int[] load with global bounds
// [0..3] and site bound [2..5] merges to [2..3].
func TestArrayLoadGlobalNarrowsSiteBound(t *testing.T) {
	conds := NewConditions()
	require.NoError(t, conds.Set("I", &TypeEntry{Conditions: alwaysInclude(), Interval: NewInterval(2, 5)}, false))

	globals := NewGlobals()
	globals.Set("I", NewInterval(0, 3))

	resolved := Resolve("pkg.A.m", "I", conds, globals, func(string) bool { return false })
	require.Len(t, resolved, 1)
	assert.Equal(t, 2, *resolved[0].Interval.Min)
	assert.Equal(t, 3, *resolved[0].Interval.Max)
}

func TestObjectArrayWildcardEmitsOnePerGlobalRefType(t *testing.T) {
	conds := NewConditions()
	require.NoError(t, conds.Set(Any, &TypeEntry{Conditions: alwaysInclude(), Interval: NewInterval(0, 10)}, false))

	globals := NewGlobals()
	globals.Set("Ljava/lang/String;", NewInterval(0, 2))
	globals.Set("I", NewInterval(0, 2)) // not a reference type, must be excluded

	isRef := func(t string) bool { return t == "Ljava/lang/String;" || t == Any }

	resolved := Resolve("pkg.A.m", ObjectType, conds, globals, isRef)
	// One tuple for the wildcard itself, one for the matching ref-typed global.
	require.Len(t, resolved, 2)
}

func TestConflictOnDuplicateTypeRequest(t *testing.T) {
	conds := NewConditions()
	require.NoError(t, conds.Set("I", &TypeEntry{Conditions: alwaysInclude(), Interval: NewInterval(0, 1)}, false))
	err := conds.Set("I", &TypeEntry{Conditions: alwaysInclude(), Interval: NewInterval(0, 2)}, false)
	assert.Error(t, err)
}

func TestMergeGlobalNeverWidens(t *testing.T) {
	site := NewInterval(2, 5)
	global := NewInterval(-10, 100)
	merged := MergeGlobal(site, global)
	assert.GreaterOrEqual(t, *merged.Min, *site.Min)
	assert.LessOrEqual(t, *merged.Max, *site.Max)
}

func TestMergeGlobalAdoptsUnsetBoundWithoutInverting(t *testing.T) {
	site := Interval{Max: intPtr(5)} // Min unbounded
	global := NewInterval(10, 20)    // would invert (10 > 5)
	merged := MergeGlobal(site, global)
	assert.Nil(t, merged.Min, "adopting global min must not invert the interval")
}
