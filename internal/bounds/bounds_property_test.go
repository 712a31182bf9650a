package bounds

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMergeGlobalNeverWidensProperty verifies: mergeGlobal never
// widens a site-specific interval; the resulting range is a subset of
// the site-specific range whenever the site range is fully bounded.
func TestMergeGlobalNeverWidensProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("merged range is a subset of a fully-bounded site range", prop.ForAll(
		func(siteMin, siteSpan, globalMin, globalSpan int) bool {
			siteMax := siteMin + abs(siteSpan)
			globalMax := globalMin + abs(globalSpan)
			site := NewInterval(siteMin, siteMax)
			global := NewInterval(globalMin, globalMax)

			merged := MergeGlobal(site, global)
			if merged.Min == nil || merged.Max == nil {
				return false
			}
			return *merged.Min >= siteMin && *merged.Max <= siteMax
		},
		gen.IntRange(-1000, 1000),
		gen.IntRange(0, 2000),
		gen.IntRange(-1000, 1000),
		gen.IntRange(0, 2000),
	))

	properties.TestingRun(t)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
