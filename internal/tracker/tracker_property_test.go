package tracker

import (
	"context"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"witnessd/internal/events"
	"witnessd/internal/tracker/trackerstore/memory"
)

// TestMethodEndOffsetOrderingProperty verifies: for any set of buffered
// insertions with arbitrary resolved offsets, MethodEnd always returns
// bytecodeLog sorted ascending by Start, with every ID preserved.
func TestMethodEndOffsetOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("buffered inserts merge in ascending offset order", prop.ForAll(
		func(offsets []int) bool {
			tr := New(memory.New())
			ctx := context.Background()
			tr.ClassBegin("pkg.Scenario")
			tr.MethodBegin("pkg.Scenario.run()V")

			ids := make([]int, len(offsets))
			for i := range offsets {
				id, err := tr.NewProbe(ctx, events.VMethodEnter)
				if err != nil {
					return false
				}
				ids[i] = id
				tr.ProbeInserted(id, events.VMethodEnter, 3, i, false)
			}

			m := tr.MethodEnd(func(a Anchor) int { return offsets[a.(int)] })
			if len(m.BytecodeLog) != len(offsets) {
				return false
			}
			for i := 1; i < len(m.BytecodeLog); i++ {
				if m.BytecodeLog[i-1].Start > m.BytecodeLog[i].Start {
					return false
				}
			}

			gotIDs := make([]int, len(m.BytecodeLog))
			for i, c := range m.BytecodeLog {
				gotIDs[i] = c.ID
			}
			sort.Ints(gotIDs)
			wantIDs := append([]int(nil), ids...)
			sort.Ints(wantIDs)
			if len(gotIDs) != len(wantIDs) {
				return false
			}
			for i := range gotIDs {
				if gotIDs[i] != wantIDs[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
