package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"witnessd/internal/events"
	"witnessd/internal/problog"
	"witnessd/internal/tracker/trackerstore/memory"
)

func TestNewProbeAllocatesFromStore(t *testing.T) {
	tr := New(memory.New())
	ctx := context.Background()

	tr.ClassBegin("pkg.A")
	tr.MethodBegin("pkg.A.run()V")

	id, err := tr.NewProbe(ctx, events.VMethodEnter, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	keys, ok := tr.LiveKeys(id)
	require.True(t, ok)
	assert.Contains(t, keys, "rule-1")
}

func TestMethodEndMergesBufferedInsertsInOffsetOrder(t *testing.T) {
	tr := New(memory.New())
	ctx := context.Background()

	tr.ClassBegin("pkg.A")
	tr.MethodBegin("pkg.A.run()V")

	id1, err := tr.NewProbe(ctx, events.VMethodEnter)
	require.NoError(t, err)
	id2, err := tr.NewProbe(ctx, events.VMethodExit)
	require.NoError(t, err)

	// Insert out of offset order; anchors resolve to 20 and 5.
	tr.ProbeInserted(id1, events.VMethodEnter, 3, "anchor-late", false)
	tr.ProbeInserted(id2, events.VMethodExit, 3, "anchor-early", true)

	resolve := func(a Anchor) int {
		switch a {
		case "anchor-late":
			return 20
		case "anchor-early":
			return 5
		}
		t.Fatalf("unexpected anchor %v", a)
		return 0
	}

	m := tr.MethodEnd(resolve)
	require.Len(t, m.BytecodeLog, 2)
	assert.Equal(t, 5, m.BytecodeLog[0].Start)
	assert.Equal(t, 20, m.BytecodeLog[1].Start)
}

func TestExceptionHandlerAddedMarksSyntheticWhenNotRemovable(t *testing.T) {
	tr := New(memory.New())
	ctx := context.Background()

	tr.ClassBegin("pkg.A")
	tr.MethodBegin("pkg.A.run()V")
	id, err := tr.NewProbe(ctx, events.Throw)
	require.NoError(t, err)

	tr.ExceptionHandlerAdded(id, problog.AddedExceptionHandler{ProbeID: id, HandlerPC: 42}, false)

	m := tr.MethodEnd(func(Anchor) int { return 0 })
	require.Len(t, m.HandlerLog, 1)
	_, synthetic := m.SyntheticHandlers[42]
	assert.True(t, synthetic)
}

func TestProbeRemovedReleasesIDOnceDrained(t *testing.T) {
	store := memory.New()
	tr := New(store)
	ctx := context.Background()

	tr.ClassBegin("pkg.A")
	tr.MethodBegin("pkg.A.run()V")
	id, err := tr.NewProbe(ctx, events.VMethodEnter)
	require.NoError(t, err)

	tr.ProbeInserted(id, events.VMethodEnter, 3, "a", false)
	tr.ProbeInserted(id, events.VMethodExit, 3, "b", false)
	tr.MethodEnd(func(Anchor) int { return 0 })

	require.NoError(t, tr.ProbeRemoved(ctx, id, events.VMethodEnter))
	assert.Empty(t, store.Snapshot())

	require.NoError(t, tr.ProbeRemoved(ctx, id, events.VMethodExit))
	assert.Contains(t, store.Snapshot(), id)
}

func TestFieldInterceptorMethodAddedRegistersInterceptorSlot(t *testing.T) {
	tr := New(memory.New())
	tr.ClassBegin("pkg.A")

	tr.FieldInterceptorMethodAdded("pkg.A.$getX()I")
	c := tr.ClassEnd()
	_, ok := c.AddedMethods["pkg.A.$getX()I"]
	assert.True(t, ok)
}

func TestStaticInitializerAddedSetsFlag(t *testing.T) {
	tr := New(memory.New())
	tr.ClassBegin("pkg.A")
	tr.StaticInitializerAdded()
	c := tr.ClassEnd()
	assert.True(t, c.HasPatchedStaticInit)
}

func TestExitProbeAddedSetsMethodExitFields(t *testing.T) {
	tr := New(memory.New())
	ctx := context.Background()
	tr.ClassBegin("pkg.A")
	tr.MethodBegin("pkg.A.run()V")
	id, err := tr.NewProbe(ctx, events.VMethodExit)
	require.NoError(t, err)
	tr.ExitProbeAdded(id)

	m := tr.MethodEnd(func(Anchor) int { return 0 })
	assert.True(t, m.HasExitProbe)
	assert.Equal(t, id, m.ExitProbeID)
}
