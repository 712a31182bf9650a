package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateBumpsCounterWhenFreeListEmpty(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := s.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second)
}

func TestReleaseThenAllocateReusesID(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, id))

	reused, err := s.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, reused)
	assert.Empty(t, s.Snapshot())
}

func TestAllocateRespectsCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Allocate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
