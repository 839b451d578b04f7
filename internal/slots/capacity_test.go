package slots

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashCapacity_Deterministic(t *testing.T) {
	h := NewHashCapacity(50)
	ctx := context.Background()

	first, err := h.HasCapacity(ctx, "chef-1", "2026-10-16", "dinner")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, _ := h.HasCapacity(ctx, "chef-1", "2026-10-16", "dinner")
		assert.Equal(t, first, again)
	}

	all := NewHashCapacity(100)
	ok, _ := all.HasCapacity(ctx, "chef-9", "2026-10-16", "late")
	assert.True(t, ok)

	none := NewHashCapacity(0)
	ok, _ = none.HasCapacity(ctx, "chef-9", "2026-10-16", "late")
	assert.False(t, ok)
}

func TestMemoryCapacity_HoldAndRelease(t *testing.T) {
	m := NewMemoryCapacity(NewHashCapacity(0))
	ctx := context.Background()
	m.SetLimit("chef-1", "2026-10-16", "dinner", 1)

	ok, err := m.HasCapacity(ctx, "chef-1", "2026-10-16", "dinner")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Hold([]string{"chef-1", "chef-2"}, "2026-10-16", "dinner"))
	ok, _ = m.HasCapacity(ctx, "chef-1", "2026-10-16", "dinner")
	assert.False(t, ok)

	assert.Error(t, m.Hold([]string{"chef-1"}, "2026-10-16", "dinner"))

	m.Release([]string{"chef-1"}, "2026-10-16", "dinner")
	ok, _ = m.HasCapacity(ctx, "chef-1", "2026-10-16", "dinner")
	assert.True(t, ok)
}

func TestMemoryCapacity_UnconfiguredUsesFallback(t *testing.T) {
	m := NewMemoryCapacity(NewHashCapacity(0))
	ok, err := m.HasCapacity(context.Background(), "chef-1", "2026-10-16", "lunch")
	require.NoError(t, err)
	assert.False(t, ok)

	open := NewMemoryCapacity(nil)
	ok, _ = open.HasCapacity(context.Background(), "chef-1", "2026-10-16", "lunch")
	assert.True(t, ok)
}
