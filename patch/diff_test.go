package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_NoChange(t *testing.T) {
	state := map[string]interface{}{"count": float64(1)}
	p, err := Diff(state, state)
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
}

func TestDiff_ThenApply_RoundTrips(t *testing.T) {
	before := map[string]interface{}{
		"count": float64(1),
		"items": []interface{}{"a", "b"},
	}
	after := map[string]interface{}{
		"count": float64(2),
		"items": []interface{}{"a", "b", "c"},
	}
	p, err := Diff(before, after)
	require.NoError(t, err)
	assert.False(t, p.IsEmpty())

	got, err := Apply(before, p)
	require.NoError(t, err)
	assert.Equal(t, after, got)
}

func TestDiff_KeyRemoved(t *testing.T) {
	before := map[string]interface{}{"a": float64(1), "b": float64(2)}
	after := map[string]interface{}{"a": float64(1)}
	p, err := Diff(before, after)
	require.NoError(t, err)

	got, err := Apply(before, p)
	require.NoError(t, err)
	assert.Equal(t, after, got)
}
