package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatch_IsEmpty(t *testing.T) {
	var p Patch
	assert.True(t, p.IsEmpty())

	p = append(p, Op{Kind: KindSet, Path: []interface{}{"count"}, Value: 1})
	assert.False(t, p.IsEmpty())
}

func TestApply_SetMapKey(t *testing.T) {
	state := map[string]interface{}{"count": float64(0)}
	p := Patch{{Kind: KindSet, Path: []interface{}{"count"}, Value: float64(10)}}

	next, err := Apply(state, p)
	require.NoError(t, err)
	assert.Equal(t, float64(10), next.(map[string]interface{})["count"])
	// original untouched
	assert.Equal(t, float64(0), state["count"])
}

func TestApply_NestedMapAndSlice(t *testing.T) {
	state := map[string]interface{}{
		"items": []interface{}{"a", "b"},
	}
	p := Patch{
		{Kind: KindAppend, Path: []interface{}{"items"}, Value: "c"},
		{Kind: KindSet, Path: []interface{}{"items", 0}, Value: "A"},
	}
	next, err := Apply(state, p)
	require.NoError(t, err)
	items := next.(map[string]interface{})["items"].([]interface{})
	assert.Equal(t, []interface{}{"A", "b", "c"}, items)
}

func TestApply_DeleteKey(t *testing.T) {
	state := map[string]interface{}{"a": 1, "b": 2}
	next, err := Apply(state, Patch{{Kind: KindDelete, Path: []interface{}{"a"}}})
	require.NoError(t, err)
	m := next.(map[string]interface{})
	_, ok := m["a"]
	assert.False(t, ok)
	assert.Equal(t, 2, m["b"])
}

func TestApply_RootReplace(t *testing.T) {
	next, err := Apply(map[string]interface{}{"x": 1}, Patch{{Kind: KindSet, Value: "replaced"}})
	require.NoError(t, err)
	assert.Equal(t, "replaced", next)
}

func TestApply_OutOfRangeIndex(t *testing.T) {
	state := map[string]interface{}{"items": []interface{}{"a"}}
	_, err := Apply(state, Patch{{Kind: KindDelete, Path: []interface{}{"items", 5}}})
	require.Error(t, err)
}
