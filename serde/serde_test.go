package serde

import (
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_PlainShapes(t *testing.T) {
	state := map[string]interface{}{
		"count": float64(10),
		"tags":  []interface{}{"a", "b"},
		"nested": map[string]interface{}{
			"ok": true,
		},
	}
	b, err := Encode(state)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	assert.True(t, DeepEqual(state, got))
}

func TestRoundTrip_Date(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := Clone(now)
	require.NoError(t, err)
	gt, ok := got.(time.Time)
	require.True(t, ok)
	assert.True(t, now.Equal(gt))
}

func TestRoundTrip_BigInt(t *testing.T) {
	n := new(big.Int)
	n.SetString("123456789012345678901234567890", 10)
	got, err := Clone(n)
	require.NoError(t, err)
	gn, ok := got.(*big.Int)
	require.True(t, ok)
	assert.Equal(t, 0, n.Cmp(gn))
}

func TestRoundTrip_Regexp(t *testing.T) {
	re := regexp.MustCompile(`^ab+c$`)
	got, err := Clone(re)
	require.NoError(t, err)
	gre, ok := got.(*regexp.Regexp)
	require.True(t, ok)
	assert.Equal(t, re.String(), gre.String())
}

func TestRoundTrip_Set(t *testing.T) {
	s := NewSet("b", "a", "a")
	assert.Equal(t, 2, s.Len())

	got, err := Clone(s)
	require.NoError(t, err)
	gs, ok := got.(*Set)
	require.True(t, ok)
	assert.Equal(t, 2, gs.Len())
	assert.True(t, gs.Contains("a"))
	assert.True(t, gs.Contains("b"))
}

func TestRoundTrip_RichMap(t *testing.T) {
	m := NewRichMap()
	m.Set(float64(1), "one")
	m.Set("two", float64(2))

	got, err := Clone(m)
	require.NoError(t, err)
	gm, ok := got.(*RichMap)
	require.True(t, ok)
	v, ok := gm.Get(float64(1))
	require.True(t, ok)
	assert.Equal(t, "one", v)
}

func TestDeepEqual_DistinguishesDifferentValues(t *testing.T) {
	a := NewSet("a", "b")
	b := NewSet("a", "c")
	assert.False(t, DeepEqual(a, b))
}

func TestDeepEqual_StructurallyEqualButDistinctReferences(t *testing.T) {
	a := map[string]interface{}{"x": []interface{}{"1", "2"}}
	b := map[string]interface{}{"x": []interface{}{"1", "2"}}
	assert.True(t, DeepEqual(a, b))
	assert.NotSame(t, &a, &b)
}

func TestDeepEqual_RichMapOrderIndependent(t *testing.T) {
	m1 := NewRichMap()
	m1.Set("a", 1)
	m1.Set("b", 2)

	m2 := NewRichMap()
	m2.Set("b", 2)
	m2.Set("a", 1)

	assert.True(t, DeepEqual(m1, m2))
}

func TestClone_IsolatesCallerMutation(t *testing.T) {
	orig := map[string]interface{}{"items": []interface{}{"a"}}
	cloned, err := Clone(orig)
	require.NoError(t, err)

	clonedMap := cloned.(map[string]interface{})
	clonedMap["items"] = append(clonedMap["items"].([]interface{}), "b")

	assert.Len(t, orig["items"].([]interface{}), 1)
}
