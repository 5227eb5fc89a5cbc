package fractional_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/fractional"
)

func TestGenerateMidpointWhenNoNeighbors(t *testing.T) {
	key, err := fractional.Generate("", "")
	require.NoError(t, err)
	assert.NotEmpty(t, key)
}

func TestGenerateBetweenNeighbors(t *testing.T) {
	cases := []struct{ a, b string }{
		{"A", "B"},
		{"A", "C"},
		{"AA", "AB"},
		{"A", "AB"},
		{"AAZ", "AB"},
	}
	for _, c := range cases {
		key, err := fractional.Generate(c.a, c.b)
		require.NoError(t, err)
		assert.Truef(t, c.a < key, "expected %q < %q", c.a, key)
		assert.Truef(t, key < c.b, "expected %q < %q", key, c.b)
	}
}

func TestGenerateExtendsUpward(t *testing.T) {
	a, err := fractional.Generate("", "")
	require.NoError(t, err)
	b, err := fractional.Generate(a, "")
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestGenerateExtendsDownward(t *testing.T) {
	a, err := fractional.Generate("", "")
	require.NoError(t, err)
	b, err := fractional.Generate("", a)
	require.NoError(t, err)
	assert.Less(t, b, a)
}

func TestGenerateRepeatedInsertionBoundedGrowth(t *testing.T) {
	a, err := fractional.Generate("", "")
	require.NoError(t, err)
	b, err := fractional.Generate(a, "")
	require.NoError(t, err)

	cur := a
	for i := 0; i < 50; i++ {
		next, err := fractional.Generate(cur, b)
		require.NoError(t, err)
		assert.Less(t, cur, next)
		assert.Less(t, next, b)
		assert.LessOrEqual(t, len(next), len(cur)+2, "key length grew unexpectedly fast at iteration %d", i)
		cur = next
	}
}

func TestGenerateFailsWhenPrevGTENext(t *testing.T) {
	_, err := fractional.Generate("B", "A")
	assert.Error(t, err)

	_, err = fractional.Generate("A", "A")
	assert.Error(t, err)
}
