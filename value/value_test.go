package value_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/value"
)

func TestValueRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    value.Value
	}{
		{"null", value.Null()},
		{"true", value.Boolean(true)},
		{"integer", value.Integer(42)},
		{"float", value.Float(3.25)},
		{"string", value.String("hello")},
		{"array", value.Array([]value.Value{value.Integer(1), value.String("x")})},
		{"object", value.Object(map[string]value.Value{"a": value.Boolean(false)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.v.MarshalJSON()
			require.NoError(t, err)

			var out value.Value
			require.NoError(t, out.UnmarshalJSON(data))

			assert.True(t, tt.v.Equal(out), "round trip changed value: %+v vs %+v", tt.v, out)
		})
	}
}

func TestValueNaNNotEqual(t *testing.T) {
	a := value.Float(math.NaN())
	b := value.Float(math.NaN())
	assert.False(t, a.Equal(b))
}

func TestValueConversions(t *testing.T) {
	i, err := value.Float(7.9).AsInteger()
	require.NoError(t, err)
	assert.EqualValues(t, 7, i)

	f, err := value.Integer(3).AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)

	_, err = value.String("x").AsInteger()
	assert.Error(t, err)
}

func TestValueMarshalRejectsNonFiniteFloat(t *testing.T) {
	_, err := value.Float(math.Inf(1)).MarshalJSON()
	assert.Error(t, err)
}
