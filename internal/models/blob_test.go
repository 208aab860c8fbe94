package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestFloatBlobKeepsNonFiniteValues(t *testing.T) {
	in := []float64{0.5, math.Inf(1), math.NaN(), math.Inf(-1), -2}
	raw := EncodeFloats(in)
	assert.JSONEq(t, `[0.5,"Infinity",null,"-Infinity",-2]`, string(raw))

	out, err := DecodeFloats(raw)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	assert.Equal(t, 0.5, out[0])
	assert.True(t, math.IsInf(out[1], 1))
	assert.True(t, math.IsNaN(out[2]))
	assert.True(t, math.IsInf(out[3], -1))
	assert.Equal(t, -2.0, out[4])
}

func TestDecodeFloatsEmptyAndInvalid(t *testing.T) {
	out, err := DecodeFloats(nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = DecodeFloats(EncodeFloats(nil))
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = DecodeFloats(datatypes.JSON(`[1,"inf"]`))
	assert.Error(t, err)
	_, err = DecodeFloats(datatypes.JSON(`{"a":1}`))
	assert.Error(t, err)
}
