package db

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, math.MaxFloat32, float32(math.Inf(-1))}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestL2Distance(t *testing.T) {
	d, err := l2Distance([]float32{0, 3}, []float32{4, 0})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-9)

	d, err = l2Distance([]float32{1, 2}, []float32{1, 2})
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = l2Distance([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}
