package storage

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(r *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func TestEncodeDecodeVector_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for _, n := range []int{0, 1, 3, DefaultDimension} {
		v := randomVector(r, n)
		blob := EncodeVector(v)
		assert.Len(t, blob, 4*n)

		got, err := DecodeVector(blob)
		require.NoError(t, err)
		require.Len(t, got, n)
		for i := range v {
			assert.Equal(t, math.Float32bits(v[i]), math.Float32bits(got[i]))
		}
	}
}

func TestEncodeVector_LittleEndian(t *testing.T) {
	// 1.0 is 0x3f800000
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, EncodeVector([]float32{1}))
}

func TestDecodeVector_BadLength(t *testing.T) {
	_, err := DecodeVector([]byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrVectorEncoding)
}

func TestQueryLiteral_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	v := randomVector(r, 256)
	v = append(v, 0, -0.5, 1e-30, math.MaxFloat32, math.SmallestNonzeroFloat32)

	literal := QueryLiteral(v)
	assert.Equal(t, byte('['), literal[0])
	assert.Equal(t, byte(']'), literal[len(literal)-1])

	got, err := ParseQueryLiteral(literal)
	require.NoError(t, err)
	require.Len(t, got, len(v))
	for i := range v {
		assert.Equal(t, math.Float32bits(v[i]), math.Float32bits(got[i]), "component %d", i)
	}

	// The literal and the blob describe the same vector
	assert.Equal(t, EncodeVector(v), EncodeVector(got))
}

func TestQueryLiteral_Format(t *testing.T) {
	assert.Equal(t, "[1,-0.5,0.1]", QueryLiteral([]float32{1, -0.5, 0.1}))
	assert.Equal(t, "[]", QueryLiteral(nil))
}

func TestParseQueryLiteral_Errors(t *testing.T) {
	for _, in := range []string{"", "1,2", "[1,x]", "[1,,2]"} {
		_, err := ParseQueryLiteral(in)
		assert.ErrorIs(t, err, ErrVectorEncoding, in)
	}

	got, err := ParseQueryLiteral(" [ 1 , 2 ] ")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestVecDistanceCosine(t *testing.T) {
	d, err := vecDistanceCosine(EncodeVector([]float32{1, 0}), EncodeVector([]float32{1, 0}))
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)

	_, err = vecDistanceCosine(EncodeVector([]float32{1, 0}), EncodeVector([]float32{1, 0, 0}))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = vecDistanceCosine([]byte{1}, EncodeVector([]float32{1}))
	assert.ErrorIs(t, err, ErrVectorEncoding)
}

func TestIsZeroVector(t *testing.T) {
	assert.True(t, IsZeroVector(make([]float32, 4)))
	assert.True(t, IsZeroVector(nil))
	assert.False(t, IsZeroVector([]float32{0, 0, 1e-9}))
}
