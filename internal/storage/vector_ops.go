package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrVectorEncoding is returned when a blob or literal is not a valid vector
var ErrVectorEncoding = errors.New("invalid vector encoding")

// EncodeVector converts a float32 slice to a byte blob (little-endian)
func EncodeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// DecodeVector converts a byte blob back to a float32 slice
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%w: blob length %d is not a multiple of 4", ErrVectorEncoding, len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}

// QueryLiteral renders v in the bracketed text form accepted by pgvector.
// Components use the shortest representation that parses back to the same float32.
func QueryLiteral(vector []float32) string {
	var b strings.Builder
	b.Grow(len(vector)*10 + 2)
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseQueryLiteral is the inverse of QueryLiteral
func ParseQueryLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("%w: literal must be enclosed in brackets", ErrVectorEncoding)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}

	parts := strings.Split(body, ",")
	vector := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: component %d: %v", ErrVectorEncoding, i, err)
		}
		vector[i] = float32(f)
	}
	return vector, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Zero vectors and mismatched lengths yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// IsZeroVector reports whether every component of v is zero
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// vecDistanceCosine backs the vec_distance_cosine SQL function on SQLite
func vecDistanceCosine(a, b []byte) (float64, error) {
	va, err := DecodeVector(a)
	if err != nil {
		return 0, err
	}
	vb, err := DecodeVector(b)
	if err != nil {
		return 0, err
	}
	if len(va) != len(vb) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(va), len(vb))
	}
	return 1 - CosineSimilarity(va, vb), nil
}
