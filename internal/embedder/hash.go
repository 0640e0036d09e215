package embedder

import (
	"context"
	"math"
	"strings"
	"unicode"
	"unicode/utf16"
)

// Provider names
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"

	// DefaultDimension matches text-embedding-3-small so both providers
	// can share one schema
	DefaultDimension = 1536

	hashModel      = "bow-hash-v1"
	minTokenLength = 3
)

// HashProvider is a model-free bag-of-words embedder.
// Every token is hashed into one of Dimension buckets weighted by its
// term frequency, then the vector is L2-normalized. Similarity between two
// vectors is a lexical-overlap proxy only.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hash embedder producing vectors of the given dimension.
// A non-positive dimension selects DefaultDimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashProvider{dimension: dimension}
}

func (h *HashProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Embedding{
		Vector:    Embed(req.Text, h.dimension),
		Dimension: h.dimension,
		Provider:  ProviderHash,
		Model:     hashModel,
	}, nil
}

func (h *HashProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = &Embedding{
			Vector:    Embed(text, h.dimension),
			Dimension: h.dimension,
			Provider:  ProviderHash,
			Model:     hashModel,
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderHash,
		Model:      hashModel,
	}, nil
}

func (h *HashProvider) Dimension() int   { return h.dimension }
func (h *HashProvider) Provider() string { return ProviderHash }
func (h *HashProvider) Model() string    { return hashModel }
func (h *HashProvider) Close() error     { return nil }

// Embed converts text into a unit-length vector of length dim.
// Text with no usable tokens yields the all-zero vector.
func Embed(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultDimension
	}
	vector := make([]float32, dim)

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return vector
	}

	freq := make(map[string]int, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if freq[tok] == 0 {
			order = append(order, tok)
		}
		freq[tok]++
	}

	acc := make([]float64, dim)
	scale := math.Sqrt(float64(len(tokens)))
	for _, tok := range order {
		acc[bucket(tok, dim)] += float64(freq[tok]) / scale
	}

	var sum float64
	for _, v := range acc {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vector
	}
	for i, v := range acc {
		vector[i] = float32(v / norm)
	}
	return vector
}

// Tokenize lowercases text, drops punctuation, and returns the words of
// at least three characters in order of appearance
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		}
		return -1
	}, text)

	fields := strings.Fields(cleaned)
	tokens := fields[:0]
	for _, f := range fields {
		if len(utf16.Encode([]rune(f))) >= minTokenLength {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// bucket hashes tok over its UTF-16 code units with 32-bit wrap-around
func bucket(tok string, dim int) int {
	var h int32
	for _, unit := range utf16.Encode([]rune(tok)) {
		h = h*31 + int32(unit)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return int(abs % int64(dim))
}
