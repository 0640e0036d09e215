// Package embedder turns documentation text into fixed-length vectors.
//
// Two providers implement the Embedder interface:
//
//   - HashProvider: a deterministic bag-of-words hash embedding. It needs no
//     network, no model files and no API key, and is the default.
//   - OpenAIProvider: any OpenAI-compatible embeddings endpoint, for
//     deployments that want learned similarity.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "hash"})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "How do I declare reactive state with $state?",
//	})
//
// The free function Embed exposes the hash algorithm directly:
//
//	vec := embedder.Embed("reactive state", embedder.DefaultDimension)
//
// # Hash Embedding
//
// Text is lowercased, stripped of everything but letters, digits and
// whitespace, and split into words; words shorter than three characters are
// dropped. Each distinct word is hashed with a 31-multiplier polynomial over
// its UTF-16 code units (32-bit wrap-around) into bucket abs(hash) mod D, and
// the bucket accumulates freq/sqrt(total words). The result is L2-normalized.
// Text without usable words produces the all-zero vector.
//
// # Caching
//
// WithCache wraps any provider in an LRU keyed by the SHA-256 of the text.
// The refresh pipeline uses it so unchanged pages are not re-embedded; the
// search path calls the provider directly.
//
// # Thread Safety
//
// All providers and the cache are safe for concurrent use.
package embedder
