package embedder

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func BenchmarkComputeHash(b *testing.B) {
	texts := []string{
		"short",
		"medium length text for hashing",
		"this is a longer text that represents a typical documentation page that might be embedded for semantic search",
	}

	for _, text := range texts {
		b.Run(fmt.Sprintf("len=%d", len(text)), func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = ComputeHash(text)
			}
		})
	}
}

func BenchmarkCache(b *testing.B) {
	cache := NewCache(10000)
	emb := &Embedding{
		Vector:    make([]float32, DefaultDimension),
		Dimension: DefaultDimension,
		Provider:  ProviderHash,
		Model:     "test",
		Hash:      "test-hash",
	}

	b.Run("set", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			cache.Set(fmt.Sprintf("hash-%d", i%1000), emb)
		}
	})

	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("hash-%d", i), emb)
	}

	b.Run("get-hit", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = cache.Get(fmt.Sprintf("hash-%d", i%1000))
		}
	})

	b.Run("get-miss", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = cache.Get(fmt.Sprintf("nonexistent-%d", i))
		}
	})
}

func BenchmarkEmbed(b *testing.B) {
	page := strings.Repeat("Runes are symbols that you use in .svelte files to control the compiler. ", 200)

	for _, size := range []int{64, 1000, len(page)} {
		text := page[:size]
		b.Run(fmt.Sprintf("len=%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = Embed(text, DefaultDimension)
			}
		})
	}
}

func BenchmarkHashProviderBatch(b *testing.B) {
	provider := NewHashProvider(DefaultDimension)
	texts := make([]string, 50)
	for i := range texts {
		texts[i] = fmt.Sprintf("document %d about $state, $derived and $effect runes", i)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConcurrentCache tests cache performance under concurrent load
func BenchmarkConcurrentCache(b *testing.B) {
	cache := NewCache(10000)
	emb := &Embedding{
		Vector:    make([]float32, DefaultDimension),
		Dimension: DefaultDimension,
		Provider:  ProviderHash,
		Model:     "test",
	}

	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("hash-%d", i), emb)
	}

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%3 == 0 {
				cache.Set(fmt.Sprintf("hash-%d", i%2000), emb)
			} else {
				_, _ = cache.Get(fmt.Sprintf("hash-%d", i%2000))
			}
			i++
		}
	})
}
