// Package retrieval implements dialogue.Retriever over an embedding model and
// the zilliz knowledge collection.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/vector/zilliz"
	"github.com/civic-sage/backend/pkg/logger"
	"github.com/civic-sage/backend/pkg/utils"
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, queryEmbedding []float32, namespace string, topK int) ([]zilliz.SearchResult, error)
}

// EmbeddingCache is optional; a nil cache disables caching.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Retriever struct {
	embedder Embedder
	vectors  VectorSearcher
	cache    EmbeddingCache
	cacheTTL time.Duration
}

func New(embedder Embedder, vectors VectorSearcher, cache EmbeddingCache, cacheTTL time.Duration) *Retriever {
	return &Retriever{
		embedder: embedder,
		vectors:  vectors,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

func (r *Retriever) Search(ctx context.Context, query, namespace string, k int) ([]dialogue.Passage, error) {
	embedding, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.vectors.Search(ctx, embedding, namespace, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	passages := make([]dialogue.Passage, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, dialogue.Passage{
			Text:   h.Text,
			Source: h.SourceURL,
			Score:  h.Score,
		})
	}
	return passages, nil
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	hash := utils.HashString(text)

	if r.cache != nil {
		emb, ok, err := r.cache.GetEmbedding(ctx, hash)
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if ok {
			return emb, nil
		}
	}

	emb, err := r.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetEmbedding(ctx, hash, emb, r.cacheTTL); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}
	return emb, nil
}
