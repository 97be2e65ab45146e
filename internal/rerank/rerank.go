// Package rerank provides the one production llmengine.Reranker
// implementation: cosine similarity against the same embedder the RAG
// pipeline already uses to embed the query, rather than a dedicated
// reranking-model API call. No reranker-specific vendor SDK appears
// anywhere in the retrieval pack (openai-go, anthropic-sdk-go and genai
// expose completion/embedding endpoints only), so this scores candidates
// with the collaborator already wired for embeddings instead of
// introducing an unattested HTTP client.
package rerank

import (
	"context"
	"fmt"
	"math"

	"github.com/gentable/engine/internal/llmengine"
)

// EmbeddingReranker scores candidates by the cosine similarity of their
// embedding to the query's embedding, in descending order — a standard
// embedding-based reranking fallback for deployments that configure a
// knowledge table's rerank_model as an embedding model rather than a
// dedicated cross-encoder.
type EmbeddingReranker struct {
	Embedder llmengine.Embedder
}

// NewEmbeddingReranker wraps embedder as an llmengine.Reranker.
func NewEmbeddingReranker(embedder llmengine.Embedder) *EmbeddingReranker {
	return &EmbeddingReranker{Embedder: embedder}
}

// Rerank implements llmengine.Reranker.
func (r *EmbeddingReranker) Rerank(ctx context.Context, model, query string, candidates []string) ([]llmengine.RerankResult, error) {
	queryVec, _, err := r.Embedder.Embed(ctx, model, query)
	if err != nil {
		return nil, fmt.Errorf("rerank: embedding query: %w", err)
	}

	results := make([]llmengine.RerankResult, len(candidates))
	for i, candidate := range candidates {
		vec, _, err := r.Embedder.Embed(ctx, model, candidate)
		if err != nil {
			return nil, fmt.Errorf("rerank: embedding candidate %d: %w", i, err)
		}
		results[i] = llmengine.RerankResult{Index: i, Score: cosineSimilarity(queryVec, vec)}
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
