package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentable/engine/internal/llmengine"
	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/pkg/kv"
)

type fakeEmbedder struct {
	vec    []float32
	tokens int
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, model, input string) ([]float32, int, error) {
	return f.vec, f.tokens, f.err
}

type fakeReranker struct {
	results []llmengine.RerankResult
	err     error
}

func (f *fakeReranker) Rerank(ctx context.Context, model, query string, candidates []string) ([]llmengine.RerankResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeRetriever struct {
	chunks []Chunk
	err    error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, knowledgeTableID, queryText string, queryVector []float32, limit int) ([]Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

func TestPipeline_Run_ReturnsEmptyWhenNoCandidates(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{0.1, 0.2}, tokens: 3}
	retriever := &fakeRetriever{}
	p, err := NewPipeline(embedder, &fakeReranker{}, retriever)
	require.NoError(t, err)

	row := kv.NewKSVA()
	row.Put("query", "hello")
	params := schema.RAGParams{KnowledgeTableID: "kt1", K: 2, SearchQueryTemplate: "${query}"}

	chunks, usage, err := p.Run(context.Background(), row, params, "text-embedding-3-small", "fallback")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, "text-embedding-3-small", usage.EmbedModel)
	assert.Equal(t, 3, usage.EmbedTokens)
}

func TestPipeline_Run_RanksAndFiltersByScoreThreshold(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{0.1}, tokens: 1}
	retriever := &fakeRetriever{chunks: []Chunk{
		{Text: "low score chunk", SourceRowID: "r1"},
		{Text: "high score chunk", SourceRowID: "r2"},
	}}
	reranker := &fakeReranker{results: []llmengine.RerankResult{
		{Index: 0, Score: 0.2},
		{Index: 1, Score: 0.9},
	}}
	p, err := NewPipeline(embedder, reranker, retriever)
	require.NoError(t, err)

	row := kv.NewKSVA()
	threshold := 0.5
	params := schema.RAGParams{
		KnowledgeTableID:     "kt1",
		K:                    2,
		SearchQueryTemplate:  "static query",
		RerankScoreThreshold: &threshold,
	}

	chunks, usage, err := p.Run(context.Background(), row, params, "text-embedding-3-small", "fallback")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "high score chunk", chunks[0].Text)
	assert.Equal(t, "r2", chunks[0].SourceRowID)
	assert.Equal(t, "text-embedding-3-small", usage.EmbedModel)
}

func TestPipeline_Run_RetrievePropagatesAllFailures(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{0.1}, tokens: 1}
	retriever := &fakeRetriever{err: errors.New("retriever failed")}
	p, err := NewPipeline(embedder, &fakeReranker{}, retriever)
	require.NoError(t, err)

	row := kv.NewKSVA()
	params := schema.RAGParams{KnowledgeTableID: "kt1", K: 1, SearchQueryTemplate: "static query"}

	_, _, err = p.Run(context.Background(), row, params, "text-embedding-3-small", "fallback")
	assert.Error(t, err)
}

func TestPipeline_Run_TolerantOfPartialRetrieverFailure(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{0.1}, tokens: 1}
	ok := &fakeRetriever{chunks: []Chunk{{Text: "survives", SourceRowID: "r1"}}}
	bad := &fakeRetriever{err: errors.New("index unavailable")}
	reranker := &fakeReranker{results: []llmengine.RerankResult{{Index: 0, Score: 1}}}
	p, err := NewPipeline(embedder, reranker, ok, bad)
	require.NoError(t, err)

	row := kv.NewKSVA()
	params := schema.RAGParams{KnowledgeTableID: "kt1", K: 1, SearchQueryTemplate: "static query"}

	chunks, _, err := p.Run(context.Background(), row, params, "text-embedding-3-small", "fallback")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "survives", chunks[0].Text)
}

func TestNewPipeline_RequiresAtLeastOneRetriever(t *testing.T) {
	_, err := NewPipeline(&fakeEmbedder{}, &fakeReranker{})
	assert.Error(t, err)
}
