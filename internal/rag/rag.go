// Package rag implements the retrieval sub-step (component D, §4.D): for
// an LLM column with retrieval configured, render the query template,
// embed it, hybrid-search a knowledge table's vector and full-text
// indexes, rerank, and return a References record to prepend to the
// column's output stream.
//
// The pipeline shape — render, embed, retrieve (parallel across
// retrievers), rerank — is grounded directly on Tangerg-lynx's
// ai/rag.Pipeline, including its bounded-parallel, partial-failure-
// tolerant retrieval fan-out.
package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gentable/engine/internal/llmengine"
	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/internal/template"
	xstrings "github.com/gentable/engine/pkg/strings"
)

// Chunk is one candidate retrieval result before reranking.
type Chunk struct {
	Text     string
	Title    string
	Page     int
	FileName string
	Metadata map[string]any

	SourceRowID  string
	SourceColumn string
	Score        float64
}

// Retriever fetches candidate chunks for a query against one index
// (vector or full-text). Hybrid search is simply running every
// registered Retriever in parallel and merging their candidates — there
// is no retriever-specific hybrid code path. A vector-backed Retriever
// searches by queryVector; a full-text-backed one ignores it and
// searches by queryText.
type Retriever interface {
	Retrieve(ctx context.Context, knowledgeTableID, queryText string, queryVector []float32, limit int) ([]Chunk, error)
}

// Pipeline runs the RAG sub-step for one LLM column invocation.
type Pipeline struct {
	retrievers []Retriever
	embedder   llmengine.Embedder
	reranker   llmengine.Reranker
}

// NewPipeline builds a Pipeline. At least one retriever is required.
func NewPipeline(embedder llmengine.Embedder, reranker llmengine.Reranker, retrievers ...Retriever) (*Pipeline, error) {
	if len(retrievers) == 0 {
		return nil, fmt.Errorf("rag: at least one retriever is required")
	}
	return &Pipeline{retrievers: retrievers, embedder: embedder, reranker: reranker}, nil
}

// Usage describes the quota-relevant work the sub-step performed, fed
// straight into the quota manager by the caller (§4.D step 5 / §4.G).
type Usage struct {
	EmbedModel    string
	EmbedTokens   int
	RerankModel   string
	RerankSearches int
}

// Run executes the sub-step end to end and returns the retained chunks
// (possibly empty — an empty result is legal, §4.D step 6) plus the
// usage it incurred. embeddingModel is the knowledge table's embedding
// model (§4.D step 2); the caller resolves it from that table's Embed
// column before invoking Run.
func (p *Pipeline) Run(ctx context.Context, row schema.Row, params schema.RAGParams, embeddingModel, fallbackUserPrompt string) ([]schema.ReferenceChunk, Usage, error) {
	queryTemplate := params.SearchQueryTemplate
	if queryTemplate == "" {
		queryTemplate = fallbackUserPrompt
	}
	compiled := template.Compile(queryTemplate)
	query := compiled.Render(func(ref string) string {
		v, _ := row.Value(ref)
		return fmt.Sprint(v)
	})

	vec, embedTokens, err := p.embedder.Embed(ctx, embeddingModel, query)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("rag embed: %w", err)
	}

	k := params.K
	if k <= 0 {
		k = 1
	}
	candidates, err := p.retrieve(ctx, params.KnowledgeTableID, query, vec, 5*k)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("rag retrieve: %w", err)
	}
	if len(candidates) == 0 {
		return nil, Usage{EmbedModel: embeddingModel, EmbedTokens: embedTokens}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	ranked, err := p.reranker.Rerank(ctx, params.RerankingModel, query, texts)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("rag rerank: %w", err)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	var out []schema.ReferenceChunk
	for _, r := range ranked {
		if len(out) >= k {
			break
		}
		if params.RerankScoreThreshold != nil && r.Score < *params.RerankScoreThreshold {
			continue
		}
		c := candidates[r.Index]
		text := xstrings.TrimAdjacentBlankLines(xstrings.AlignToLeft(c.Text))
		out = append(out, schema.ReferenceChunk{
			Text:          text,
			Title:         c.Title,
			Page:          c.Page,
			FileName:      c.FileName,
			Metadata:      c.Metadata,
			SourceTableID: params.KnowledgeTableID,
			SourceRowID:   c.SourceRowID,
			SourceColumn:  c.SourceColumn,
		})
	}

	return out, Usage{
		EmbedModel:     embeddingModel,
		EmbedTokens:    embedTokens,
		RerankModel:    params.RerankingModel,
		RerankSearches: 1,
	}, nil
}

// retrieve runs every registered retriever concurrently and merges their
// candidates, tolerating partial failure (return what succeeded unless
// every retriever failed) — grounded on ai/rag/pipeline.go's
// retrieveByQuery.
func (p *Pipeline) retrieve(ctx context.Context, knowledgeTableID, query string, queryVector []float32, limit int) ([]Chunk, error) {
	var (
		mu    sync.Mutex
		chunks []Chunk
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(p.retrievers))

	for idx, retriever := range p.retrievers {
		retriever := retriever
		idx := idx
		g.Go(func() error {
			found, err := retriever.Retrieve(gctx, knowledgeTableID, query, queryVector, limit)
			if err != nil {
				return fmt.Errorf("retriever %d: %w", idx, err)
			}
			mu.Lock()
			chunks = append(chunks, found...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if len(chunks) == 0 {
			return nil, err
		}
		return chunks, nil
	}
	return chunks, nil
}
