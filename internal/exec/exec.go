// Package exec implements the row executor and multi-row executor
// (components E and F, §4.E–§4.F): given a planned batch of rows and the
// output columns to generate, it walks the column-graph's levels with
// bounded concurrency, dispatches each cell to the right generator
// (internal/llmengine, internal/rag, internal/pyexec), and multiplexes
// every row's chunk stream into one ordered SSE channel.
package exec

import (
	"github.com/gentable/engine/internal/llmengine"
	"github.com/gentable/engine/internal/pyexec"
	"github.com/gentable/engine/internal/quota"
	"github.com/gentable/engine/internal/rag"
	"github.com/gentable/engine/internal/schema"
)

// Chunk is one unit of output from a single cell's dispatch, tagged with
// the row and column it belongs to so the multi-row executor can
// multiplex many rows' streams into one ordered channel.
type Chunk struct {
	RowID        string
	Column       string
	Delta        string // incremental text, set for streaming LLM output
	Value        any    // the cell's finalized value; set on the terminal chunk
	Done         bool   // true on the cell's terminal chunk
	Error        string // non-empty if this cell ended in a fatal error
	FinishReason string
	References   []schema.ReferenceChunk // set on an LLM cell's first chunk when RAG retrieval produced results
}

// Deps bundles every collaborator a cell dispatch needs. A nil Quota is
// legal and simply skips quota accounting (useful for tests and for the
// in-memory reference Store's own exercising of the executor).
type Deps struct {
	Router   *llmengine.Router
	Embedder llmengine.Embedder
	RAG      *rag.Pipeline // nil if no knowledge tables are configured
	PyExec   *pyexec.Runner
	Quota    *quota.Request

	// EmbeddingModelForTable resolves a knowledge table's embedding model
	// (the model configured on its single vector column's Embed config),
	// per §4.D step 2: "the caller resolves it from that table's Embed
	// column before invoking Run."
	EmbeddingModelForTable func(knowledgeTableID string) (string, error)
}
