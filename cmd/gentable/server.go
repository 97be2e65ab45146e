package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gentable/engine/internal/exec"
	"github.com/gentable/engine/internal/llmengine"
	"github.com/gentable/engine/internal/progress"
	"github.com/gentable/engine/internal/pyexec"
	"github.com/gentable/engine/internal/quota"
	"github.com/gentable/engine/internal/rag"
	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/internal/store"
)

// server bundles every process-wide collaborator shared across
// requests: the table registry, the LLM router, the shared RAG
// pipeline, quota/billing, and the storage engine. One server is built
// once at startup (main.go) and its handlers close over it.
type server struct {
	log *slog.Logger

	registry *registry
	store    store.Store
	qdrant   *store.QdrantRetriever

	router   *llmengine.Router
	embedder llmengine.Embedder
	rag      *rag.Pipeline
	pyExec   *pyexec.Runner
	quota    *quota.Manager
	progress *progress.Tracker

	cellBudget int
}

// deps assembles an exec.Deps for one request against orgID. Quota is
// per-request by design (quota.Request accumulates one call's billing
// events), so this must be called fresh per inbound request rather than
// cached on the tableEntry.
func (s *server) deps(orgID string) *exec.Deps {
	var q *quota.Request
	if s.quota != nil {
		q = s.quota.NewRequest(orgID)
	}
	return &exec.Deps{
		Router:                 s.router,
		Embedder:               s.embedder,
		RAG:                    s.rag,
		PyExec:                 s.pyExec,
		Quota:                  q,
		EmbeddingModelForTable: s.registry.embeddingModelForTable,
	}
}

// ensureKnowledgeCollection provisions knowledge table t's Qdrant
// collection the first time it is registered (§4.D step 2 / §6's
// CreateIndex), a no-op if no Qdrant retriever is configured.
func (s *server) ensureKnowledgeCollection(t *schema.Table) error {
	if s.qdrant == nil {
		return nil
	}
	for _, c := range t.Columns {
		if c.Dtype == schema.DtypeVector {
			return s.qdrant.EnsureCollection(context.Background(), t.ID, c.VectorDim)
		}
	}
	return fmt.Errorf("knowledge table %q has no vector column", t.ID)
}
