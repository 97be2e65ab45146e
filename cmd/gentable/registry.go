package main

import (
	"fmt"
	"sync"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/graph"
	"github.com/gentable/engine/internal/schema"
)

// tableEntry is one registered table's schema and pre-analyzed
// dependency graph. Executors are NOT cached here: internal/exec.Deps
// carries a *quota.Request, which is inherently per-request (one Request
// per inbound call, opened against the caller's organization), so the
// handlers build a fresh RowExecutor/MultiRowExecutor per request from
// the table's entry plus the server's shared collaborators.
type tableEntry struct {
	Table *schema.Table
	Graph *graph.Compiled
}

// registry is the process's in-memory table catalog: every table must be
// registered (compiled and graph-analyzed) before rows can be written
// against it, so the compile and graph analysis happen once per table;
// the executors themselves are built per request from the stored entry.
type registry struct {
	mu     sync.RWMutex
	tables map[string]*tableEntry
	server *server
}

func newRegistry(s *server) *registry {
	return &registry{tables: make(map[string]*tableEntry), server: s}
}

func (r *registry) create(req createTableRequest) (*tableEntry, error) {
	table, err := buildTable(req)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	_, exists := r.tables[table.ID]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: table %q already registered", engineerr.ErrConflict, table.ID)
	}

	compiled, err := graph.Analyze(table)
	if err != nil {
		return nil, err
	}

	entry := &tableEntry{Table: table, Graph: compiled}

	r.mu.Lock()
	r.tables[table.ID] = entry
	r.mu.Unlock()

	if table.Kind == schema.TableKindKnowledge {
		if err := r.server.ensureKnowledgeCollection(table); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

func (r *registry) get(tableID string) (*tableEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[tableID]
	return e, ok
}

// embeddingModelForTable implements exec.Deps.EmbeddingModelForTable: it
// resolves a knowledge table's single vector column's configured
// embedding model (§4.D step 2).
func (r *registry) embeddingModelForTable(knowledgeTableID string) (string, error) {
	entry, ok := r.get(knowledgeTableID)
	if !ok {
		return "", fmt.Errorf("%w: unknown knowledge table %q", engineerr.ErrNotFound, knowledgeTableID)
	}
	for _, c := range entry.Table.Columns {
		if cfg, ok := c.Config.(*schema.EmbedConfig); ok {
			return cfg.EmbeddingModel, nil
		}
	}
	return "", fmt.Errorf("%w: table %q has no embed column", engineerr.ErrBadInput, knowledgeTableID)
}
