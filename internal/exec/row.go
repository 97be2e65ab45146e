package exec

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/graph"
	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/pkg/safe"
)

// RowExecutor orchestrates one row (component E, §4.E): it walks the
// column-graph's levels in order, dispatching a bounded-concurrency batch
// of column generators per level, materializing outputs into the row
// draft, and emitting per-column chunks.
type RowExecutor struct {
	Table *schema.Table
	Graph *graph.Compiled
	Deps  *Deps
}

// NewRowExecutor builds a RowExecutor for table, using its pre-analyzed
// dependency graph and collaborator set.
func NewRowExecutor(table *schema.Table, compiled *graph.Compiled, deps *Deps) *RowExecutor {
	return &RowExecutor{Table: table, Graph: compiled, Deps: deps}
}

// Run executes toGenerate (a subset of the table's output columns, in any
// order — level membership governs execution order regardless of the
// slice's order) against row, bounded to columnBatch concurrent
// dispatches per DAG level. It returns the materialized row (input
// columns plus every generated value) and the per-column cell states.
// Per-cell errors never abort the row: they are recorded in the returned
// states and via the returned combined error (which the caller may log or
// feed to the progress tracker, but must never treat as fatal to the
// row's commit — a row with cell errors is still committed, per §4.E).
func (e *RowExecutor) Run(ctx context.Context, rowID string, row schema.Row, toGenerate []string, columnBatch int, out chan<- Chunk) (schema.Row, map[string]schema.CellState, error) {
	want := make(map[string]bool, len(toGenerate))
	for _, id := range toGenerate {
		want[id] = true
	}

	draft := row.Clone()
	states := make(map[string]schema.CellState, len(toGenerate))
	failed := make(map[string]bool, len(toGenerate))
	var cellErrs error

	if columnBatch < 1 {
		columnBatch = 1
	}

	for _, level := range e.Graph.ByLevel {
		var cols []*schema.Column
		for _, id := range level {
			if want[id] {
				cols = append(cols, e.Table.ColumnByID(id))
			}
		}
		if len(cols) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(columnBatch)

		var mu sync.Mutex
		for _, col := range cols {
			col := col

			var skippedBy string
			for _, ref := range col.Config.References() {
				if failed[ref] {
					skippedBy = ref
					break
				}
			}
			if skippedBy != "" {
				skipErr := engineerr.NewSkippedError(col.ID, skippedBy)
				mu.Lock()
				states[col.ID] = schema.CellState{Error: skipErr.Error()}
				failed[col.ID] = true
				cellErrs = multierr.Append(cellErrs, skipErr)
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				value, state, cellErr := e.runCellSafely(gctx, rowID, col, draft, out)
				mu.Lock()
				defer mu.Unlock()
				states[col.ID] = state
				if cellErr != nil {
					failed[col.ID] = true
					cellErrs = multierr.Append(cellErrs, cellErr)
				} else {
					draft.Put(col.ID, value)
				}
				return nil // never propagate: a cell error must not cancel level siblings
			})
		}
		_ = g.Wait()
	}

	return draft, states, cellErrs
}

// runCellSafely wraps dispatchColumn with panic recovery, converting any
// recovered panic into a fatal cell error rather than letting it escape
// the goroutine (§7: "panics from a dispatcher... are themselves
// converted to ErrInternal cell errors rather than propagating as
// panics").
func (e *RowExecutor) runCellSafely(ctx context.Context, rowID string, col *schema.Column, draft schema.Row, out chan<- Chunk) (value any, state schema.CellState, err error) {
	recovered := safe.WithRecover(func() {
		value, state, err = dispatchColumn(ctx, rowID, col, draft, e.Deps, out)
	}, func(panicErr error) {
		err = engineerr.NewCellError(col.ID, fmt.Errorf("%w: %w", engineerr.ErrInternal, panicErr))
		state = schema.CellState{Error: err.Error()}
	})
	recovered()
	return value, state, err
}
