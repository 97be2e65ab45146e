package exec

import (
	"context"
	"sync"

	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/pkg/sets"
	pkgsync "github.com/gentable/engine/pkg/sync"
)

// RowInput is one row to process, paired with its identifier.
type RowInput struct {
	RowID string
	Row   schema.Row
}

// RowResult is one row's outcome: its materialized data, per-column cell
// states, and a combined per-cell error (nil if every cell succeeded).
type RowResult struct {
	RowID  string
	Row    schema.Row
	States map[string]schema.CellState
	Err    error
}

// MultiRowExecutor orchestrates a batch of rows (component F, §4.F): it
// runs up to row_batch row executors concurrently, launched through a
// pkg/sync.Pool (so the caller can choose the ants/workerpool/conc
// backend, or the default no-pool goroutine-per-task launcher), and
// aggregates their results preserving the caller's row order for the
// final commit.
type MultiRowExecutor struct {
	RowExec *RowExecutor
	Pool    pkgsync.Pool
}

// NewMultiRowExecutor builds a MultiRowExecutor. pool may be nil, in
// which case pkgsync.DefaultPool() is used.
func NewMultiRowExecutor(rowExec *RowExecutor, pool pkgsync.Pool) *MultiRowExecutor {
	if pool == nil {
		pool = pkgsync.DefaultPool()
	}
	return &MultiRowExecutor{RowExec: rowExec, Pool: pool}
}

// Run dispatches every row in rows, at most rowBatch concurrently, each
// with column_batch bounding its own internal level fan-out. Every
// row's chunks are written to out as they are produced (the caller is
// responsible for draining out via a Multiplexer); the returned slice
// preserves rows' original input order regardless of completion order,
// using a pkg/sets.LinkedSet to track that order — the row-commit
// ordering guarantee of §4.F, independent of the chunk stream's
// inherently-interleaved arrival order.
func (m *MultiRowExecutor) Run(ctx context.Context, rows []RowInput, toGenerate []string, columnBatch, rowBatch int, out chan<- Chunk) []RowResult {
	if rowBatch < 1 {
		rowBatch = 1
	}

	order := sets.NewLinkedSet[string](len(rows))
	for _, r := range rows {
		order.Add(r.RowID)
	}

	results := make(map[string]RowResult, len(rows))
	var mu sync.Mutex
	var wg sync.WaitGroup

	admission := make(chan struct{}, rowBatch)

	for _, input := range rows {
		input := input
		wg.Add(1)
		admission <- struct{}{}

		task := func() {
			defer wg.Done()
			defer func() { <-admission }()

			row, states, err := m.RowExec.Run(ctx, input.RowID, input.Row, toGenerate, columnBatch, out)
			mu.Lock()
			results[input.RowID] = RowResult{RowID: input.RowID, Row: row, States: states, Err: err}
			mu.Unlock()
		}

		if submitErr := m.Pool.Submit(task); submitErr != nil {
			wg.Done()
			<-admission
			mu.Lock()
			results[input.RowID] = RowResult{RowID: input.RowID, Err: submitErr}
			mu.Unlock()
		}
	}

	wg.Wait()

	ordered := make([]RowResult, 0, len(rows))
	for id := range order.Iter() {
		ordered = append(ordered, results[id])
	}
	return ordered
}
