// Package planner implements the batch planner (component B, §4.B): a
// pure function deciding (column_batch, row_batch) from the analyzer's
// max_level_width, the request shape, and the cell budget. It owns no
// concurrency primitives of its own — it is consumed by the row and
// multi-row executors (internal/exec), which own the concurrency.
package planner

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/gentable/engine/internal/engineerr"
)

// RequestKind distinguishes the four row-write operation shapes.
type RequestKind int

const (
	RequestKindRowAdd RequestKind = iota
	RequestKindMultiRowAdd
	RequestKindRowRegen
	RequestKindMultiRowRegen
)

// RegenStrategy selects which output columns a RowRegen or MultiRowRegen
// request touches.
type RegenStrategy int

const (
	RegenRunAll RegenStrategy = iota
	RegenRunSelected
	RegenRunBefore
	RegenRunAfter
)

// Request is the planner's input: the request shape plus enough schema
// context to compute to_generate without re-deriving it from raw rows.
type Request struct {
	Kind RequestKind

	// Concurrent is the request's concurrent flag (rule 1, §4.B).
	Concurrent bool

	// MultiTurn is true iff any to-be-generated column is multi_turn
	// (rule 2, §4.B).
	MultiTurn bool

	// OutputColumnsInOrder lists every output column id in column_order,
	// filtered by the add paths and by the regen strategies.
	OutputColumnsInOrder []string

	// SuppliedByCaller lists output column ids whose value the caller's
	// row already supplies (RowAdd/MultiRowAdd only — such columns do
	// not need generation).
	SuppliedByCaller []string

	// RegenStrategy and OutputColumnID apply to RowRegen and MultiRowRegen
	// only.
	RegenStrategy  RegenStrategy
	OutputColumnID string

	// MaxLevelWidth is the analyzer's max_level_width (§4.A).
	MaxLevelWidth int

	// CellBudget is C, the per-request cell budget (default 15).
	CellBudget int
}

// Plan is the planner's output.
type Plan struct {
	ColumnBatch int
	RowBatch    int
	ToGenerate  []string // output column ids that need generation, in order
}

// Plan computes (column_batch, row_batch) per the five ordered rules in
// §4.B.
func Plan(req Request) (Plan, error) {
	if req.CellBudget <= 0 {
		return Plan{}, fmt.Errorf("%w: cell budget must be positive, got %d", engineerr.ErrBadInput, req.CellBudget)
	}

	toGenerate := toGenerate(req)

	// Rule 1.
	if !req.Concurrent {
		return Plan{ColumnBatch: 1, RowBatch: req.CellBudget, ToGenerate: toGenerate}, nil
	}
	// Rule 2.
	if req.MultiTurn {
		return Plan{ColumnBatch: 1, RowBatch: 1, ToGenerate: toGenerate}, nil
	}

	// Rule 4.
	columnBatch := lo.Min([]int{len(toGenerate), req.MaxLevelWidth})
	if columnBatch < 1 {
		columnBatch = 1
	}
	// Rule 5.
	rowBatch := req.CellBudget / columnBatch
	if rowBatch < 1 {
		rowBatch = 1
	}

	return Plan{ColumnBatch: columnBatch, RowBatch: rowBatch, ToGenerate: toGenerate}, nil
}

// toGenerate implements rule 3: which output columns actually need
// generation for this request.
func toGenerate(req Request) []string {
	switch req.Kind {
	case RequestKindRowAdd, RequestKindMultiRowAdd:
		supplied := make(map[string]bool, len(req.SuppliedByCaller))
		for _, id := range req.SuppliedByCaller {
			supplied[id] = true
		}
		var out []string
		for _, id := range req.OutputColumnsInOrder {
			if !supplied[id] {
				out = append(out, id)
			}
		}
		return out
	case RequestKindRowRegen, RequestKindMultiRowRegen:
		return regenColumns(req)
	default:
		return nil
	}
}

func regenColumns(req Request) []string {
	cols := req.OutputColumnsInOrder
	switch req.RegenStrategy {
	case RegenRunAll:
		return cols
	case RegenRunSelected:
		for _, id := range cols {
			if id == req.OutputColumnID {
				return []string{id}
			}
		}
		return nil
	case RegenRunBefore:
		for i, id := range cols {
			if id == req.OutputColumnID {
				return cols[:i+1]
			}
		}
		return nil
	case RegenRunAfter:
		for i, id := range cols {
			if id == req.OutputColumnID {
				return cols[i:]
			}
		}
		return nil
	default:
		return nil
	}
}
