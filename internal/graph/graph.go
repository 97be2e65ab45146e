// Package graph builds the column dependency DAG and its level assignment
// (component A, §4.A): an edge X→Y whenever Y's generation config
// references X, levels computed as longest-path-from-input, and the
// max_level_width that bounds the batch planner's column_batch.
package graph

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/pkg/sets"
)

// Compiled is the analyzer's output: a DAG over output columns plus their
// level assignment.
type Compiled struct {
	// Levels maps an output column id to its level (0 = all refs are
	// input columns).
	Levels map[string]int
	// ByLevel lists output column ids at each level, ordered by
	// column_order (the Open Question (b) tie-break resolution, §9).
	ByLevel [][]string
	// MaxLevelWidth is the widest level's column count.
	MaxLevelWidth int
	// Edges maps a column to the output columns that depend on it.
	Edges map[string][]string

	// columnOrder lists output column ids in schema order; index gives
	// each its position in descendants.
	columnOrder []string
	index       map[string]int
	// descendants[i] is the set of column indices transitively
	// downstream of columnOrder[i], a bitset.BitSet per column rather
	// than a map[string]bool — cheap to union and test for the wide
	// schemas (hundreds of generated columns) this is built for.
	descendants []*bitset.BitSet
}

// Analyze builds the dependency DAG for t's output columns and assigns
// levels. It returns ErrBadInput if a reference names a column that does
// not exist, or is not strictly to the left of its holder (a cycle always
// manifests as such a violation, since schema.Table.Validate already
// enforces left-of-ness structurally — Analyze re-derives levels from
// that same ordering rather than re-validating it).
func Analyze(t *schema.Table) (*Compiled, error) {
	outputs := t.OutputColumns()

	order := sets.Of[string]()
	for _, c := range t.Columns {
		if !c.IsState() {
			order.Add(c.ID)
		}
	}

	levels := make(map[string]int, len(outputs))
	edges := make(map[string][]string)
	isOutput := make(map[string]bool, len(outputs))
	for _, c := range outputs {
		isOutput[c.ID] = true
	}

	// Columns are already topologically ordered by column_order (the
	// schema invariant guarantees every reference points strictly left),
	// so a single left-to-right pass computes every level without needing
	// a separate cycle-detection traversal.
	for _, c := range outputs {
		refs := c.Config.References()
		level := 0
		for _, ref := range refs {
			if !order.Contains(ref) {
				return nil, fmt.Errorf("%w: column %q references unknown column %q", engineerr.ErrBadInput, c.ID, ref)
			}
			if isOutput[ref] {
				rl, ok := levels[ref]
				if !ok {
					return nil, fmt.Errorf("%w: column %q references %q before it was leveled (reference cycle)",
						engineerr.ErrBadInput, c.ID, ref)
				}
				if rl+1 > level {
					level = rl + 1
				}
				edges[ref] = append(edges[ref], c.ID)
			}
		}
		levels[c.ID] = level
	}

	maxLevel := 0
	for _, l := range levels {
		if l > maxLevel {
			maxLevel = l
		}
	}
	byLevel := make([][]string, maxLevel+1)
	for _, c := range outputs {
		l := levels[c.ID]
		byLevel[l] = append(byLevel[l], c.ID)
	}

	maxWidth := 0
	for _, cols := range byLevel {
		if len(cols) > maxWidth {
			maxWidth = len(cols)
		}
	}

	columnOrder := make([]string, len(outputs))
	index := make(map[string]int, len(outputs))
	for i, c := range outputs {
		columnOrder[i] = c.ID
		index[c.ID] = i
	}
	descendants := buildDescendants(columnOrder, index, edges)

	return &Compiled{
		Levels:        levels,
		ByLevel:       byLevel,
		MaxLevelWidth: maxWidth,
		Edges:         edges,
		columnOrder:   columnOrder,
		index:         index,
		descendants:   descendants,
	}, nil
}

// buildDescendants computes, for each column, the bitset of every column
// transitively downstream of it. columnOrder is already topologically
// sorted left-to-right, so processing right-to-left lets each column's
// descendant set be built as the union of its direct dependents' own
// already-finished descendant sets, one pass, no fixpoint iteration.
func buildDescendants(columnOrder []string, index map[string]int, edges map[string][]string) []*bitset.BitSet {
	n := uint(len(columnOrder))
	descendants := make([]*bitset.BitSet, len(columnOrder))
	for i := len(columnOrder) - 1; i >= 0; i-- {
		set := bitset.New(n)
		for _, dep := range edges[columnOrder[i]] {
			j := index[dep]
			set.Set(uint(j))
			set.InPlaceUnion(descendants[j])
		}
		descendants[i] = set
	}
	return descendants
}

// Dependents returns the output columns that directly reference column.
func (c *Compiled) Dependents(column string) []string {
	return c.Edges[column]
}

// TransitiveDependents returns every output column transitively downstream
// of column, in column_order — the invalidation set when column's value
// changes and its dependents must regenerate (§4.A).
func (c *Compiled) TransitiveDependents(column string) []string {
	i, ok := c.index[column]
	if !ok {
		return nil
	}
	set := c.descendants[i]
	out := make([]string, 0, set.Count())
	for j, ok := set.NextSet(0); ok; j, ok = set.NextSet(j + 1) {
		out = append(out, c.columnOrder[j])
	}
	return out
}
