// Package store defines the abstract storage-engine interface the
// execution core consumes (§6) and an in-memory reference
// implementation sufficient to drive the executor end to end.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/rag"
	"github.com/gentable/engine/internal/schema"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpLt  Op = "lt"
	OpIn  Op = "in"
)

// Filter is one predicate clause; DeleteRows/ListRows AND their filters
// together, matching §6's "row_ids and/or a WHERE predicate combined
// with AND".
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// OrderBy sorts ListRows results by one column.
type OrderBy struct {
	Column string
	Desc   bool
}

// RowRecord is one committed row with its generation state column
// values and storage-level timestamps.
type RowRecord struct {
	ID        string
	TableID   string
	Data      schema.Row
	UpdatedAt time.Time
	CreatedAt time.Time
}

// Page is one page of ListRows results.
type Page struct {
	Rows  []RowRecord
	Total int
}

// Store is the abstract storage-engine interface of §6: the seven
// operations listed there, as methods.
type Store interface {
	ListRows(ctx context.Context, tableID string, filters []Filter, order []OrderBy, limit, offset int) (Page, error)
	GetRow(ctx context.Context, tableID, id string) (RowRecord, error)
	InsertRows(ctx context.Context, tableID string, rows []schema.Row) ([]string, error)
	UpdateRows(ctx context.Context, tableID string, patches map[string]schema.Row) error
	DeleteRows(ctx context.Context, tableID string, ids []string, where []Filter) error
	HybridSearch(ctx context.Context, tableID, query string, queryVector []float32, k int) ([]rag.Chunk, error)
	CreateIndex(ctx context.Context, tableID, column string) error
}

// table is one table's rows plus its single-writer mutex (§5: "multi-
// reader, single-writer per table").
type table struct {
	mu   sync.RWMutex
	rows map[string]RowRecord
}

// MemStore is the in-memory reference Store implementation (§6's
// "included reference implementation is an in-memory store, goroutine-
// safe via a single sync.RWMutex, one per table").
type MemStore struct {
	mu     sync.Mutex // guards the tables map itself, not its contents
	tables map[string]*table
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{tables: make(map[string]*table)}
}

func (s *MemStore) tableFor(tableID string) *table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableID]
	if !ok {
		t = &table{rows: make(map[string]RowRecord)}
		s.tables[tableID] = t
	}
	return t
}

func matches(r RowRecord, f Filter) bool {
	v, ok := r.Data.Value(f.Column)
	switch f.Op {
	case OpEq:
		return ok && fmt.Sprint(v) == fmt.Sprint(f.Value)
	case OpNeq:
		return !ok || fmt.Sprint(v) != fmt.Sprint(f.Value)
	case OpIn:
		values, isSlice := f.Value.([]any)
		if !isSlice || !ok {
			return false
		}
		for _, candidate := range values {
			if fmt.Sprint(candidate) == fmt.Sprint(v) {
				return true
			}
		}
		return false
	case OpGt, OpLt:
		vf, vOk := toFloat(v)
		fvf, fOk := toFloat(f.Value)
		if !ok || !vOk || !fOk {
			return false
		}
		if f.Op == OpGt {
			return vf > fvf
		}
		return vf < fvf
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// ListRows returns the page of rows in tableID matching every filter
// (AND-combined), ordered, with pagination.
func (s *MemStore) ListRows(ctx context.Context, tableID string, filters []Filter, order []OrderBy, limit, offset int) (Page, error) {
	t := s.tableFor(tableID)
	t.mu.RLock()
	defer t.mu.RUnlock()

	var matched []RowRecord
	for _, r := range t.rows {
		ok := true
		for _, f := range filters {
			if !matches(r, f) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, r)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	for i := len(order) - 1; i >= 0; i-- {
		ord := order[i]
		sort.SliceStable(matched, func(a, b int) bool {
			va, _ := matched[a].Data.Value(ord.Column)
			vb, _ := matched[b].Data.Value(ord.Column)
			less := fmt.Sprint(va) < fmt.Sprint(vb)
			if ord.Desc {
				return !less
			}
			return less
		})
	}

	total := len(matched)
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return Page{Rows: matched, Total: total}, nil
}

// GetRow returns one row by id.
func (s *MemStore) GetRow(ctx context.Context, tableID, id string) (RowRecord, error) {
	t := s.tableFor(tableID)
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rows[id]
	if !ok {
		return RowRecord{}, fmt.Errorf("%w: row %q in table %q", engineerr.ErrNotFound, id, tableID)
	}
	return r, nil
}

// InsertRows appends rows to tableID in a single batched write (§4.F
// step 5: "commits closed rows to the storage engine in a single
// batched write"), returning their assigned ids.
func (s *MemStore) InsertRows(ctx context.Context, tableID string, rows []schema.Row) ([]string, error) {
	t := s.tableFor(tableID)
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	ids := make([]string, len(rows))
	for i, row := range rows {
		id := uuid.NewString()
		ids[i] = id
		t.rows[id] = RowRecord{ID: id, TableID: tableID, Data: row, CreatedAt: now, UpdatedAt: now}
	}
	return ids, nil
}

// UpdateRows patches each named row's data with the supplied partial
// row, leaving unnamed columns untouched.
func (s *MemStore) UpdateRows(ctx context.Context, tableID string, patches map[string]schema.Row) error {
	t := s.tableFor(tableID)
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for id, partial := range patches {
		r, ok := t.rows[id]
		if !ok {
			return fmt.Errorf("%w: row %q in table %q", engineerr.ErrNotFound, id, tableID)
		}
		r.Data.PutAll(partial)
		r.UpdatedAt = now
		t.rows[id] = r
	}
	return nil
}

// DeleteRows removes rows named by ids and/or matching every filter in
// where (AND-combined); the two selectors are unioned.
func (s *MemStore) DeleteRows(ctx context.Context, tableID string, ids []string, where []Filter) error {
	t := s.tableFor(tableID)
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		delete(t.rows, id)
	}
	if len(where) == 0 {
		return nil
	}
	for id, r := range t.rows {
		ok := true
		for _, f := range where {
			if !matches(r, f) {
				ok = false
				break
			}
		}
		if ok {
			delete(t.rows, id)
		}
	}
	return nil
}

// HybridSearch scores rows in tableID by naive term overlap against
// query, a stand-in for the real vector+FTS index good enough to drive
// executor tests end to end; queryVector is accepted for interface
// parity with a real vector-backed implementation but unused here.
func (s *MemStore) HybridSearch(ctx context.Context, tableID, query string, queryVector []float32, k int) ([]rag.Chunk, error) {
	t := s.tableFor(tableID)
	t.mu.RLock()
	defer t.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var scored []rag.Chunk
	for id, r := range t.rows {
		text := rowText(r.Data)
		score := termOverlapScore(strings.ToLower(text), terms)
		if score <= 0 {
			continue
		}
		scored = append(scored, rag.Chunk{
			Text:        text,
			SourceRowID: id,
			Score:       score,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func rowText(row schema.Row) string {
	var sb strings.Builder
	for _, k := range row.Keys() {
		if s, ok := row.Get(k).(string); ok {
			sb.WriteString(s)
			sb.WriteString(" ")
		}
	}
	return strings.TrimSpace(sb.String())
}

func termOverlapScore(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// CreateIndex is a no-op for MemStore; the reference implementation has
// no secondary index structure to build.
func (s *MemStore) CreateIndex(ctx context.Context, tableID, column string) error {
	return nil
}

// Retriever adapts a Store's HybridSearch into a rag.Retriever so the
// RAG pipeline (§4.D) never depends on the storage interface directly.
type Retriever struct {
	Store Store
}

// Retrieve implements rag.Retriever.
func (r Retriever) Retrieve(ctx context.Context, knowledgeTableID, queryText string, queryVector []float32, limit int) ([]rag.Chunk, error) {
	return r.Store.HybridSearch(ctx, knowledgeTableID, queryText, queryVector, limit)
}
