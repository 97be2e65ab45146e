package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentable/engine/pkg/kv"
)

func row(fields map[string]any) kv.KSVA {
	r := kv.NewKSVA()
	for k, v := range fields {
		r.Put(k, v)
	}
	return r
}

func TestMemStore_InsertAndGetRow(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ids, err := s.InsertRows(ctx, "t1", []kv.KSVA{row(map[string]any{"name": "alice"})})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	rec, err := s.GetRow(ctx, "t1", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Data.Get("name"))
}

func TestMemStore_GetRow_NotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.GetRow(context.Background(), "t1", "missing")
	assert.Error(t, err)
}

func TestMemStore_ListRows_FiltersAndOrders(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, err := s.InsertRows(ctx, "t1", []kv.KSVA{
		row(map[string]any{"name": "bob", "age": 30}),
		row(map[string]any{"name": "amy", "age": 25}),
		row(map[string]any{"name": "cara", "age": 40}),
	})
	require.NoError(t, err)

	page, err := s.ListRows(ctx, "t1", []Filter{{Column: "age", Op: OpGt, Value: 26}}, []OrderBy{{Column: "age"}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "bob", page.Rows[0].Data.Get("name"))
	assert.Equal(t, "cara", page.Rows[1].Data.Get("name"))
}

func TestMemStore_ListRows_Pagination(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.InsertRows(ctx, "t1", []kv.KSVA{row(map[string]any{"n": i})})
		require.NoError(t, err)
	}

	page, err := s.ListRows(ctx, "t1", nil, nil, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Rows, 2)
}

func TestMemStore_UpdateRows_PatchesOnlyNamedColumns(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ids, err := s.InsertRows(ctx, "t1", []kv.KSVA{row(map[string]any{"name": "dot", "age": 1})})
	require.NoError(t, err)

	err = s.UpdateRows(ctx, "t1", map[string]kv.KSVA{ids[0]: row(map[string]any{"age": 2})})
	require.NoError(t, err)

	rec, err := s.GetRow(ctx, "t1", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "dot", rec.Data.Get("name"))
	assert.Equal(t, 2, rec.Data.Get("age"))
}

func TestMemStore_UpdateRows_UnknownIDErrors(t *testing.T) {
	s := NewMemStore()
	err := s.UpdateRows(context.Background(), "t1", map[string]kv.KSVA{"missing": row(nil)})
	assert.Error(t, err)
}

func TestMemStore_DeleteRows_ByIDAndFilter(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ids, err := s.InsertRows(ctx, "t1", []kv.KSVA{
		row(map[string]any{"name": "a", "keep": false}),
		row(map[string]any{"name": "b", "keep": true}),
		row(map[string]any{"name": "c", "keep": false}),
	})
	require.NoError(t, err)

	err = s.DeleteRows(ctx, "t1", []string{ids[0]}, []Filter{{Column: "keep", Op: OpEq, Value: false}})
	require.NoError(t, err)

	page, err := s.ListRows(ctx, "t1", nil, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "b", page.Rows[0].Data.Get("name"))
}

func TestMemStore_HybridSearch_ScoresByTermOverlap(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, err := s.InsertRows(ctx, "kb", []kv.KSVA{
		row(map[string]any{"text": "the quick brown fox"}),
		row(map[string]any{"text": "a slow green turtle"}),
	})
	require.NoError(t, err)

	chunks, err := s.HybridSearch(ctx, "kb", "quick fox", nil, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "quick brown fox")
}

func TestMemStore_HybridSearch_RespectsK(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, err := s.InsertRows(ctx, "kb", []kv.KSVA{
		row(map[string]any{"text": "alpha beta"}),
		row(map[string]any{"text": "alpha gamma"}),
		row(map[string]any{"text": "alpha delta"}),
	})
	require.NoError(t, err)

	chunks, err := s.HybridSearch(ctx, "kb", "alpha", nil, 2)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestRetriever_AdaptsStoreToRAGInterface(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, err := s.InsertRows(ctx, "kb", []kv.KSVA{row(map[string]any{"text": "hybrid search works"})})
	require.NoError(t, err)

	r := Retriever{Store: s}
	chunks, err := r.Retrieve(ctx, "kb", "hybrid search", nil, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hybrid search works", chunks[0].Text)
}
