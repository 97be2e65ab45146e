package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/exec"
	"github.com/gentable/engine/internal/planner"
	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/internal/store"
	"github.com/gentable/engine/sse"
)

const maxRowsPerCall = 100

// discardSink drops every chunk; used for the non-streaming response
// shape, where only the final committed rows matter.
type discardSink struct{}

func (discardSink) Send(exec.Chunk) error { return nil }

func orgIDFromRequest(r *http.Request) (string, error) {
	org := r.Header.Get("X-Org-ID")
	if org == "" {
		return "", fmt.Errorf("%w: missing X-Org-ID header", engineerr.ErrBadInput)
	}
	return org, nil
}

// attachStates folds each column's CellState into row as its "<col>_"
// auxiliary metadata column, matching the schema's state-column pairing
// invariant (§3) for the value actually committed to storage.
func attachStates(row schema.Row, states map[string]schema.CellState) {
	for col, st := range states {
		row.Put(schema.StateColumnID(col), map[string]any{
			"is_null":       st.IsNull,
			"error":         st.Error,
			"finish_reason": st.FinishReason,
		})
	}
}

// rowResponse is the JSON shape of one committed row in a non-streaming
// response.
type rowResponse struct {
	RowID string         `json:"row_id"`
	Data  map[string]any `json:"data"`
	Error string         `json:"error,omitempty"`
}

func toRowResponse(id string, row schema.Row, err error) rowResponse {
	resp := rowResponse{RowID: id, Data: map[string]any(row)}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// --- Add rows -----------------------------------------------------------

type addRowsRequest struct {
	TableID    string           `json:"table_id"`
	Data       []map[string]any `json:"data"`
	Stream     bool             `json:"stream"`
	Concurrent bool             `json:"concurrent"`
}

func (s *server) handleAddRows(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req addRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engineerr.ErrBadInput, err))
		return
	}
	if len(req.Data) == 0 || len(req.Data) > maxRowsPerCall {
		writeError(w, fmt.Errorf("%w: add rows accepts 1-%d rows, got %d", engineerr.ErrBadInput, maxRowsPerCall, len(req.Data)))
		return
	}

	entry, ok := s.registry.get(req.TableID)
	if !ok {
		writeError(w, fmt.Errorf("%w: table %q", engineerr.ErrNotFound, req.TableID))
		return
	}

	rows := make([]exec.RowInput, len(req.Data))
	var supplied []string
	suppliedSet := map[string]bool{}
	for i, raw := range req.Data {
		row, err := materializeRow(entry.Table, raw)
		if err != nil {
			writeError(w, err)
			return
		}
		rows[i] = exec.RowInput{RowID: uuid.NewString(), Row: row}
		for _, col := range entry.Table.OutputColumns() {
			if _, present := raw[col.ID]; present && !suppliedSet[col.ID] {
				suppliedSet[col.ID] = true
				supplied = append(supplied, col.ID)
			}
		}
	}

	outputOrder := make([]string, 0, len(entry.Table.OutputColumns()))
	for _, c := range entry.Table.OutputColumns() {
		outputOrder = append(outputOrder, c.ID)
	}

	kind := planner.RequestKindRowAdd
	if len(rows) > 1 {
		kind = planner.RequestKindMultiRowAdd
	}
	plan, err := planner.Plan(planner.Request{
		Kind:                 kind,
		Concurrent:           req.Concurrent,
		MultiTurn:            tableHasMultiTurn(entry.Table),
		OutputColumnsInOrder: outputOrder,
		SuppliedByCaller:     supplied,
		MaxLevelWidth:        entry.Graph.MaxLevelWidth,
		CellBudget:           s.cellBudget,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.runRowBatch(w, r, orgID, entry, rows, plan, req.Stream, func(results []exec.RowResult) {
		draftRows := make([]schema.Row, len(results))
		for i, res := range results {
			attachStates(res.Row, res.States)
			draftRows[i] = res.Row
		}
		ids, err := s.store.InsertRows(r.Context(), req.TableID, draftRows)
		if err != nil {
			s.log.Error("insert rows failed", "table", req.TableID, "err", err)
			return
		}
		for i := range results {
			results[i].RowID = ids[i]
		}
	})
}

func tableHasMultiTurn(t *schema.Table) bool {
	for _, c := range t.Columns {
		if cfg, ok := c.Config.(*schema.LLMConfig); ok && cfg.MultiTurn {
			return true
		}
	}
	return false
}

// --- Regen rows -----------------------------------------------------------

type regenRowsRequest struct {
	TableID        string   `json:"table_id"`
	RowIDs         []string `json:"row_ids"`
	RegenStrategy  string   `json:"regen_strategy"`
	OutputColumnID string   `json:"output_column_id"`
	Stream         bool     `json:"stream"`
	Concurrent     bool     `json:"concurrent"`
}

var regenStrategyByName = map[string]planner.RegenStrategy{
	"run_all":      planner.RegenRunAll,
	"run_selected": planner.RegenRunSelected,
	"run_before":   planner.RegenRunBefore,
	"run_after":    planner.RegenRunAfter,
}

func (s *server) handleRegenRows(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req regenRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engineerr.ErrBadInput, err))
		return
	}
	if len(req.RowIDs) == 0 || len(req.RowIDs) > maxRowsPerCall {
		writeError(w, fmt.Errorf("%w: regen rows accepts 1-%d row_ids, got %d", engineerr.ErrBadInput, maxRowsPerCall, len(req.RowIDs)))
		return
	}
	strategy, ok := regenStrategyByName[req.RegenStrategy]
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown regen_strategy %q", engineerr.ErrBadInput, req.RegenStrategy))
		return
	}

	entry, ok := s.registry.get(req.TableID)
	if !ok {
		writeError(w, fmt.Errorf("%w: table %q", engineerr.ErrNotFound, req.TableID))
		return
	}

	rows := make([]exec.RowInput, len(req.RowIDs))
	for i, id := range req.RowIDs {
		rec, err := s.store.GetRow(r.Context(), req.TableID, id)
		if err != nil {
			writeError(w, err)
			return
		}
		rows[i] = exec.RowInput{RowID: id, Row: rec.Data.Clone()}
	}

	outputOrder := make([]string, 0, len(entry.Table.OutputColumns()))
	for _, c := range entry.Table.OutputColumns() {
		outputOrder = append(outputOrder, c.ID)
	}

	kind := planner.RequestKindRowRegen
	if len(rows) > 1 {
		kind = planner.RequestKindMultiRowRegen
	}
	plan, err := planner.Plan(planner.Request{
		Kind:                 kind,
		Concurrent:           req.Concurrent,
		MultiTurn:            tableHasMultiTurn(entry.Table),
		OutputColumnsInOrder: outputOrder,
		RegenStrategy:        strategy,
		OutputColumnID:       req.OutputColumnID,
		MaxLevelWidth:        entry.Graph.MaxLevelWidth,
		CellBudget:           s.cellBudget,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.runRowBatch(w, r, orgID, entry, rows, plan, req.Stream, func(results []exec.RowResult) {
		patches := make(map[string]schema.Row, len(results))
		for _, res := range results {
			attachStates(res.Row, res.States)
			patches[res.RowID] = res.Row
		}
		if err := s.store.UpdateRows(r.Context(), req.TableID, patches); err != nil {
			s.log.Error("update rows failed", "table", req.TableID, "err", err)
		}
	})
}

// runRowBatch drives one add/regen request through the executors,
// streaming chunks over SSE when stream is requested and otherwise
// collecting the final rows into one JSON response. commit persists the
// generated rows (an insert or an update, depending on the caller) once
// generation finishes, and may rewrite each result's RowID (add rows
// only learns its storage id at insert time).
func (s *server) runRowBatch(w http.ResponseWriter, r *http.Request, orgID string, entry *tableEntry, rows []exec.RowInput, plan planner.Plan, stream bool, commit func([]exec.RowResult)) {
	ctx := r.Context()
	deps := s.deps(orgID)
	rowExec := exec.NewRowExecutor(entry.Table, entry.Graph, deps)
	multiExec := exec.NewMultiRowExecutor(rowExec, nil)

	var sink exec.ChunkSink = discardSink{}
	var writer *sse.Writer
	if stream {
		SetSSEHeaders(w.Header())
		var err error
		writer, err = newSSEWriter(ctx, w)
		if err != nil {
			writeError(w, err)
			return
		}
		sink = exec.SSESink{Writer: writer}
	}

	mux := exec.NewMultiplexer(0, sink)
	muxDone := make(chan error, 1)
	go func() { muxDone <- mux.Run(ctx) }()

	results := multiExec.Run(ctx, rows, plan.ToGenerate, plan.ColumnBatch, plan.RowBatch, mux.Chan())
	close(mux.Chan())
	<-muxDone

	commit(results)

	if deps.Quota != nil {
		if err := deps.Quota.ProcessAll(); err != nil {
			s.log.Error("quota flush failed", "org", orgID, "err", err)
		}
	}

	if stream {
		if ctx.Err() == nil {
			_ = writer.Send(&sse.Message{Data: []byte("[DONE]")})
		}
		_ = writer.Close()
		return
	}

	resp := make([]rowResponse, len(results))
	for i, res := range results {
		resp[i] = toRowResponse(res.RowID, res.Row, res.Err)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"rows": resp})
}

// newSSEWriter builds an sse.Writer for this request/response pair.
func newSSEWriter(ctx context.Context, w http.ResponseWriter) (*sse.Writer, error) {
	return sse.NewWriter(&sse.WriterConfig{Context: ctx, ResponseWriter: w})
}

// SetSSEHeaders re-exports sse.SetSSEHeaders under the name handlers.go
// calls it by, for readability at call sites.
func SetSSEHeaders(h http.Header) { sse.SetSSEHeaders(h) }

// --- Update rows (non-generating) ------------------------------------

type updateRowsRequest struct {
	TableID string                    `json:"table_id"`
	Patches map[string]map[string]any `json:"patches"`
}

func (s *server) handleUpdateRows(w http.ResponseWriter, r *http.Request) {
	var req updateRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engineerr.ErrBadInput, err))
		return
	}
	entry, ok := s.registry.get(req.TableID)
	if !ok {
		writeError(w, fmt.Errorf("%w: table %q", engineerr.ErrNotFound, req.TableID))
		return
	}

	patches := make(map[string]schema.Row, len(req.Patches))
	for id, raw := range req.Patches {
		row := schema.Row{}
		for k, v := range raw {
			col := entry.Table.ColumnByID(k)
			if col != nil && (col.Dtype == schema.DtypeImage || col.Dtype == schema.DtypeDocument) {
				if err := checkContentType(col, v); err != nil {
					writeError(w, err)
					return
				}
			}
			row.Put(k, v)
		}
		patches[id] = row
	}

	if err := s.store.UpdateRows(r.Context(), req.TableID, patches); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Delete rows ------------------------------------------------------

type filterSpec struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

type deleteRowsRequest struct {
	TableID string       `json:"table_id"`
	RowIDs  []string     `json:"row_ids"`
	Where   []filterSpec `json:"where"`
}

func (s *server) handleDeleteRows(w http.ResponseWriter, r *http.Request) {
	var req deleteRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engineerr.ErrBadInput, err))
		return
	}
	if _, ok := s.registry.get(req.TableID); !ok {
		writeError(w, fmt.Errorf("%w: table %q", engineerr.ErrNotFound, req.TableID))
		return
	}

	filters := make([]store.Filter, len(req.Where))
	for i, f := range req.Where {
		filters[i] = store.Filter{Column: f.Column, Op: store.Op(f.Op), Value: f.Value}
	}
	if err := s.store.DeleteRows(r.Context(), req.TableID, req.RowIDs, filters); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Progress -----------------------------------------------------------

// handleGetProgress returns the current record for a long-running
// operation's token (§4.I), e.g. a project import or file-embedding job
// kicked off outside the row-write endpoints.
func (s *server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	rec, ok := s.progress.Get(token)
	if !ok {
		writeError(w, fmt.Errorf("%w: progress token %q", engineerr.ErrNotFound, token))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

// --- Create table -------------------------------------------------------

func (s *server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", engineerr.ErrBadInput, err))
		return
	}
	entry, err := s.registry.create(req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"table_id": entry.Table.ID})
}
