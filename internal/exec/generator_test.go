package exec

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentable/engine/internal/llmengine"
	"github.com/gentable/engine/internal/pyexec"
	"github.com/gentable/engine/internal/quota"
	"github.com/gentable/engine/internal/rag"
	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/internal/template"
)

type fakeEngine struct {
	complete func(ctx context.Context, req llmengine.CompletionRequest, ch chan<- llmengine.Chunk) error
}

func (f *fakeEngine) Complete(ctx context.Context, req llmengine.CompletionRequest, ch chan<- llmengine.Chunk) error {
	return f.complete(ctx, req, ch)
}

func sendAndClose(ch chan<- llmengine.Chunk, chunks ...llmengine.Chunk) {
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
}

type fakeEmbedder struct {
	vec    []float32
	tokens int
	err    error
}

func (f fakeEmbedder) Embed(ctx context.Context, model, input string) ([]float32, int, error) {
	return f.vec, f.tokens, f.err
}

type fakeReranker struct {
	results []llmengine.RerankResult
	err     error
}

func (f fakeReranker) Rerank(ctx context.Context, model, query string, candidates []string) ([]llmengine.RerankResult, error) {
	return f.results, f.err
}

type fakeRetriever struct {
	chunks []rag.Chunk
	err    error
}

func (f fakeRetriever) Retrieve(ctx context.Context, knowledgeTableID, queryText string, queryVector []float32, limit int) ([]rag.Chunk, error) {
	return f.chunks, f.err
}

type fakeOrgStore struct{ rec *quota.OrgRecord }

func (s *fakeOrgStore) Get(orgID string) (*quota.OrgRecord, bool) { return s.rec, s.rec != nil }
func (s *fakeOrgStore) Put(rec *quota.OrgRecord)                  { s.rec = rec }

type fakeSink struct{ flushed []quota.Event }

func (s *fakeSink) Append(orgID string, events []quota.Event) error {
	s.flushed = append(s.flushed, events...)
	return nil
}

func llmColumn(id, userPrompt string, ragParams *schema.RAGParams) *schema.Column {
	cfg := &schema.LLMConfig{Model: "gpt-4o-mini", MaxTokens: 256, RAGParams: ragParams}
	cfg.SetCompiled(template.Compile(""), template.Compile(userPrompt))
	return &schema.Column{ID: id, Dtype: schema.DtypeStr, Config: cfg}
}

func newTestRouter(engine llmengine.LMEngine) *llmengine.Router {
	return llmengine.NewRouter(engine, engine, engine)
}

func newTestQuota() (*quota.Request, *fakeOrgStore) {
	store := &fakeOrgStore{rec: &quota.OrgRecord{
		OrgID: "org1",
		Caps: map[quota.Kind]quota.Cap{
			quota.KindLLM:   {Allowed: true, MonthlyGrant: 1e9},
			quota.KindEmbed: {Allowed: true, MonthlyGrant: 1e9},
			quota.KindRerank: {Allowed: true, MonthlyGrant: 1e9},
		},
		Usage: map[quota.Kind]float64{},
	}}
	mgr := quota.NewManager(store, &fakeSink{})
	return mgr.NewRequest("org1"), store
}

func TestDispatchLLM_StreamsChunksAndMaterializesFinalValue(t *testing.T) {
	engine := &fakeEngine{complete: func(ctx context.Context, req llmengine.CompletionRequest, ch chan<- llmengine.Chunk) error {
		assert.Equal(t, "Hello World", req.UserPrompt)
		go sendAndClose(ch,
			llmengine.Chunk{DeltaText: "Hel"},
			llmengine.Chunk{DeltaText: "lo", PromptTokens: 10, CompletionTokens: 2, FinishReason: "stop"},
		)
		return nil
	}}

	col := llmColumn("greeting", "Hello ${name}", nil)
	row := schema.Row{"name": "World"}
	quotaReq, store := newTestQuota()
	deps := &Deps{Router: newTestRouter(engine), Quota: quotaReq}
	out := make(chan Chunk, 8)

	value, state, err := dispatchColumn(context.Background(), "row1", col, row, deps, out)
	require.NoError(t, err)
	assert.Equal(t, "Hello", value)
	assert.Equal(t, "stop", state.FinishReason)
	close(out)

	var deltas []string
	for c := range out {
		if c.Delta != "" {
			deltas = append(deltas, c.Delta)
		}
	}
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Greater(t, store.rec.Usage[quota.KindLLM], 0.0)
}

func TestDispatchLLM_RetriesOnRetriableProviderErrorThenSucceeds(t *testing.T) {
	calls := 0
	engine := &fakeEngine{complete: func(ctx context.Context, req llmengine.CompletionRequest, ch chan<- llmengine.Chunk) error {
		calls++
		if calls < 2 {
			close(ch)
			return errors.New("503 temporarily unavailable")
		}
		go sendAndClose(ch, llmengine.Chunk{DeltaText: "ok", FinishReason: "stop"})
		return nil
	}}

	col := llmColumn("greeting", "hi", nil)
	deps := &Deps{Router: newTestRouter(engine)}
	out := make(chan Chunk, 8)

	value, _, err := dispatchColumn(context.Background(), "row1", col, schema.Row{}, deps, out)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 2, calls)
}

func TestDispatchLLM_ForwardsRequestParametersToEngine(t *testing.T) {
	var got llmengine.CompletionRequest
	engine := &fakeEngine{complete: func(ctx context.Context, req llmengine.CompletionRequest, ch chan<- llmengine.Chunk) error {
		got = req
		go sendAndClose(ch, llmengine.Chunk{DeltaText: "x", FinishReason: "stop"})
		return nil
	}}

	cfg := &schema.LLMConfig{Model: "gpt-4o-mini", MaxTokens: 512, Temperature: 0.4, TopP: 0.9, Tools: []string{"search"}}
	cfg.SetCompiled(template.Compile("sys"), template.Compile("hi"))
	col := &schema.Column{ID: "c", Config: cfg}
	deps := &Deps{Router: newTestRouter(engine)}
	out := make(chan Chunk, 1)

	_, _, err := dispatchColumn(context.Background(), "row1", col, schema.Row{}, deps, out)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	assert.Equal(t, 0.4, got.Temperature)
	assert.Equal(t, 0.9, got.TopP)
	assert.Equal(t, []string{"search"}, got.Tools)
	assert.True(t, got.Stream)
}

func TestDispatchLLM_WithRAG_PrependsReferencesAndRecordsEmbedUsage(t *testing.T) {
	engine := &fakeEngine{complete: func(ctx context.Context, req llmengine.CompletionRequest, ch chan<- llmengine.Chunk) error {
		go sendAndClose(ch, llmengine.Chunk{DeltaText: "answer", FinishReason: "stop"})
		return nil
	}}
	pipeline, err := rag.NewPipeline(
		fakeEmbedder{vec: []float32{0.1, 0.2}, tokens: 5},
		fakeReranker{results: []llmengine.RerankResult{{Index: 0, Score: 0.9}}},
		fakeRetriever{chunks: []rag.Chunk{{Text: "doc body", Title: "doc"}}},
	)
	require.NoError(t, err)

	ragParams := &schema.RAGParams{KnowledgeTableID: "kb1", K: 1}
	col := llmColumn("answer", "What is it?", ragParams)
	quotaReq, store := newTestQuota()
	deps := &Deps{
		Router:   newTestRouter(engine),
		RAG:      pipeline,
		Quota:    quotaReq,
		EmbeddingModelForTable: func(knowledgeTableID string) (string, error) {
			assert.Equal(t, "kb1", knowledgeTableID)
			return "text-embedding-3-small", nil
		},
	}
	out := make(chan Chunk, 8)

	value, state, err := dispatchColumn(context.Background(), "row1", col, schema.Row{}, deps, out)
	require.NoError(t, err)
	assert.Equal(t, "answer", value)
	require.NotNil(t, state.References)
	assert.Len(t, state.References.Chunks, 1)
	close(out)

	var sawReferences bool
	for c := range out {
		if len(c.References) > 0 {
			sawReferences = true
		}
	}
	assert.True(t, sawReferences)
	assert.Greater(t, store.rec.Usage[quota.KindEmbed], 0.0)
}

func TestDispatchLLM_RejectsPromptExceedingContextWindow(t *testing.T) {
	called := false
	engine := &fakeEngine{complete: func(ctx context.Context, req llmengine.CompletionRequest, ch chan<- llmengine.Chunk) error {
		called = true
		close(ch)
		return nil
	}}

	cfg := &schema.LLMConfig{Model: "gpt-4o-mini", MaxTokens: 0}
	cfg.SetCompiled(template.Compile(""), template.Compile(strings.Repeat("word ", 200000)))
	col := &schema.Column{ID: "huge", Config: cfg}
	deps := &Deps{Router: newTestRouter(engine)}
	out := make(chan Chunk, 1)

	_, state, err := dispatchColumn(context.Background(), "row1", col, schema.Row{}, deps, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextOverflow)
	assert.NotEmpty(t, state.Error)
	assert.False(t, called, "engine must not be called once the prompt is rejected as oversized")
}

func TestDispatchLLM_RAGConfiguredWithoutPipelineIsFatal(t *testing.T) {
	col := llmColumn("answer", "q", &schema.RAGParams{KnowledgeTableID: "kb1", K: 1})
	deps := &Deps{Router: newTestRouter(&fakeEngine{})}
	out := make(chan Chunk, 1)

	_, state, err := dispatchColumn(context.Background(), "row1", col, schema.Row{}, deps, out)
	require.Error(t, err)
	assert.NotEmpty(t, state.Error)
}

func TestDispatchEmbed_EmitsVectorAndRecordsQuotaUsage(t *testing.T) {
	cfg := &schema.EmbedConfig{EmbeddingModel: "text-embedding-3-small", SourceColumn: "body"}
	col := &schema.Column{ID: "body_vec", Dtype: schema.DtypeVector, Config: cfg}
	quotaReq, store := newTestQuota()
	deps := &Deps{Embedder: fakeEmbedder{vec: []float32{1, 2, 3}, tokens: 7}, Quota: quotaReq}
	out := make(chan Chunk, 1)

	value, _, err := dispatchColumn(context.Background(), "row1", col, schema.Row{"body": "hello"}, deps, out)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, value)
	assert.Greater(t, store.rec.Usage[quota.KindEmbed], 0.0)
}

func TestDispatchEmbed_PropagatesEmbedderError(t *testing.T) {
	cfg := &schema.EmbedConfig{EmbeddingModel: "m", SourceColumn: "body"}
	col := &schema.Column{ID: "body_vec", Config: cfg}
	deps := &Deps{Embedder: fakeEmbedder{err: errors.New("provider unavailable")}}
	out := make(chan Chunk, 1)

	_, state, err := dispatchColumn(context.Background(), "row1", col, schema.Row{"body": "hello"}, deps, out)
	require.Error(t, err)
	assert.NotEmpty(t, state.Error)
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH")
	}
}

func TestDispatchPython_EvaluatesSnippetAgainstRowSnapshot(t *testing.T) {
	requirePython(t)

	cfg := &schema.PythonConfig{Code: "row['a'] + row['b']"}
	cfg.SetReferences([]string{"a", "b"})
	col := &schema.Column{ID: "sum", Config: cfg}
	deps := &Deps{PyExec: pyexec.NewRunner("python3", 2*time.Second)}
	out := make(chan Chunk, 1)

	value, state, err := dispatchColumn(context.Background(), "row1", col, schema.Row{"a": 3.0, "b": 4.0}, deps, out)
	require.NoError(t, err)
	assert.Equal(t, 7.0, value)
	assert.Empty(t, state.Error)
}

func TestDispatchPython_WrapsExceptionAsCellError(t *testing.T) {
	requirePython(t)

	cfg := &schema.PythonConfig{Code: "1/0"}
	col := &schema.Column{ID: "bad", Config: cfg}
	deps := &Deps{PyExec: pyexec.NewRunner("python3", 2*time.Second)}
	out := make(chan Chunk, 1)

	_, state, err := dispatchColumn(context.Background(), "row1", col, schema.Row{}, deps, out)
	require.Error(t, err)
	assert.NotEmpty(t, state.Error)
}
