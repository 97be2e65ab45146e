package exec

import (
	"context"
	"fmt"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/llmengine"
	"github.com/gentable/engine/internal/quota"
	"github.com/gentable/engine/internal/schema"
)

// dispatchColumn runs the right leaf generator for col against draft (a
// read-only snapshot: the generator must never mutate it), emitting
// chunks to out as they are produced. It returns the cell's finalized
// value and state; err is non-nil only for a fatal cell failure (the
// caller never aborts the level because of it, per §4.C/§4.E).
func dispatchColumn(ctx context.Context, rowID string, col *schema.Column, draft schema.Row, deps *Deps, out chan<- Chunk) (any, schema.CellState, error) {
	switch cfg := col.Config.(type) {
	case *schema.LLMConfig:
		return dispatchLLM(ctx, rowID, col.ID, cfg, draft, deps, out)
	case *schema.EmbedConfig:
		return dispatchEmbed(ctx, rowID, col.ID, cfg, draft, deps, out)
	case *schema.PythonConfig:
		return dispatchPython(ctx, rowID, col.ID, cfg, draft, deps, out)
	default:
		err := engineerr.NewCellError(col.ID, fmt.Errorf("%w: unknown generation config type", engineerr.ErrInternal))
		return nil, schema.CellState{Error: err.Error()}, err
	}
}

func resolveFromRow(row schema.Row) func(ref string) string {
	return func(ref string) string {
		v, _ := row.Value(ref)
		return fmt.Sprint(v)
	}
}

// dispatchLLM implements §4.C's LLMGen steps: resolve prompts, run the
// RAG sub-step if configured, stream the model's completion, making up
// to three attempts in all on retriable provider errors, and record
// quota usage.
func dispatchLLM(ctx context.Context, rowID, column string, cfg *schema.LLMConfig, row schema.Row, deps *Deps, out chan<- Chunk) (any, schema.CellState, error) {
	systemTmpl, userTmpl := cfg.Compiled()
	resolve := resolveFromRow(row)
	systemPrompt := systemTmpl.Render(resolve)
	userPrompt := userTmpl.Render(resolve)

	if window, ok := quota.ContextWindow(cfg.Model); ok {
		estimated := quota.EstimateTokens(cfg.Model, systemPrompt+userPrompt) + cfg.MaxTokens
		if estimated > window {
			cellErr := engineerr.NewCellError(column, fmt.Errorf("%w: estimated %d tokens exceeds %s's %d-token window", ErrContextOverflow, estimated, cfg.Model, window))
			return nil, schema.CellState{Error: cellErr.Error()}, cellErr
		}
	}

	var references []schema.ReferenceChunk
	if cfg.RAGParams != nil {
		if deps.RAG == nil || deps.EmbeddingModelForTable == nil {
			err := engineerr.NewCellError(column, fmt.Errorf("%w: retrieval configured but no RAG pipeline is wired", engineerr.ErrInternal))
			return nil, schema.CellState{Error: err.Error()}, err
		}
		embeddingModel, err := deps.EmbeddingModelForTable(cfg.RAGParams.KnowledgeTableID)
		if err != nil {
			cellErr := engineerr.NewCellError(column, fmt.Errorf("%w: %w", engineerr.ErrInternal, err))
			return nil, schema.CellState{Error: cellErr.Error()}, cellErr
		}
		chunks, usage, err := deps.RAG.Run(ctx, row, *cfg.RAGParams, embeddingModel, userPrompt)
		if err != nil {
			cellErr := engineerr.NewCellError(column, fmt.Errorf("%w: %w", engineerr.ErrInternal, err))
			return nil, schema.CellState{Error: cellErr.Error()}, cellErr
		}
		references = chunks
		if deps.Quota != nil {
			if usage.EmbedTokens > 0 {
				deps.Quota.CreateEvents(quota.KindEmbed, usage.EmbedModel, float64(usage.EmbedTokens))
			}
			if usage.RerankSearches > 0 {
				deps.Quota.CreateEvents(quota.KindRerank, usage.RerankModel, float64(usage.RerankSearches))
			}
		}
		if len(references) > 0 {
			out <- Chunk{RowID: rowID, Column: column, References: references}
		}
	}

	engine, ok := deps.Router.Resolve(cfg.Model)
	if !ok {
		err := engineerr.NewCellError(column, fmt.Errorf("%w: no engine registered for model %q", engineerr.ErrInternal, cfg.Model))
		return nil, schema.CellState{Error: err.Error()}, err
	}

	req := llmengine.CompletionRequest{
		Model:        cfg.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
		Tools:        cfg.Tools,
		Stream:       true,
	}

	var (
		text             string
		finishReason     string
		promptTokens     int
		completionTokens int
	)
	runErr := withRetry(ctx, defaultRetryPolicy, func() error {
		text, finishReason, promptTokens, completionTokens = "", "", 0, 0
		ch := make(chan llmengine.Chunk, 16)
		errCh := make(chan error, 1)
		go func() {
			errCh <- engine.Complete(ctx, req, ch)
		}()
		for c := range ch {
			text += c.DeltaText
			if c.PromptTokens > 0 {
				promptTokens = c.PromptTokens
			}
			if c.CompletionTokens > 0 {
				completionTokens = c.CompletionTokens
			}
			if c.FinishReason != "" {
				finishReason = c.FinishReason
			}
			out <- Chunk{RowID: rowID, Column: column, Delta: c.DeltaText}
		}
		return <-errCh
	})

	if deps.Quota != nil && (promptTokens > 0 || completionTokens > 0) {
		deps.Quota.CreateEvents(quota.KindLLM, cfg.Model, float64(promptTokens+completionTokens))
	}

	if runErr != nil {
		cellErr := engineerr.NewCellError(column, fmt.Errorf("%w: %w", engineerr.ErrInternal, runErr))
		return nil, schema.CellState{Error: cellErr.Error()}, cellErr
	}

	state := schema.CellState{FinishReason: finishReason}
	if len(references) > 0 {
		state.References = &schema.ReferencesBlock{Chunks: references}
	}
	out <- Chunk{RowID: rowID, Column: column, Value: text, Done: true, FinishReason: finishReason}
	return text, state, nil
}

// dispatchEmbed implements §4.C's EmbedGen: embed the source column's
// rendered value into a vector, recording quota usage.
func dispatchEmbed(ctx context.Context, rowID, column string, cfg *schema.EmbedConfig, row schema.Row, deps *Deps, out chan<- Chunk) (any, schema.CellState, error) {
	v, _ := row.Value(cfg.SourceColumn)
	input := fmt.Sprint(v)

	vec, tokens, err := deps.Embedder.Embed(ctx, cfg.EmbeddingModel, input)
	if err != nil {
		cellErr := engineerr.NewCellError(column, fmt.Errorf("%w: %w", engineerr.ErrInternal, err))
		return nil, schema.CellState{Error: cellErr.Error()}, cellErr
	}
	if deps.Quota != nil && tokens > 0 {
		deps.Quota.CreateEvents(quota.KindEmbed, cfg.EmbeddingModel, float64(tokens))
	}

	out <- Chunk{RowID: rowID, Column: column, Value: vec, Done: true}
	return vec, schema.CellState{}, nil
}

// dispatchPython implements §4.C's PythonGen: evaluate the snippet in a
// sandboxed subprocess, non-streaming.
func dispatchPython(ctx context.Context, rowID, column string, cfg *schema.PythonConfig, row schema.Row, deps *Deps, out chan<- Chunk) (any, schema.CellState, error) {
	result, err := deps.PyExec.Run(ctx, column, cfg.Code, row)
	if err != nil {
		return nil, schema.CellState{Error: err.Error()}, err
	}
	out <- Chunk{RowID: rowID, Column: column, Value: result, Done: true}
	return result, schema.CellState{}, nil
}
