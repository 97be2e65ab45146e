package main

import (
	"fmt"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/internal/template"
)

// columnSpec is the wire shape of one column in a CreateTable request.
type columnSpec struct {
	ID        string         `json:"id"`
	Dtype     string         `json:"dtype"`
	VectorDim int            `json:"vector_dim,omitempty"`
	Gen       *genConfigSpec `json:"gen,omitempty"`
}

type ragSpec struct {
	KnowledgeTableID     string   `json:"knowledge_table_id"`
	RerankingModel       string   `json:"reranking_model"`
	K                    int      `json:"k"`
	SearchQueryTemplate  string   `json:"search_query_template"`
	ConcatRerankerInput  bool     `json:"concat_reranker_input"`
	RerankScoreThreshold *float64 `json:"rerank_score_threshold,omitempty"`
}

// genConfigSpec is the wire shape of a column's generation config, a
// tagged union discriminated by Kind (mirroring schema.GenerationConfig).
type genConfigSpec struct {
	Kind string `json:"kind"` // "llm" | "embed" | "python"

	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	UserPrompt   string   `json:"user_prompt,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	TopP         float64  `json:"top_p,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	MultiTurn    bool     `json:"multi_turn,omitempty"`
	RAG          *ragSpec `json:"rag,omitempty"`

	EmbeddingModel string `json:"embedding_model,omitempty"`
	SourceColumn   string `json:"source_column,omitempty"`

	Code string `json:"code,omitempty"`
}

type createTableRequest struct {
	ID      string       `json:"id"`
	Kind    string       `json:"kind"`
	Columns []columnSpec `json:"columns"`
}

func buildTable(req createTableRequest) (*schema.Table, error) {
	kind := schema.TableKind(req.Kind)
	switch kind {
	case schema.TableKindAction, schema.TableKindKnowledge, schema.TableKindChat:
	default:
		return nil, fmt.Errorf("%w: unknown table kind %q", engineerr.ErrBadInput, req.Kind)
	}

	table := &schema.Table{ID: req.ID, Kind: kind}
	order := 0
	for _, cs := range req.Columns {
		order++
		col := &schema.Column{
			ID:          cs.ID,
			Dtype:       schema.Dtype(cs.Dtype),
			VectorDim:   cs.VectorDim,
			ColumnOrder: order,
		}
		if cs.Gen != nil {
			cfg, err := buildGenConfig(*cs.Gen)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", cs.ID, err)
			}
			col.Config = cfg
		}
		table.Columns = append(table.Columns, col)
		if col.IsOutput() {
			table.Columns = append(table.Columns, &schema.Column{ID: schema.StateColumnID(cs.ID)})
		}
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

func buildGenConfig(spec genConfigSpec) (schema.GenerationConfig, error) {
	switch spec.Kind {
	case "llm":
		cfg := &schema.LLMConfig{
			Model:        spec.Model,
			SystemPrompt: spec.SystemPrompt,
			UserPrompt:   spec.UserPrompt,
			MaxTokens:    spec.MaxTokens,
			Temperature:  spec.Temperature,
			TopP:         spec.TopP,
			Tools:        spec.Tools,
			MultiTurn:    spec.MultiTurn,
		}
		if spec.RAG != nil {
			cfg.RAGParams = &schema.RAGParams{
				KnowledgeTableID:     spec.RAG.KnowledgeTableID,
				RerankingModel:       spec.RAG.RerankingModel,
				K:                    spec.RAG.K,
				SearchQueryTemplate:  spec.RAG.SearchQueryTemplate,
				ConcatRerankerInput:  spec.RAG.ConcatRerankerInput,
				RerankScoreThreshold: spec.RAG.RerankScoreThreshold,
			}
		}
		cfg.SetCompiled(template.Compile(spec.SystemPrompt), template.Compile(spec.UserPrompt))
		return cfg, nil
	case "embed":
		return &schema.EmbedConfig{EmbeddingModel: spec.EmbeddingModel, SourceColumn: spec.SourceColumn}, nil
	case "python":
		cfg := &schema.PythonConfig{Code: spec.Code}
		cfg.SetReferences(template.ScanPythonRowRefs(spec.Code))
		return cfg, nil
	default:
		return nil, fmt.Errorf("%w: unknown generation config kind %q", engineerr.ErrBadInput, spec.Kind)
	}
}
