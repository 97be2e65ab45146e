// Package schema defines the table/column/generation-config data model and
// validates the reference-ordering invariant (§3, invariant 1) before any
// dispatcher runs.
package schema

import (
	"fmt"
	"strings"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/template"
	"github.com/gentable/engine/pkg/kv"
)

// Dtype is the column value kind.
type Dtype string

const (
	DtypeInt      Dtype = "int"
	DtypeFloat    Dtype = "float"
	DtypeBool     Dtype = "bool"
	DtypeStr      Dtype = "str"
	DtypeImage    Dtype = "image"
	DtypeAudio    Dtype = "audio"
	DtypeDocument Dtype = "document"
	DtypeVector   Dtype = "vector"
)

// TableKind distinguishes Action, Knowledge, and Chat tables.
type TableKind string

const (
	TableKindAction    TableKind = "action"
	TableKindKnowledge TableKind = "knowledge"
	TableKindChat      TableKind = "chat"
)

// ConfigKind discriminates the three generation-config variants.
type ConfigKind string

const (
	ConfigKindLLM    ConfigKind = "llm"
	ConfigKindEmbed  ConfigKind = "embed"
	ConfigKindPython ConfigKind = "python"
)

// GenerationConfig is the tagged-union contract every output column's
// generator attaches. Each concrete variant implements Kind and References;
// Dispatch itself lives one layer up, in the generator packages, so that
// schema stays free of execution/runtime dependencies.
type GenerationConfig interface {
	Kind() ConfigKind
	// References returns the column names this config reads, in the order
	// first encountered. Used by the graph analyzer (internal/graph) to
	// build dependency edges.
	References() []string
}

// RAGParams configures the retrieval sub-step for an LLM column.
type RAGParams struct {
	KnowledgeTableID      string
	RerankingModel        string
	K                     int
	SearchQueryTemplate   string
	ConcatRerankerInput   bool
	RerankScoreThreshold  *float64
}

// LLMConfig is the LLM generation-config variant.
type LLMConfig struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
	TopP         float64
	Tools        []string
	RAGParams    *RAGParams
	MultiTurn    bool

	compiledSystem template.RefTemplate
	compiledUser   template.RefTemplate
}

func (c *LLMConfig) Kind() ConfigKind { return ConfigKindLLM }

func (c *LLMConfig) References() []string {
	seen := kv.NewKSVA()
	var out []string
	for _, ref := range append(append([]string{}, c.compiledSystem.Refs()...), c.compiledUser.Refs()...) {
		if !seen.ContainsKey(ref) {
			seen.Put(ref, struct{}{})
			out = append(out, ref)
		}
	}
	return out
}

// Compiled reports whether the prompt templates have been pre-compiled.
func (c *LLMConfig) Compiled() (system, user template.RefTemplate) {
	return c.compiledSystem, c.compiledUser
}

// SetCompiled stores the pre-compiled template segments. Called once by
// internal/template at schema-load time, per the design note in §9 that
// templates must not be re-scanned per row.
func (c *LLMConfig) SetCompiled(system, user template.RefTemplate) {
	c.compiledSystem = system
	c.compiledUser = user
}

// EmbedConfig is the Embed generation-config variant.
type EmbedConfig struct {
	EmbeddingModel string
	SourceColumn   string
}

func (c *EmbedConfig) Kind() ConfigKind        { return ConfigKindEmbed }
func (c *EmbedConfig) References() []string    { return []string{c.SourceColumn} }

// PythonConfig is the Python generation-config variant. Code is scanned
// conservatively: any row['col']/row["col"] occurrence is a dependency
// even if the reference is runtime-dead (§4.A).
type PythonConfig struct {
	Code string

	compiledRefs []string
}

func (c *PythonConfig) Kind() ConfigKind     { return ConfigKindPython }
func (c *PythonConfig) References() []string { return c.compiledRefs }

// SetReferences stores the statically-scanned row[...] references. Called
// once at schema compile time by internal/template.
func (c *PythonConfig) SetReferences(refs []string) {
	c.compiledRefs = refs
}

// Column is one column of a table.
type Column struct {
	ID          string
	Dtype       Dtype
	VectorDim   int // only meaningful when Dtype == DtypeVector
	ColumnOrder int // dense, 1-based over data columns
	Config      GenerationConfig // nil for input columns
}

// IsOutput reports whether this column is generated rather than supplied
// directly by the caller.
func (c *Column) IsOutput() bool { return c.Config != nil }

// IsState reports whether this is an auxiliary "<col>_" metadata column.
func (c *Column) IsState() bool { return strings.HasSuffix(c.ID, "_") }

// StateColumnID returns the name of c's auxiliary state column.
func StateColumnID(dataColumn string) string { return dataColumn + "_" }

// Table is an ordered sequence of columns plus the two implicit columns
// (ID, UpdatedAt) that are always present but never part of Columns.
type Table struct {
	ID      string
	Kind    TableKind
	Columns []*Column // data columns only, in column_order
}

// ColumnByID returns the column named id, or nil.
func (t *Table) ColumnByID(id string) *Column {
	for _, c := range t.Columns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// OutputColumns returns every column with a generation config, in
// column_order.
func (t *Table) OutputColumns() []*Column {
	var out []*Column
	for _, c := range t.Columns {
		if c.IsOutput() {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks the invariants from §3 that schema.Table alone can
// enforce: dense 1-based column order, state-column pairing, reference
// ordering (every ${X} strictly to the left of its holder), single
// multi_turn column for Chat tables, and single vector column with
// matching dimensionality for Knowledge tables. Cycle detection itself is
// the graph analyzer's job (internal/graph); this only enforces the
// strictly-left-of ordering that makes a cycle structurally impossible.
func (t *Table) Validate() error {
	order := kv.New[string, int]()
	pos := 0
	for _, c := range t.Columns {
		if c.IsState() {
			continue
		}
		pos++
		want := pos
		if c.ColumnOrder != 0 && c.ColumnOrder != want {
			return fmt.Errorf("%w: column %q has column_order %d, want dense 1-based %d",
				engineerr.ErrBadInput, c.ID, c.ColumnOrder, want)
		}
		order.Put(c.ID, want)
	}

	for _, c := range t.Columns {
		if !c.IsOutput() {
			continue
		}
		pos, ok := order.Value(c.ID)
		if !ok {
			return fmt.Errorf("%w: output column %q missing from order index", engineerr.ErrBadInput, c.ID)
		}
		for _, ref := range c.Config.References() {
			refPos, ok := order.Value(ref)
			if !ok {
				return fmt.Errorf("%w: column %q references unknown column %q", engineerr.ErrBadInput, c.ID, ref)
			}
			if refPos >= pos {
				return fmt.Errorf("%w: column %q references %q which is not strictly to its left",
					engineerr.ErrBadInput, c.ID, ref)
			}
		}
	}

	if err := t.validateStateColumns(); err != nil {
		return err
	}
	if t.Kind == TableKindChat {
		if err := t.validateSingleMultiTurn(); err != nil {
			return err
		}
	}
	if t.Kind == TableKindKnowledge {
		if err := t.validateSingleVectorColumn(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) validateStateColumns() error {
	has := kv.New[string, bool]()
	for _, c := range t.Columns {
		if c.IsState() {
			has.Put(c.ID, true)
		}
	}
	for _, c := range t.Columns {
		if c.IsState() {
			continue
		}
		want := StateColumnID(c.ID)
		_, gotState := has.Value(want)
		if c.IsOutput() != gotState {
			return fmt.Errorf("%w: column %q has generation config=%v but state column %q present=%v",
				engineerr.ErrBadInput, c.ID, c.IsOutput(), want, gotState)
		}
	}
	return nil
}

func (t *Table) validateSingleMultiTurn() error {
	count := 0
	for _, c := range t.Columns {
		cfg, ok := c.Config.(*LLMConfig)
		if ok && cfg.MultiTurn {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("%w: chat table %q has %d multi_turn LLM columns, want exactly 1", engineerr.ErrBadInput, t.ID, count)
	}
	return nil
}

func (t *Table) validateSingleVectorColumn() error {
	count := 0
	for _, c := range t.Columns {
		if c.Dtype == DtypeVector {
			count++
		}
	}
	if count > 1 {
		return fmt.Errorf("%w: knowledge table %q has %d vector columns, want at most 1", engineerr.ErrBadInput, t.ID, count)
	}
	return nil
}

// Row is a mapping from column id to value, using the same generic
// key-value map the teacher uses as its scripting-bridge payload type.
type Row = kv.KSVA

// CellState is the auxiliary "<col>_" metadata recorded alongside an
// output column's value.
type CellState struct {
	IsNull       bool
	Error        string
	References   *ReferencesBlock
	FinishReason string
}

// ReferencesBlock is the citation payload attached to an LLM cell when RAG
// retrieval produced at least one chunk.
type ReferencesBlock struct {
	Chunks []ReferenceChunk
}

// ReferenceChunk is one retained retrieval chunk.
type ReferenceChunk struct {
	Text     string
	Title    string
	Page     int
	FileName string
	Metadata map[string]any

	SourceTableID string
	SourceRowID   string
	SourceColumn  string
}
