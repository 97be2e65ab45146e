package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentable/engine/internal/schema"
	"github.com/gentable/engine/internal/template"
)

func llmCol(id string, order int, refs ...string) *schema.Column {
	raw := ""
	for _, r := range refs {
		raw += "${" + r + "}"
	}
	cfg := &schema.LLMConfig{}
	cfg.SetCompiled(template.Compile(""), template.Compile(raw))
	return &schema.Column{ID: id, Dtype: schema.DtypeStr, ColumnOrder: order, Config: cfg}
}

func inCol(id string, order int) *schema.Column {
	return &schema.Column{ID: id, Dtype: schema.DtypeStr, ColumnOrder: order}
}

func TestAnalyze_LinearChain(t *testing.T) {
	tbl := &schema.Table{
		Columns: []*schema.Column{
			inCol("A", 1),
			llmCol("B", 2, "A"),
			llmCol("C", 3, "B"),
		},
	}
	g, err := Analyze(tbl)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Levels["B"])
	assert.Equal(t, 1, g.Levels["C"])
	assert.Equal(t, 1, g.MaxLevelWidth)
	assert.Equal(t, [][]string{{"B"}, {"C"}}, g.ByLevel)
}

func TestAnalyze_FanOut(t *testing.T) {
	tbl := &schema.Table{
		Columns: []*schema.Column{
			inCol("A", 1),
			llmCol("B", 2, "A"),
			llmCol("C", 3, "A"),
			llmCol("D", 4, "A"),
		},
	}
	g, err := Analyze(tbl)
	require.NoError(t, err)
	assert.Equal(t, 3, g.MaxLevelWidth)
	assert.ElementsMatch(t, []string{"B", "C", "D"}, g.ByLevel[0])
}

func TestAnalyze_Dependents(t *testing.T) {
	tbl := &schema.Table{
		Columns: []*schema.Column{
			inCol("A", 1),
			llmCol("B", 2, "A"),
			llmCol("C", 3, "B"),
			llmCol("D", 4, "B"),
		},
	}
	g, err := Analyze(tbl)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"C", "D"}, g.Dependents("B"))
}

func TestAnalyze_TransitiveDependents(t *testing.T) {
	tbl := &schema.Table{
		Columns: []*schema.Column{
			inCol("A", 1),
			llmCol("B", 2, "A"),
			llmCol("C", 3, "B"),
			llmCol("D", 4, "B"),
			llmCol("E", 5, "D"),
		},
	}
	g, err := Analyze(tbl)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"C", "D", "E"}, g.TransitiveDependents("B"))
	assert.ElementsMatch(t, []string{"E"}, g.TransitiveDependents("D"))
	assert.Empty(t, g.TransitiveDependents("E"))
	assert.Nil(t, g.TransitiveDependents("nonexistent"))
}

func TestAnalyze_RejectsUnknownReference(t *testing.T) {
	tbl := &schema.Table{
		Columns: []*schema.Column{
			llmCol("A", 1, "missing"),
		},
	}
	_, err := Analyze(tbl)
	require.Error(t, err)
}
