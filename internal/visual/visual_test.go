package visual

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gloser-ai/console/internal/store"
)

func TestNormalizeDatasetDefaulting(t *testing.T) {
	v := Normalize(json.RawMessage(`{"type":"bar","datasets":[{"data":[1,"2",3]}]}`))

	require.Len(t, v.Datasets, 1)
	ds := v.Datasets[0]
	assert.Equal(t, "Series 1", ds.Label)
	assert.Equal(t, []float64{1, 2, 3}, ds.Data)
	assert.Equal(t, Palette[0], ds.BackgroundColor)
	assert.Equal(t, Palette[0], ds.BorderColor)
}

func TestNormalizeSingleDatasetObjectIsWrapped(t *testing.T) {
	v := Normalize(json.RawMessage(`{"type":"line","datasets":{"label":"Volume (MT)","data":[4100,4300]}}`))

	require.Len(t, v.Datasets, 1)
	assert.Equal(t, "Volume (MT)", v.Datasets[0].Label)
	assert.Equal(t, []float64{4100, 4300}, v.Datasets[0].Data)
}

func TestNormalizeMissingDatasets(t *testing.T) {
	v := Normalize(json.RawMessage(`{"type":"pie","title":"Top Import Sources"}`))
	assert.Empty(t, v.Datasets)
	assert.Equal(t, "Top Import Sources", v.Title)
}

func TestNormalizePaletteCycles(t *testing.T) {
	v := Normalize(json.RawMessage(`{"type":"bar","datasets":[
		{"data":[1]},{"data":[2]},{"data":[3]},{"data":[4]},{"data":[5]},{"data":[6]}
	]}`))

	require.Len(t, v.Datasets, 6)
	assert.Equal(t, Palette[0], v.Datasets[0].BackgroundColor)
	assert.Equal(t, Palette[4], v.Datasets[4].BackgroundColor)
	assert.Equal(t, Palette[0], v.Datasets[5].BackgroundColor, "sixth dataset wraps around")
	assert.Equal(t, "Series 6", v.Datasets[5].Label)
}

func TestNormalizeExplicitColorsKept(t *testing.T) {
	v := Normalize(json.RawMessage(`{"type":"line","datasets":[{"data":[1],"borderColor":"#36A2EB","fill":false}]}`))

	require.Len(t, v.Datasets, 1)
	assert.Equal(t, "#36A2EB", v.Datasets[0].BorderColor)
	assert.Equal(t, Palette[0], v.Datasets[0].BackgroundColor, "unset fill color still defaults")
}

func TestNormalizeNonNumericDataPoints(t *testing.T) {
	v := Normalize(json.RawMessage(`{"type":"bar","datasets":[{"data":["4,100", null, "n/a", " 12.5 "]}]}`))

	require.Len(t, v.Datasets, 1)
	assert.Equal(t, []float64{0, 0, 0, 12.5}, v.Datasets[0].Data, "unparsable points coerce to zero")
}

func TestNormalizeTypeRouting(t *testing.T) {
	tests := []struct {
		in   string
		want store.VisualType
	}{
		{"bar", store.VisualBar},
		{"pie", store.VisualPie},
		{"doughnut", store.VisualDoughnut},
		{"table", store.VisualTable},
		{"line", store.VisualLine},
		{"scatter", store.VisualLine},
		{"", store.VisualLine},
	}
	for _, tt := range tests {
		t.Run("type "+tt.in, func(t *testing.T) {
			v := Normalize(json.RawMessage(`{"type":"` + tt.in + `"}`))
			assert.Equal(t, tt.want, v.Type)
		})
	}
}

func TestNormalizeTableColumnInference(t *testing.T) {
	t.Run("keyed rows donate columns", func(t *testing.T) {
		v := Normalize(json.RawMessage(`{"type":"table","rows":[
			{"drug":"Paracetamol","volume":4100},
			{"drug":"Ibuprofen","volume":2900}
		]}`))

		assert.Equal(t, []string{"drug", "volume"}, v.Columns)
		require.Len(t, v.Rows, 2)
		assert.True(t, v.Rows[0].Keyed())
	})

	t.Run("explicit columns win", func(t *testing.T) {
		v := Normalize(json.RawMessage(`{"type":"table","columns":["Metric","Value"],"rows":[["Import Volume","4100 MT"]]}`))
		assert.Equal(t, []string{"Metric", "Value"}, v.Columns)
	})

	t.Run("positional rows have no columns", func(t *testing.T) {
		v := Normalize(json.RawMessage(`{"type":"table","rows":[["a",1],["b",2]]}`))
		assert.Nil(t, v.Columns)
	})

	t.Run("mixed rows coerce to the first row's shape", func(t *testing.T) {
		v := Normalize(json.RawMessage(`{"type":"table","rows":[
			{"metric":"Imports","value":10},
			["Exports",7]
		]}`))

		require.Len(t, v.Rows, 2)
		assert.True(t, v.Rows[0].Keyed())
		assert.True(t, v.Rows[1].Keyed(), "positional row adopts the keyed shape")
		assert.Equal(t, []string{"metric", "value"}, v.Rows[1].Keys)
	})
}

func TestNormalizeMalformedVisual(t *testing.T) {
	v := Normalize(json.RawMessage(`"not an object"`))
	assert.Equal(t, store.VisualLine, v.Type)
	assert.Empty(t, v.Datasets)
}

func TestNormalizeNumericLabels(t *testing.T) {
	v := Normalize(json.RawMessage(`{"type":"line","labels":[2019,2020,"2021"]}`))
	assert.Equal(t, []string{"2019", "2020", "2021"}, v.Labels)
}
