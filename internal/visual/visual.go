// Package visual converts heterogeneous chart/table descriptors coming off
// the wire into the canonical renderable shape.
package visual

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gloser-ai/console/internal/store"
)

// Palette mirrors the fill colors the answering service uses for its own
// inline charts; dataset colors default to palette[index mod len].
var Palette = []string{"#FF6384", "#36A2EB", "#FFCE56", "#4BC0C0", "#9966FF"}

// descriptor is the loose wire shape of a visual.
type descriptor struct {
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Labels      []json.RawMessage `json:"labels"`
	Datasets    json.RawMessage   `json:"datasets"`
	Columns     []string          `json:"columns"`
	Rows        []store.Row       `json:"rows"`
}

type rawDataset struct {
	Label           string            `json:"label"`
	Data            []json.RawMessage `json:"data"`
	BackgroundColor string            `json:"backgroundColor"`
	BorderColor     string            `json:"borderColor"`
	Fill            bool              `json:"fill"`
}

// Normalize converts one raw visual descriptor into a store.Visual. Malformed
// input degrades to an empty visual of the resolved type rather than failing.
func Normalize(raw json.RawMessage) store.Visual {
	var s descriptor
	if err := json.Unmarshal(raw, &s); err != nil {
		return store.Visual{Type: store.VisualLine}
	}

	v := store.Visual{
		Type:        resolveType(s.Type),
		Title:       s.Title,
		Description: s.Description,
		Labels:      coerceLabels(s.Labels),
		Datasets:    normalizeDatasets(s.Datasets),
		Rows:        normalizeRows(s.Rows),
	}
	v.Columns = resolveColumns(s.Columns, v.Rows)
	return v
}

// resolveType routes bar/pie/doughnut/table as-is; the literal "table" always
// renders tabular; anything else falls back to a line rendering.
func resolveType(t string) store.VisualType {
	switch store.VisualType(strings.ToLower(strings.TrimSpace(t))) {
	case store.VisualBar:
		return store.VisualBar
	case store.VisualPie:
		return store.VisualPie
	case store.VisualDoughnut:
		return store.VisualDoughnut
	case store.VisualTable:
		return store.VisualTable
	default:
		return store.VisualLine
	}
}

// normalizeDatasets accepts a missing field (empty result), a single object
// (wrapped as one element) or an array, then applies per-dataset defaults.
func normalizeDatasets(raw json.RawMessage) []store.Dataset {
	if len(raw) == 0 {
		return []store.Dataset{}
	}

	var rawSets []rawDataset
	if err := json.Unmarshal(raw, &rawSets); err != nil {
		var single rawDataset
		if err := json.Unmarshal(raw, &single); err != nil {
			return []store.Dataset{}
		}
		rawSets = []rawDataset{single}
	}

	sets := make([]store.Dataset, 0, len(rawSets))
	for i, rs := range rawSets {
		ds := store.Dataset{
			Label:           rs.Label,
			Data:            make([]float64, 0, len(rs.Data)),
			BackgroundColor: rs.BackgroundColor,
			BorderColor:     rs.BorderColor,
			Fill:            rs.Fill,
		}
		if ds.Label == "" {
			ds.Label = fmt.Sprintf("Series %d", i+1)
		}
		for _, point := range rs.Data {
			ds.Data = append(ds.Data, coerceNumber(point))
		}
		color := Palette[i%len(Palette)]
		if ds.BackgroundColor == "" {
			ds.BackgroundColor = color
		}
		if ds.BorderColor == "" {
			ds.BorderColor = color
		}
		sets = append(sets, ds)
	}
	return sets
}

// normalizeRows enforces shape uniformity: the first row decides whether the
// visual is keyed or positional, and later rows are coerced to match.
func normalizeRows(rows []store.Row) []store.Row {
	if len(rows) == 0 {
		return nil
	}
	keyed := rows[0].Keyed()
	out := make([]store.Row, 0, len(rows))
	for _, r := range rows {
		if r.Keyed() == keyed {
			out = append(out, r)
			continue
		}
		if keyed {
			// Positional row in a keyed visual: adopt the first row's keys.
			out = append(out, store.Row{Keys: rows[0].Keys, Cells: r.Cells})
		} else {
			out = append(out, store.Row{Cells: r.Cells})
		}
	}
	return out
}

// resolveColumns keeps explicit columns; otherwise a keyed first row donates
// its keys in wire order. Positional rows render with no columns.
func resolveColumns(columns []string, rows []store.Row) []string {
	if len(columns) > 0 {
		return columns
	}
	if len(rows) > 0 && rows[0].Keyed() {
		return append([]string(nil), rows[0].Keys...)
	}
	return nil
}

func coerceLabels(raw []json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	labels := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			labels = append(labels, s)
			continue
		}
		var v any
		if err := json.Unmarshal(r, &v); err == nil {
			labels = append(labels, fmt.Sprintf("%v", v))
		} else {
			labels = append(labels, "")
		}
	}
	return labels
}

// coerceNumber turns a JSON data point into a float64, accepting numbers and
// numeric strings. Anything else counts as zero.
func coerceNumber(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}
