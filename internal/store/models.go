package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// VisualType selects the rendering family for a Visual.
type VisualType string

const (
	VisualBar      VisualType = "bar"
	VisualLine     VisualType = "line"
	VisualPie      VisualType = "pie"
	VisualDoughnut VisualType = "doughnut"
	VisualTable    VisualType = "table"
)

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	// RemoteSession is the session id the answering service handed back,
	// echoed on follow-up queries for context continuity.
	RemoteSession string    `json:"remote_session,omitempty"`
	Messages      []Message `json:"messages"`
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Visuals   []Visual  `json:"visuals,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Visual is a renderer-agnostic descriptor of a chart or table.
type Visual struct {
	Type        VisualType `json:"type"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Datasets    []Dataset  `json:"datasets,omitempty"`
	Columns     []string   `json:"columns,omitempty"`
	Rows        []Row      `json:"rows,omitempty"`
}

// Dataset is one named numeric series within a chart-type Visual.
type Dataset struct {
	Label           string    `json:"label,omitempty"`
	Data            []float64 `json:"data"`
	BackgroundColor string    `json:"backgroundColor,omitempty"`
	BorderColor     string    `json:"borderColor,omitempty"`
	Fill            bool      `json:"fill,omitempty"`
}

// Row is one table row, either keyed (an object on the wire, key order
// preserved) or positional (an array). A row is never both.
type Row struct {
	Keys  []string `json:"-"`
	Cells []any    `json:"-"`
}

// Keyed reports whether the row carries column keys.
func (r Row) Keyed() bool { return len(r.Keys) > 0 }

func (r *Row) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty row value")
	}
	if trimmed[0] == '[' {
		r.Keys = nil
		return json.Unmarshal(b, &r.Cells)
	}
	if trimmed[0] != '{' {
		// Scalar row, keep it as a single positional cell.
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		r.Keys = nil
		r.Cells = []any{v}
		return nil
	}

	// Decode the object token by token so key order survives.
	dec := json.NewDecoder(bytes.NewReader(b))
	if _, err := dec.Token(); err != nil { // consume '{'
		return err
	}
	r.Keys = nil
	r.Cells = nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("row object key is not a string: %v", tok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return err
		}
		r.Keys = append(r.Keys, key)
		r.Cells = append(r.Cells, val)
	}
	return nil
}

func (r Row) MarshalJSON() ([]byte, error) {
	if !r.Keyed() {
		if r.Cells == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.Cells)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		var cell any
		if i < len(r.Cells) {
			cell = r.Cells[i]
		}
		vb, err := json.Marshal(cell)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
