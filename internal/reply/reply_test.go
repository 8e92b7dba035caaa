package reply

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gloser-ai/console/internal/store"
)

func normalize(t *testing.T, body string) Normalized {
	t.Helper()
	return NewNormalizer("", nil).Normalize(json.RawMessage(body))
}

func TestNormalizeMessageArrayPassThrough(t *testing.T) {
	got := normalize(t, `{"messages":[
		{"role":"user","content":"hi"},
		{"content":"hello there"},
		{"role":"tool","content":"ignored role"}
	]}`)

	require.Len(t, got.Messages, 3)
	assert.Equal(t, store.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "hi", got.Messages[0].Content)
	assert.Equal(t, store.RoleAssistant, got.Messages[1].Role, "missing role defaults to assistant")
	assert.Equal(t, store.RoleAssistant, got.Messages[2].Role, "unknown role defaults to assistant")
	assert.Empty(t, got.Messages[1].Visuals, "missing visuals default to empty")
}

func TestNormalizeDirectMessageWinsOverFinalAnswer(t *testing.T) {
	got := normalize(t, `{"result":{"message":"direct","final_answer":"summarized"}}`)
	assert.Equal(t, "direct", got.Content)
}

func TestNormalizeFinalAnswer(t *testing.T) {
	got := normalize(t, `{"result":{"final_answer":"summarized"},"session_id":"s-42"}`)
	assert.Equal(t, "summarized", got.Content)
	assert.Equal(t, "s-42", got.SessionID)
}

func TestNormalizeStripsControlMarker(t *testing.T) {
	got := normalize(t, `{"result":{"final_answer":"Exports rose 4% in 2025.  TERMINATE"}}`)
	assert.Equal(t, "Exports rose 4% in 2025.", got.Content)

	custom := NewNormalizer("<<END>>", nil).Normalize(json.RawMessage(`{"result":{"message":"done <<END>>"}}`))
	assert.Equal(t, "done", custom.Content)
}

func TestNormalizePlanOnly(t *testing.T) {
	got := normalize(t, `{"plan":[{"agent":"exim","query":"import volumes"}]}`)
	require.NotNil(t, got.Plan)
	assert.Contains(t, got.Content, "exim")
	assert.Contains(t, got.Content, "import volumes")
}

func TestNormalizeErrorNeverLeaks(t *testing.T) {
	got := normalize(t, `{"error":"Traceback (most recent call last): internal stack trace..."}`)
	assert.Equal(t, FallbackError, got.Content)
	assert.NotContains(t, got.Content, "Traceback")
}

func TestNormalizeOpaqueReply(t *testing.T) {
	got := normalize(t, `{"status":"draining","detail":42}`)
	assert.Contains(t, got.Content, "draining")
}

func TestNormalizeEmptyReply(t *testing.T) {
	for _, body := range []string{"", "{}", "null"} {
		got := normalize(t, body)
		assert.Equal(t, FallbackEmpty, got.Content, "body %q", body)
	}
}

func TestNormalizeMalformedReply(t *testing.T) {
	got := normalize(t, `{"result": not even json`)
	assert.Equal(t, FallbackEmpty, got.Content)
}

func TestNormalizeVisuals(t *testing.T) {
	got := normalize(t, `{"result":{
		"final_answer":"see chart",
		"visuals":[{"type":"pie","title":"Top Import Sources","labels":["China","Italy"],"datasets":[{"data":[62,11]}]}]
	}}`)

	require.Len(t, got.Visuals, 1)
	assert.Equal(t, store.VisualPie, got.Visuals[0].Type)
	assert.Equal(t, []string{"China", "Italy"}, got.Visuals[0].Labels)
}

func TestNormalizeVisualsMalformed(t *testing.T) {
	got := normalize(t, `{"result":{"final_answer":"text","visuals":"oops"}}`)
	assert.Empty(t, got.Visuals, "non-array visuals default to empty")
}

func TestNormalizeMemoryStats(t *testing.T) {
	got := normalize(t, `{"result":{"final_answer":"x"},"memory_stats":{"total_exchanges":3,"key_topics":["Paracetamol"]}}`)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 3, got.Stats.TotalExchanges)
	assert.Equal(t, []string{"Paracetamol"}, got.Stats.KeyTopics)
}
