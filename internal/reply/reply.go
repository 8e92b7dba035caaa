// Package reply reconciles the answering service's heterogeneous response
// shapes into one canonical result. The wire contract is untyped JSON with
// several optional fields; this package models it as a tagged union of known
// variants resolved through a fixed precedence.
package reply

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/gloser-ai/console/internal/store"
	"github.com/gloser-ai/console/internal/visual"
)

const (
	// FallbackError is the fixed user-safe string shown instead of any raw
	// upstream error detail.
	FallbackError = "Something didn't load correctly… would you like me to try again?"
	// FallbackEmpty is shown when the service returned nothing at all.
	FallbackEmpty = "No response from server."
	// DefaultMarker is the control token the service appends to textual
	// answers; it is stripped along with surrounding whitespace.
	DefaultMarker = "TERMINATE"
)

// MemoryStats mirrors the service's per-session bookkeeping.
type MemoryStats struct {
	TotalExchanges int      `json:"total_exchanges"`
	KeyTopics      []string `json:"key_topics"`
}

// Normalized is the canonical extraction from one reply.
type Normalized struct {
	// Content and Visuals describe the single assistant answer for every
	// variant except the structured-messages one.
	Content string
	Visuals []store.Visual
	// Messages is set only when the reply carried an explicit message array;
	// it takes the place of Content/Visuals.
	Messages  []store.Message
	Plan      json.RawMessage
	SessionID string
	Stats     *MemoryStats
}

// variant tags the reply shapes, in precedence order.
type variant int

const (
	variantMessages variant = iota
	variantDirect
	variantFinal
	variantPlanOnly
	variantError
	variantOpaque
)

type rawMessage struct {
	Role    string            `json:"role"`
	Content json.RawMessage   `json:"content"`
	Visuals []json.RawMessage `json:"visuals"`
}

type rawResult struct {
	Message     json.RawMessage `json:"message"`
	FinalAnswer json.RawMessage `json:"final_answer"`
	Visuals     json.RawMessage `json:"visuals"`
	Plan        json.RawMessage `json:"plan"`
}

type rawReply struct {
	Messages    []rawMessage    `json:"messages"`
	Result      *rawResult      `json:"result"`
	Plan        json.RawMessage `json:"plan"`
	SessionID   string          `json:"session_id"`
	MemoryStats *MemoryStats    `json:"memory_stats"`
	Error       json.RawMessage `json:"error"`
}

// Normalizer applies the precedence rules to raw reply bodies.
type Normalizer struct {
	marker string
	log    *zap.Logger
}

func NewNormalizer(marker string, log *zap.Logger) *Normalizer {
	if marker == "" {
		marker = DefaultMarker
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{marker: marker, log: log}
}

// Normalize extracts the canonical tuple from an arbitrary reply body. An
// unparsable body is recovered as an empty reply and falls through the
// precedence to the empty-reply fallback.
func (n *Normalizer) Normalize(raw json.RawMessage) Normalized {
	var r rawReply
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &r); err != nil {
			n.log.Warn("malformed reply body, substituting empty reply", zap.Error(err))
			r = rawReply{}
			raw = nil
		}
	}

	out := Normalized{
		SessionID: r.SessionID,
		Stats:     r.MemoryStats,
		Plan:      resolvePlan(&r),
	}

	switch resolve(&r, raw) {
	case variantMessages:
		out.Messages = n.passThroughMessages(r.Messages)
	case variantDirect:
		out.Content = n.stripMarker(asString(r.Result.Message))
		out.Visuals = n.normalizeVisuals(r.Result.Visuals)
	case variantFinal:
		out.Content = n.stripMarker(asString(r.Result.FinalAnswer))
		out.Visuals = n.normalizeVisuals(r.Result.Visuals)
	case variantPlanOnly:
		out.Content = serializeJSON(out.Plan)
	case variantError:
		n.log.Warn("answering service reported an error", zap.String("detail", string(r.Error)))
		out.Content = FallbackError
	case variantOpaque:
		if isEmptyReply(raw) {
			out.Content = FallbackEmpty
		} else {
			out.Content = serializeJSON(raw)
		}
	}

	if out.Visuals == nil {
		out.Visuals = []store.Visual{}
	}
	return out
}

// resolve picks the highest-precedence variant the reply satisfies.
func resolve(r *rawReply, raw json.RawMessage) variant {
	if len(r.Messages) > 0 && allStringContents(r.Messages) {
		return variantMessages
	}
	if r.Result != nil && isString(r.Result.Message) {
		return variantDirect
	}
	if r.Result != nil && isString(r.Result.FinalAnswer) {
		return variantFinal
	}
	if plan := resolvePlan(r); len(plan) > 0 && !bytes.Equal(plan, []byte("null")) {
		return variantPlanOnly
	}
	if len(r.Error) > 0 && !bytes.Equal(r.Error, []byte("null")) {
		return variantError
	}
	return variantOpaque
}

func resolvePlan(r *rawReply) json.RawMessage {
	if r.Result != nil && len(r.Result.Plan) > 0 && !bytes.Equal(r.Result.Plan, []byte("null")) {
		return r.Result.Plan
	}
	if len(r.Plan) > 0 && !bytes.Equal(r.Plan, []byte("null")) {
		return r.Plan
	}
	return nil
}

func (n *Normalizer) passThroughMessages(raw []rawMessage) []store.Message {
	messages := make([]store.Message, 0, len(raw))
	for _, m := range raw {
		role := store.Role(m.Role)
		if role != store.RoleUser {
			role = store.RoleAssistant
		}
		msg := store.Message{
			Role:    role,
			Content: n.stripMarker(asString(m.Content)),
			Visuals: []store.Visual{},
		}
		for _, v := range m.Visuals {
			msg.Visuals = append(msg.Visuals, visual.Normalize(v))
		}
		messages = append(messages, msg)
	}
	return messages
}

// normalizeVisuals reads the nested visuals field, defaulting to an empty
// sequence when it is absent or not an array.
func (n *Normalizer) normalizeVisuals(raw json.RawMessage) []store.Visual {
	if len(raw) == 0 {
		return []store.Visual{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []store.Visual{}
	}
	visuals := make([]store.Visual, 0, len(items))
	for _, item := range items {
		visuals = append(visuals, visual.Normalize(item))
	}
	return visuals
}

// stripMarker removes the trailing control token and surrounding whitespace.
func (n *Normalizer) stripMarker(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, n.marker) {
		s = strings.TrimSpace(strings.TrimSuffix(s, n.marker))
	}
	return s
}

func allStringContents(msgs []rawMessage) bool {
	for _, m := range msgs {
		if !isString(m.Content) {
			return false
		}
	}
	return true
}

func isString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

func asString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

func isEmptyReply(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "{}", "null":
		return true
	}
	return false
}

func serializeJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
