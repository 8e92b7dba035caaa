package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gloser-ai/console/internal/dispatch"
	"github.com/gloser-ai/console/internal/reply"
	"github.com/gloser-ai/console/internal/store"
)

var (
	ErrEmptyInput = errors.New("input is empty")
	ErrBusy       = errors.New("a send is already in flight for this conversation")
	ErrNotFound   = errors.New("conversation not found")
)

// titleLimit caps the derived conversation title; the title comes from the
// first user message, once, and is never recomputed.
const titleLimit = 60

// Dispatcher is the outbound exchange with the answering service.
type Dispatcher interface {
	Send(ctx context.Context, payload dispatch.QueryRequest) (json.RawMessage, error)
}

// Controller orchestrates the pipeline: append user input, dispatch,
// normalize the reply, append the assistant messages, persist.
type Controller struct {
	store      *store.SessionStore
	dispatcher Dispatcher
	normalizer *reply.Normalizer
	log        *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

func NewController(s *store.SessionStore, d Dispatcher, n *reply.Normalizer, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		store:      s,
		dispatcher: d,
		normalizer: n,
		log:        log,
		inflight:   make(map[string]bool),
	}
}

// SendResult is the outcome of one user exchange.
type SendResult struct {
	Conversation store.Conversation
	// Replies are the assistant messages appended by this exchange.
	Replies []store.Message
	Plan    json.RawMessage
	Stats   *reply.MemoryStats
}

// Send runs one exchange. An empty conversation id targets the active
// conversation, creating one lazily when none exists. At most one send may
// be in flight per conversation; a second is rejected with ErrBusy. Network
// failure degrades to the fixed fallback appended as an assistant message.
func (c *Controller) Send(ctx context.Context, conversationID, input string) (*SendResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	conv, err := c.resolveConversation(conversationID, input)
	if err != nil {
		return nil, err
	}

	if !c.acquire(conv.ID) {
		return nil, ErrBusy
	}
	defer c.release(conv.ID)

	userMsg := store.Message{
		ID:        uuid.NewString(),
		Role:      store.RoleUser,
		Content:   input,
		Timestamp: time.Now(),
	}
	conv.Messages = append(conv.Messages, userMsg)
	if err := c.store.Upsert(*conv); err != nil {
		return nil, err
	}

	result := &SendResult{}
	raw, err := c.dispatcher.Send(ctx, dispatch.QueryRequest{
		Input:     input,
		SessionID: conv.RemoteSession,
	})
	if err != nil {
		var netErr *dispatch.NetworkError
		if !errors.As(err, &netErr) {
			return nil, err
		}
		c.log.Warn("dispatch exhausted, degrading to fallback",
			zap.String("conversation", conv.ID),
			zap.Error(netErr))
		result.Replies = []store.Message{c.assistantMessage(reply.FallbackError, nil)}
	} else {
		normalized := c.normalizer.Normalize(raw)
		if normalized.SessionID != "" {
			conv.RemoteSession = normalized.SessionID
		}
		result.Plan = normalized.Plan
		result.Stats = normalized.Stats
		result.Replies = c.assistantMessages(normalized)
	}

	conv.Messages = append(conv.Messages, result.Replies...)
	if err := c.store.Upsert(*conv); err != nil {
		return nil, err
	}

	result.Conversation = *conv
	return result, nil
}

func (c *Controller) assistantMessages(n reply.Normalized) []store.Message {
	if len(n.Messages) > 0 {
		out := make([]store.Message, 0, len(n.Messages))
		for _, m := range n.Messages {
			msg := m
			msg.ID = uuid.NewString()
			msg.Timestamp = time.Now()
			out = append(out, msg)
		}
		return out
	}
	return []store.Message{c.assistantMessage(n.Content, n.Visuals)}
}

func (c *Controller) assistantMessage(content string, visuals []store.Visual) store.Message {
	if visuals == nil {
		visuals = []store.Visual{}
	}
	return store.Message{
		ID:        uuid.NewString(),
		Role:      store.RoleAssistant,
		Content:   content,
		Visuals:   visuals,
		Timestamp: time.Now(),
	}
}

// resolveConversation loads the target conversation, or lazily creates one
// titled from the first user message when no active conversation exists.
func (c *Controller) resolveConversation(id, firstInput string) (*store.Conversation, error) {
	if id == "" {
		if active, ok := c.store.GetActive(); ok {
			if conv := c.store.Get(active); conv != nil {
				return conv, nil
			}
		}
		conv := store.Conversation{
			ID:        uuid.NewString(),
			Title:     deriveTitle(firstInput),
			CreatedAt: time.Now(),
			Messages:  []store.Message{},
		}
		if err := c.store.Upsert(conv); err != nil {
			return nil, err
		}
		if err := c.store.SetActive(conv.ID); err != nil {
			return nil, err
		}
		return &conv, nil
	}

	conv := c.store.Get(id)
	if conv == nil {
		return nil, ErrNotFound
	}
	return conv, nil
}

// Busy reports whether a send is outstanding for the conversation. The
// presentation layer uses this to disable a second submission.
func (c *Controller) Busy(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[conversationID]
}

func (c *Controller) acquire(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[conversationID] {
		return false
	}
	c.inflight[conversationID] = true
	return true
}

func (c *Controller) release(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, conversationID)
}

// List returns all persisted conversations.
func (c *Controller) List() []store.Conversation {
	return c.store.LoadAll()
}

// Get returns one conversation, or ErrNotFound.
func (c *Controller) Get(id string) (*store.Conversation, error) {
	conv := c.store.Get(id)
	if conv == nil {
		return nil, ErrNotFound
	}
	return conv, nil
}

// Delete removes a conversation; the session pointer is cleared by the
// store when it pointed at the deleted entry.
func (c *Controller) Delete(id string) error {
	if c.store.Get(id) == nil {
		return ErrNotFound
	}
	return c.store.Remove(id)
}

// Active returns the active conversation id, if any.
func (c *Controller) Active() (string, bool) {
	return c.store.GetActive()
}

// SetActive repoints the session pointer at an existing conversation.
func (c *Controller) SetActive(id string) error {
	if c.store.Get(id) == nil {
		return ErrNotFound
	}
	return c.store.SetActive(id)
}

// ClearActive unsets the session pointer without touching conversations.
func (c *Controller) ClearActive() error {
	return c.store.ClearActive()
}

// deriveTitle takes the first 60 characters of the first user message, with
// an ellipsis when truncated.
func deriveTitle(input string) string {
	runes := []rune(input)
	if len(runes) <= titleLimit {
		return input
	}
	return string(runes[:titleLimit]) + "..."
}
