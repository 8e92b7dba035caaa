package store

import (
	"encoding/json"
	"fmt"
)

// SessionStore persists the conversation collection and the active
// conversation pointer under two injected keys. A missing or unparsable
// collection blob is treated as "no data", never an error: the store
// recovers corruption locally rather than surfacing it.
type SessionStore struct {
	kv        KV
	storeKey  string
	activeKey string
}

func NewSessionStore(kv KV, storeKey, activeKey string) *SessionStore {
	return &SessionStore{kv: kv, storeKey: storeKey, activeKey: activeKey}
}

// LoadAll returns the persisted conversation collection. Corrupt or missing
// state yields an empty slice.
func (s *SessionStore) LoadAll() []Conversation {
	blob, ok, err := s.kv.Get(s.storeKey)
	if err != nil || !ok {
		return []Conversation{}
	}
	var conversations []Conversation
	if err := json.Unmarshal([]byte(blob), &conversations); err != nil {
		return []Conversation{}
	}
	if conversations == nil {
		return []Conversation{}
	}
	return conversations
}

// SaveAll overwrites the full persisted collection atomically.
func (s *SessionStore) SaveAll(conversations []Conversation) error {
	if conversations == nil {
		conversations = []Conversation{}
	}
	blob, err := json.Marshal(conversations)
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}
	if err := s.kv.Set(s.storeKey, string(blob)); err != nil {
		return fmt.Errorf("failed to persist conversations: %w", err)
	}
	return nil
}

// Upsert replaces the conversation with the same id, preserving the relative
// order of the other entries, or appends it if absent.
func (s *SessionStore) Upsert(conversation Conversation) error {
	conversations := s.LoadAll()
	replaced := false
	for i := range conversations {
		if conversations[i].ID == conversation.ID {
			conversations[i] = conversation
			replaced = true
			break
		}
	}
	if !replaced {
		conversations = append(conversations, conversation)
	}
	return s.SaveAll(conversations)
}

// Get returns the conversation with the given id, or nil when absent.
func (s *SessionStore) Get(id string) *Conversation {
	for _, c := range s.LoadAll() {
		if c.ID == id {
			conv := c
			return &conv
		}
	}
	return nil
}

// Remove deletes the conversation by id. If it was the active conversation,
// the pointer is cleared as well.
func (s *SessionStore) Remove(id string) error {
	conversations := s.LoadAll()
	kept := conversations[:0]
	for _, c := range conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if err := s.SaveAll(kept); err != nil {
		return err
	}
	if active, ok := s.GetActive(); ok && active == id {
		return s.ClearActive()
	}
	return nil
}

// SetActive points the session pointer at the given conversation id.
func (s *SessionStore) SetActive(id string) error {
	if err := s.kv.Set(s.activeKey, id); err != nil {
		return fmt.Errorf("failed to set active conversation: %w", err)
	}
	return nil
}

// GetActive returns the active conversation id, ok=false when unset.
func (s *SessionStore) GetActive() (string, bool) {
	id, ok, err := s.kv.Get(s.activeKey)
	if err != nil || !ok || id == "" {
		return "", false
	}
	return id, true
}

// ClearActive unsets the session pointer.
func (s *SessionStore) ClearActive() error {
	if err := s.kv.Delete(s.activeKey); err != nil {
		return fmt.Errorf("failed to clear active conversation: %w", err)
	}
	return nil
}
