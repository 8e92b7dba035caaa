package core

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gloser-ai/console/internal/dispatch"
	"github.com/gloser-ai/console/internal/reply"
	"github.com/gloser-ai/console/internal/store"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   int
	payload dispatch.QueryRequest
	fn      func(dispatch.QueryRequest) (json.RawMessage, error)
}

func (f *fakeDispatcher) Send(_ context.Context, payload dispatch.QueryRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.payload = payload
	fn := f.fn
	f.mu.Unlock()
	return fn(payload)
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func answer(text string) func(dispatch.QueryRequest) (json.RawMessage, error) {
	body, _ := json.Marshal(map[string]any{"result": map[string]any{"final_answer": text}})
	return func(dispatch.QueryRequest) (json.RawMessage, error) {
		return body, nil
	}
}

func newTestController(fd *fakeDispatcher) *Controller {
	sessions := store.NewSessionStore(store.NewMemoryKV(), "t.conversations", "t.active")
	return NewController(sessions, fd, reply.NewNormalizer("", nil), nil)
}

func TestSendCreatesConversationLazily(t *testing.T) {
	fd := &fakeDispatcher{fn: answer("Volumes held steady.")}
	c := newTestController(fd)

	result, err := c.Send(context.Background(), "", "What are the import volumes for paracetamol?")
	require.NoError(t, err)

	conv := result.Conversation
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "What are the import volumes for paracetamol?", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, store.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, store.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Volumes held steady.", conv.Messages[1].Content)

	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, conv.ID, active, "new conversation becomes active")
}

func TestSendReusesActiveConversation(t *testing.T) {
	fd := &fakeDispatcher{fn: answer("first")}
	c := newTestController(fd)

	first, err := c.Send(context.Background(), "", "first question")
	require.NoError(t, err)

	fd.fn = answer("second")
	second, err := c.Send(context.Background(), "", "second question")
	require.NoError(t, err)

	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Len(t, second.Conversation.Messages, 4)
	assert.Equal(t, "first question", second.Conversation.Title, "title derived once, never recomputed")
}

func TestSendTitleTruncation(t *testing.T) {
	fd := &fakeDispatcher{fn: answer("ok")}
	c := newTestController(fd)

	long := strings.Repeat("q", 80)
	result, err := c.Send(context.Background(), "", long)
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("q", 60)+"...", result.Conversation.Title)
}

func TestSendEmptyInputNeverDispatches(t *testing.T) {
	fd := &fakeDispatcher{fn: answer("ok")}
	c := newTestController(fd)

	_, err := c.Send(context.Background(), "", "   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Zero(t, fd.callCount(), "precondition failures must not reach the dispatcher")
}

func TestSendUnknownConversation(t *testing.T) {
	fd := &fakeDispatcher{fn: answer("ok")}
	c := newTestController(fd)

	_, err := c.Send(context.Background(), "missing-id", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendNetworkErrorDegradesToFallback(t *testing.T) {
	fd := &fakeDispatcher{fn: answer("ok")}
	c := newTestController(fd)

	seed, err := c.Send(context.Background(), "", "seed question")
	require.NoError(t, err)

	fd.fn = func(dispatch.QueryRequest) (json.RawMessage, error) {
		return nil, &dispatch.NetworkError{Attempts: 2, Last: context.DeadlineExceeded}
	}

	result, err := c.Send(context.Background(), seed.Conversation.ID, "and then?")
	require.NoError(t, err, "network failure degrades, it does not surface")
	require.Len(t, result.Replies, 1)
	assert.Equal(t, reply.FallbackError, result.Replies[0].Content)
	assert.NotContains(t, result.Replies[0].Content, "deadline")

	// The degraded exchange is persisted like any other.
	conv, err := c.Get(seed.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.FallbackError, conv.Messages[len(conv.Messages)-1].Content)
}

func TestSendRemembersRemoteSession(t *testing.T) {
	fd := &fakeDispatcher{}
	fd.fn = func(dispatch.QueryRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"result":{"final_answer":"hi"},"session_id":"remote-7"}`), nil
	}
	c := newTestController(fd)

	first, err := c.Send(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.Empty(t, fd.payload.SessionID, "first send has no session yet")

	_, err = c.Send(context.Background(), first.Conversation.ID, "follow up")
	require.NoError(t, err)
	assert.Equal(t, "remote-7", fd.payload.SessionID, "follow-ups echo the remote session id")
}

func TestSendMessageArrayReply(t *testing.T) {
	fd := &fakeDispatcher{}
	fd.fn = func(dispatch.QueryRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"messages":[{"content":"part one"},{"content":"part two"}]}`), nil
	}
	c := newTestController(fd)

	result, err := c.Send(context.Background(), "", "hello")
	require.NoError(t, err)
	require.Len(t, result.Replies, 2)
	assert.Equal(t, "part one", result.Replies[0].Content)
	assert.Equal(t, "part two", result.Replies[1].Content)
	assert.NotEmpty(t, result.Replies[0].ID)
}

func TestSendRejectsConcurrentSendPerConversation(t *testing.T) {
	fd := &fakeDispatcher{}
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	fd.fn = func(dispatch.QueryRequest) (json.RawMessage, error) {
		started <- struct{}{}
		<-block
		return json.RawMessage(`{"result":{"final_answer":"slow"}}`), nil
	}
	c := newTestController(fd)

	seedFn := fd.fn
	fd.fn = answer("seed")
	seed, err := c.Send(context.Background(), "", "seed")
	require.NoError(t, err)
	fd.fn = seedFn

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), seed.Conversation.ID, "slow question")
		done <- err
	}()

	<-started
	assert.True(t, c.Busy(seed.Conversation.ID), "loading flag set while a send is outstanding")

	_, err = c.Send(context.Background(), seed.Conversation.ID, "impatient question")
	assert.ErrorIs(t, err, ErrBusy)

	close(block)
	require.NoError(t, <-done)

	require.Eventually(t, func() bool { return !c.Busy(seed.Conversation.ID) },
		time.Second, 5*time.Millisecond)
}

func TestDeleteClearsActivePointer(t *testing.T) {
	fd := &fakeDispatcher{fn: answer("ok")}
	c := newTestController(fd)

	result, err := c.Send(context.Background(), "", "hello")
	require.NoError(t, err)

	require.NoError(t, c.Delete(result.Conversation.ID))
	_, ok := c.Active()
	assert.False(t, ok)

	assert.ErrorIs(t, c.Delete(result.Conversation.ID), ErrNotFound)
}

func TestExport(t *testing.T) {
	fd := &fakeDispatcher{fn: answer("Volumes held steady.")}
	c := newTestController(fd)

	result, err := c.Send(context.Background(), "", "Top import sources, 2025?")
	require.NoError(t, err)

	filename, data, err := c.Export(result.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "Top_import_sources_2025.json", filename)

	var conv store.Conversation
	require.NoError(t, json.Unmarshal(data, &conv))
	assert.Equal(t, result.Conversation.ID, conv.ID)
	assert.Len(t, conv.Messages, 2)
}

func TestExportFilenameFallsBackToID(t *testing.T) {
	conv := store.Conversation{ID: "conv-1", Title: "???"}
	assert.Equal(t, "conv-1.json", ExportFilename(conv))
}
