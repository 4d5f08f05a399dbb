package devhub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/hubchat/pkg/chat"
	"github.com/go-go-golems/hubchat/pkg/hub"
	"github.com/go-go-golems/hubchat/pkg/reveal"
)

func startDevhub(t *testing.T, cfg Config) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv, err := NewServer(ctx, cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.closeSessions)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/chathub"
}

func dialHub(t *testing.T, url string) *hub.Conn {
	t.Helper()
	conn, err := hub.NewConn(hub.ConnConfig{URL: url, InvokeTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.Connect(context.Background()))
	return conn
}

type clientStack struct {
	conn   *hub.Conn
	store  *chat.Store
	engine *reveal.Engine
	coord  *chat.Coordinator
	chatID string
}

func newClientStack(t *testing.T, url string) *clientStack {
	t.Helper()
	conn := dialHub(t, url)
	store := chat.NewStore()
	engine := reveal.NewEngine(reveal.Config{TypingSpeed: time.Millisecond})
	coord, err := chat.NewCoordinator(chat.CoordinatorConfig{
		Client: conn,
		Store:  store,
		Engine: engine,
	})
	require.NoError(t, err)

	c := store.CreateChat("")
	require.NoError(t, coord.ActivateSession(context.Background(), c.ID))
	return &clientStack{conn: conn, store: store, engine: engine, coord: coord, chatID: c.ID}
}

func (cs *clientStack) waitSettled(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cs.coord.TurnState() == chat.TurnSettled
	}, 10*time.Second, 5*time.Millisecond)
}

func TestEndToEndStreamedTurn(t *testing.T) {
	url := startDevhub(t, Config{ChunkDelay: time.Millisecond})
	cs := newClientStack(t, url)

	require.NoError(t, cs.coord.Send(context.Background(), "hello hub"))
	cs.waitSettled(t)

	msgs, err := cs.store.Messages(cs.chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, `You said: "hello hub"`)
	assert.Equal(t, "", cs.engine.FullText(), "reveal buffer released after commit")
}

func TestEndToEndAtomicFallback(t *testing.T) {
	url := startDevhub(t, Config{ChunkDelay: time.Millisecond})
	cs := newClientStack(t, url)

	require.NoError(t, cs.coord.Send(context.Background(), "atomic answer please"))
	cs.waitSettled(t)

	msgs, err := cs.store.Messages(cs.chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "atomic answer please")
}

func TestEndToEndToolCall(t *testing.T) {
	url := startDevhub(t, Config{ChunkDelay: time.Millisecond})
	cs := newClientStack(t, url)

	require.NoError(t, cs.coord.Send(context.Background(), "run a tool search"))
	cs.waitSettled(t)

	msgs, err := cs.store.Messages(cs.chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "lookup", msgs[1].ToolCalls[0].Tool)
}

func TestEndToEndRedundantFinalCommitsOnce(t *testing.T) {
	url := startDevhub(t, Config{ChunkDelay: time.Millisecond, RedundantFinal: true})
	cs := newClientStack(t, url)

	require.NoError(t, cs.coord.Send(context.Background(), "hello again"))
	cs.waitSettled(t)

	// Give the trailing onFinalResponse time to arrive and be ignored.
	time.Sleep(100 * time.Millisecond)

	msgs, err := cs.store.Messages(cs.chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "duplicate completion must not add a second message")
}

func TestEndToEndConsecutiveTurns(t *testing.T) {
	url := startDevhub(t, Config{ChunkDelay: time.Millisecond})
	cs := newClientStack(t, url)

	require.NoError(t, cs.coord.Send(context.Background(), "first"))
	cs.waitSettled(t)
	require.NoError(t, cs.coord.Send(context.Background(), "second"))
	cs.waitSettled(t)

	msgs, err := cs.store.Messages(cs.chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[1].Content, `"first"`)
	assert.Contains(t, msgs[3].Content, `"second"`)
}

func TestServerRejectsInvalidInvocations(t *testing.T) {
	url := startDevhub(t, Config{ChunkDelay: time.Millisecond})
	conn := dialHub(t, url)
	ctx := context.Background()

	err := conn.JoinSession(ctx, "")
	require.Error(t, err)
	var oerr *hub.SessionOpError
	require.True(t, errors.As(err, &oerr))

	err = conn.Send(ctx, "hi", "s1", hub.AgentMode("Bogus"))
	require.Error(t, err)
	var serr *hub.SendFailedError
	require.True(t, errors.As(err, &serr))
	assert.Contains(t, err.Error(), "unknown agent mode")
}

func TestTwoClientsShareASession(t *testing.T) {
	url := startDevhub(t, Config{ChunkDelay: time.Millisecond})
	sender := newClientStack(t, url)

	// A second connection joins the same session and observes the stream.
	observer := dialHub(t, url)
	finals := make(chan struct{}, 1)
	completed := make(chan struct{}, 1)
	observer.OnStreamingCompleted(func() { completed <- struct{}{} })
	observer.OnFinalResponse(func(string) { finals <- struct{}{} })
	require.NoError(t, observer.JoinSession(context.Background(), sender.chatID))

	require.NoError(t, sender.coord.Send(context.Background(), "broadcast this"))
	sender.waitSettled(t)

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("observer never saw the completed stream")
	}
}
