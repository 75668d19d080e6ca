package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/ai-pipeline/internal/auth"
	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

func startServer(t *testing.T, g *Gateway) string {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(func() {
		g.Shutdown()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, identityID string) *websocket.Conn {
	t.Helper()
	token, err := auth.NewJWTVerifier([]byte(testSecret)).Generate(identityID, time.Hour)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) model.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env model.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func readUntil(t *testing.T, ws *websocket.Conn, event string) model.Envelope {
	t.Helper()
	for {
		if env := read(t, ws); env.Event == event {
			return env
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	g := newTestGateway(&fakeRunner{})
	url := startServer(t, g)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Zero(t, g.hub.registry.(*MemoryRegistry).Len())
}

func TestGateway_EndToEnd(t *testing.T) {
	g := newTestGateway(&fakeRunner{chunks: []string{"hel", "lo"}})
	url := startServer(t, g)

	alice := dial(t, url, "alice")
	waitFor(t, func() bool { return g.hub.Members(UserRoom("alice")) == 1 })

	bob := dial(t, url, "bob")
	online := readUntil(t, alice, model.EventUserOnline)
	assert.Equal(t, "bob", decodeAs[model.PresenceEvent](t, online).UserID)

	join := frame(t, model.EventConversationJoin, model.ConversationPayload{ConversationID: "c1"})
	require.NoError(t, alice.WriteJSON(join))
	require.NoError(t, bob.WriteJSON(join))
	waitFor(t, func() bool { return g.hub.Members(ConversationRoom("c1")) == 2 })

	require.NoError(t, alice.WriteJSON(frame(t, model.EventTypingStart, model.ConversationPayload{ConversationID: "c1"})))
	typing := readUntil(t, bob, model.EventTypingUpdate)
	assert.Equal(t, "alice", decodeAs[model.TypingUpdateEvent](t, typing).UserID)

	require.NoError(t, alice.WriteJSON(frame(t, model.EventStreamStart, model.StreamStartPayload{
		ToolSlug: "writer", Input: "greet", ConversationID: "c1",
	})))
	assert.Equal(t, model.EventStreamStarted, readUntil(t, alice, model.EventStreamStarted).Event)
	assert.Equal(t, 0, decodeAs[model.StreamChunkEvent](t, read(t, alice)).Index)
	assert.Equal(t, 1, decodeAs[model.StreamChunkEvent](t, read(t, alice)).Index)
	complete := read(t, alice)
	require.Equal(t, model.EventStreamComplete, complete.Event)
	assert.Equal(t, "hello", decodeAs[model.StreamCompleteEvent](t, complete).FullResponse)

	require.NoError(t, bob.Close())
	offline := readUntil(t, alice, model.EventUserOffline)
	assert.Equal(t, "bob", decodeAs[model.PresenceEvent](t, offline).UserID)

	waitFor(t, func() bool {
		_, ok := g.hub.registry.Lookup("bob")
		return !ok
	})
}
