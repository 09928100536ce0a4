package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shared-code-editor/backend/internal/session"
)

// newTestServer serves the handler on a real listener through gin.
func newTestServer(t *testing.T) (*Service, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := NewService(session.NewStore(session.Config{InitialContent: "initial"}), ServiceConfig{})
	router := gin.New()
	router.GET("/api/ws", func(c *gin.Context) {
		if err := svc.Handler().HandleConnection(c.Writer, c.Request); err != nil {
			t.Logf("upgrade failed: %v", err)
		}
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		svc.Close()
	})

	return svc, "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// expectSilence asserts nothing arrives on conn for a short while.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}

func TestIntegration_ConcreteScenario(t *testing.T) {
	svc, url := newTestServer(t)
	u1 := dial(t, url)
	u2 := dial(t, url)

	require.NoError(t, u1.WriteJSON(joinMsg("abc", "u1")))
	snap := readMsg(t, u1)
	assert.Equal(t, MessageTypeContentChange, snap.Type)
	assert.Equal(t, "initial", *snap.Content)
	assert.Equal(t, MessageTypeFileListUpdate, readMsg(t, u1).Type)

	require.NoError(t, u2.WriteJSON(joinMsg("abc", "u2")))
	readMsg(t, u2)
	readMsg(t, u2)
	update := readMsg(t, u1)
	assert.Equal(t, MessageTypeUserUpdate, update.Type)
	assert.Equal(t, "u2", update.User.ID)

	require.NoError(t, u1.WriteJSON(map[string]any{"type": "content-change", "sessionId": "abc", "content": "print(1)"}))
	change := readMsg(t, u2)
	assert.Equal(t, MessageTypeContentChange, change.Type)
	assert.Equal(t, "print(1)", *change.Content)

	require.NoError(t, u2.WriteJSON(map[string]any{
		"type": "file-upload", "sessionId": "abc",
		"file": map[string]any{
			"id": "f1", "name": "a.txt", "type": "text/plain", "size": 2,
			"content": "hi", "uploadedBy": "u2", "uploadedAt": "2025-01-01T00:00:00Z", "isTextFile": true,
		},
	}))
	// u1 got nothing else in between, so the echo check is implicit.
	for _, conn := range []*websocket.Conn{u1, u2} {
		list := readMsg(t, conn)
		assert.Equal(t, MessageTypeFileListUpdate, list.Type)
		require.Len(t, list.Files, 1)
		assert.Equal(t, "f1", list.Files[0].ID)
	}

	require.NoError(t, u1.WriteJSON(map[string]any{"type": "leave", "sessionId": "abc", "userId": "u1"}))
	leave := readMsg(t, u2)
	assert.Equal(t, MessageTypeLeave, leave.Type)
	assert.Equal(t, "u1", leave.UserID)

	participants := svc.Store().Participants("abc")
	require.Len(t, participants, 1)
	assert.Equal(t, "u2", participants[0].ID)
}

func TestIntegration_AbruptDisconnectIsLeave(t *testing.T) {
	svc, url := newTestServer(t)
	u1 := dial(t, url)
	u2 := dial(t, url)

	require.NoError(t, u1.WriteJSON(joinMsg("abc", "u1")))
	readMsg(t, u1)
	readMsg(t, u1)
	require.NoError(t, u2.WriteJSON(joinMsg("abc", "u2")))
	readMsg(t, u2)
	readMsg(t, u2)
	readMsg(t, u1)

	// Drop the TCP connection without a close handshake.
	require.NoError(t, u1.UnderlyingConn().Close())

	leave := readMsg(t, u2)
	assert.Equal(t, MessageTypeLeave, leave.Type)
	assert.Equal(t, "u1", leave.UserID)

	require.Eventually(t, func() bool {
		return len(svc.Store().Participants("abc")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, svc.HubManager().ConnectionCount())
}

func TestIntegration_MalformedFrameKeepsConnection(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{garbage")))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "content-change", "sessionId": "abc", "content": "x"}))

	// The first frame back is the join snapshot, and the unjoined edit was
	// not applied.
	require.NoError(t, conn.WriteJSON(joinMsg("abc", "u1")))
	snap := readMsg(t, conn)
	assert.Equal(t, MessageTypeContentChange, snap.Type)
	assert.Equal(t, "initial", *snap.Content)
}

func TestIntegration_SessionsAreIsolated(t *testing.T) {
	_, url := newTestServer(t)
	a := dial(t, url)
	b := dial(t, url)

	require.NoError(t, a.WriteJSON(joinMsg("one", "u1")))
	readMsg(t, a)
	readMsg(t, a)
	require.NoError(t, b.WriteJSON(joinMsg("two", "u2")))
	readMsg(t, b)
	readMsg(t, b)

	require.NoError(t, a.WriteJSON(map[string]any{"type": "content-change", "sessionId": "one", "content": "secret"}))
	expectSilence(t, b)
}
