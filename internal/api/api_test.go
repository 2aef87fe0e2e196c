package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Farhan-basha/Star-Systems/internal/auth"
	"github.com/Farhan-basha/Star-Systems/internal/relay"
	"github.com/Farhan-basha/Star-Systems/internal/store"
)

type testEnv struct {
	server *httptest.Server
	store  *store.Store
	tokens *auth.TokenManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	registry := relay.NewRegistry(zerolog.Nop())
	engine := relay.NewEngine(registry, zerolog.Nop())
	handler := relay.NewHandler(registry, engine, relay.HandlerConfig{
		MaxConnections: 64,
		SendBuffer:     32,
		MessageRate:    100,
		MessageBurst:   100,
	}, zerolog.Nop())
	tokens := auth.NewTokenManager("test-secret", time.Hour)

	a := New(st, tokens, handler, engine, nil, zerolog.Nop())
	srv := httptest.NewServer(a.Router())

	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, st.Close())
	})
	return &testEnv{server: srv, store: st, tokens: tokens}
}

func (env *testEnv) postJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (env *testEnv) registerUser(t *testing.T, username string) (uint64, string) {
	t.Helper()
	resp := env.postJSON(t, "/api/register", "", map[string]string{
		"username": username,
		"password": "pw-" + username,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[tokenResponse](t, resp)
	return body.UserID, body.Token
}

func (env *testEnv) dial(t *testing.T, room, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/chat/" + room
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	return payload
}

// confirmJoined blocks until the session's group membership is live. A chat
// send is ordered behind the session's own join, so reading back the echo
// proves the join was processed.
func confirmJoined(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	probe := []byte(fmt.Sprintf(`{"content":"probe","sender":%q}`, name))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, probe))
	require.JSONEq(t, string(probe), string(readMessage(t, conn)))
}

func TestRegisterAndLogin(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	userID, token := env.registerUser(t, "alice")
	req.NotZero(userID)
	req.NotEmpty(token)

	resp := env.postJSON(t, "/api/register", "", map[string]string{"username": "alice", "password": "other"})
	req.Equal(http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.postJSON(t, "/api/login", "", map[string]string{"username": "alice", "password": "pw-alice"})
	req.Equal(http.StatusOK, resp.StatusCode)
	body := decodeBody[tokenResponse](t, resp)
	req.Equal("alice", body.Username)
	req.Equal(userID, body.UserID)

	resp = env.postJSON(t, "/api/login", "", map[string]string{"username": "alice", "password": "wrong"})
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	resp, err := env.server.Client().Get(env.server.URL + "/api/workspaces")
	req.NoError(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	_, token := env.registerUser(t, "alice")
	r, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/workspaces", nil)
	req.NoError(err)
	r.Header.Set("Authorization", "Bearer "+token)
	resp, err = env.server.Client().Do(r)
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestChatRelayEchoesToAllMembers(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	_, aliceToken := env.registerUser(t, "alice")
	_, bobToken := env.registerUser(t, "bob")

	alice := env.dial(t, "channel_42", aliceToken)
	confirmJoined(t, alice, "alice")
	bob := env.dial(t, "channel_42", bobToken)
	confirmJoined(t, bob, "bob")

	// Alice was already a member when bob's probe was relayed.
	probe := []byte(`{"content":"probe","sender":"bob"}`)
	req.JSONEq(string(probe), string(readMessage(t, alice)))

	payload := []byte(`{"content":"hello room","sender":"alice"}`)
	req.NoError(alice.WriteMessage(websocket.TextMessage, payload))

	req.JSONEq(string(payload), string(readMessage(t, alice)))
	req.JSONEq(string(payload), string(readMessage(t, bob)))
}

func TestSignalingSkipsSender(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	_, aliceToken := env.registerUser(t, "alice")
	_, bobToken := env.registerUser(t, "bob")

	alice := env.dial(t, "dm_7", aliceToken)
	confirmJoined(t, alice, "alice")
	bob := env.dial(t, "dm_7", bobToken)
	confirmJoined(t, bob, "bob")
	readMessage(t, alice) // bob's probe

	offer := []byte(`{"type":"webrtc_offer","sdp":"v=0"}`)
	req.NoError(alice.WriteMessage(websocket.TextMessage, offer))
	req.JSONEq(string(offer), string(readMessage(t, bob)))

	// A follow-up chat is the next thing alice receives: the offer was
	// never echoed back to her.
	chat := []byte(`{"content":"did you get it?"}`)
	req.NoError(alice.WriteMessage(websocket.TextMessage, chat))
	req.JSONEq(string(chat), string(readMessage(t, alice)))
}

func TestMalformedPayloadGetsErrorReply(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	_, aliceToken := env.registerUser(t, "alice")
	alice := env.dial(t, "channel_1", aliceToken)

	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte(`{broken`)))

	var reply map[string]string
	req.NoError(json.Unmarshal(readMessage(t, alice), &reply))
	req.NotEmpty(reply["error"])

	// The session survived the bad payload.
	valid := []byte(`{"content":"recovered"}`)
	req.NoError(alice.WriteMessage(websocket.TextMessage, valid))
	req.JSONEq(string(valid), string(readMessage(t, alice)))
}

func TestAnonymousHandshakeIsClosed(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	conn := env.dial(t, "channel_42", "")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	req.Error(err)
	closeErr, ok := err.(*websocket.CloseError)
	req.True(ok, "expected a close frame, got %v", err)
	req.Equal(websocket.ClosePolicyViolation, closeErr.Code)
}

func TestRESTMessageReachesLiveSessions(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	aliceID, aliceToken := env.registerUser(t, "alice")
	_, bobToken := env.registerUser(t, "bob")

	resp := env.postJSON(t, "/api/channels", "", map[string]any{"name": "general", "workspace": 1})
	req.Equal(http.StatusCreated, resp.StatusCode)
	channel := decodeBody[store.Channel](t, resp)

	bob := env.dial(t, fmt.Sprintf("channel_%d", channel.ID), bobToken)
	confirmJoined(t, bob, "bob")

	// Posting a message needs a verified identity.
	resp = env.postJSON(t, fmt.Sprintf("/api/channels/%d/messages", channel.ID), "",
		map[string]string{"content": "anonymous"})
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.postJSON(t, fmt.Sprintf("/api/channels/%d/messages", channel.ID), aliceToken,
		map[string]string{"content": "posted over rest"})
	req.Equal(http.StatusCreated, resp.StatusCode)
	created := decodeBody[store.Message](t, resp)
	req.Equal("alice", created.Sender)
	req.Equal(aliceID, created.SenderID)

	var received store.Message
	req.NoError(json.Unmarshal(readMessage(t, bob), &received))
	req.Equal(created.ID, received.ID)
	req.Equal("posted over rest", received.Content)
	req.Equal("alice", received.Sender)

	// And it is in the history.
	r, err := http.NewRequest(http.MethodGet, env.server.URL+fmt.Sprintf("/api/channels/%d/messages", channel.ID), nil)
	req.NoError(err)
	r.Header.Set("Authorization", "Bearer "+bobToken)
	histResp, err := env.server.Client().Do(r)
	req.NoError(err)
	req.Equal(http.StatusOK, histResp.StatusCode)
	history := decodeBody[[]store.Message](t, histResp)
	req.Len(history, 1)
	req.Equal(aliceID, history[0].SenderID)
}

func TestDMGroupLifecycle(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	aliceID, aliceToken := env.registerUser(t, "alice")
	bobID, bobToken := env.registerUser(t, "bob")
	_, eveToken := env.registerUser(t, "eve")

	resp := env.postJSON(t, "/api/dm-groups", aliceToken, map[string]any{"participants": []uint64{bobID}})
	req.Equal(http.StatusCreated, resp.StatusCode)
	group := decodeBody[store.DMGroup](t, resp)
	req.ElementsMatch([]uint64{aliceID, bobID}, group.Participants)

	// Bob creating the same pair lands on the same group.
	resp = env.postJSON(t, "/api/dm-groups", bobToken, map[string]any{"participants": []uint64{aliceID}})
	req.Equal(http.StatusOK, resp.StatusCode)
	same := decodeBody[store.DMGroup](t, resp)
	req.Equal(group.ID, same.ID)

	// DM messages persist but are not pushed; delivery is the relay's job.
	resp = env.postJSON(t, fmt.Sprintf("/api/dm-groups/%d/messages", group.ID), aliceToken,
		map[string]string{"content": "hi bob"})
	req.Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Outsiders cannot read the conversation.
	r, err := http.NewRequest(http.MethodGet, env.server.URL+fmt.Sprintf("/api/dm-groups/%d/messages", group.ID), nil)
	req.NoError(err)
	r.Header.Set("Authorization", "Bearer "+eveToken)
	resp, err = env.server.Client().Do(r)
	req.NoError(err)
	req.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	resp, err := env.server.Client().Get(env.server.URL + "/health")
	req.NoError(err)
	body := decodeBody[map[string]any](t, resp)
	req.Equal("ok", body["status"])
	req.Contains(body, "sessions")
	req.Contains(body, "groups")
	req.EqualValues(0, body["groups"])
}
