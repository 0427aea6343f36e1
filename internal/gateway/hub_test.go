package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/palee/roulette39/internal/engine"
	"github.com/palee/roulette39/internal/store"
)

type hubFixture struct {
	svc     *Service
	hub     *Hub
	mem     *store.Memory
	manager *engine.Manager
	clock   *quartz.Mock
	srv     *httptest.Server
	ctx     context.Context
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	ctx := context.Background()
	mock := quartz.NewMock(t)
	mock.Set(time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)).MustWait(ctx)

	mem := store.NewMemory()
	logger := log.New(io.Discard)
	bc := NewBroadcaster()
	manager := engine.NewManager(ctx, mem, bc, mock, logger, func() *rand.Rand {
		return rand.New(rand.NewSource(11))
	})
	svc := NewService(manager, logger)
	hub := NewHub(svc, logger)
	bc.Add(hub)

	api := NewHTTPAPI(svc, hub, logger)
	srv := httptest.NewServer(api.Router())

	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		manager.Shutdown()
	})

	return &hubFixture{svc: svc, hub: hub, mem: mem, manager: manager, clock: mock, srv: srv, ctx: ctx}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType MessageType, data any, requestID string) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(Message{Type: msgType, Data: raw, RequestID: requestID}))
}

// readUntil reads messages until one arrives whose topic matches the pattern.
func readUntil(t *testing.T, ws *websocket.Conn, pattern string) Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, ws.SetReadDeadline(deadline))
	for {
		var msg Message
		require.NoError(t, ws.ReadJSON(&msg), "waiting for %s", pattern)
		if MatchTopic(pattern, msg.Topic) {
			return msg
		}
	}
}

// connectChannel joins the channel and waits for its game loop to start.
func (f *hubFixture) connectChannel(t *testing.T, ws *websocket.Conn, channel string) {
	t.Helper()
	send(t, ws, MessageTypeConnect, ConnectData{Channel: channel}, "")
	require.Eventually(t, func() bool {
		ch, ok := f.manager.Lookup(channel)
		return ok && ch.Running()
	}, 5*time.Second, 5*time.Millisecond)
}

func TestHub_GameStateBroadcast(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)
	f.connectChannel(t, ws, "lobby")

	f.clock.Advance(time.Second).MustWait(f.ctx)

	msg := readUntil(t, ws, TopicGameState("lobby"))
	var state engine.GameState
	require.NoError(t, json.Unmarshal(msg.Data, &state))
	require.Equal(t, engine.PhaseBetting, state.Phase)
	require.Equal(t, "01010001", state.RoundNumber)
}

func TestHub_RetainedStateReplay(t *testing.T) {
	f := newHubFixture(t)
	first := f.dial(t)
	f.connectChannel(t, first, "lobby")
	f.clock.Advance(time.Second).MustWait(f.ctx)
	readUntil(t, first, TopicGameState("lobby"))

	// A client that joins between ticks still gets the current state.
	late := f.dial(t)
	send(t, late, MessageTypeConnect, ConnectData{Channel: "lobby"}, "")
	msg := readUntil(t, late, TopicGameState("lobby"))
	var state engine.GameState
	require.NoError(t, json.Unmarshal(msg.Data, &state))
	require.Equal(t, engine.PhaseBetting, state.Phase)
}

func TestHub_LoginAndBet(t *testing.T) {
	f := newHubFixture(t)
	f.mem.AddAccount("alice", "pw", "Alice", dec("1000"))
	ws := f.dial(t)
	f.connectChannel(t, ws, "lobby")
	f.clock.Advance(time.Second).MustWait(f.ctx)

	send(t, ws, MessageTypeLogin, LoginData{Username: "alice", Password: "pw"}, "req-1")
	reply := readUntil(t, ws, "login.response.>")
	require.Equal(t, "req-1", reply.RequestID)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(reply.Data, &login))
	require.True(t, login.Success)

	send(t, ws, MessageTypeBet, BetData{Family: "number", Target: "5", Amount: dec("100")}, "req-2")
	betReply := readUntil(t, ws, "bet.response.>")
	require.Equal(t, "req-2", betReply.RequestID)
	var bet BetResponse
	require.NoError(t, json.Unmarshal(betReply.Data, &bet))
	require.True(t, bet.Success)
	require.True(t, bet.Balance.Equal(dec("900")))

	// The ledger change fans out to subscribers.
	update := readUntil(t, ws, TopicBetsUpdate("lobby"))
	var bu BetsUpdateData
	require.NoError(t, json.Unmarshal(update.Data, &bu))
	require.True(t, bu.Bets[engine.FamilyNumber]["05"].Total.Equal(dec("100")))
}

func TestHub_LoginRejectedReason(t *testing.T) {
	f := newHubFixture(t)
	f.mem.AddAccount("alice", "pw", "Alice", dec("1000"))
	ws := f.dial(t)
	f.connectChannel(t, ws, "lobby")

	send(t, ws, MessageTypeLogin, LoginData{Username: "alice", Password: "wrong"}, "req-1")
	reply := readUntil(t, ws, "login.response.>")
	var login LoginResponse
	require.NoError(t, json.Unmarshal(reply.Data, &login))
	require.False(t, login.Success)
	require.Equal(t, store.ErrInvalidCredentials.Error(), login.Reason)
}

func TestHTTPAPI_Health(t *testing.T) {
	f := newHubFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPAPI_Login(t *testing.T) {
	f := newHubFixture(t)
	f.mem.AddAccount("alice", "pw", "Alice", dec("1000"))

	body, _ := json.Marshal(LoginData{Username: "alice", Password: "pw", Channel: "lobby"})
	resp, err := http.Post(f.srv.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		LoginResponse
		TransportID string `json:"transportId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	require.NotEmpty(t, out.TransportID)

	// Second login while the session is live is refused.
	resp2, err := http.Post(f.srv.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}
