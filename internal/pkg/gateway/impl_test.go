package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/minefield/internal/pkg/common"
	"github.com/vreid/minefield/internal/pkg/escrow"
	"github.com/vreid/minefield/internal/pkg/events"
	"github.com/vreid/minefield/internal/pkg/gateway"
	"github.com/vreid/minefield/internal/pkg/lifecycle"
	"github.com/vreid/minefield/internal/pkg/match"
	"github.com/vreid/minefield/internal/pkg/registry"
	"github.com/vreid/minefield/internal/pkg/settlement"
	"github.com/vreid/minefield/internal/pkg/timer"
	"go.uber.org/zap"
)

const secret = "test-secret"

type stubSettlements map[string]settlement.Record

func (s stubSettlements) Get(matchID string) (settlement.Record, error) {
	record, ok := s[matchID]
	if !ok {
		return settlement.Record{}, settlement.ErrRecordNotFound
	}

	return record, nil
}

func newGateway(t *testing.T) (*gateway.GatewayService, http.Handler) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	timers := timer.New(clock)
	t.Cleanup(func() { _ = timers.Shutdown() })

	bus := events.NewBus()

	matches := lifecycle.New(registry.New(clock), timers, escrow.NewMemoryService(1000), bus, nil, clock, zap.NewNop(),
		lifecycle.Config{
			PlacementSeconds: 30,
			TurnSeconds:      15,
			PurgeGrace:       time.Minute,
			MatchTTL:         time.Hour,
		})

	settlements := stubSettlements{
		"settled": {MatchID: "settled", Winner: "alice", Total: 200, Status: settlement.StatusPaid},
	}

	gw := gateway.New(matches, settlements, secret, zap.NewNop())
	bus.Subscribe(gw.Hub)

	echoService := common.NewEcho(0, zap.NewNop())
	echoService.Register(gw.Register)

	return gw, echoService.Handler()
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func create(t *testing.T, gw *gateway.GatewayService, playerID string) string {
	t.Helper()

	reply := gw.Dispatch(context.Background(), playerID, gateway.Command{
		Type:      gateway.CommandCreate,
		RequestID: "r-1",
		GridSize:  "4x4",
		BombCount: 2,
		BetAmount: 100,
	})
	require.Equal(t, gateway.ReplyAck, reply.Type, reply.Error)
	assert.Equal(t, "r-1", reply.RequestID)
	require.NotEmpty(t, reply.MatchID)

	return reply.MatchID
}

func TestRESTEndpoints(t *testing.T) {
	t.Parallel()

	gw, handler := newGateway(t)
	matchID := create(t, gw, "alice")

	rec := get(t, handler, "/api/matches")
	require.Equal(t, http.StatusOK, rec.Code)

	var listings []match.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, matchID, listings[0].ID)
	assert.Equal(t, "4x4", listings[0].GridSize)

	rec = get(t, handler, "/api/matches/"+matchID)
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "placement", view["phase"])
	assert.Equal(t, float64(30), view["time_left_seconds"])
	assert.NotContains(t, view, "wallet_ref")
	assert.NotContains(t, view, "bomb_placements")

	assert.Equal(t, http.StatusNotFound, get(t, handler, "/api/matches/missing").Code)

	rec = get(t, handler, "/api/settlements/settled")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paid"`)

	assert.Equal(t, http.StatusNotFound, get(t, handler, "/api/settlements/missing").Code)
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gw, _ := newGateway(t)
	matchID := create(t, gw, "alice")

	tests := []struct {
		name     string
		playerID string
		command  gateway.Command
		status   int
	}{
		{"unknown grid", "alice", gateway.Command{Type: gateway.CommandCreate, GridSize: "2x2", BombCount: 1, BetAmount: 1}, http.StatusBadRequest},
		{"self join", "alice", gateway.Command{Type: gateway.CommandJoin, MatchID: matchID, BetAmount: 100}, http.StatusConflict},
		{"missing match", "bob", gateway.Command{Type: gateway.CommandJoin, MatchID: "missing", BetAmount: 100}, http.StatusNotFound},
		{"reveal during placement", "alice", gateway.Command{Type: gateway.CommandRevealCell, MatchID: matchID}, http.StatusConflict},
		{"unknown command", "alice", gateway.Command{Type: "dance"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := gw.Dispatch(ctx, tt.playerID, tt.command)

			assert.Equal(t, gateway.ReplyError, reply.Type)
			assert.Equal(t, tt.status, reply.Status)
			assert.NotEmpty(t, reply.Error)
		})
	}

	reply := gw.Dispatch(ctx, "bob", gateway.Command{Type: gateway.CommandJoin, MatchID: matchID, BetAmount: 100})
	require.Equal(t, gateway.ReplyAck, reply.Type, reply.Error)

	view, ok := reply.Payload.(match.View)
	require.True(t, ok)
	assert.Equal(t, "bob", view.OpponentID)

	reply = gw.Dispatch(ctx, "alice", gateway.Command{
		Type:    gateway.CommandConfirmPlacement,
		MatchID: matchID,
		Grid:    match.GridWith(4, [2]int{0, 0}, [2]int{3, 3}),
	})
	assert.Equal(t, gateway.ReplyAck, reply.Type, reply.Error)

	reply = gw.Dispatch(ctx, "bob", gateway.Command{Type: gateway.CommandExit, MatchID: matchID})
	assert.Equal(t, gateway.ReplyAck, reply.Type, reply.Error)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusNotFound, gateway.StatusFor(match.ErrNotFound))
	assert.Equal(t, http.StatusConflict, gateway.StatusFor(match.ErrWrongTurn))
	assert.Equal(t, http.StatusBadRequest, gateway.StatusFor(match.ErrOutOfBounds))
	assert.Equal(t, http.StatusBadGateway, gateway.StatusFor(match.ErrInsufficientFunds))
	assert.Equal(t, http.StatusUnauthorized, gateway.StatusFor(gateway.ErrUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, gateway.StatusFor(assert.AnError))
}

func TestTokens(t *testing.T) {
	t.Parallel()

	now := time.Now()

	token, err := gateway.IssueToken(secret, "alice", time.Hour, now)
	require.NoError(t, err)

	playerID, err := gateway.PlayerFromToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", playerID)

	_, err = gateway.PlayerFromToken("other-secret", token)
	require.ErrorIs(t, err, gateway.ErrUnauthorized)

	expired, err := gateway.IssueToken(secret, "alice", time.Hour, now.Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = gateway.PlayerFromToken(secret, expired)
	require.ErrorIs(t, err, gateway.ErrUnauthorized)

	_, err = gateway.PlayerFromToken(secret, "")
	require.ErrorIs(t, err, gateway.ErrUnauthorized)

	_, err = gateway.IssueToken(secret, "", time.Hour, now)
	require.ErrorIs(t, err, gateway.ErrUnauthorized)
}

func readUntil(t *testing.T, conn *websocket.Conn, kind string) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	for {
		var message map[string]any
		require.NoError(t, conn.ReadJSON(&message))

		if message["type"] == kind {
			return message
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	t.Parallel()

	gw, handler := newGateway(t)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	aliceToken, err := gateway.IssueToken(secret, "alice", time.Hour, time.Now())
	require.NoError(t, err)

	alice, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+aliceToken, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = alice.Close() })

	require.NoError(t, alice.WriteJSON(gateway.Command{
		Type:      gateway.CommandCreate,
		GridSize:  "3x3",
		BombCount: 1,
		BetAmount: 50,
	}))

	ack := readUntil(t, alice, "ack")
	matchID, ok := ack["match_id"].(string)
	require.True(t, ok)

	bobToken, err := gateway.IssueToken(secret, "bob", time.Hour, time.Now())
	require.NoError(t, err)

	bob, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {"Bearer " + bobToken}})
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte("{not json")))
	failure := readUntil(t, bob, "error")
	assert.Equal(t, float64(http.StatusBadRequest), failure["status"])

	require.NoError(t, bob.WriteJSON(gateway.Command{Type: gateway.CommandJoin, MatchID: matchID, BetAmount: 50}))
	readUntil(t, bob, "ack")

	started := readUntil(t, alice, "match-started")
	assert.Equal(t, matchID, started["match_id"])

	assert.True(t, gw.Hub.Connected("bob"))
	require.NoError(t, bob.Close())

	ended := readUntil(t, alice, "match-ended")
	payload, ok := ended["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", payload["winner"])
	assert.Equal(t, "forfeit", payload["reason"])
	assert.False(t, gw.Hub.Connected("bob"))
}
