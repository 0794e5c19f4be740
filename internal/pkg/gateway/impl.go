package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/minefield/internal/pkg/common"
	"github.com/vreid/minefield/internal/pkg/events"
	"github.com/vreid/minefield/internal/pkg/lifecycle"
	"github.com/vreid/minefield/internal/pkg/match"
	"github.com/vreid/minefield/internal/pkg/settlement"
	"go.uber.org/zap"
)

type GatewayService struct {
	Matches     Matches
	Settlements Settlements
	Hub         *Hub

	SignatureSecret string

	Log *zap.Logger

	upgrader websocket.Upgrader
}

func NewGatewayService(i do.Injector) (*GatewayService, error) {
	lifecycleService := do.MustInvoke[*lifecycle.LifecycleService](i)
	settlementService := do.MustInvoke[*settlement.SettlementService](i)
	bus := do.MustInvoke[*events.BusService](i)
	logger := do.MustInvoke[*zap.Logger](i)

	signatureSecret := do.MustInvokeNamed[string](i, "signature-secret")

	result := New(lifecycleService, settlementService, signatureSecret, logger)

	bus.Subscribe(result.Hub)

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Register)

	return result, nil
}

func New(matches Matches, settlements Settlements, signatureSecret string, logger *zap.Logger) *GatewayService {
	return &GatewayService{
		Matches:     matches,
		Settlements: settlements,
		Hub:         NewHub(logger),

		SignatureSecret: signatureSecret,

		Log: logger,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *GatewayService) Register(e *echo.Echo) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/matches", s.GetMatches)
	apiGroup.GET("/matches/:id", s.GetMatch)
	apiGroup.GET("/settlements/:id", s.GetSettlement)
	apiGroup.GET("/ws", s.GetWebSocket)
}

// StatusFor maps an error class to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, match.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, match.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, match.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, match.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *GatewayService) GetMatches(c echo.Context) error {
	//nolint:wrapcheck
	return c.JSON(http.StatusOK, s.Matches.ListOpen())
}

func (s *GatewayService) GetMatch(c echo.Context) error {
	view, err := s.Matches.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(StatusFor(err), err.Error())
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, view)
}

func (s *GatewayService) GetSettlement(c echo.Context) error {
	record, err := s.Settlements.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(StatusFor(err), err.Error())
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, record)
}

func (s *GatewayService) GetWebSocket(c echo.Context) error {
	playerID, err := PlayerFromToken(s.SignatureSecret, tokenFromRequest(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the request
		s.Log.Warn("websocket upgrade failed", zap.String("player_id", playerID), zap.Error(err))

		return nil
	}

	client := newClient(playerID, conn)
	s.Hub.register(client)

	s.Log.Info("socket connected", zap.String("player_id", playerID))

	go client.writePump()

	s.readPump(context.WithoutCancel(c.Request().Context()), client)

	return nil
}

func (s *GatewayService) readPump(ctx context.Context, c *client) {
	defer func() {
		if s.Hub.unregister(c) {
			count := s.Matches.Disconnect(ctx, c.playerID)

			s.Log.Info("player disconnected",
				zap.String("player_id", c.playerID),
				zap.Int("matches", count))
		}

		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(s.deadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(s.deadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.Log.Warn("socket closed unexpectedly", zap.String("player_id", c.playerID), zap.Error(err))
			}

			return
		}

		var command Command

		err = json.Unmarshal(data, &command)
		if err != nil {
			s.reply(c, Reply{
				Type:   ReplyError,
				Error:  "malformed command",
				Status: http.StatusBadRequest,
			})

			continue
		}

		s.reply(c, s.Dispatch(ctx, c.playerID, command))
	}
}

func (s *GatewayService) reply(c *client, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.Log.Error("failed to encode reply", zap.Error(err))

		return
	}

	c.enqueue(data)
}

// Dispatch runs one command on behalf of playerID.
func (s *GatewayService) Dispatch(ctx context.Context, playerID string, command Command) Reply {
	reply := Reply{
		RequestID: command.RequestID,
		Command:   command.Type,
		MatchID:   command.MatchID,
	}

	payload, err := s.execute(ctx, playerID, command, &reply)
	if err != nil {
		s.Log.Debug("command rejected",
			zap.String("player_id", playerID),
			zap.String("command", string(command.Type)),
			zap.String("match_id", command.MatchID),
			zap.Error(err))

		reply.Type = ReplyError
		reply.Error = err.Error()
		reply.Status = StatusFor(err)

		return reply
	}

	reply.Type = ReplyAck
	reply.Payload = payload

	return reply
}

func (s *GatewayService) execute(ctx context.Context, playerID string, command Command, reply *Reply) (any, error) {
	switch command.Type {
	case CommandCreate:
		view, err := s.Matches.Create(ctx, match.Spec{
			CreatorID: playerID,
			SizeLabel: command.GridSize,
			BombCount: command.BombCount,
			BetAmount: command.BetAmount,
		})
		if err != nil {
			return nil, err
		}

		reply.MatchID = view.ID

		return view, nil
	case CommandJoin:
		//nolint:wrapcheck
		return s.Matches.Join(ctx, command.MatchID, playerID, command.BetAmount)
	case CommandConfirmPlacement:
		//nolint:wrapcheck
		return nil, s.Matches.ConfirmPlacement(ctx, command.MatchID, playerID, command.Grid)
	case CommandRevealCell:
		//nolint:wrapcheck
		return s.Matches.RevealCell(ctx, command.MatchID, playerID, command.X, command.Y)
	case CommandExit:
		//nolint:wrapcheck
		return nil, s.Matches.Exit(ctx, command.MatchID, playerID)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", match.ErrInvalidInput, command.Type)
	}
}

func (s *GatewayService) deadline() time.Time {
	return time.Now().Add(pongWait)
}
