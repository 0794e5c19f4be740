package gateway

import (
	"context"

	"github.com/vreid/minefield/internal/pkg/engine"
	"github.com/vreid/minefield/internal/pkg/match"
	"github.com/vreid/minefield/internal/pkg/settlement"
)

type CommandType string

const (
	CommandCreate           CommandType = "create"
	CommandJoin             CommandType = "join"
	CommandConfirmPlacement CommandType = "confirm-placement"
	CommandRevealCell       CommandType = "reveal-cell"
	CommandExit             CommandType = "exit"
)

// Command is an inbound socket message. Which fields matter depends on Type.
type Command struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	MatchID   string      `json:"match_id,omitempty"`

	GridSize  string `json:"grid_size,omitempty"`
	BombCount int    `json:"bomb_count,omitempty"`
	BetAmount int64  `json:"bet_amount,omitempty"`

	Grid match.Grid `json:"grid,omitempty"`

	X int `json:"x"`
	Y int `json:"y"`
}

type ReplyType string

const (
	ReplyAck   ReplyType = "ack"
	ReplyError ReplyType = "error"
)

type Reply struct {
	Type      ReplyType   `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Command   CommandType `json:"command,omitempty"`
	MatchID   string      `json:"match_id,omitempty"`
	Payload   any         `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Status    int         `json:"status,omitempty"`
}

// Matches is the part of the lifecycle controller the gateway drives.
type Matches interface {
	Create(ctx context.Context, spec match.Spec) (match.View, error)
	Join(ctx context.Context, matchID, playerID string, bet int64) (match.View, error)
	ConfirmPlacement(ctx context.Context, matchID, playerID string, grid match.Grid) error
	RevealCell(ctx context.Context, matchID, playerID string, x, y int) (engine.RevealResult, error)
	Exit(ctx context.Context, matchID, playerID string) error
	Disconnect(ctx context.Context, playerID string) int
	Get(matchID string) (match.View, error)
	ListOpen() []match.Listing
}

type Settlements interface {
	Get(matchID string) (settlement.Record, error)
}
