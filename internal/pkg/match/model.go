package match

import (
	"time"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

type Phase string

const (
	PhasePlacement Phase = "placement"
	PhaseGameplay  Phase = "gameplay"
	PhaseEnded     Phase = "ended"
)

type Content string

const (
	ContentBomb Content = "bomb"
	ContentCoin Content = "coin"
)

type EndReason string

const (
	ReasonMine      EndReason = "mine"
	ReasonTimeout   EndReason = "timeout"
	ReasonForfeit   EndReason = "forfeit"
	ReasonWithdrawn EndReason = "withdrawn"
	ReasonAbandoned EndReason = "abandoned"
)

// Spec is what a creator asks for.
type Spec struct {
	CreatorID string `json:"creator_id"`
	SizeLabel string `json:"grid_size"`
	BombCount int    `json:"bomb_count"`
	BetAmount int64  `json:"bet_amount"`
}

// Match is the state of one game instance. It is only mutated by the
// goroutine currently holding the match's slot in the registry.
type Match struct {
	ID         string
	CreatorID  string
	OpponentID string

	SizeLabel string
	GridSize  int
	BombCount int

	BetAmount int64
	WalletRef string

	Status          Status
	Phase           Phase
	Round           int
	TimeLeftSeconds int
	CurrentPlayer   string

	BombPlacements   map[string]Grid
	RevealedGrid     Grid
	BothPlayersReady bool

	CreatedAt time.Time

	Winner    string
	EndReason EndReason

	// Joining holds a player whose escrow transfer is in flight.
	Joining string
	// TimerToken identifies the countdown currently armed for this match; 0 means none.
	TimerToken uint64
}

func New(spec Spec, gridSize int, walletRef string, now time.Time) *Match {
	return &Match{
		CreatorID:      spec.CreatorID,
		SizeLabel:      spec.SizeLabel,
		GridSize:       gridSize,
		BombCount:      spec.BombCount,
		BetAmount:      spec.BetAmount,
		WalletRef:      walletRef,
		Status:         StatusWaiting,
		Phase:          PhasePlacement,
		Round:          1,
		CurrentPlayer:  spec.CreatorID,
		BombPlacements: make(map[string]Grid, 2),
		RevealedGrid:   NewGrid(gridSize),
		CreatedAt:      now,
	}
}

func (m *Match) IsParticipant(playerID string) bool {
	return playerID != "" && (playerID == m.CreatorID || playerID == m.OpponentID)
}

// Other returns the participant that is not playerID.
func (m *Match) Other(playerID string) string {
	if playerID == m.CreatorID {
		return m.OpponentID
	}

	return m.CreatorID
}

func (m *Match) Participants() []string {
	if m.OpponentID == "" {
		return []string{m.CreatorID}
	}

	return []string{m.CreatorID, m.OpponentID}
}

func (m *Match) Ended() bool {
	return m.Phase == PhaseEnded
}

// Pot is the combined wager held in escrow, zero until an opponent has paid in.
func (m *Match) Pot() int64 {
	if m.OpponentID == "" {
		return 0
	}

	return m.BetAmount * 2
}

// Snapshot returns a deep copy safe to hand outside the match's owner.
func (m *Match) Snapshot() Match {
	result := *m

	result.BombPlacements = make(map[string]Grid, len(m.BombPlacements))
	for playerID, grid := range m.BombPlacements {
		result.BombPlacements[playerID] = grid.Clone()
	}

	result.RevealedGrid = m.RevealedGrid.Clone()

	return result
}

// Listing is the public projection used by the open-games listing.
type Listing struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creator_id"`
	GridSize  string    `json:"grid_size"`
	BombCount int       `json:"bomb_count"`
	BetAmount int64     `json:"bet_amount"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Match) Listing() Listing {
	return Listing{
		ID:        m.ID,
		CreatorID: m.CreatorID,
		GridSize:  m.SizeLabel,
		BombCount: m.BombCount,
		BetAmount: m.BetAmount,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}

// View is the per-match state broadcast to participants. Grids stay private
// except for the shared revealed grid.
type View struct {
	Listing

	OpponentID      string    `json:"opponent_id,omitempty"`
	Phase           Phase     `json:"phase"`
	Round           int       `json:"round"`
	TimeLeftSeconds int       `json:"time_left_seconds"`
	CurrentPlayer   string    `json:"current_player,omitempty"`
	Ready           bool      `json:"both_players_ready"`
	Revealed        Grid      `json:"revealed"`
	Winner          string    `json:"winner,omitempty"`
	EndReason       EndReason `json:"end_reason,omitempty"`
}

func (m *Match) View() View {
	view := View{
		Listing:         m.Listing(),
		OpponentID:      m.OpponentID,
		Phase:           m.Phase,
		Round:           m.Round,
		TimeLeftSeconds: m.TimeLeftSeconds,
		Ready:           m.BothPlayersReady,
		Revealed:        m.RevealedGrid.Clone(),
		Winner:          m.Winner,
		EndReason:       m.EndReason,
	}

	if m.Phase == PhaseGameplay {
		view.CurrentPlayer = m.CurrentPlayer
	}

	return view
}

// Outcome is handed to settlement exactly once per match, when it ends.
type Outcome struct {
	MatchID   string    `json:"match_id"`
	WalletRef string    `json:"wallet_ref"`
	Winner    string    `json:"winner,omitempty"`
	Reason    EndReason `json:"reason"`
	Total     int64     `json:"total"`
	EndedAt   time.Time `json:"ended_at"`
}
