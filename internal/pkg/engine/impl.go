// Package engine holds the placement and reveal rules. It only ever touches
// the match it is handed; timers and the registry belong to the caller.
package engine

import (
	"fmt"

	"github.com/vreid/minefield/internal/pkg/match"
)

type RevealResult struct {
	PlayerID  string        `json:"player_id"`
	X         int           `json:"x"`
	Y         int           `json:"y"`
	Content   match.Content `json:"content"`
	GameEnded bool          `json:"game_ended"`
	Winner    string        `json:"winner,omitempty"`
	Round     int           `json:"round"`
	Next      string        `json:"next_player,omitempty"`
}

// ConfirmPlacement stores playerID's bomb grid and reports whether both
// participants are now placed.
func ConfirmPlacement(m *match.Match, playerID string, grid match.Grid) (bool, error) {
	if m.Phase != match.PhasePlacement {
		return false, match.ErrWrongPhase
	}

	if !m.IsParticipant(playerID) {
		return false, match.ErrNotParticipant
	}

	if _, ok := m.BombPlacements[playerID]; ok {
		return false, match.ErrAlreadyConfirmed
	}

	if !grid.IsSquare(m.GridSize) {
		return false, fmt.Errorf("%w: want %dx%d", match.ErrMalformedGrid, m.GridSize, m.GridSize)
	}

	if count := grid.Count(); count != m.BombCount {
		return false, fmt.Errorf("%w: got %d, want %d", match.ErrBombCount, count, m.BombCount)
	}

	m.BombPlacements[playerID] = grid.Clone()

	return Ready(m), nil
}

// Ready reports whether both participants have a grid.
func Ready(m *match.Match) bool {
	if m.OpponentID == "" {
		return false
	}

	_, creator := m.BombPlacements[m.CreatorID]
	_, opponent := m.BombPlacements[m.OpponentID]

	return creator && opponent
}

// AutoFill gives every seated participant without a grid a random one and
// returns who was filled.
func AutoFill(m *match.Match) ([]string, error) {
	var filled []string

	for _, playerID := range m.Participants() {
		if _, ok := m.BombPlacements[playerID]; ok {
			continue
		}

		grid, err := match.RandomGrid(m.GridSize, m.BombCount)
		if err != nil {
			return filled, fmt.Errorf("failed to generate grid for %s: %w", playerID, err)
		}

		m.BombPlacements[playerID] = grid
		filled = append(filled, playerID)
	}

	m.BothPlayersReady = Ready(m)

	return filled, nil
}

// StartGameplay moves a fully placed match into turn-based revealing.
func StartGameplay(m *match.Match, turnSeconds int) error {
	if m.Phase != match.PhasePlacement || !Ready(m) {
		return match.ErrWrongPhase
	}

	m.BothPlayersReady = true
	m.Phase = match.PhaseGameplay
	m.TimeLeftSeconds = turnSeconds
	m.CurrentPlayer = m.CreatorID

	return nil
}

// Reveal opens cell (x, y) of the opponent's bomb grid for playerID. A bomb
// ends the game in the placer's favour; a coin passes the turn.
func Reveal(m *match.Match, playerID string, x, y int, turnSeconds int) (RevealResult, error) {
	if m.Phase != match.PhaseGameplay {
		return RevealResult{}, match.ErrWrongPhase
	}

	if playerID != m.CurrentPlayer {
		return RevealResult{}, match.ErrWrongTurn
	}

	if !m.RevealedGrid.InBounds(x, y) {
		return RevealResult{}, fmt.Errorf("%w: (%d,%d) on a %dx%d grid", match.ErrOutOfBounds, x, y, m.GridSize, m.GridSize)
	}

	if m.RevealedGrid[x][y] {
		return RevealResult{}, match.ErrAlreadyRevealed
	}

	opponent := m.Other(playerID)
	mines := m.BombPlacements[opponent]

	m.RevealedGrid[x][y] = true

	result := RevealResult{
		PlayerID: playerID,
		X:        x,
		Y:        y,
		Content:  match.ContentCoin,
	}

	if mines.InBounds(x, y) && mines[x][y] {
		result.Content = match.ContentBomb
		result.GameEnded = true
		result.Winner = opponent
		result.Round = m.Round

		return result, nil
	}

	m.CurrentPlayer = opponent
	m.Round++
	m.TimeLeftSeconds = turnSeconds

	result.Round = m.Round
	result.Next = opponent

	return result, nil
}

// TimeoutWinner is the participant who did not hold the turn when it ran out.
func TimeoutWinner(m *match.Match) string {
	return m.Other(m.CurrentPlayer)
}
