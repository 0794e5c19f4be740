package events

import (
	"github.com/vreid/minefield/internal/pkg/engine"
	"github.com/vreid/minefield/internal/pkg/match"
)

// Kind identifies an outbound event.
type Kind string

const (
	KindOpenGamesChanged Kind = "open-games-changed"
	KindMatchStarted     Kind = "match-started"
	KindStateUpdated     Kind = "state-updated"
	KindCellRevealed     Kind = "cell-revealed"
	KindMatchEnded       Kind = "match-ended"
)

// Event is delivered to Recipients, or to everyone when Recipients is empty.
type Event struct {
	Kind       Kind     `json:"type"`
	MatchID    string   `json:"match_id,omitempty"`
	Payload    any      `json:"payload"`
	Recipients []string `json:"-"`
}

type OpenGamesPayload struct {
	Games []match.Listing `json:"games"`
}

type StatePayload struct {
	match.View
}

type CellRevealedPayload struct {
	engine.RevealResult
}

type MatchEndedPayload struct {
	Winner string          `json:"winner,omitempty"`
	Reason match.EndReason `json:"reason"`
}

func OpenGamesChanged(games []match.Listing) Event {
	return Event{
		Kind:    KindOpenGamesChanged,
		Payload: OpenGamesPayload{Games: games},
	}
}

func MatchStarted(m *match.Match) Event {
	return Event{
		Kind:       KindMatchStarted,
		MatchID:    m.ID,
		Payload:    StatePayload{View: m.View()},
		Recipients: m.Participants(),
	}
}

func StateUpdated(m *match.Match) Event {
	return Event{
		Kind:       KindStateUpdated,
		MatchID:    m.ID,
		Payload:    StatePayload{View: m.View()},
		Recipients: m.Participants(),
	}
}

func CellRevealed(m *match.Match, result engine.RevealResult) Event {
	return Event{
		Kind:       KindCellRevealed,
		MatchID:    m.ID,
		Payload:    CellRevealedPayload{RevealResult: result},
		Recipients: m.Participants(),
	}
}

func MatchEnded(m *match.Match) Event {
	return Event{
		Kind:    KindMatchEnded,
		MatchID: m.ID,
		Payload: MatchEndedPayload{
			Winner: m.Winner,
			Reason: m.EndReason,
		},
		Recipients: m.Participants(),
	}
}
