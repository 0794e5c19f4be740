package lifecycle

import (
	"time"

	"github.com/vreid/minefield/internal/pkg/events"
	"github.com/vreid/minefield/internal/pkg/match"
)

type Config struct {
	PlacementSeconds int
	TurnSeconds      int

	// PurgeGrace is how long an ended match stays readable before removal.
	PurgeGrace time.Duration
	// MatchTTL is the age after which an unfinished match is reclaimed.
	MatchTTL time.Duration
}

// effects collects what a command produced while it held the match, to be
// applied after the match is released.
type effects struct {
	events      []events.Event
	outcomes    []match.Outcome
	purge       []string
	openChanged bool
}

func (fx *effects) emit(event events.Event) {
	fx.events = append(fx.events, event)
}
