package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/vreid/minefield/internal/pkg/match"
)

type Status string

const (
	StatusPaid         Status = "paid"
	StatusPayoutFailed Status = "payout_failed"
	// StatusAbandoned means stakes sit in escrow with no winner.
	StatusAbandoned Status = "abandoned"
	// StatusCancelled means the match ended before anything was escrowed.
	StatusCancelled Status = "cancelled"
)

var (
	ErrRecordsBucketNotFound = errors.New("records bucket doesn't exist")
	ErrRecordNotFound        = fmt.Errorf("%w: no settlement record", match.ErrNotFound)
)

// Record is the journal entry for one ended match.
type Record struct {
	MatchID   string          `json:"match_id"`
	WalletRef string          `json:"wallet_ref"`
	Winner    string          `json:"winner,omitempty"`
	Reason    match.EndReason `json:"reason"`
	Total     int64           `json:"total"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Attempts  int             `json:"attempts"`
	EndedAt   time.Time       `json:"ended_at"`
	SettledAt time.Time       `json:"settled_at"`
}
