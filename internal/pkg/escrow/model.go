package escrow

import (
	"context"
	"errors"

	"github.com/samber/do/v2"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownWallet     = errors.New("unknown wallet")
	ErrRemote            = errors.New("escrow service error")
)

type FundsCheck struct {
	Valid   bool  `json:"valid"`
	Balance int64 `json:"balance"`
}

// Service is the payment collaborator holding a match's combined wager.
// Every call may fail and none of them are trusted to be fast.
type Service interface {
	CreateWallet(ctx context.Context) (string, error)
	ValidateFunds(ctx context.Context, playerID string, amount int64) (FundsCheck, error)
	TransferIn(ctx context.Context, playerID, walletRef string, amount int64) error
	PayoutWinner(ctx context.Context, walletRef, winnerID string, total int64) error
	Refund(ctx context.Context, walletRef, playerID string, amount int64) error
}

// NewEscrowService talks to a remote escrow when escrow-url is set and falls
// back to an in-memory ledger otherwise.
func NewEscrowService(i do.Injector) (Service, error) {
	escrowURL := do.MustInvokeNamed[string](i, "escrow-url")
	escrowToken := do.MustInvokeNamed[string](i, "escrow-token")
	devBalance := do.MustInvokeNamed[int64](i, "dev-balance")

	if escrowURL != "" {
		return NewHTTPService(escrowURL, escrowToken), nil
	}

	return NewMemoryService(devBalance), nil
}

type transferRequest struct {
	PlayerID string `json:"player_id"`
	Amount   int64  `json:"amount"`
}

type walletResponse struct {
	WalletRef string `json:"wallet_ref"`
}
