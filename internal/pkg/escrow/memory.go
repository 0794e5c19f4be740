package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryService keeps balances and wallet holdings in process. Players start
// with StartingBalance the first time they are seen.
type MemoryService struct {
	mu       sync.Mutex
	balances map[string]int64
	wallets  map[string]map[string]int64

	StartingBalance int64
}

func NewMemoryService(startingBalance int64) *MemoryService {
	return &MemoryService{
		balances:        map[string]int64{},
		wallets:         map[string]map[string]int64{},
		StartingBalance: startingBalance,
	}
}

func (s *MemoryService) balanceLocked(playerID string) int64 {
	balance, ok := s.balances[playerID]
	if !ok {
		balance = s.StartingBalance
		s.balances[playerID] = balance
	}

	return balance
}

func (s *MemoryService) SetBalance(playerID string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[playerID] = amount
}

func (s *MemoryService) Balance(playerID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.balanceLocked(playerID)
}

// Held is the total currently escrowed in walletRef.
func (s *MemoryService) Held(walletRef string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := int64(0)
	for _, amount := range s.wallets[walletRef] {
		total += amount
	}

	return total
}

func (s *MemoryService) CreateWallet(_ context.Context) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate wallet ref: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	walletRef := "wallet-" + id.String()
	s.wallets[walletRef] = map[string]int64{}

	return walletRef, nil
}

func (s *MemoryService) ValidateFunds(_ context.Context, playerID string, amount int64) (FundsCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.balanceLocked(playerID)

	return FundsCheck{
		Valid:   balance >= amount,
		Balance: balance,
	}, nil
}

func (s *MemoryService) TransferIn(_ context.Context, playerID, walletRef string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holdings, ok := s.wallets[walletRef]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, walletRef)
	}

	balance := s.balanceLocked(playerID)
	if balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, playerID, balance, amount)
	}

	s.balances[playerID] = balance - amount
	holdings[playerID] += amount

	return nil
}

func (s *MemoryService) PayoutWinner(_ context.Context, walletRef, winnerID string, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holdings, ok := s.wallets[walletRef]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, walletRef)
	}

	held := int64(0)
	for _, amount := range holdings {
		held += amount
	}

	if held < total {
		return fmt.Errorf("%w: wallet %s holds %d, payout is %d", ErrInsufficientFunds, walletRef, held, total)
	}

	s.balances[winnerID] = s.balanceLocked(winnerID) + total
	s.wallets[walletRef] = map[string]int64{}

	return nil
}

func (s *MemoryService) Refund(_ context.Context, walletRef, playerID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holdings, ok := s.wallets[walletRef]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWallet, walletRef)
	}

	if holdings[playerID] < amount {
		return fmt.Errorf("%w: %s holds %d for %s", ErrInsufficientFunds, walletRef, holdings[playerID], playerID)
	}

	holdings[playerID] -= amount
	s.balances[playerID] = s.balanceLocked(playerID) + amount

	return nil
}
