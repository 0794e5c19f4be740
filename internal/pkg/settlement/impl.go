package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"
	"github.com/vreid/minefield/internal/pkg/common"
	"github.com/vreid/minefield/internal/pkg/escrow"
	"github.com/vreid/minefield/internal/pkg/match"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// SettlementService pays out ended matches and journals the result so a
// match is never paid twice.
type SettlementService struct {
	DatabaseService *common.DatabaseService
	Escrow          escrow.Service

	OutcomeSource <-chan match.Outcome

	Clock clockwork.Clock
	Log   *zap.Logger
}

func NewSettlementService(i do.Injector) (*SettlementService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	escrowService := do.MustInvoke[escrow.Service](i)
	outcomeSource := do.MustInvokeNamed[<-chan match.Outcome](i, "outcome-source")
	clock := do.MustInvoke[clockwork.Clock](i)
	logger := do.MustInvoke[*zap.Logger](i)

	result := &SettlementService{
		DatabaseService: databaseService,
		Escrow:          escrowService,

		OutcomeSource: outcomeSource,

		Clock: clock,
		Log:   logger,
	}

	return result, nil
}

func (s *SettlementService) Start() {
	go s.processOutcomes()
}

func (s *SettlementService) processOutcomes() {
	for outcome := range s.OutcomeSource {
		record, err := s.HandleOutcome(context.Background(), outcome)
		if err != nil {
			s.Log.Error("settlement failed",
				zap.String("match_id", outcome.MatchID),
				zap.String("wallet_ref", outcome.WalletRef),
				zap.String("winner", outcome.Winner),
				zap.Int64("total", outcome.Total),
				zap.Error(err))

			continue
		}

		s.Log.Info("match settled",
			zap.String("match_id", record.MatchID),
			zap.String("status", string(record.Status)),
			zap.Int("attempts", record.Attempts))
	}
}

// HandleOutcome settles one outcome. A match already journaled as paid is
// returned untouched.
func (s *SettlementService) HandleOutcome(ctx context.Context, outcome match.Outcome) (Record, error) {
	previous, err := s.Get(outcome.MatchID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return Record{}, err
	}

	if previous.Status == StatusPaid {
		return previous, nil
	}

	record := Record{
		MatchID:   outcome.MatchID,
		WalletRef: outcome.WalletRef,
		Winner:    outcome.Winner,
		Reason:    outcome.Reason,
		Total:     outcome.Total,
		Attempts:  previous.Attempts + 1,
		EndedAt:   outcome.EndedAt,
	}

	var payoutErr error

	switch {
	case outcome.Winner != "" && outcome.Total > 0:
		payoutErr = s.Escrow.PayoutWinner(ctx, outcome.WalletRef, outcome.Winner, outcome.Total)
		if payoutErr != nil {
			record.Status = StatusPayoutFailed
			record.Error = payoutErr.Error()
		} else {
			record.Status = StatusPaid
		}
	case outcome.Total > 0:
		record.Status = StatusAbandoned
	default:
		record.Status = StatusCancelled
	}

	record.SettledAt = s.Clock.Now()

	err = s.put(record)
	if err != nil {
		return record, err
	}

	if payoutErr != nil {
		return record, fmt.Errorf("failed to pay out winner: %w", payoutErr)
	}

	return record, nil
}

func (s *SettlementService) put(record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode settlement record: %w", err)
	}

	err = s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(common.SettlementRecordsBucket))
		if records == nil {
			return ErrRecordsBucketNotFound
		}

		err := records.Put([]byte(record.MatchID), data)
		if err != nil {
			return fmt.Errorf("failed to put settlement record: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to journal settlement: %w", err)
	}

	return nil
}

func (s *SettlementService) Get(matchID string) (Record, error) {
	var record Record

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(common.SettlementRecordsBucket))
		if records == nil {
			return ErrRecordsBucketNotFound
		}

		data := records.Get([]byte(matchID))
		if data == nil {
			return ErrRecordNotFound
		}

		err := json.Unmarshal(data, &record)
		if err != nil {
			return fmt.Errorf("failed to decode settlement record: %w", err)
		}

		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to read settlement %s: %w", matchID, err)
	}

	return record, nil
}
