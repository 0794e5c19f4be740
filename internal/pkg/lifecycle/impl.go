package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"
	"github.com/vreid/minefield/internal/pkg/engine"
	"github.com/vreid/minefield/internal/pkg/escrow"
	"github.com/vreid/minefield/internal/pkg/events"
	"github.com/vreid/minefield/internal/pkg/match"
	"github.com/vreid/minefield/internal/pkg/registry"
	"github.com/vreid/minefield/internal/pkg/timer"
	"go.uber.org/zap"
)

// LifecycleService drives every match through create, join, placement,
// gameplay and end. Escrow calls happen outside the match's critical section.
type LifecycleService struct {
	Registry *registry.RegistryService
	Timers   *timer.TimerService
	Escrow   escrow.Service
	Events   events.Publisher

	OutcomeSink chan<- match.Outcome

	Clock  clockwork.Clock
	Log    *zap.Logger
	Config Config

	scheduler gocron.Scheduler
}

func NewLifecycleService(i do.Injector) (*LifecycleService, error) {
	reg := do.MustInvoke[*registry.RegistryService](i)
	timers := do.MustInvoke[*timer.TimerService](i)
	escrowService := do.MustInvoke[escrow.Service](i)
	bus := do.MustInvoke[*events.BusService](i)
	outcomeSink := do.MustInvokeNamed[chan<- match.Outcome](i, "outcome-sink")
	clock := do.MustInvoke[clockwork.Clock](i)
	logger := do.MustInvoke[*zap.Logger](i)

	placementSeconds := do.MustInvokeNamed[int](i, "placement-seconds")
	turnSeconds := do.MustInvokeNamed[int](i, "turn-seconds")
	purgeGraceSeconds := do.MustInvokeNamed[int](i, "purge-grace-seconds")
	matchTTLMinutes := do.MustInvokeNamed[int](i, "match-ttl-minutes")

	config := Config{
		PlacementSeconds: placementSeconds,
		TurnSeconds:      turnSeconds,
		PurgeGrace:       time.Duration(purgeGraceSeconds) * time.Second,
		MatchTTL:         time.Duration(matchTTLMinutes) * time.Minute,
	}

	return New(reg, timers, escrowService, bus, outcomeSink, clock, logger, config), nil
}

func New(
	reg *registry.RegistryService,
	timers *timer.TimerService,
	escrowService escrow.Service,
	publisher events.Publisher,
	outcomeSink chan<- match.Outcome,
	clock clockwork.Clock,
	logger *zap.Logger,
	config Config) *LifecycleService {
	return &LifecycleService{
		Registry:    reg,
		Timers:      timers,
		Escrow:      escrowService,
		Events:      publisher,
		OutcomeSink: outcomeSink,
		Clock:       clock,
		Log:         logger,
		Config:      config,
	}
}

func upstream(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", match.ErrUpstream, action, err)
}

func (s *LifecycleService) Create(ctx context.Context, spec match.Spec) (match.View, error) {
	size, err := match.ValidateSpec(spec)
	if err != nil {
		return match.View{}, err
	}

	check, err := s.Escrow.ValidateFunds(ctx, spec.CreatorID, spec.BetAmount)
	if err != nil {
		return match.View{}, upstream("validate funds", err)
	}

	if !check.Valid {
		return match.View{}, fmt.Errorf("%w: %s has %d, bet is %d",
			match.ErrInsufficientFunds, spec.CreatorID, check.Balance, spec.BetAmount)
	}

	walletRef, err := s.Escrow.CreateWallet(ctx)
	if err != nil {
		return match.View{}, upstream("create wallet", err)
	}

	m := match.New(spec, size, walletRef, s.Clock.Now())

	matchID, err := s.Registry.Create(m)
	if err != nil {
		return match.View{}, fmt.Errorf("failed to register match: %w", err)
	}

	var view match.View

	fx := &effects{openChanged: true}

	err = s.Registry.Do(matchID, func(m *match.Match) error {
		s.armPlacement(m)
		view = m.View()

		return nil
	})

	s.flush(ctx, fx)

	s.Log.Info("match created",
		zap.String("match_id", matchID),
		zap.String("player_id", spec.CreatorID),
		zap.String("grid_size", spec.SizeLabel),
		zap.Int("bomb_count", spec.BombCount),
		zap.Int64("bet_amount", spec.BetAmount))

	return view, err
}

//nolint:cyclop,funlen
func (s *LifecycleService) Join(ctx context.Context, matchID, playerID string, bet int64) (match.View, error) {
	if playerID == "" {
		return match.View{}, match.ErrPlayerID
	}

	var creatorID, walletRef string

	err := s.Registry.Do(matchID, func(m *match.Match) error {
		switch {
		case m.Ended():
			return match.ErrWrongPhase
		case m.CreatorID == playerID:
			return match.ErrSelfJoin
		case m.Status != match.StatusWaiting || m.Joining != "":
			return match.ErrAlreadyFull
		case bet != m.BetAmount:
			return fmt.Errorf("%w: got %d, want %d", match.ErrBetMismatch, bet, m.BetAmount)
		}

		m.Joining = playerID
		creatorID = m.CreatorID
		walletRef = m.WalletRef

		return nil
	})
	if err != nil {
		return match.View{}, err
	}

	err = s.collectStakes(ctx, walletRef, creatorID, playerID, bet)
	if err != nil {
		_ = s.Registry.Do(matchID, func(m *match.Match) error {
			if m.Joining == playerID {
				m.Joining = ""
			}

			return nil
		})

		s.Log.Warn("join aborted",
			zap.String("match_id", matchID),
			zap.String("player_id", playerID),
			zap.Error(err))

		return match.View{}, err
	}

	var view match.View

	fx := &effects{}

	err = s.Registry.Do(matchID, func(m *match.Match) error {
		if m.Ended() || m.Joining != playerID {
			return match.ErrWrongPhase
		}

		m.Joining = ""
		m.OpponentID = playerID
		m.Status = match.StatusInProgress

		s.armPlacement(m)

		fx.openChanged = true
		fx.emit(events.MatchStarted(m))

		view = m.View()

		return nil
	})
	if err != nil {
		// the match went away while stakes were in flight
		s.refund(ctx, matchID, walletRef, creatorID, bet)
		s.refund(ctx, matchID, walletRef, playerID, bet)

		s.flush(ctx, fx)

		return match.View{}, err
	}

	s.flush(ctx, fx)

	s.Log.Info("match joined",
		zap.String("match_id", matchID),
		zap.String("player_id", playerID))

	return view, nil
}

// collectStakes moves both bets into escrow, or neither.
func (s *LifecycleService) collectStakes(ctx context.Context, walletRef, creatorID, joinerID string, bet int64) error {
	for _, playerID := range []string{creatorID, joinerID} {
		check, err := s.Escrow.ValidateFunds(ctx, playerID, bet)
		if err != nil {
			return upstream("validate funds", err)
		}

		if !check.Valid {
			return fmt.Errorf("%w: %s has %d, bet is %d", match.ErrInsufficientFunds, playerID, check.Balance, bet)
		}
	}

	err := s.Escrow.TransferIn(ctx, creatorID, walletRef, bet)
	if err != nil {
		return upstream("transfer creator stake", err)
	}

	err = s.Escrow.TransferIn(ctx, joinerID, walletRef, bet)
	if err != nil {
		s.refund(ctx, "", walletRef, creatorID, bet)

		return upstream("transfer joiner stake", err)
	}

	return nil
}

func (s *LifecycleService) refund(ctx context.Context, matchID, walletRef, playerID string, amount int64) {
	err := s.Escrow.Refund(ctx, walletRef, playerID, amount)
	if err != nil {
		s.Log.Error("refund failed, needs reconciliation",
			zap.String("match_id", matchID),
			zap.String("wallet_ref", walletRef),
			zap.String("player_id", playerID),
			zap.Int64("amount", amount),
			zap.Error(err))
	}
}

func (s *LifecycleService) ConfirmPlacement(ctx context.Context, matchID, playerID string, grid match.Grid) error {
	fx := &effects{}

	err := s.Registry.Do(matchID, func(m *match.Match) error {
		ready, err := engine.ConfirmPlacement(m, playerID, grid)
		if err != nil {
			return err
		}

		if !ready {
			fx.emit(events.StateUpdated(m))

			return nil
		}

		s.Timers.Cancel(m.ID)
		m.TimerToken = 0

		return s.startGameplayLocked(m, fx)
	})

	s.flush(ctx, fx)

	return err
}

func (s *LifecycleService) RevealCell(ctx context.Context, matchID, playerID string, x, y int) (engine.RevealResult, error) {
	var result engine.RevealResult

	fx := &effects{}

	err := s.Registry.Do(matchID, func(m *match.Match) error {
		var err error

		result, err = engine.Reveal(m, playerID, x, y, s.Config.TurnSeconds)
		if err != nil {
			return err
		}

		fx.emit(events.CellRevealed(m, result))

		if result.GameEnded {
			s.endLocked(m, result.Winner, match.ReasonMine, fx)

			return nil
		}

		s.armTurn(m)
		fx.emit(events.StateUpdated(m))

		return nil
	})

	s.flush(ctx, fx)

	return result, err
}

// Exit withdraws an unjoined match or forfeits an active one to the other participant.
func (s *LifecycleService) Exit(ctx context.Context, matchID, playerID string) error {
	fx := &effects{}

	err := s.Registry.Do(matchID, func(m *match.Match) error {
		return s.exitLocked(m, playerID, fx)
	})

	s.flush(ctx, fx)

	return err
}

func (s *LifecycleService) exitLocked(m *match.Match, playerID string, fx *effects) error {
	if m.Ended() {
		return nil
	}

	if !m.IsParticipant(playerID) {
		return match.ErrNotParticipant
	}

	if m.OpponentID == "" {
		s.endLocked(m, "", match.ReasonWithdrawn, fx)

		return nil
	}

	s.endLocked(m, m.Other(playerID), match.ReasonForfeit, fx)

	return nil
}

// Disconnect applies Exit to every live match playerID takes part in and
// returns how many were affected.
func (s *LifecycleService) Disconnect(ctx context.Context, playerID string) int {
	ids := s.Registry.Select(func(m *match.Match) bool {
		return !m.Ended() && m.IsParticipant(playerID)
	})

	fx := &effects{}
	count := 0

	for _, matchID := range ids {
		err := s.Registry.Do(matchID, func(m *match.Match) error {
			if m.Ended() {
				return nil
			}

			count++

			return s.exitLocked(m, playerID, fx)
		})
		if err != nil && !errors.Is(err, match.ErrNotFound) {
			s.Log.Warn("disconnect handling failed",
				zap.String("match_id", matchID),
				zap.String("player_id", playerID),
				zap.Error(err))
		}
	}

	s.flush(ctx, fx)

	return count
}

// ReclaimStale ends every unfinished match older than the configured TTL
// with no winner.
func (s *LifecycleService) ReclaimStale(ctx context.Context) int {
	cutoff := s.Clock.Now().Add(-s.Config.MatchTTL)

	stale := func(m *match.Match) bool {
		return !m.Ended() && m.CreatedAt.Before(cutoff)
	}

	fx := &effects{}
	count := 0

	for _, matchID := range s.Registry.Select(stale) {
		_ = s.Registry.Do(matchID, func(m *match.Match) error {
			if stale(m) && s.endLocked(m, "", match.ReasonAbandoned, fx) {
				count++
			}

			return nil
		})
	}

	s.flush(ctx, fx)

	return count
}

// EndMatch terminates a match. Ending an ended match changes nothing.
func (s *LifecycleService) EndMatch(ctx context.Context, matchID, winner string, reason match.EndReason) error {
	fx := &effects{}

	err := s.Registry.Do(matchID, func(m *match.Match) error {
		if winner != "" && !m.IsParticipant(winner) {
			return match.ErrNotParticipant
		}

		s.endLocked(m, winner, reason, fx)

		return nil
	})

	s.flush(ctx, fx)

	return err
}

func (s *LifecycleService) Get(matchID string) (match.View, error) {
	m, err := s.Registry.Get(matchID)
	if err != nil {
		return match.View{}, err
	}

	return m.View(), nil
}

func (s *LifecycleService) ListOpen() []match.Listing {
	return s.Registry.ListOpen()
}

func (s *LifecycleService) armPlacement(m *match.Match) {
	m.TimeLeftSeconds = s.Config.PlacementSeconds
	m.TimerToken = s.Timers.Arm(m.ID, s.Config.PlacementSeconds, s.tick(m.ID), s.placementExpired(m.ID))
}

func (s *LifecycleService) armTurn(m *match.Match) {
	m.TimeLeftSeconds = s.Config.TurnSeconds
	m.TimerToken = s.Timers.Arm(m.ID, s.Config.TurnSeconds, s.tick(m.ID), s.turnExpired(m.ID))
}

func (s *LifecycleService) tick(matchID string) timer.Tick {
	return func(token uint64, left int) bool {
		err := s.Registry.Do(matchID, func(m *match.Match) error {
			if m.TimerToken == token {
				m.TimeLeftSeconds = left
			}

			return nil
		})

		return err == nil
	}
}

// expired funnels a countdown's expiry through the match's serialization
// point; a superseded countdown finds a different token and does nothing.
func (s *LifecycleService) expired(matchID string, handle func(m *match.Match, fx *effects) error) timer.Expire {
	return func(token uint64) {
		fx := &effects{}

		err := s.Registry.Do(matchID, func(m *match.Match) error {
			if m.TimerToken != token || m.Ended() {
				return nil
			}

			m.TimerToken = 0
			m.TimeLeftSeconds = 0

			return handle(m, fx)
		})
		if err != nil && !errors.Is(err, match.ErrNotFound) {
			s.Log.Error("timer expiry failed", zap.String("match_id", matchID), zap.Error(err))
		}

		s.flush(context.Background(), fx)
	}
}

func (s *LifecycleService) placementExpired(matchID string) timer.Expire {
	return s.expired(matchID, func(m *match.Match, fx *effects) error {
		if m.Phase != match.PhasePlacement {
			return nil
		}

		filled, err := engine.AutoFill(m)
		if err != nil {
			return err
		}

		s.Log.Info("placement window closed",
			zap.String("match_id", m.ID),
			zap.Strings("auto_filled", filled))

		if m.OpponentID == "" {
			// keeps waiting for an opponent with the creator's grid in place
			fx.emit(events.StateUpdated(m))

			return nil
		}

		return s.startGameplayLocked(m, fx)
	})
}

func (s *LifecycleService) turnExpired(matchID string) timer.Expire {
	return s.expired(matchID, func(m *match.Match, fx *effects) error {
		if m.Phase != match.PhaseGameplay {
			return nil
		}

		s.Log.Info("turn timed out",
			zap.String("match_id", m.ID),
			zap.String("player_id", m.CurrentPlayer),
			zap.Int("round", m.Round))

		s.endLocked(m, engine.TimeoutWinner(m), match.ReasonTimeout, fx)

		return nil
	})
}

func (s *LifecycleService) startGameplayLocked(m *match.Match, fx *effects) error {
	err := engine.StartGameplay(m, s.Config.TurnSeconds)
	if err != nil {
		return err
	}

	s.armTurn(m)
	fx.emit(events.StateUpdated(m))

	return nil
}

// endLocked is the single terminal transition. It reports whether this call
// ended the match.
func (s *LifecycleService) endLocked(m *match.Match, winner string, reason match.EndReason, fx *effects) bool {
	if m.Ended() {
		return false
	}

	wasOpen := m.Status == match.StatusWaiting

	s.Timers.Cancel(m.ID)

	m.TimerToken = 0
	m.TimeLeftSeconds = 0
	m.Joining = ""
	m.Status = match.StatusCompleted
	m.Phase = match.PhaseEnded
	m.Winner = winner
	m.EndReason = reason

	fx.emit(events.MatchEnded(m))
	fx.outcomes = append(fx.outcomes, match.Outcome{
		MatchID:   m.ID,
		WalletRef: m.WalletRef,
		Winner:    winner,
		Reason:    reason,
		Total:     m.Pot(),
		EndedAt:   s.Clock.Now(),
	})
	fx.purge = append(fx.purge, m.ID)
	fx.openChanged = fx.openChanged || wasOpen

	s.Log.Info("match ended",
		zap.String("match_id", m.ID),
		zap.String("winner", winner),
		zap.String("reason", string(reason)),
		zap.Int("round", m.Round))

	return true
}

func (s *LifecycleService) flush(ctx context.Context, fx *effects) {
	for _, event := range fx.events {
		s.publish(ctx, event)
	}

	if fx.openChanged {
		s.publish(ctx, events.OpenGamesChanged(s.Registry.ListOpen()))
	}

	for _, outcome := range fx.outcomes {
		if s.OutcomeSink != nil {
			s.OutcomeSink <- outcome
		}
	}

	for _, matchID := range fx.purge {
		s.schedulePurge(matchID)
	}
}

func (s *LifecycleService) publish(ctx context.Context, event events.Event) {
	if s.Events == nil {
		return
	}

	err := s.Events.Publish(ctx, event)
	if err != nil {
		s.Log.Warn("failed to publish event",
			zap.String("match_id", event.MatchID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

func (s *LifecycleService) schedulePurge(matchID string) {
	if s.Config.PurgeGrace <= 0 {
		s.Registry.Remove(matchID)

		return
	}

	s.Clock.AfterFunc(s.Config.PurgeGrace, func() {
		s.Registry.Remove(matchID)
	})
}
