package timer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"
)

// Tick receives the remaining seconds after each elapsed second. Returning
// false means the match is gone and the countdown stops without expiring.
type Tick func(token uint64, left int) bool

// Expire runs at most once per armed countdown, when it reaches zero.
type Expire func(token uint64)

type entry struct {
	token  uint64
	cancel context.CancelFunc
}

// TimerService owns at most one live countdown per match id.
type TimerService struct {
	clock clockwork.Clock

	mu     sync.Mutex
	timers map[string]entry
	seq    uint64
}

func NewTimerService(i do.Injector) (*TimerService, error) {
	clock := do.MustInvoke[clockwork.Clock](i)

	return New(clock), nil
}

func New(clock clockwork.Clock) *TimerService {
	return &TimerService{
		clock:  clock,
		timers: map[string]entry{},
	}
}

// Arm replaces any countdown for matchID with a new one of the given length
// and returns the token identifying it. Non-positive lengths expire on the
// first tick.
func (s *TimerService) Arm(matchID string, seconds int, tick Tick, expire Expire) uint64 {
	ctx, cancel := context.WithCancel(context.Background())

	// created before Arm returns so a clock advance right after arming is observed
	ticker := s.clock.NewTicker(time.Second)

	s.mu.Lock()
	if previous, ok := s.timers[matchID]; ok {
		previous.cancel()
	}

	s.seq++
	token := s.seq
	s.timers[matchID] = entry{token: token, cancel: cancel}
	s.mu.Unlock()

	go s.run(ctx, ticker, matchID, token, seconds, tick, expire)

	return token
}

func (s *TimerService) run(
	ctx context.Context,
	ticker clockwork.Ticker,
	matchID string,
	token uint64,
	left int,
	tick Tick,
	expire Expire) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		left = max(left-1, 0)

		if ctx.Err() != nil {
			return
		}

		if !tick(token, left) {
			s.clear(matchID, token)

			return
		}

		if left == 0 {
			if s.clear(matchID, token) {
				expire(token)
			}

			return
		}
	}
}

// clear drops the entry if it still belongs to token and reports whether it did.
func (s *TimerService) clear(matchID string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.timers[matchID]
	if !ok || current.token != token {
		return false
	}

	current.cancel()
	delete(s.timers, matchID)

	return true
}

// Cancel stops the countdown for matchID, if any.
func (s *TimerService) Cancel(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.timers[matchID]; ok {
		current.cancel()
		delete(s.timers, matchID)
	}
}

func (s *TimerService) Active(matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[matchID]

	return ok
}

func (s *TimerService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

// Shutdown cancels every countdown.
func (s *TimerService) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for matchID, current := range s.timers {
		current.cancel()
		delete(s.timers, matchID)
	}

	return nil
}
