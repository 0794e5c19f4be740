package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"
	"github.com/vreid/minefield/internal/pkg/match"
)

const maxIDAttempts = 8

// slot serializes every command addressed to one match id.
type slot struct {
	mu    sync.Mutex
	match *match.Match
	gone  bool
}

// RegistryService is the authoritative collection of live matches. The
// registry lock is never held while a slot lock is being acquired.
type RegistryService struct {
	mu    sync.RWMutex
	slots map[string]*slot

	clock clockwork.Clock
	newID func() (string, error)
}

func NewRegistryService(i do.Injector) (*RegistryService, error) {
	clock := do.MustInvoke[clockwork.Clock](i)

	return New(clock), nil
}

func New(clock clockwork.Clock) *RegistryService {
	return &RegistryService{
		slots: map[string]*slot{},
		clock: clock,
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", fmt.Errorf("failed to generate match id: %w", err)
			}

			return id.String(), nil
		},
	}
}

// WithIDGenerator swaps the id source, for tests that need collisions.
func (s *RegistryService) WithIDGenerator(gen func() (string, error)) *RegistryService {
	s.newID = gen

	return s
}

// Create assigns a fresh id and creation time to m and stores it.
func (s *RegistryService) Create(m *match.Match) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range maxIDAttempts {
		id, err := s.newID()
		if err != nil {
			return "", err
		}

		if _, taken := s.slots[id]; taken {
			continue
		}

		m.ID = id
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.clock.Now()
		}

		s.slots[id] = &slot{match: m}

		return id, nil
	}

	return "", fmt.Errorf("failed to allocate a unique match id after %d attempts", maxIDAttempts)
}

func (s *RegistryService) lookup(id string) (*slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.slots[id]

	return sl, ok
}

// Do runs fn with exclusive ownership of the match. Commands for the same id
// never overlap; commands for different ids run independently.
func (s *RegistryService) Do(id string, fn func(m *match.Match) error) error {
	sl, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("%w: match %s", match.ErrNotFound, id)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.gone {
		return fmt.Errorf("%w: match %s", match.ErrNotFound, id)
	}

	return fn(sl.match)
}

func (s *RegistryService) Get(id string) (match.Match, error) {
	var result match.Match

	err := s.Do(id, func(m *match.Match) error {
		result = m.Snapshot()

		return nil
	})

	return result, err
}

func (s *RegistryService) all() []*slot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		result = append(result, sl)
	}

	return result
}

// Select returns the ids of live matches for which pred holds. pred runs
// under each match's lock in turn.
func (s *RegistryService) Select(pred func(m *match.Match) bool) []string {
	var result []string

	for _, sl := range s.all() {
		sl.mu.Lock()
		if !sl.gone && pred(sl.match) {
			result = append(result, sl.match.ID)
		}
		sl.mu.Unlock()
	}

	return result
}

// ListOpen returns every joinable match, newest first.
func (s *RegistryService) ListOpen() []match.Listing {
	result := []match.Listing{}

	for _, sl := range s.all() {
		sl.mu.Lock()
		if !sl.gone && sl.match.Status == match.StatusWaiting {
			result = append(result, sl.match.Listing())
		}
		sl.mu.Unlock()
	}

	sort.Slice(result, func(a, b int) bool {
		if result[a].CreatedAt.Equal(result[b].CreatedAt) {
			return result[a].ID > result[b].ID
		}

		return result[a].CreatedAt.After(result[b].CreatedAt)
	})

	return result
}

// Remove drops a match. Removing an unknown id is a no-op.
func (s *RegistryService) Remove(id string) {
	s.mu.Lock()
	sl, ok := s.slots[id]
	delete(s.slots, id)
	s.mu.Unlock()

	if !ok {
		return
	}

	sl.mu.Lock()
	sl.gone = true
	sl.mu.Unlock()
}

func (s *RegistryService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.slots)
}
