package match

import (
	"errors"
	"fmt"
)

// Error classes. Every reason below wraps exactly one of them.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUpstream     = errors.New("upstream failure")
)

var (
	ErrAlreadyFull      = fmt.Errorf("%w: match already full", ErrConflict)
	ErrSelfJoin         = fmt.Errorf("%w: cannot join own match", ErrConflict)
	ErrWrongPhase       = fmt.Errorf("%w: wrong phase", ErrConflict)
	ErrWrongTurn        = fmt.Errorf("%w: not your turn", ErrConflict)
	ErrAlreadyRevealed  = fmt.Errorf("%w: cell already revealed", ErrConflict)
	ErrAlreadyConfirmed = fmt.Errorf("%w: placement already confirmed", ErrConflict)
	ErrNotParticipant   = fmt.Errorf("%w: not a participant", ErrConflict)

	ErrBetMismatch   = fmt.Errorf("%w: bet does not match", ErrInvalidInput)
	ErrOutOfBounds   = fmt.Errorf("%w: coordinates out of bounds", ErrInvalidInput)
	ErrMalformedGrid = fmt.Errorf("%w: malformed grid", ErrInvalidInput)
	ErrBombCount     = fmt.Errorf("%w: wrong bomb count", ErrInvalidInput)
	ErrGridSize      = fmt.Errorf("%w: unknown grid size", ErrInvalidInput)
	ErrBetAmount     = fmt.Errorf("%w: bet must be positive", ErrInvalidInput)
	ErrPlayerID      = fmt.Errorf("%w: missing player id", ErrInvalidInput)

	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrUpstream)
)

// ValidateSpec checks a create request and returns the grid dimension for its label.
func ValidateSpec(spec Spec) (int, error) {
	if spec.CreatorID == "" {
		return 0, ErrPlayerID
	}

	size, ok := GridSizes[spec.SizeLabel]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrGridSize, spec.SizeLabel)
	}

	if spec.BombCount < 1 || spec.BombCount >= size*size {
		return 0, fmt.Errorf("%w: %d bombs on a %s grid", ErrBombCount, spec.BombCount, spec.SizeLabel)
	}

	if spec.BetAmount <= 0 {
		return 0, ErrBetAmount
	}

	return size, nil
}
