package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy roots. Every protocol failure wraps exactly one of these.
var (
	ErrStageViolation  = errors.New("stage violation")
	ErrWindowViolation = errors.New("window violation")
	ErrAuthorization   = errors.New("authorization failure")
	ErrResource        = errors.New("resource failure")
	ErrAlreadySettled  = errors.New("round already settled")
)

var (
	ErrSaleClosed      = fmt.Errorf("%w: sale closed", ErrWindowViolation)
	ErrWindowOpen      = fmt.Errorf("%w: sale window still open", ErrWindowViolation)
	ErrPrematureReveal = fmt.Errorf("%w: premature reveal", ErrWindowViolation)
	ErrExpiredReveal   = fmt.Errorf("%w: reveal deadline expired", ErrWindowViolation)
	ErrDeadlineNotDue  = fmt.Errorf("%w: reveal deadline has not passed", ErrWindowViolation)
	ErrVotingClosed    = fmt.Errorf("%w: voting closed", ErrWindowViolation)

	ErrNotOwner          = fmt.Errorf("%w: caller does not control the ticket", ErrAuthorization)
	ErrNotWinner         = fmt.Errorf("%w: ticket is not the winning ticket", ErrAuthorization)
	ErrAlreadyVoted      = fmt.Errorf("%w: already voted this round", ErrAuthorization)
	ErrNotAuthority      = fmt.Errorf("%w: caller is not the authority", ErrAuthorization)
	ErrStaleRequest      = fmt.Errorf("%w: randomness request is not the round's current request", ErrAuthorization)
	ErrBadRandomness     = fmt.Errorf("%w: oracle reveal failed verification", ErrAuthorization)
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrResource)
)

// Lookup and validation failures, outside the protocol taxonomy.
var (
	ErrNoRound         = errors.New("no round initialized")
	ErrRoundNotFound   = errors.New("round not found")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrCharityNotFound = errors.New("charity not found")
	ErrNoCharities     = errors.New("no charities registered")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRoundInProgress = errors.New("current round has not settled")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrReplayedRequest = errors.New("request already executed")
)

// StageError reports an operation attempted in the wrong round status.
type StageError struct {
	Op       string
	Expected []Status
	Actual   Status
}

func (e *StageError) Error() string {
	names := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		names[i] = s.String()
	}
	return fmt.Sprintf("%s: %s requires %s, round is %s",
		ErrStageViolation, e.Op, strings.Join(names, " or "), e.Actual)
}

func (e *StageError) Unwrap() error { return ErrStageViolation }

// NewStageError builds a StageError for op.
func NewStageError(op string, actual Status, expected ...Status) *StageError {
	return &StageError{Op: op, Expected: expected, Actual: actual}
}
