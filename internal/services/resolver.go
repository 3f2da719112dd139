package services

import (
	"fmt"

	"charitylottery/internal/models"
	"charitylottery/internal/oracle"
)

// WinnerIndex maps a revealed random value onto a ticket index. ok is false
// when no tickets were sold.
func WinnerIndex(value, ticketCount uint64) (index uint64, ok bool) {
	if ticketCount == 0 {
		return 0, false
	}
	return value % ticketCount, true
}

// consumeRequest takes the request by value and returns it marked revealed,
// with the winning index. A revealed request cannot be consumed again.
func consumeRequest(req models.RandomnessRequest, rev *oracle.Reveal, ticketCount uint64) (models.RandomnessRequest, uint64, error) {
	if req.Revealed {
		return req, 0, models.NewStageError("resolve", models.StatusRevealed, models.StatusCommitted)
	}
	winner, ok := WinnerIndex(rev.Value, ticketCount)
	if !ok {
		return req, 0, fmt.Errorf("%w: no tickets to resolve", models.ErrInvalidArgument)
	}
	req.Revealed = true
	req.RevealedValue = rev.Value
	req.Proof = rev.Proof
	return req, winner, nil
}
