package services

import (
	"fmt"
	"math"

	"charitylottery/internal/models"
	"charitylottery/internal/oracle"
)

// The functions in this file are the round state machine. Each one takes a
// round by value and the caller-supplied slot, and returns the next round or
// an error. None of them touch the ledger; the service persists the result.

// lockDue reports whether an open round has passed its sale window.
func lockDue(r *models.Round, now uint64) bool {
	return r.Status == models.StatusOpen && now > r.WindowEnd
}

func applyPurchase(r models.Round, count, now uint64) (models.Round, []uint64, error) {
	if r.Status != models.StatusOpen {
		return r, nil, models.NewStageError("buy", r.Status, models.StatusOpen)
	}
	if !r.SaleOpen(now) {
		return r, nil, models.ErrSaleClosed
	}
	if count == 0 {
		return r, nil, fmt.Errorf("%w: ticket count must be positive", models.ErrInvalidArgument)
	}
	if (r.TicketPrice != 0 && count > math.MaxUint64/r.TicketPrice) || r.TicketPrice*count > math.MaxUint64-r.Pot {
		return r, nil, fmt.Errorf("%w: purchase overflows the pot", models.ErrInvalidArgument)
	}

	indices := make([]uint64, count)
	for i := range indices {
		indices[i] = r.TicketCount + uint64(i)
	}
	r.TicketCount += count
	r.Pot += r.TicketPrice * count
	return r, indices, nil
}

// selectCharity returns the charity with the most votes, lowest ID first on
// ties. Charities without a tally entry have zero votes. charities must be
// non-empty.
func selectCharity(tallies []models.Tally, charities []*models.CharityEntry) uint64 {
	votes := make(map[uint64]uint64, len(tallies))
	for _, t := range tallies {
		votes[t.CharityID] = t.Votes
	}
	best := charities[0].ID
	for _, c := range charities {
		v, bv := votes[c.ID], votes[best]
		if v > bv || (v == bv && c.ID < best) {
			best = c.ID
		}
	}
	return best
}

func applyLock(r models.Round, tallies []models.Tally, charities []*models.CharityEntry, now uint64) (models.Round, error) {
	if r.Status != models.StatusOpen {
		return r, models.NewStageError("lock", r.Status, models.StatusOpen)
	}
	if now <= r.WindowEnd {
		return r, models.ErrWindowOpen
	}
	if r.TicketCount == 0 {
		r.Status = models.StatusSettled
		r.Outcome = models.OutcomeNoParticipants
		return r, nil
	}
	if len(charities) == 0 {
		return r, models.ErrNoCharities
	}
	r.CharityID = selectCharity(tallies, charities)
	r.CharityChosen = true
	r.Status = models.StatusLocked
	return r, nil
}

func newRequest(c *oracle.Commitment, now, window uint64) *models.RandomnessRequest {
	return &models.RandomnessRequest{
		Handle:         c.Handle,
		Seed:           c.Seed,
		Commitment:     c.Commitment,
		CommitSlot:     now,
		RevealDeadline: now + window,
	}
}

func applyCommit(r models.Round, c *oracle.Commitment, now, window uint64) (models.Round, error) {
	if r.Status != models.StatusLocked {
		return r, models.NewStageError("commit", r.Status, models.StatusLocked)
	}
	r.Randomness = newRequest(c, now, window)
	r.Attempts++
	r.Status = models.StatusCommitted
	return r, nil
}

// applyRecommit replaces an expired request. It is the only way out of a
// Committed round whose reveal deadline has passed.
func applyRecommit(r models.Round, c *oracle.Commitment, now, window uint64) (models.Round, error) {
	if r.Status != models.StatusCommitted {
		return r, models.NewStageError("recommit", r.Status, models.StatusCommitted)
	}
	if now <= r.Randomness.RevealDeadline {
		return r, models.ErrDeadlineNotDue
	}
	r.Randomness = newRequest(c, now, window)
	r.Attempts++
	return r, nil
}

func checkReveal(r *models.Round, handle string, now, minDelay uint64) error {
	if r.Status != models.StatusCommitted {
		return models.NewStageError("reveal", r.Status, models.StatusCommitted)
	}
	req := r.Randomness
	if req == nil || req.Handle != handle {
		return models.ErrStaleRequest
	}
	if now <= req.CommitSlot || now < req.CommitSlot+minDelay {
		return models.ErrPrematureReveal
	}
	if now > req.RevealDeadline {
		return models.ErrExpiredReveal
	}
	return nil
}

// applyReveal stores the revealed value and the winner it selects in the
// same step, so no state exists where one is known without the other.
func applyReveal(r models.Round, rev *oracle.Reveal, now, minDelay uint64) (models.Round, error) {
	if err := checkReveal(&r, rev.Handle, now, minDelay); err != nil {
		return r, err
	}
	req, winner, err := consumeRequest(*r.Randomness, rev, r.TicketCount)
	if err != nil {
		return r, err
	}
	r.Randomness = &req
	r.WinnerIndex = winner
	r.WinnerChosen = true
	r.Outcome = models.OutcomeWinner
	r.Status = models.StatusRevealed
	return r, nil
}
