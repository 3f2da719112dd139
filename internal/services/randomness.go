package services

import (
	"context"
	"fmt"

	"charitylottery/internal/address"
	"charitylottery/internal/ledger"
	"charitylottery/internal/models"
	"charitylottery/internal/oracle"

	"github.com/google/logger"
)

// CommitRandomness asks the oracle to commit to the randomness that will pick
// the winner. A round past its window is locked in the same transaction. If
// the lock settles the round because nobody bought a ticket, no request is
// made and the result reports NoParticipants.
func (s *LotteryService) CommitRandomness(ctx context.Context, caller string, now uint64) (*models.CommitResult, error) {
	var pre models.Round
	err := s.store.View(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		pre, err = lockedView(txn, r, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if caller != pre.Authority {
		return nil, models.ErrNotAuthority
	}

	var c *oracle.Commitment
	if pre.Status == models.StatusLocked {
		c, err = s.oracle.Commit(ctx, address.Seed(s.params.ProgramID, pre.ID, pre.Attempts, now))
		if err != nil {
			return nil, fmt.Errorf("commit randomness: %w", err)
		}
	}

	var result models.CommitResult
	err = s.update(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		next, err := lockedView(txn, r, now)
		if err != nil {
			return err
		}
		if next.Status == models.StatusSettled && next.Outcome == models.OutcomeNoParticipants && lockDue(r, now) {
			result = models.CommitResult{RoundID: next.ID, Status: next.Status, Outcome: next.Outcome}
			return txn.PutRound(&next)
		}
		if c == nil {
			return models.NewStageError("commit", next.Status, models.StatusLocked)
		}
		next, err = applyCommit(next, c, now, s.params.RevealWindow)
		if err != nil {
			return err
		}
		result = models.CommitResult{RoundID: next.ID, Status: next.Status, Outcome: next.Outcome, Request: next.Randomness}
		return txn.PutRound(&next)
	})
	if err != nil {
		logger.Warningf("commit rejected at slot %d: %v", now, err)
		return nil, err
	}
	if result.Request == nil {
		logger.Infof("round %d settled with no participants", result.RoundID)
	} else {
		logger.Infof("round %d committed randomness %s, reveal deadline %d",
			result.RoundID, result.Request.Handle, result.Request.RevealDeadline)
	}
	return &result, nil
}

// RevealRandomness fetches the oracle's value for the round's pending request,
// verifies it and records the winner. The oracle is queried outside the ledger
// transaction; the transaction re-checks every precondition before writing.
func (s *LotteryService) RevealRandomness(ctx context.Context, handle string, now uint64) (*models.RevealResult, error) {
	var req models.RandomnessRequest
	err := s.store.View(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		if err := checkReveal(r, handle, now, s.params.MinRevealDelay); err != nil {
			return err
		}
		req = *r.Randomness
		return nil
	})
	if err != nil {
		logger.Warningf("reveal of %s rejected at slot %d: %v", handle, now, err)
		return nil, err
	}

	rev, err := s.oracle.Reveal(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("reveal randomness: %w", err)
	}
	if rev.Handle != handle {
		return nil, models.ErrStaleRequest
	}
	if err := s.oracle.Verify(req.Seed, req.Commitment, rev); err != nil {
		logger.Errorf("oracle reveal for %s failed verification: %v", handle, err)
		return nil, fmt.Errorf("%w: %v", models.ErrBadRandomness, err)
	}

	var result models.RevealResult
	err = s.update(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		next, err := applyReveal(*r, rev, now, s.params.MinRevealDelay)
		if err != nil {
			return err
		}
		result = models.RevealResult{RoundID: next.ID, RevealedValue: rev.Value, WinnerIndex: next.WinnerIndex}
		return txn.PutRound(&next)
	})
	if err != nil {
		logger.Warningf("reveal of %s rejected at slot %d: %v", handle, now, err)
		return nil, err
	}
	logger.Infof("round %d revealed value %d, winning ticket %d", result.RoundID, result.RevealedValue, result.WinnerIndex)
	return &result, nil
}

// Recommit replaces a randomness request whose reveal deadline passed. It is
// an explicit recovery step for the round authority; nothing retries on its
// own.
func (s *LotteryService) Recommit(ctx context.Context, caller string, now uint64) (*models.RandomnessRequest, error) {
	var pre *models.Round
	err := s.store.View(func(txn *ledger.Txn) error {
		var err error
		pre, err = currentRound(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	if caller != pre.Authority {
		return nil, models.ErrNotAuthority
	}
	// Fail before touching the oracle when the round cannot be recommitted.
	if _, err := applyRecommit(*pre, &oracle.Commitment{}, now, s.params.RevealWindow); err != nil {
		return nil, err
	}

	c, err := s.oracle.Commit(ctx, address.Seed(s.params.ProgramID, pre.ID, pre.Attempts, now))
	if err != nil {
		return nil, fmt.Errorf("recommit randomness: %w", err)
	}

	var req *models.RandomnessRequest
	err = s.update(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		if r.Attempts != pre.Attempts {
			return fmt.Errorf("%w: round was recommitted concurrently", models.ErrStaleRequest)
		}
		next, err := applyRecommit(*r, c, now, s.params.RevealWindow)
		if err != nil {
			return err
		}
		req = next.Randomness
		return txn.PutRound(&next)
	})
	if err != nil {
		logger.Warningf("recommit rejected at slot %d: %v", now, err)
		return nil, err
	}
	logger.Infof("round %d recommitted randomness %s (attempt %d), reveal deadline %d",
		pre.ID, req.Handle, pre.Attempts+1, req.RevealDeadline)
	return req, nil
}
