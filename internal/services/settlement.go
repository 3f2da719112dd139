package services

import (
	"charitylottery/internal/address"
	"charitylottery/internal/ledger"
	"charitylottery/internal/models"

	"github.com/google/logger"
)

const (
	bpsDenominator = 10_000
	// DonationBps is the charity's share of the pot, 10%.
	DonationBps = 1_000
)

// TokenOwnership answers whether an identity controls a ticket token.
type TokenOwnership interface {
	Controls(addr, identity string) (bool, error)
}

// SplitPot divides the pot between winner and charity. The donation rounds
// down and the winner receives the remainder, so nothing is lost.
func SplitPot(pot uint64) (winner, charity uint64) {
	charity = pot/bpsDenominator*DonationBps + pot%bpsDenominator*DonationBps/bpsDenominator
	return pot - charity, charity
}

func applyClaim(r models.Round, programID, caller string, ticketIndex uint64, owners TokenOwnership) (models.Round, error) {
	if r.Status == models.StatusSettled {
		return r, models.ErrAlreadySettled
	}
	if r.Status != models.StatusRevealed {
		return r, models.NewStageError("claim", r.Status, models.StatusRevealed)
	}
	if !r.WinnerChosen || ticketIndex != r.WinnerIndex {
		return r, models.ErrNotWinner
	}
	ok, err := owners.Controls(address.Ticket(programID, r.ID, ticketIndex).String(), caller)
	if err != nil {
		return r, err
	}
	if !ok {
		return r, models.ErrNotOwner
	}
	r.Status = models.StatusSettled
	return r, nil
}

// ClaimPrize pays out the pot of the live round to the caller if they
// control the winning ticket: the winner's share to the caller and the
// donation to the treasury of the round's charity. The transition to Settled
// happens in the same transaction as both credits and the charity and winner
// totals, so only one claim can ever succeed.
func (s *LotteryService) ClaimPrize(caller string, ticketIndex, now uint64) (*models.PayoutReceipt, error) {
	var receipt *models.PayoutReceipt
	err := s.update(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		next, err := applyClaim(*r, s.params.ProgramID, caller, ticketIndex, txn)
		if err != nil {
			return err
		}
		charity, err := txn.Charity(r.CharityID)
		if err != nil {
			return err
		}

		winnerAmount, charityAmount := SplitPot(r.Pot)
		if err := txn.Credit(caller, winnerAmount); err != nil {
			return err
		}
		if err := txn.Credit(charity.Treasury, charityAmount); err != nil {
			return err
		}
		charity.DonatedTotal += charityAmount
		if err := txn.PutCharity(charity); err != nil {
			return err
		}
		stats, err := txn.Stats(caller)
		if err != nil {
			return err
		}
		stats.Winnings += winnerAmount
		stats.RoundsWon++
		if err := txn.PutStats(stats); err != nil {
			return err
		}
		receipt = &models.PayoutReceipt{
			RoundID:         r.ID,
			TicketIndex:     ticketIndex,
			Winner:          caller,
			WinnerAmount:    winnerAmount,
			CharityID:       charity.ID,
			CharityTreasury: charity.Treasury,
			CharityAmount:   charityAmount,
			SettledAt:       now,
		}
		next.Receipt = receipt
		return txn.PutRound(&next)
	})
	if err != nil {
		logger.Warningf("claim of ticket %d by %s rejected: %v", ticketIndex, caller, err)
		return nil, err
	}
	logger.Infof("round %d settled: %d to %s, %d to charity %d",
		receipt.RoundID, receipt.WinnerAmount, receipt.Winner, receipt.CharityAmount, receipt.CharityID)
	return receipt, nil
}
