package services

import (
	"fmt"

	"charitylottery/internal/address"
	"charitylottery/internal/identity"
	"charitylottery/internal/ledger"
	"charitylottery/internal/models"

	"github.com/google/logger"
)

// BuyTickets sells count tickets of the live round to buyer. Each ticket is
// minted at the address derived from its index, which is the ticket count
// before the sale, so concurrent buyers always get distinct, gap-free indices.
func (s *LotteryService) BuyTickets(buyer string, count, now uint64) ([]uint64, error) {
	if count > s.params.MaxTicketsPerPurchase {
		return nil, fmt.Errorf("%w: at most %d tickets per purchase", models.ErrInvalidArgument, s.params.MaxTicketsPerPurchase)
	}

	var indices []uint64
	var roundID uint64
	err := s.update(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		next, idx, err := applyPurchase(*r, count, now)
		if err != nil {
			return err
		}
		cost := next.Pot - r.Pot
		if err := txn.Debit(buyer, cost); err != nil {
			return err
		}
		if err := recordPurchase(txn, buyer, count, cost); err != nil {
			return err
		}
		for _, i := range idx {
			tk := &models.Ticket{
				RoundID:  r.ID,
				Index:    i,
				Address:  address.Ticket(s.params.ProgramID, r.ID, i).String(),
				Minter:   buyer,
				MintedAt: now,
			}
			if err := txn.MintTicket(tk); err != nil {
				return err
			}
		}
		indices, roundID = idx, r.ID
		return txn.PutRound(&next)
	})
	if err != nil {
		logger.Warningf("purchase of %d tickets by %s rejected: %v", count, buyer, err)
		return nil, err
	}
	logger.Infof("round %d: %s bought tickets %d..%d", roundID, buyer, indices[0], indices[len(indices)-1])
	return indices, nil
}

// Ticket returns the mint record of a ticket and its current holder.
func (s *LotteryService) Ticket(roundID, index uint64) (*models.TicketHolding, error) {
	var tk *models.TicketHolding
	err := s.store.View(func(txn *ledger.Txn) error {
		var err error
		tk, err = txn.Holding(address.Ticket(s.params.ProgramID, roundID, index).String())
		return err
	})
	return tk, err
}

// Tickets returns every ticket of a round in index order.
func (s *LotteryService) Tickets(roundID uint64) ([]*models.TicketHolding, error) {
	var out []*models.TicketHolding
	err := s.store.View(func(txn *ledger.Txn) error {
		if _, err := txn.Round(roundID); err != nil {
			return err
		}
		var err error
		out, err = txn.Tickets(roundID)
		return err
	})
	return out, err
}

// TransferTicket hands control of a ticket token to another identity. Only
// the current holder can transfer it.
func (s *LotteryService) TransferTicket(caller string, roundID, index uint64, to string) error {
	recipient, err := identity.Parse(to)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidIdentity, err)
	}
	addr := address.Ticket(s.params.ProgramID, roundID, index).String()
	err = s.update(func(txn *ledger.Txn) error {
		ok, err := txn.Controls(addr, caller)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrNotOwner
		}
		return txn.SetTicketHolder(addr, recipient)
	})
	if err != nil {
		return err
	}
	logger.Infof("round %d: ticket %d transferred from %s to %s", roundID, index, caller, recipient)
	return nil
}

func recordPurchase(txn *ledger.Txn, buyer string, count, cost uint64) error {
	st, err := txn.Stats(buyer)
	if err != nil {
		return err
	}
	st.TicketsBought += count
	st.TotalSpent += cost
	return txn.PutStats(st)
}
