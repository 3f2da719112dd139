package services

import (
	"errors"
	"fmt"
	"strings"

	"charitylottery/internal/address"
	"charitylottery/internal/identity"
	"charitylottery/internal/ledger"
	"charitylottery/internal/models"

	"github.com/google/logger"
)

// CharityInput describes a charity to register.
type CharityInput struct {
	Name        string
	Description string
	Treasury    string
}

func (in CharityInput) normalize() (CharityInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, fmt.Errorf("%w: charity name is empty", models.ErrInvalidArgument)
	}
	tr, err := identity.Parse(strings.TrimSpace(in.Treasury))
	if err != nil {
		return in, fmt.Errorf("%w: treasury: %v", models.ErrInvalidIdentity, err)
	}
	in.Treasury = tr
	in.Description = strings.TrimSpace(in.Description)
	return in, nil
}

func putCharity(txn *ledger.Txn, in CharityInput) (*models.CharityEntry, error) {
	id, err := txn.NextCharityID()
	if err != nil {
		return nil, err
	}
	entry := &models.CharityEntry{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Treasury:    in.Treasury,
	}
	return entry, txn.PutCharity(entry)
}

// RegisterCharity adds a donation recipient. Admin only.
func (s *LotteryService) RegisterCharity(caller, name, description, treasury string) (*models.CharityEntry, error) {
	if err := s.requireAdmin(caller); err != nil {
		return nil, err
	}
	in, err := CharityInput{Name: name, Description: description, Treasury: treasury}.normalize()
	if err != nil {
		return nil, err
	}

	var entry *models.CharityEntry
	err = s.update(func(txn *ledger.Txn) error {
		var err error
		entry, err = putCharity(txn, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("charity %d registered: %s", entry.ID, entry.Name)
	return entry, nil
}

// RegisterCharities adds a batch of donation recipients in one transaction.
// Invalid entries are skipped and counted; the rest are registered in order.
// Admin only.
func (s *LotteryService) RegisterCharities(caller string, batch []CharityInput) ([]*models.CharityEntry, int, error) {
	if err := s.requireAdmin(caller); err != nil {
		return nil, 0, err
	}
	valid := make([]CharityInput, 0, len(batch))
	for _, in := range batch {
		in, err := in.normalize()
		if err != nil {
			logger.Infof("skipping charity %q: %v", in.Name, err)
			continue
		}
		valid = append(valid, in)
	}

	var registered []*models.CharityEntry
	err := s.update(func(txn *ledger.Txn) error {
		registered = registered[:0]
		for _, in := range valid {
			entry, err := putCharity(txn, in)
			if err != nil {
				return err
			}
			registered = append(registered, entry)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	logger.Infof("%d charities registered, %d skipped", len(registered), len(batch)-len(valid))
	return registered, len(batch) - len(valid), nil
}

// Charities returns every registered charity ordered by ID.
func (s *LotteryService) Charities() ([]*models.CharityEntry, error) {
	var out []*models.CharityEntry
	err := s.store.View(func(txn *ledger.Txn) error {
		var err error
		out, err = txn.Charities()
		return err
	})
	return out, err
}

// Tallies returns the per-charity votes cast in a round.
func (s *LotteryService) Tallies(roundID uint64) ([]models.Tally, error) {
	var out []models.Tally
	err := s.store.View(func(txn *ledger.Txn) error {
		out = txn.Tallies(roundID)
		return nil
	})
	return out, err
}

// Vote casts voter's single vote of the live round for a charity. Voting is
// open exactly while ticket sales are.
func (s *LotteryService) Vote(voter string, charityID, now uint64) error {
	var roundID uint64
	err := s.update(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		if r.Status != models.StatusOpen {
			return models.NewStageError("vote", r.Status, models.StatusOpen)
		}
		if !r.SaleOpen(now) {
			return models.ErrVotingClosed
		}
		charity, err := txn.Charity(charityID)
		if err != nil {
			return err
		}

		marker := address.VoteMarker(s.params.ProgramID, r.ID, voter).String()
		err = txn.CreateVoteMarker(marker, &models.VoteMarker{RoundID: r.ID, Voter: voter, CharityID: charityID})
		if errors.Is(err, ledger.ErrMarkerExists) {
			return models.ErrAlreadyVoted
		}
		if err != nil {
			return err
		}
		if err := txn.AddVote(r.ID, charityID); err != nil {
			return err
		}
		charity.VoteCount++
		roundID = r.ID
		return txn.PutCharity(charity)
	})
	if err != nil {
		logger.Warningf("vote by %s for charity %d rejected: %v", voter, charityID, err)
		return err
	}
	logger.Infof("round %d: %s voted for charity %d", roundID, voter, charityID)
	return nil
}
