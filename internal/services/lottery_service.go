package services

import (
	"errors"
	"fmt"

	"charitylottery/internal/address"
	"charitylottery/internal/identity"
	"charitylottery/internal/ledger"
	"charitylottery/internal/models"
	"charitylottery/internal/oracle"

	"github.com/google/logger"
)

// Params are the protocol parameters of a lottery deployment.
type Params struct {
	ProgramID string
	// Admin may initialize rounds, register charities and fund accounts.
	Admin                 string
	MinRevealDelay        uint64
	RevealWindow          uint64
	MaxTicketsPerPurchase uint64
}

// LotteryService runs the round state machine on top of the ledger. Every
// mutating method is a single ledger transaction; slots are supplied by the
// caller and never read from a clock.
type LotteryService struct {
	store   *ledger.Store
	oracle  oracle.Oracle
	params  Params
	request *models.RequestMarker
}

// NewLotteryService creates and initializes a new LotteryService.
func NewLotteryService(store *ledger.Store, orc oracle.Oracle, params Params) *LotteryService {
	return &LotteryService{
		store:  store,
		oracle: orc,
		params: params,
	}
}

// Params returns the service's protocol parameters.
func (s *LotteryService) Params() Params { return s.params }

// WithNonce returns a service that completes at most one mutation for the
// pair (caller, nonce), ever. The marker is written in the
// same transaction as the mutation, so a rejected operation leaves the nonce
// unused.
func (s *LotteryService) WithNonce(caller, nonce string, issuedAt uint64) *LotteryService {
	scoped := *s
	scoped.request = &models.RequestMarker{Caller: caller, Nonce: nonce, IssuedAt: issuedAt}
	return &scoped
}

// update runs fn in one ledger transaction, first consuming the request
// nonce when the service is scoped to one.
// TODO: prune request markers once they fall outside the signature window.
func (s *LotteryService) update(fn func(*ledger.Txn) error) error {
	return s.store.Update(func(txn *ledger.Txn) error {
		if m := s.request; m != nil {
			addr := address.RequestMarker(s.params.ProgramID, m.Caller, m.Nonce).String()
			err := txn.CreateRequestMarker(addr, m)
			if errors.Is(err, ledger.ErrMarkerExists) {
				return fmt.Errorf("%w: nonce %q", models.ErrReplayedRequest, m.Nonce)
			}
			if err != nil {
				return err
			}
		}
		return fn(txn)
	})
}

func (s *LotteryService) requireAdmin(caller string) error {
	if s.params.Admin == "" || caller != s.params.Admin {
		return models.ErrNotAuthority
	}
	return nil
}

// currentRound loads the live round.
func currentRound(txn *ledger.Txn) (*models.Round, error) {
	id, ok := txn.CurrentRoundID()
	if !ok {
		return nil, models.ErrNoRound
	}
	return txn.Round(id)
}

// lockedView returns r as it is at slot now, applying a due lock without
// persisting it.
func lockedView(txn *ledger.Txn, r *models.Round, now uint64) (models.Round, error) {
	if !lockDue(r, now) {
		return *r, nil
	}
	charities, err := txn.Charities()
	if err != nil {
		return *r, err
	}
	return applyLock(*r, txn.Tallies(r.ID), charities, now)
}

// InitializeRound opens a new round. Only the admin may call it, and only
// when no round is live.
func (s *LotteryService) InitializeRound(caller string, price, windowStart, windowEnd uint64) (*models.Round, error) {
	if err := s.requireAdmin(caller); err != nil {
		return nil, err
	}
	if price == 0 {
		return nil, fmt.Errorf("%w: ticket price must be positive", models.ErrInvalidArgument)
	}
	if windowStart > windowEnd {
		return nil, fmt.Errorf("%w: window start after window end", models.ErrInvalidArgument)
	}

	var round *models.Round
	err := s.update(func(txn *ledger.Txn) error {
		if cur, err := currentRound(txn); err == nil {
			if cur.Status != models.StatusSettled {
				return fmt.Errorf("%w: round %d is %s", models.ErrRoundInProgress, cur.ID, cur.Status)
			}
		} else if !errors.Is(err, models.ErrNoRound) {
			return err
		}

		id, err := txn.NextRoundID()
		if err != nil {
			return err
		}
		round = &models.Round{
			ID:          id,
			Authority:   caller,
			TicketPrice: price,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Status:      models.StatusOpen,
		}
		if err := txn.PutRound(round); err != nil {
			return err
		}
		return txn.SetCurrentRound(id)
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("round %d initialized: price=%d window=[%d,%d]", round.ID, price, windowStart, windowEnd)
	return round, nil
}

// Rounds returns every round, newest first.
func (s *LotteryService) Rounds() ([]*models.Round, error) {
	var out []*models.Round
	err := s.store.View(func(txn *ledger.Txn) error {
		var err error
		out, err = txn.Rounds()
		return err
	})
	return out, err
}

// CurrentRound returns the stored record of the live round.
func (s *LotteryService) CurrentRound() (*models.Round, error) {
	var r *models.Round
	err := s.store.View(func(txn *ledger.Txn) error {
		var err error
		r, err = currentRound(txn)
		return err
	})
	return r, err
}

// GetRound returns the stored record of any round.
func (s *LotteryService) GetRound(id uint64) (*models.Round, error) {
	var r *models.Round
	err := s.store.View(func(txn *ledger.Txn) error {
		var err error
		r, err = txn.Round(id)
		return err
	})
	return r, err
}

// GetRoundState returns the read-only snapshot of the live round as seen at
// slot now. A round past its window reports as locked even before a lock has
// been persisted.
func (s *LotteryService) GetRoundState(now uint64) (*models.RoundState, error) {
	var st *models.RoundState
	err := s.store.View(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		view, err := lockedView(txn, r, now)
		if err != nil {
			view = *r
			view.Status = models.StatusLocked
		}
		st = snapshot(&view)
		return nil
	})
	return st, err
}

func snapshot(r *models.Round) *models.RoundState {
	st := &models.RoundState{
		RoundID:     r.ID,
		Price:       r.TicketPrice,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
		Pot:         r.Pot,
		TicketCount: r.TicketCount,
		Status:      r.Status,
		Outcome:     r.Outcome,
	}
	if r.CharityChosen {
		id := r.CharityID
		st.CharityID = &id
	}
	if r.WinnerChosen {
		idx := r.WinnerIndex
		st.WinnerIndex = &idx
	}
	return st
}

// Lock closes sales on a round whose window has ended and freezes the
// charity tally. A round without tickets settles right away.
func (s *LotteryService) Lock(now uint64) (*models.Round, error) {
	var locked models.Round
	err := s.update(func(txn *ledger.Txn) error {
		r, err := currentRound(txn)
		if err != nil {
			return err
		}
		charities, err := txn.Charities()
		if err != nil {
			return err
		}
		locked, err = applyLock(*r, txn.Tallies(r.ID), charities, now)
		if err != nil {
			return err
		}
		return txn.PutRound(&locked)
	})
	if err != nil {
		logger.Warningf("lock rejected at slot %d: %v", now, err)
		return nil, err
	}
	logLock(&locked)
	return &locked, nil
}

func logLock(r *models.Round) {
	if r.Outcome == models.OutcomeNoParticipants {
		logger.Infof("round %d settled with no participants", r.ID)
		return
	}
	logger.Infof("round %d locked: tickets=%d pot=%d charity=%d", r.ID, r.TicketCount, r.Pot, r.CharityID)
}

// Deposit credits amount to an account. Admin only.
func (s *LotteryService) Deposit(caller, to string, amount uint64) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	id, err := identity.Parse(to)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidIdentity, err)
	}
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidArgument)
	}
	if err := s.update(func(txn *ledger.Txn) error { return txn.Credit(id, amount) }); err != nil {
		return err
	}
	logger.Infof("deposited %d to %s", amount, id)
	return nil
}

// Balance returns the funds held by an account.
func (s *LotteryService) Balance(id string) (uint64, error) {
	id, err := identity.Parse(id)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrInvalidIdentity, err)
	}
	var bal uint64
	err = s.store.View(func(txn *ledger.Txn) error {
		bal = txn.Balance(id)
		return nil
	})
	return bal, err
}

// Stats returns the lifetime lottery totals of an account.
func (s *LotteryService) Stats(id string) (*models.AccountStats, error) {
	id, err := identity.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidIdentity, err)
	}
	var st *models.AccountStats
	err = s.store.View(func(txn *ledger.Txn) error {
		var err error
		st, err = txn.Stats(id)
		return err
	})
	return st, err
}
