package services

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charitylottery/internal/address"
	"charitylottery/internal/models"
)

func TestLotteryService_FullRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newStubOracle(17))
	charityID, treasury := f.charity(t, "Ocean Conservation")
	f.openRound(t, token, t0, t0+3*day)

	alice := f.funded(t, 10*token)
	bob := f.funded(t, 10*token)
	carol := f.funded(t, 10*token)

	t.Run("buy five tickets", func(t *testing.T) {
		idx, err := f.svc.BuyTickets(alice, 2, t0+10)
		require.NoError(t, err)
		assert.Equal(t, []uint64{0, 1}, idx)

		idx, err = f.svc.BuyTickets(bob, 1, t0+20)
		require.NoError(t, err)
		assert.Equal(t, []uint64{2}, idx)

		idx, err = f.svc.BuyTickets(carol, 2, t0+30)
		require.NoError(t, err)
		assert.Equal(t, []uint64{3, 4}, idx)

		st, err := f.svc.GetRoundState(t0 + 40)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), st.TicketCount)
		assert.Equal(t, 5*token, st.Pot)
		assert.Equal(t, models.StatusOpen, st.Status)
		assert.Nil(t, st.WinnerIndex)
		assert.Equal(t, 8*token, f.balance(t, alice))
	})

	t.Run("vote", func(t *testing.T) {
		require.NoError(t, f.svc.Vote(alice, charityID, t0+50))
	})

	var handle string
	commitSlot := t0 + 3*day + 1

	t.Run("commit at lock", func(t *testing.T) {
		res, err := f.svc.CommitRandomness(ctx, f.admin, commitSlot)
		require.NoError(t, err)
		require.NotNil(t, res.Request)
		assert.Equal(t, models.StatusCommitted, res.Status)
		assert.Equal(t, commitSlot, res.Request.CommitSlot)
		assert.Equal(t, commitSlot+150, res.Request.RevealDeadline)
		handle = res.Request.Handle

		st, err := f.svc.GetRoundState(commitSlot)
		require.NoError(t, err)
		require.NotNil(t, st.CharityID)
		assert.Equal(t, charityID, *st.CharityID)
	})

	t.Run("reveal picks 17 mod 5", func(t *testing.T) {
		res, err := f.svc.RevealRandomness(ctx, handle, commitSlot+1)
		require.NoError(t, err)
		assert.Equal(t, uint64(17), res.RevealedValue)
		assert.Equal(t, uint64(2), res.WinnerIndex)

		r, err := f.svc.CurrentRound()
		require.NoError(t, err)
		assert.Equal(t, models.StatusRevealed, r.Status)
		assert.True(t, r.Randomness.Revealed)
	})

	t.Run("reveal twice is a stage violation", func(t *testing.T) {
		_, err := f.svc.RevealRandomness(ctx, handle, commitSlot+2)
		assert.ErrorIs(t, err, models.ErrStageViolation)
	})

	t.Run("owner of ticket 2 claims", func(t *testing.T) {
		receipt, err := f.svc.ClaimPrize(bob, 2, commitSlot+3)
		require.NoError(t, err)
		assert.Equal(t, 4*token+token/2, receipt.WinnerAmount)
		assert.Equal(t, token/2, receipt.CharityAmount)
		assert.Equal(t, charityID, receipt.CharityID)

		assert.Equal(t, 9*token+4*token+token/2, f.balance(t, bob))
		assert.Equal(t, token/2, f.balance(t, treasury))
	})

	t.Run("later claims fail", func(t *testing.T) {
		_, err := f.svc.ClaimPrize(bob, 2, commitSlot+4)
		assert.ErrorIs(t, err, models.ErrAlreadySettled)
		_, err = f.svc.ClaimPrize(alice, 0, commitSlot+4)
		assert.ErrorIs(t, err, models.ErrAlreadySettled)
	})

	t.Run("next round can start", func(t *testing.T) {
		r, err := f.svc.InitializeRound(f.admin, token, t0+4*day, t0+5*day)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), r.ID)

		old, err := f.svc.GetRound(1)
		require.NoError(t, err)
		require.NotNil(t, old.Receipt)
		assert.Equal(t, bob, old.Receipt.Winner)
	})
}

func TestInitializeRound(t *testing.T) {
	f := newFixture(t, newStubOracle(1))
	stranger := newIdentity(t)

	_, err := f.svc.InitializeRound(stranger, token, t0, t0+day)
	assert.ErrorIs(t, err, models.ErrNotAuthority)

	_, err = f.svc.InitializeRound(f.admin, 0, t0, t0+day)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = f.svc.InitializeRound(f.admin, token, t0+day, t0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = f.svc.CurrentRound()
	assert.ErrorIs(t, err, models.ErrNoRound)

	f.openRound(t, token, t0, t0+day)
	_, err = f.svc.InitializeRound(f.admin, token, t0, t0+day)
	assert.ErrorIs(t, err, models.ErrRoundInProgress)
}

func TestBuyTickets(t *testing.T) {
	f := newFixture(t, newStubOracle(1))
	f.charity(t, "Hunger Relief")
	price := 3 * token
	f.openRound(t, price, t0, t0+day)
	buyer := f.funded(t, 10*token)

	t.Run("pot tracks price times count", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := f.svc.BuyTickets(buyer, 1, t0+uint64(i))
			require.NoError(t, err)
			r, err := f.svc.CurrentRound()
			require.NoError(t, err)
			assert.Equal(t, r.TicketPrice*r.TicketCount, r.Pot)
		}
	})

	t.Run("insufficient funds changes nothing", func(t *testing.T) {
		before, err := f.svc.CurrentRound()
		require.NoError(t, err)

		_, err = f.svc.BuyTickets(buyer, 1, t0+5)
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.ErrorIs(t, err, models.ErrResource)

		after, err := f.svc.CurrentRound()
		require.NoError(t, err)
		assert.Equal(t, before.TicketCount, after.TicketCount)
		assert.Equal(t, before.Pot, after.Pot)
		assert.Equal(t, token, f.balance(t, buyer))

		_, err = f.svc.Ticket(after.ID, after.TicketCount)
		assert.ErrorIs(t, err, models.ErrTicketNotFound)
	})

	t.Run("outside the window", func(t *testing.T) {
		rich := f.funded(t, 100*token)
		_, err := f.svc.BuyTickets(rich, 1, t0-1)
		assert.ErrorIs(t, err, models.ErrSaleClosed)
		_, err = f.svc.BuyTickets(rich, 1, t0+day+1)
		assert.ErrorIs(t, err, models.ErrSaleClosed)
		assert.ErrorIs(t, err, models.ErrWindowViolation)

		// A rejected purchase does not persist the lock.
		r, err := f.svc.CurrentRound()
		require.NoError(t, err)
		assert.Equal(t, models.StatusOpen, r.Status)
	})

	t.Run("count limits", func(t *testing.T) {
		rich := f.funded(t, 1000*token)
		_, err := f.svc.BuyTickets(rich, 0, t0+6)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
		_, err = f.svc.BuyTickets(rich, 101, t0+6)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	})

	t.Run("after lock is a stage violation", func(t *testing.T) {
		_, err := f.svc.Lock(t0 + day + 1)
		require.NoError(t, err)
		rich := f.funded(t, 100*token)
		_, err = f.svc.BuyTickets(rich, 1, t0+day+2)
		var stage *models.StageError
		require.ErrorAs(t, err, &stage)
		assert.Equal(t, models.StatusLocked, stage.Actual)
		assert.Equal(t, []models.Status{models.StatusOpen}, stage.Expected)
	})

	t.Run("tickets are minted at their derived address", func(t *testing.T) {
		tickets, err := f.svc.Tickets(1)
		require.NoError(t, err)
		require.Len(t, tickets, 3)
		for i, tk := range tickets {
			assert.Equal(t, uint64(i), tk.Index)
			assert.Equal(t, address.Ticket(testProgram, 1, uint64(i)).String(), tk.Address)
			assert.Equal(t, buyer, tk.Minter)
			assert.Equal(t, buyer, tk.Holder)
		}
	})
}

func TestBuyTickets_ConcurrentBuyersGetContiguousIndices(t *testing.T) {
	f := newFixture(t, newStubOracle(1))
	f.openRound(t, token, t0, t0+day)

	const buyers, perBuyer = 16, 3
	ids := make([]string, buyers)
	for i := range ids {
		ids[i] = f.funded(t, perBuyer*token)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		all []uint64
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			idx, err := f.svc.BuyTickets(id, perBuyer, t0+1)
			assert.NoError(t, err)
			mu.Lock()
			all = append(all, idx...)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	require.Len(t, all, buyers*perBuyer)
	for i, v := range all {
		assert.Equal(t, uint64(i), v)
	}
	r, err := f.svc.CurrentRound()
	require.NoError(t, err)
	assert.Equal(t, uint64(buyers*perBuyer), r.TicketCount)
	assert.Equal(t, r.TicketPrice*r.TicketCount, r.Pot)
}

func TestTransferTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newStubOracle(4))
	f.charity(t, "Medical Research")
	f.openRound(t, token, t0, t0+day)
	alice := f.funded(t, 5*token)
	bob := newIdentity(t)

	_, err := f.svc.BuyTickets(alice, 5, t0+1)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.TransferTicket(bob, 1, 4, alice), models.ErrNotOwner)
	assert.ErrorIs(t, f.svc.TransferTicket(alice, 1, 4, "nope"), models.ErrInvalidIdentity)
	require.NoError(t, f.svc.TransferTicket(alice, 1, 4, bob))

	tk, err := f.svc.Ticket(1, 4)
	require.NoError(t, err)
	assert.Equal(t, alice, tk.Minter)
	assert.Equal(t, bob, tk.Holder)

	res, err := f.svc.CommitRandomness(ctx, f.admin, t0+day+1)
	require.NoError(t, err)
	rev, err := f.svc.RevealRandomness(ctx, res.Request.Handle, t0+day+2)
	require.NoError(t, err)
	require.Equal(t, uint64(4), rev.WinnerIndex)

	t.Run("previous holder no longer owns the token", func(t *testing.T) {
		_, err := f.svc.ClaimPrize(alice, 4, t0+day+3)
		assert.ErrorIs(t, err, models.ErrNotOwner)
	})

	t.Run("wrong ticket", func(t *testing.T) {
		_, err := f.svc.ClaimPrize(alice, 3, t0+day+3)
		assert.ErrorIs(t, err, models.ErrNotWinner)
		assert.ErrorIs(t, err, models.ErrAuthorization)
	})

	t.Run("current holder claims", func(t *testing.T) {
		receipt, err := f.svc.ClaimPrize(bob, 4, t0+day+3)
		require.NoError(t, err)
		assert.Equal(t, bob, receipt.Winner)
		assert.Equal(t, receipt.WinnerAmount, f.balance(t, bob))
	})
}

func TestClaimBeforeReveal(t *testing.T) {
	f := newFixture(t, newStubOracle(1))
	f.charity(t, "Global Education Fund")
	f.openRound(t, token, t0, t0+day)
	alice := f.funded(t, token)
	_, err := f.svc.BuyTickets(alice, 1, t0)
	require.NoError(t, err)

	_, err = f.svc.ClaimPrize(alice, 0, t0+1)
	assert.ErrorIs(t, err, models.ErrStageViolation)
}

func TestNoParticipants(t *testing.T) {
	t.Run("explicit lock", func(t *testing.T) {
		f := newFixture(t, newStubOracle(1))
		f.openRound(t, token, t0, t0+day)

		_, err := f.svc.Lock(t0 + day)
		assert.ErrorIs(t, err, models.ErrWindowOpen)

		r, err := f.svc.Lock(t0 + day + 1)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSettled, r.Status)
		assert.Equal(t, models.OutcomeNoParticipants, r.Outcome)
		assert.Nil(t, r.Receipt)

		_, err = f.svc.ClaimPrize(f.admin, 0, t0+day+2)
		assert.ErrorIs(t, err, models.ErrAlreadySettled)
	})

	t.Run("commit settles without asking the oracle", func(t *testing.T) {
		orc := newStubOracle(1)
		f := newFixture(t, orc)
		f.openRound(t, token, t0, t0+day)

		st, err := f.svc.GetRoundState(t0 + day + 1)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSettled, st.Status)
		assert.Equal(t, models.OutcomeNoParticipants, st.Outcome)

		res, err := f.svc.CommitRandomness(context.Background(), f.admin, t0+day+1)
		require.NoError(t, err)
		assert.Nil(t, res.Request)
		assert.Equal(t, models.OutcomeNoParticipants, res.Outcome)
		assert.Zero(t, orc.commits)

		_, err = f.svc.InitializeRound(f.admin, token, t0+2*day, t0+3*day)
		require.NoError(t, err)
	})
}

func TestLock_RequiresCharity(t *testing.T) {
	f := newFixture(t, newStubOracle(1))
	f.openRound(t, token, t0, t0+day)
	alice := f.funded(t, token)
	_, err := f.svc.BuyTickets(alice, 1, t0)
	require.NoError(t, err)

	_, err = f.svc.Lock(t0 + day + 1)
	assert.ErrorIs(t, err, models.ErrNoCharities)

	f.charity(t, "Late Charity")
	r, err := f.svc.Lock(t0 + day + 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLocked, r.Status)

	_, err = f.svc.Lock(t0 + day + 2)
	assert.ErrorIs(t, err, models.ErrStageViolation)
}

func TestRandomnessWindows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newStubOracle(7, 9))
	f.charity(t, "Ocean Conservation")
	f.openRound(t, token, t0, t0+day)
	alice := f.funded(t, 4*token)
	_, err := f.svc.BuyTickets(alice, 4, t0)
	require.NoError(t, err)

	commitSlot := t0 + day + 1

	t.Run("only the authority commits", func(t *testing.T) {
		_, err := f.svc.CommitRandomness(ctx, alice, commitSlot)
		assert.ErrorIs(t, err, models.ErrNotAuthority)
	})

	res, err := f.svc.CommitRandomness(ctx, f.admin, commitSlot)
	require.NoError(t, err)
	first := res.Request
	deadline := first.RevealDeadline

	t.Run("commit twice", func(t *testing.T) {
		_, err := f.svc.CommitRandomness(ctx, f.admin, commitSlot+1)
		assert.ErrorIs(t, err, models.ErrStageViolation)
	})

	t.Run("premature", func(t *testing.T) {
		_, err := f.svc.RevealRandomness(ctx, first.Handle, commitSlot)
		assert.ErrorIs(t, err, models.ErrPrematureReveal)
	})

	t.Run("unknown handle", func(t *testing.T) {
		_, err := f.svc.RevealRandomness(ctx, "req-99", commitSlot+1)
		assert.ErrorIs(t, err, models.ErrStaleRequest)
	})

	t.Run("expired leaves the round committed", func(t *testing.T) {
		_, err := f.svc.RevealRandomness(ctx, first.Handle, deadline+1)
		assert.ErrorIs(t, err, models.ErrExpiredReveal)

		r, err := f.svc.CurrentRound()
		require.NoError(t, err)
		assert.Equal(t, models.StatusCommitted, r.Status)
		assert.False(t, r.WinnerChosen)
	})

	t.Run("recommit guards", func(t *testing.T) {
		_, err := f.svc.Recommit(ctx, f.admin, deadline)
		assert.ErrorIs(t, err, models.ErrDeadlineNotDue)
		_, err = f.svc.Recommit(ctx, alice, deadline+1)
		assert.ErrorIs(t, err, models.ErrNotAuthority)
	})

	var second string
	t.Run("recommit replaces the request", func(t *testing.T) {
		req, err := f.svc.Recommit(ctx, f.admin, deadline+1)
		require.NoError(t, err)
		assert.NotEqual(t, first.Handle, req.Handle)
		assert.NotEqual(t, first.Seed, req.Seed)
		assert.Equal(t, deadline+1+150, req.RevealDeadline)
		second = req.Handle

		r, err := f.svc.CurrentRound()
		require.NoError(t, err)
		assert.Equal(t, uint64(2), r.Attempts)
	})

	t.Run("old handle is stale", func(t *testing.T) {
		_, err := f.svc.RevealRandomness(ctx, first.Handle, deadline+2)
		assert.ErrorIs(t, err, models.ErrStaleRequest)
	})

	t.Run("new handle reveals", func(t *testing.T) {
		rev, err := f.svc.RevealRandomness(ctx, second, deadline+2)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), rev.RevealedValue)
		assert.Equal(t, uint64(1), rev.WinnerIndex)
	})
}

func TestReveal_RejectsUnverifiedRandomness(t *testing.T) {
	ctx := context.Background()
	orc := newStubOracle(3)
	f := newFixture(t, orc)
	f.charity(t, "Hunger Relief")
	f.openRound(t, token, t0, t0+day)
	alice := f.funded(t, 2*token)
	_, err := f.svc.BuyTickets(alice, 2, t0)
	require.NoError(t, err)

	res, err := f.svc.CommitRandomness(ctx, f.admin, t0+day+1)
	require.NoError(t, err)

	orc.verifyErr = assert.AnError
	_, err = f.svc.RevealRandomness(ctx, res.Request.Handle, t0+day+2)
	assert.ErrorIs(t, err, models.ErrBadRandomness)

	r, err := f.svc.CurrentRound()
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, r.Status)
}
