package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charitylottery/internal/models"
)

func TestWithNonce(t *testing.T) {
	f := newFixture(t, newStubOracle(1))
	f.openRound(t, token, t0, t0+day)
	buyer := f.funded(t, 10*token)

	t.Run("a request runs once", func(t *testing.T) {
		scoped := f.svc.WithNonce(buyer, "n-1", t0)
		_, err := scoped.BuyTickets(buyer, 1, t0+1)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err = scoped.BuyTickets(buyer, 1, t0+2)
			assert.ErrorIs(t, err, models.ErrReplayedRequest)
		}
		assert.Equal(t, 9*token, f.balance(t, buyer))

		r, err := f.svc.CurrentRound()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), r.TicketCount)
	})

	t.Run("a fresh nonce runs", func(t *testing.T) {
		_, err := f.svc.WithNonce(buyer, "n-2", t0).BuyTickets(buyer, 1, t0+3)
		require.NoError(t, err)
		assert.Equal(t, 8*token, f.balance(t, buyer))
	})

	t.Run("a rejected operation leaves the nonce unused", func(t *testing.T) {
		poor := newIdentity(t)
		// Nonces are per caller, so n-1 is still free for this one.
		scoped := f.svc.WithNonce(poor, "n-1", t0)
		_, err := scoped.BuyTickets(poor, 1, t0+4)
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)

		require.NoError(t, f.svc.Deposit(f.admin, poor, token))
		_, err = scoped.BuyTickets(poor, 1, t0+5)
		require.NoError(t, err)
	})

	t.Run("the shared service stays unscoped", func(t *testing.T) {
		require.NoError(t, f.svc.Deposit(f.admin, buyer, token))
		require.NoError(t, f.svc.Deposit(f.admin, buyer, token))
		assert.Equal(t, 10*token, f.balance(t, buyer))
	})
}

func TestRoundHistoryAndStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newStubOracle(1))
	charityID, _ := f.charity(t, "Ocean Conservation")
	f.openRound(t, token, t0, t0+day)

	alice := f.funded(t, 5*token)
	bob := f.funded(t, 5*token)
	_, err := f.svc.BuyTickets(alice, 2, t0+1)
	require.NoError(t, err)
	_, err = f.svc.BuyTickets(bob, 1, t0+2)
	require.NoError(t, err)

	res, err := f.svc.CommitRandomness(ctx, f.admin, t0+day+1)
	require.NoError(t, err)
	rev, err := f.svc.RevealRandomness(ctx, res.Request.Handle, t0+day+2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev.WinnerIndex)

	receipt, err := f.svc.ClaimPrize(alice, 1, t0+day+3)
	require.NoError(t, err)
	winnerAmount, charityAmount := SplitPot(3 * token)
	require.Equal(t, winnerAmount, receipt.WinnerAmount)

	t.Run("charity donations accumulate", func(t *testing.T) {
		charities, err := f.svc.Charities()
		require.NoError(t, err)
		require.Len(t, charities, 1)
		assert.Equal(t, charityID, charities[0].ID)
		assert.Equal(t, charityAmount, charities[0].DonatedTotal)
	})

	t.Run("per identity totals", func(t *testing.T) {
		st, err := f.svc.Stats(alice)
		require.NoError(t, err)
		assert.Equal(t, &models.AccountStats{
			Identity:      alice,
			TicketsBought: 2,
			TotalSpent:    2 * token,
			Winnings:      winnerAmount,
			RoundsWon:     1,
		}, st)

		st, err = f.svc.Stats(strings.ToUpper(bob))
		require.NoError(t, err)
		assert.Equal(t, &models.AccountStats{Identity: bob, TicketsBought: 1, TotalSpent: token}, st)

		st, err = f.svc.Stats(newIdentity(t))
		require.NoError(t, err)
		assert.Zero(t, st.TicketsBought)
	})

	t.Run("invalid identities are rejected", func(t *testing.T) {
		_, err := f.svc.Stats("zz")
		assert.ErrorIs(t, err, models.ErrInvalidIdentity)
		_, err = f.svc.Balance("zz")
		assert.ErrorIs(t, err, models.ErrInvalidIdentity)

		bal, err := f.svc.Balance(strings.ToUpper(bob))
		require.NoError(t, err)
		assert.Equal(t, 4*token, bal)
	})

	t.Run("rounds newest first", func(t *testing.T) {
		f.openRound(t, 2*token, t0+2*day, t0+3*day)

		rounds, err := f.svc.Rounds()
		require.NoError(t, err)
		require.Len(t, rounds, 2)
		assert.Equal(t, uint64(2), rounds[0].ID)
		assert.Equal(t, models.StatusOpen, rounds[0].Status)
		assert.Equal(t, uint64(1), rounds[1].ID)
		assert.Equal(t, models.StatusSettled, rounds[1].Status)
		require.NotNil(t, rounds[1].Receipt)
		assert.Equal(t, alice, rounds[1].Receipt.Winner)
	})
}
