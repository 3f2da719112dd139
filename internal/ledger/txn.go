package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"go.etcd.io/bbolt"

	"charitylottery/internal/models"
)

// Txn is a view of the ledger inside one bbolt transaction.
type Txn struct {
	tx *bbolt.Tx
}

// CurrentRoundID returns the ID of the live round, or false if none exists.
func (t *Txn) CurrentRoundID() (uint64, bool) {
	v := t.tx.Bucket(bucketMeta).Get(keyCurrentRound)
	if len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

// NextRoundID reserves the next sequential round ID.
func (t *Txn) NextRoundID() (uint64, error) {
	return t.tx.Bucket(bucketRounds).NextSequence()
}

// SetCurrentRound marks id as the live round.
func (t *Txn) SetCurrentRound(id uint64) error {
	return t.tx.Bucket(bucketMeta).Put(keyCurrentRound, u64Key(id))
}

// Round loads round id.
func (t *Txn) Round(id uint64) (*models.Round, error) {
	var r models.Round
	ok, err := get(t.tx.Bucket(bucketRounds), u64Key(id), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrRoundNotFound, id)
	}
	return &r, nil
}

// PutRound stores r under its ID.
func (t *Txn) PutRound(r *models.Round) error {
	return put(t.tx.Bucket(bucketRounds), u64Key(r.ID), r)
}

// Rounds returns every round, newest first.
func (t *Txn) Rounds() ([]*models.Round, error) {
	var out []*models.Round
	c := t.tx.Bucket(bucketRounds).Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		var r models.Round
		if err := decode(v, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, nil
}

// MintTicket records a new ticket token and gives its minter control of it.
// A token is minted once and the address may never be reused. The mint
// record itself is never rewritten.
func (t *Txn) MintTicket(tk *models.Ticket) error {
	b := t.tx.Bucket(bucketTickets)
	if b.Get([]byte(tk.Address)) != nil {
		return fmt.Errorf("%w: %s", ErrTokenExists, tk.Address)
	}
	if err := put(b, []byte(tk.Address), tk); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketTokenHolders).Put([]byte(tk.Address), []byte(tk.Minter)); err != nil {
		return err
	}
	return t.tx.Bucket(bucketRoundTickets).Put(pairKey(tk.RoundID, tk.Index), []byte(tk.Address))
}

// Ticket loads the mint record of the token at addr.
func (t *Txn) Ticket(addr string) (*models.Ticket, error) {
	var tk models.Ticket
	ok, err := get(t.tx.Bucket(bucketTickets), []byte(addr), &tk)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrTicketNotFound, addr)
	}
	return &tk, nil
}

// Holder returns the identity that controls the token at addr.
func (t *Txn) Holder(addr string) (string, error) {
	v := t.tx.Bucket(bucketTokenHolders).Get([]byte(addr))
	if v == nil {
		return "", fmt.Errorf("%w: %s", models.ErrTicketNotFound, addr)
	}
	return string(v), nil
}

// SetTicketHolder moves control of the token at addr to holder.
func (t *Txn) SetTicketHolder(addr, holder string) error {
	if _, err := t.Holder(addr); err != nil {
		return err
	}
	return t.tx.Bucket(bucketTokenHolders).Put([]byte(addr), []byte(holder))
}

// Controls reports whether identity currently controls the token at addr.
func (t *Txn) Controls(addr, identity string) (bool, error) {
	holder, err := t.Holder(addr)
	if err != nil {
		return false, err
	}
	return holder == identity, nil
}

// Tickets returns every ticket of a round in index order, together with
// the identity that now controls it.
func (t *Txn) Tickets(roundID uint64) ([]*models.TicketHolding, error) {
	var out []*models.TicketHolding
	prefix := u64Key(roundID)
	c := t.tx.Bucket(bucketRoundTickets).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		h, err := t.Holding(string(v))
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Holding loads the mint record of the token at addr and its current holder.
func (t *Txn) Holding(addr string) (*models.TicketHolding, error) {
	tk, err := t.Ticket(addr)
	if err != nil {
		return nil, err
	}
	holder, err := t.Holder(addr)
	if err != nil {
		return nil, err
	}
	return &models.TicketHolding{Ticket: *tk, Holder: holder}, nil
}

// Balance returns the funds held by identity.
func (t *Txn) Balance(identity string) uint64 {
	v := t.tx.Bucket(bucketBalances).Get([]byte(identity))
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// Credit adds amount to identity's balance.
func (t *Txn) Credit(identity string, amount uint64) error {
	bal := t.Balance(identity)
	if amount > math.MaxUint64-bal {
		return ErrBalanceOverflow
	}
	return t.tx.Bucket(bucketBalances).Put([]byte(identity), u64Key(bal+amount))
}

// Debit removes amount from identity's balance.
func (t *Txn) Debit(identity string, amount uint64) error {
	bal := t.Balance(identity)
	if bal < amount {
		return fmt.Errorf("%w: have %d, need %d", models.ErrInsufficientFunds, bal, amount)
	}
	return t.tx.Bucket(bucketBalances).Put([]byte(identity), u64Key(bal-amount))
}

// Stats returns the activity totals of identity. An identity that never
// played has zero totals.
func (t *Txn) Stats(identity string) (*models.AccountStats, error) {
	st := models.AccountStats{Identity: identity}
	if _, err := get(t.tx.Bucket(bucketStats), []byte(identity), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// PutStats stores the activity totals of st.Identity.
func (t *Txn) PutStats(st *models.AccountStats) error {
	return put(t.tx.Bucket(bucketStats), []byte(st.Identity), st)
}

// CreateRequestMarker records that a signed request was executed. Creating
// the same marker twice fails, which is what stops a request from running
// again.
func (t *Txn) CreateRequestMarker(addr string, m *models.RequestMarker) error {
	b := t.tx.Bucket(bucketRequests)
	if b.Get([]byte(addr)) != nil {
		return ErrMarkerExists
	}
	return put(b, []byte(addr), m)
}

// NextCharityID reserves the next sequential charity ID.
func (t *Txn) NextCharityID() (uint64, error) {
	return t.tx.Bucket(bucketCharities).NextSequence()
}

// Charity loads charity id.
func (t *Txn) Charity(id uint64) (*models.CharityEntry, error) {
	var c models.CharityEntry
	ok, err := get(t.tx.Bucket(bucketCharities), u64Key(id), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrCharityNotFound, id)
	}
	return &c, nil
}

// PutCharity stores c under its ID.
func (t *Txn) PutCharity(c *models.CharityEntry) error {
	return put(t.tx.Bucket(bucketCharities), u64Key(c.ID), c)
}

// Charities returns every registered charity ordered by ID.
func (t *Txn) Charities() ([]*models.CharityEntry, error) {
	var out []*models.CharityEntry
	err := t.tx.Bucket(bucketCharities).ForEach(func(k, v []byte) error {
		var c models.CharityEntry
		if err := decode(v, &c); err != nil {
			return err
		}
		out = append(out, &c)
		return nil
	})
	return out, err
}

// VoteMarker loads the marker at addr.
func (t *Txn) VoteMarker(addr string) (*models.VoteMarker, error) {
	var m models.VoteMarker
	ok, err := get(t.tx.Bucket(bucketVotes), []byte(addr), &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMarkerNotFound
	}
	return &m, nil
}

// CreateVoteMarker stores a new marker; creating it twice fails.
func (t *Txn) CreateVoteMarker(addr string, m *models.VoteMarker) error {
	b := t.tx.Bucket(bucketVotes)
	if b.Get([]byte(addr)) != nil {
		return ErrMarkerExists
	}
	return put(b, []byte(addr), m)
}

// AddVote increments the round tally of a charity.
func (t *Txn) AddVote(roundID, charityID uint64) error {
	b := t.tx.Bucket(bucketTallies)
	key := pairKey(roundID, charityID)
	var n uint64
	if v := b.Get(key); len(v) == 8 {
		n = binary.BigEndian.Uint64(v)
	}
	return b.Put(key, u64Key(n+1))
}

// Tallies returns the non-zero tallies of a round ordered by charity ID.
func (t *Txn) Tallies(roundID uint64) []models.Tally {
	var out []models.Tally
	prefix := u64Key(roundID)
	c := t.tx.Bucket(bucketTallies).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		out = append(out, models.Tally{
			CharityID: binary.BigEndian.Uint64(k[8:]),
			Votes:     binary.BigEndian.Uint64(v),
		})
	}
	return out
}
