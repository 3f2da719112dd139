// Package ledger is the account store the lottery runs on.
//
// Every mutation happens inside a single bbolt read-write transaction.
// bbolt admits one writer at a time, so each operation sees a consistent
// snapshot, applies completely or not at all, and is totally ordered against
// every other mutation.
package ledger

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
)

var (
	bucketMeta         = []byte("meta")
	bucketRounds       = []byte("rounds")
	bucketTickets      = []byte("tickets")
	bucketRoundTickets = []byte("round_tickets")
	bucketBalances     = []byte("balances")
	bucketCharities    = []byte("charities")
	bucketVotes        = []byte("votes")
	bucketTallies      = []byte("tallies")
	bucketTokenHolders = []byte("token_holders")
	bucketStats        = []byte("stats")
	bucketRequests     = []byte("requests")

	keyCurrentRound = []byte("current_round")
)

// Store wraps the bbolt database holding every lottery account.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the ledger database at dbPath.
// The parent directory is created if it does not exist.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketMeta, bucketRounds, bucketTickets, bucketRoundTickets,
			bucketBalances, bucketCharities, bucketVotes, bucketTallies,
			bucketTokenHolders, bucketStats, bucketRequests,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Update runs fn in an exclusive read-write transaction. If fn returns an
// error nothing it wrote is kept.
func (s *Store) Update(fn func(*Txn) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&Txn{tx: tx})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(*Txn) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&Txn{tx: tx})
	})
}

// Controls reports whether identity currently controls the token at addr.
func (s *Store) Controls(addr, identity string) (bool, error) {
	var ok bool
	err := s.View(func(txn *Txn) error {
		var err error
		ok, err = txn.Controls(addr, identity)
		return err
	})
	return ok, err
}

func u64Key(v uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

func pairKey(a, b uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k, a)
	binary.BigEndian.PutUint64(k[8:], b)
	return k
}

func put(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := protobuf.Encode(v)
	if err != nil {
		return fmt.Errorf("ledger: encode %T: %w", v, err)
	}
	return b.Put(key, data)
}

func get(b *bbolt.Bucket, key []byte, v interface{}) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	return true, decode(data, v)
}

func decode(data []byte, v interface{}) error {
	// bbolt memory is only valid inside the transaction.
	data = append([]byte(nil), data...)
	if err := protobuf.Decode(data, v); err != nil {
		return fmt.Errorf("%w: %T: %v", ErrCorruptRecord, v, err)
	}
	return nil
}
