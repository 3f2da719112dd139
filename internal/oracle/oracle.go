// Package oracle is the boundary to the verifiable randomness provider.
//
// The lottery only relies on commit/reveal semantics: a seed is committed to
// before anybody can know the value it will produce, and the value revealed
// later comes with a proof the oracle itself can check.
package oracle

import (
	"context"
	"errors"
)

var (
	ErrUnknownHandle = errors.New("oracle: unknown request handle")
	ErrVerifyFailed  = errors.New("oracle: reveal does not match commitment")
	ErrEmptySeed     = errors.New("oracle: empty seed")
)

// Commitment is the oracle's answer to a commit request.
type Commitment struct {
	Handle     string
	Seed       []byte
	Commitment []byte
}

// Reveal carries the disclosed random value and its proof.
type Reveal struct {
	Handle     string
	Randomness []byte
	Value      uint64
	Proof      []byte
}

// Oracle is a commit/reveal randomness source.
type Oracle interface {
	Commit(ctx context.Context, seed []byte) (*Commitment, error)
	Reveal(ctx context.Context, handle string) (*Reveal, error)
	// Verify checks that rev is the value bound by the commitment over seed.
	Verify(seed, commitment []byte, rev *Reveal) error
}
