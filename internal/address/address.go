// Package address derives the deterministic addresses of lottery accounts.
//
// Every address is a BLAKE2b-256 digest over a domain tag, the program ID and
// little-endian encoded integers, so any client can recompute the address of
// a ticket from (round ID, ticket index) without asking a directory.
package address

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is the length of an address in bytes.
const Size = blake2b.Size256

const (
	tagRound  = "round"
	tagTicket = "ticket"
	tagVote   = "vote"
	tagSeed   = "seed"
	tagNonce  = "nonce"
)

// Address identifies a ledger account.
type Address [Size]byte

// String returns the hex encoding of a.
func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Parse decodes a hex address.
func Parse(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("address: decode %q: %w", s, err)
	}
	if len(b) != Size {
		return a, fmt.Errorf("address: want %d bytes, got %d", Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func derive(tag, programID string, parts ...[]byte) Address {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(tag))
	h.Write([]byte(programID))
	for _, p := range parts {
		h.Write(p)
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// Round returns the registry address of round roundID.
func Round(programID string, roundID uint64) Address {
	return derive(tagRound, programID, le64(roundID))
}

// Ticket returns the token address of ticket index in round roundID.
func Ticket(programID string, roundID, index uint64) Address {
	return derive(tagTicket, programID, le64(roundID), le64(index))
}

// VoteMarker returns the marker address of voter's vote in round roundID.
func VoteMarker(programID string, roundID uint64, voter string) Address {
	return derive(tagVote, programID, le64(roundID), []byte(voter))
}

// RequestMarker returns the marker address of caller's signed request with
// the given nonce. Callers are fixed-width identities, so the caller and
// nonce bytes never run into each other.
func RequestMarker(programID, caller, nonce string) Address {
	return derive(tagNonce, programID, []byte(caller), []byte(nonce))
}

// Seed returns the randomness seed committed for the given attempt of a round.
func Seed(programID string, roundID, attempt, slot uint64) []byte {
	round := Round(programID, roundID)
	a := derive(tagSeed, programID, round[:], le64(attempt), le64(slot))
	return a[:]
}
