package models

import "fmt"

// Status is the lifecycle stage of a lottery round.
type Status uint32

const (
	StatusOpen Status = iota
	StatusLocked
	StatusCommitted
	StatusRevealed
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusLocked:
		return "Locked"
	case StatusCommitted:
		return "Committed"
	case StatusRevealed:
		return "Revealed"
	case StatusSettled:
		return "Settled"
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

// MarshalText lets statuses show up by name in JSON responses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for c := StatusOpen; c <= StatusSettled; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Outcome describes how a round ended, if it has.
type Outcome uint32

const (
	OutcomePending Outcome = iota
	OutcomeWinner
	OutcomeNoParticipants
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "Pending"
	case OutcomeWinner:
		return "Winner"
	case OutcomeNoParticipants:
		return "NoParticipants"
	}
	return fmt.Sprintf("Outcome(%d)", uint32(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	for c := OutcomePending; c <= OutcomeNoParticipants; c++ {
		if c.String() == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Round is the singleton registry record describing one lottery cycle.
// Pot always equals TicketPrice * TicketCount.
type Round struct {
	ID          uint64 `json:"id"`
	Authority   string `json:"authority"`
	TicketPrice uint64 `json:"ticketPrice"`
	WindowStart uint64 `json:"windowStart"`
	WindowEnd   uint64 `json:"windowEnd"`
	TicketCount uint64 `json:"ticketCount"`
	Pot         uint64 `json:"pot"`

	CharityChosen bool   `json:"charityChosen"`
	CharityID     uint64 `json:"charityId"`

	WinnerChosen bool   `json:"winnerChosen"`
	WinnerIndex  uint64 `json:"winnerIndex"`

	Status  Status  `json:"status"`
	Outcome Outcome `json:"outcome"`

	// Attempts counts randomness commitments, including recovery re-commits.
	Attempts   uint64             `json:"attempts"`
	Randomness *RandomnessRequest `json:"randomness,omitempty"`
	Receipt    *PayoutReceipt     `json:"receipt,omitempty"`
}

// SaleOpen reports whether tickets may be sold at slot now.
func (r *Round) SaleOpen(now uint64) bool {
	return r.Status == StatusOpen && now >= r.WindowStart && now <= r.WindowEnd
}

// RandomnessRequest is one commit-reveal exchange with the oracle. It is
// owned by the round and consumed exactly once by the winner resolver.
type RandomnessRequest struct {
	Handle         string `json:"handle"`
	Seed           []byte `json:"seed"`
	Commitment     []byte `json:"commitment"`
	CommitSlot     uint64 `json:"commitSlot"`
	RevealDeadline uint64 `json:"revealDeadline"`

	Revealed      bool   `json:"revealed"`
	RevealedValue uint64 `json:"revealedValue"`
	Proof         []byte `json:"proof,omitempty"`
}

// Ticket is the mint record of a single ticket token. It is written once
// and never changes. Control of the token, not this record, decides
// ownership.
type Ticket struct {
	RoundID  uint64 `json:"roundId"`
	Index    uint64 `json:"index"`
	Address  string `json:"address"`
	Minter   string `json:"minter"`
	MintedAt uint64 `json:"mintedAt"`
}

// TicketHolding is a mint record paired with the identity that controls
// the token now.
type TicketHolding struct {
	Ticket
	Holder string `json:"holder"`
}

// CharityEntry is a donation recipient. VoteCount and DonatedTotal only
// ever grow.
type CharityEntry struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Treasury     string `json:"treasury"`
	VoteCount    uint64 `json:"voteCount"`
	DonatedTotal uint64 `json:"donatedTotal"`
}

// AccountStats are the lifetime lottery totals of one identity.
type AccountStats struct {
	Identity      string `json:"identity"`
	TicketsBought uint64 `json:"ticketsBought"`
	TotalSpent    uint64 `json:"totalSpent"`
	Winnings      uint64 `json:"winnings"`
	RoundsWon     uint64 `json:"roundsWon"`
}

// RequestMarker records that a signed request has been executed.
type RequestMarker struct {
	Caller   string `json:"caller"`
	Nonce    string `json:"nonce"`
	IssuedAt uint64 `json:"issuedAt"`
}

// VoteMarker records that a voter has used their vote in a round.
type VoteMarker struct {
	RoundID   uint64 `json:"roundId"`
	Voter     string `json:"voter"`
	CharityID uint64 `json:"charityId"`
}

// Tally is the vote count of one charity within one round.
type Tally struct {
	CharityID uint64 `json:"charityId"`
	Votes     uint64 `json:"votes"`
}

// PayoutReceipt is written once, when the round settles with a winner.
type PayoutReceipt struct {
	RoundID         uint64 `json:"roundId"`
	TicketIndex     uint64 `json:"ticketIndex"`
	Winner          string `json:"winner"`
	WinnerAmount    uint64 `json:"winnerAmount"`
	CharityID       uint64 `json:"charityId"`
	CharityTreasury string `json:"charityTreasury"`
	CharityAmount   uint64 `json:"charityAmount"`
	SettledAt       uint64 `json:"settledAt"`
}

// RoundState is the read-only snapshot served to clients.
type RoundState struct {
	RoundID     uint64  `json:"roundId"`
	Price       uint64  `json:"price"`
	WindowStart uint64  `json:"windowStart"`
	WindowEnd   uint64  `json:"windowEnd"`
	Pot         uint64  `json:"pot"`
	TicketCount uint64  `json:"ticketCount"`
	CharityID   *uint64 `json:"charityId,omitempty"`
	Status      Status  `json:"status"`
	Outcome     Outcome `json:"outcome"`
	WinnerIndex *uint64 `json:"winnerIndex,omitempty"`
}

// CommitResult is returned by a commit. Request is nil when locking the
// round settled it with no participants.
type CommitResult struct {
	RoundID uint64             `json:"roundId"`
	Status  Status             `json:"status"`
	Outcome Outcome            `json:"outcome"`
	Request *RandomnessRequest `json:"request,omitempty"`
}

// RevealResult is returned by a successful reveal.
type RevealResult struct {
	RoundID       uint64 `json:"roundId"`
	RevealedValue uint64 `json:"revealedValue"`
	WinnerIndex   uint64 `json:"winnerIndex"`
}
