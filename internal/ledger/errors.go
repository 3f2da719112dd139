package ledger

import "errors"

var (
	// ErrTokenExists indicates a ticket token was already minted at the address.
	ErrTokenExists = errors.New("ledger: token already minted")

	// ErrMarkerExists indicates a vote marker already exists at the address.
	ErrMarkerExists = errors.New("ledger: vote marker already exists")

	// ErrMarkerNotFound indicates no vote marker exists at the address.
	ErrMarkerNotFound = errors.New("ledger: vote marker not found")

	// ErrBalanceOverflow indicates a credit would overflow a balance.
	ErrBalanceOverflow = errors.New("ledger: balance overflow")

	// ErrCorruptRecord indicates a stored record could not be decoded.
	ErrCorruptRecord = errors.New("ledger: corrupt record")
)
