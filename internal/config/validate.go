package config

import (
	"errors"
	"fmt"
	"net"

	"charitylottery/internal/identity"
)

var (
	ErrEmptyLedgerPath    = errors.New("config: ledger path is empty")
	ErrEmptyProgramID     = errors.New("config: program id is empty")
	ErrInvalidListenAddr  = errors.New("config: invalid listen address")
	ErrInvalidAdmin       = errors.New("config: invalid admin identity")
	ErrInvalidSigWindow   = errors.New("config: signature window must be positive")
	ErrInvalidRevealDelay = errors.New("config: min reveal delay must be positive and within the reveal window")
	ErrInvalidTicketLimit = errors.New("config: max tickets per purchase must be positive")
)

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.Ledger.Path == "" {
		return ErrEmptyLedgerPath
	}
	if cfg.Lottery.ProgramID == "" {
		return ErrEmptyProgramID
	}
	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)
	}
	if cfg.Server.AdminIdentity != "" {
		if _, err := identity.Parse(cfg.Server.AdminIdentity); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAdmin, err)
		}
	}
	if cfg.Server.SignatureWindow == 0 {
		return ErrInvalidSigWindow
	}
	// A reveal never shares the commit slot, and some slot in
	// [commit+delay, commit+window] must remain.
	if cfg.Lottery.MinRevealDelay == 0 || cfg.Lottery.RevealWindow < cfg.Lottery.MinRevealDelay {
		return ErrInvalidRevealDelay
	}
	if cfg.Lottery.MaxTicketsPerPurchase == 0 {
		return ErrInvalidTicketLimit
	}
	return nil
}
