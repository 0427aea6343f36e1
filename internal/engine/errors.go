package engine

import "errors"

// Admission errors. These reject an inbound request synchronously with a
// one-line reason and never leave the ledger partially mutated.
var (
	ErrNotLoggedIn         = errors.New("please log in first")
	ErrAlreadyLoggedIn     = errors.New("account already logged in on another device")
	ErrStopPhase           = errors.New("betting closed while the round settles")
	ErrSpinningPhase       = errors.New("betting closed, waiting for the draw")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidBet          = errors.New("invalid bet")
)
