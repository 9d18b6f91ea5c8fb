package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	// ErrLedgerWrite means no receipt was durably written; the score must not
	// be treated as final and the whole scoring call should be retried.
	ErrLedgerWrite = errors.New("receipt ledger write failed")
	// ErrLedgerUnavailable means the receipt multiplier could not be looked up.
	ErrLedgerUnavailable = errors.New("receipt ledger unavailable")
	ErrInvalidInput      = errors.New("invalid scoring input")
)
