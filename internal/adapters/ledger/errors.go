package ledger

import "errors"

// ErrInvalidReceipt rejects a receipt without identity.
var ErrInvalidReceipt = errors.New("receipt requires challenge and miner ids")
