package verify

import "errors"

// Sentinel kinds for ground-truth failures. ErrIndeterminate wraps every fetch
// error behind an indeterminate component; ErrUnknownComponent fails one.
var (
	ErrIndeterminate    = errors.New("ground truth indeterminate")
	ErrUnknownComponent = errors.New("unknown component")
)
