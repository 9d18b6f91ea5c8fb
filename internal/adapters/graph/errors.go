package graph

import "errors"

var (
	// ErrTxDone is returned by operations on a committed or rolled back Tx.
	ErrTxDone = errors.New("graph tx already finished")
	// ErrDecodeAttributes marks stored attributes that are not valid JSON.
	ErrDecodeAttributes = errors.New("decode stored attributes")
)
