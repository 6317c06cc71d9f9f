package pool

import "errors"

// Rejection sentinels. Every failing instruction reports exactly one of
// these; callers match with errors.Is. Rejected instructions never mutate
// pool state.
var (
	ErrAlreadyInitialized = errors.New("pool already initialized")
	ErrNotInitialized     = errors.New("pool not initialized")
	ErrInvalidDepth       = errors.New("tree depth out of range")
	ErrCapacityExceeded   = errors.New("pool is at leaf capacity")

	ErrUnknownRoot          = errors.New("root is not in the recent history window")
	ErrNullifierAlreadyUsed = errors.New("nullifier hash already recorded")
	ErrInvalidProof         = errors.New("proof verification failed")

	ErrInvalidPublicInputEncoding = errors.New("public input is not a canonical field element")
	ErrInsufficientFunds          = errors.New("withdrawal exceeds shielded balance")
	ErrInvalidInstruction         = errors.New("malformed instruction payload")
)
