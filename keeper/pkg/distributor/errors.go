package distributor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotKeeper means the signing account lacks keeper privilege on the rewards manager.
	ErrNotKeeper = errors.New("caller is not a keeper on the rewards manager")

	// ErrInsufficientBalance means the rewards manager holds less want than requested.
	ErrInsufficientBalance = errors.New("insufficient rewards manager balance")

	// ErrInvalidTarget means the strategy key, strategy or want pairing is not recognized.
	ErrInvalidTarget = errors.New("invalid distribution target")

	// ErrTransferReverted means the transfer transaction was mined but reverted.
	ErrTransferReverted = errors.New("transfer transaction reverted")

	ErrInvalidAmount = errors.New("invalid transfer amount")
)

// CycleError reports where a distribution cycle halted. Transfers before Index were submitted and
// are not rolled back; entries after it were never attempted.
type CycleError struct {
	Index int
	Key   string
	Err   error
}

func (e *CycleError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("distribution cycle halted before first entry: %v", e.Err)
	}
	return fmt.Sprintf("distribution cycle halted at entry %d (%s): %v", e.Index, e.Key, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}
