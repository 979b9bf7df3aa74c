package submit

import (
	"errors"
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// ErrTransactionFailed is wrapped by a ConfirmationError when the ledger
// executed the transaction and reported an error.
var ErrTransactionFailed = errors.New("submit: transaction failed")

// SubmissionError reports that the signer or the ledger rejected a
// transaction before it could be confirmed.
type SubmissionError struct {
	Stage string // blockhash, compile, sign, send or airdrop
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit: %s: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ConfirmationError reports that a transaction did not reach the target
// commitment: it failed on chain, the status call failed, or ctx ended first.
type ConfirmationError struct {
	Signature types.Signature
	Target    types.Commitment
	Reached   types.Commitment // last observed level, empty if never seen
	Err       error
}

func (e *ConfirmationError) Error() string {
	reached := string(e.Reached)
	if reached == "" {
		reached = "unseen"
	}
	return fmt.Sprintf("submit: confirm %s to %s (reached %s): %v", e.Signature, e.Target, reached, e.Err)
}

func (e *ConfirmationError) Unwrap() error {
	return e.Err
}
