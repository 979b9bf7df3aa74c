// Package poh implements the Proof of History hash chain the local ledger
// uses as its block clock.
package poh

import "errors"

var (
	// ErrHashMismatch indicates that an entry hash doesn't match the expected computed hash.
	ErrHashMismatch = errors.New("poh: entry hash does not match expected hash")

	// ErrInvalidNumHashes indicates that the number of hashes in an entry is invalid.
	ErrInvalidNumHashes = errors.New("poh: invalid number of hashes (must be > 0)")

	// ErrInvalidEntry indicates that an entry is malformed or invalid.
	ErrInvalidEntry = errors.New("poh: malformed or invalid entry")
)
