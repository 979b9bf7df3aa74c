// Package pda derives program addresses for poll accounts.
//
// PDA formula: SHA256(seeds... || program_id || "ProgramDerivedAddress").
// The result must NOT be on the ed25519 curve, so no private key exists for it.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/crypto"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// PDA constants
const (
	// MaxSeeds is the maximum number of seeds, including the bump.
	MaxSeeds = 16
	// MaxSeedLen is the maximum length of a single seed
	MaxSeedLen = 32
	// PDAMarker is the string appended during PDA derivation
	PDAMarker = "ProgramDerivedAddress"
)

var (
	// ErrTooManySeeds is returned when more than MaxSeeds seeds are given.
	ErrTooManySeeds = errors.New("pda: too many seeds")
	// ErrMaxSeedLengthExceeded is returned when a seed is longer than MaxSeedLen.
	ErrMaxSeedLengthExceeded = errors.New("pda: seed exceeds maximum length")
	// ErrOnCurve is returned when a candidate address is a valid public key.
	ErrOnCurve = errors.New("pda: address is on the ed25519 curve")
	// ErrBumpNotFound is returned when every bump from 255 to 0 lands on the curve.
	ErrBumpNotFound = errors.New("pda: unable to find a viable bump seed")
)

// AddressDerivationError reports a failed derivation for a program and seed.
type AddressDerivationError struct {
	ProgramID types.Pubkey
	Seed      []byte
	Err       error
}

func (e *AddressDerivationError) Error() string {
	return fmt.Sprintf("pda: derive address for program %s seed %q: %v", e.ProgramID, e.Seed, e.Err)
}

func (e *AddressDerivationError) Unwrap() error {
	return e.Err
}

// CreateProgramAddress computes the address for a fixed set of seeds. It fails
// with ErrOnCurve when the hash is a valid curve point.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.ZeroPubkey, ErrTooManySeeds
	}

	hasher := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.ZeroPubkey, ErrMaxSeedLengthExceeded
		}
		hasher.Write(seed)
	}
	hasher.Write(programID[:])
	hasher.Write([]byte(PDAMarker))

	hash := hasher.Sum(nil)
	if crypto.IsOnCurve(hash) {
		return types.ZeroPubkey, ErrOnCurve
	}

	var pda types.Pubkey
	copy(pda[:], hash)
	return pda, nil
}

// FindProgramAddress finds a valid PDA by trying bump seeds from 255 to 0.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	// Leave room for the bump seed.
	if len(seeds) > MaxSeeds-1 {
		return types.ZeroPubkey, 0, ErrTooManySeeds
	}

	seedsWithBump := make([][]byte, len(seeds)+1)
	copy(seedsWithBump, seeds)
	bumpSeed := []byte{0}
	seedsWithBump[len(seeds)] = bumpSeed

	for bump := 255; bump >= 0; bump-- {
		bumpSeed[0] = uint8(bump)
		pda, err := CreateProgramAddress(seedsWithBump, programID)
		switch {
		case err == nil:
			return pda, uint8(bump), nil
		case !errors.Is(err, ErrOnCurve):
			return types.ZeroPubkey, 0, err
		}
	}

	return types.ZeroPubkey, 0, ErrBumpNotFound
}

// Derive returns the program address and bump for a single seed.
func Derive(programID types.Pubkey, seed []byte) (types.Pubkey, uint8, error) {
	addr, bump, err := FindProgramAddress([][]byte{seed}, programID)
	if err != nil {
		return types.ZeroPubkey, 0, &AddressDerivationError{
			ProgramID: programID,
			Seed:      append([]byte(nil), seed...),
			Err:       err,
		}
	}
	return addr, bump, nil
}

// DerivePollAddress derives the account address of the poll with the given id.
func DerivePollAddress(programID types.Pubkey, pollID string) (types.Pubkey, uint8, error) {
	return Derive(programID, []byte(pollID))
}

// VerifyPollAddress checks that addr is the account for pollID under bump.
func VerifyPollAddress(programID types.Pubkey, pollID string, bump uint8, addr types.Pubkey) error {
	want, err := CreateProgramAddress([][]byte{[]byte(pollID), {bump}}, programID)
	if err != nil {
		return &AddressDerivationError{ProgramID: programID, Seed: []byte(pollID), Err: err}
	}
	if want != addr {
		return fmt.Errorf("pda: address %s does not match seeds (expected %s)", addr, want)
	}
	return nil
}
