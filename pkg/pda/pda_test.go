package pda

import (
	"crypto/sha256"
	"errors"
	"strings"
	"testing"

	"github.com/AlysCarillo/solana-polling-station/pkg/crypto"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

func testProgramID() types.Pubkey {
	return types.Pubkey(sha256.Sum256([]byte("poll-program")))
}

func TestDeriveDeterministic(t *testing.T) {
	programID := testProgramID()

	addr1, bump1, err := Derive(programID, []byte("AbC1234"))
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	addr2, bump2, err := Derive(programID, []byte("AbC1234"))
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	if addr1 != addr2 || bump1 != bump2 {
		t.Errorf("derivation not deterministic: (%s,%d) vs (%s,%d)", addr1, bump1, addr2, bump2)
	}
}

func TestDeriveOffCurve(t *testing.T) {
	programID := testProgramID()

	for _, id := range []string{"a", "AbC1234", "zzzzzzz", "0000000"} {
		addr, bump, err := DerivePollAddress(programID, id)
		if err != nil {
			t.Fatalf("DerivePollAddress(%q) failed: %v", id, err)
		}
		if crypto.IsOnCurve(addr[:]) {
			t.Errorf("address for %q is on curve", id)
		}

		// Every bump above the chosen one must have landed on the curve.
		for b := 255; b > int(bump); b-- {
			_, err := CreateProgramAddress([][]byte{[]byte(id), {uint8(b)}}, programID)
			if !errors.Is(err, ErrOnCurve) {
				t.Errorf("bump %d for %q should be on curve, got %v", b, id, err)
			}
		}

		if err := VerifyPollAddress(programID, id, bump, addr); err != nil {
			t.Errorf("VerifyPollAddress(%q) failed: %v", id, err)
		}
	}
}

func TestDeriveDistinctSeeds(t *testing.T) {
	programID := testProgramID()

	a, _, _ := Derive(programID, []byte("poll-a"))
	b, _, _ := Derive(programID, []byte("poll-b"))
	if a == b {
		t.Error("different seeds should yield different addresses")
	}

	other := types.Pubkey(sha256.Sum256([]byte("other-program")))
	c, _, _ := Derive(other, []byte("poll-a"))
	if a == c {
		t.Error("different programs should yield different addresses")
	}
}

func TestDeriveSeedTooLong(t *testing.T) {
	seed := []byte(strings.Repeat("x", MaxSeedLen+1))

	_, _, err := Derive(testProgramID(), seed)
	var derr *AddressDerivationError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *AddressDerivationError, got %v", err)
	}
	if !errors.Is(err, ErrMaxSeedLengthExceeded) {
		t.Errorf("expected ErrMaxSeedLengthExceeded, got %v", err)
	}
}

func TestFindProgramAddressTooManySeeds(t *testing.T) {
	seeds := make([][]byte, MaxSeeds)
	for i := range seeds {
		seeds[i] = []byte{byte(i)}
	}

	if _, _, err := FindProgramAddress(seeds, testProgramID()); !errors.Is(err, ErrTooManySeeds) {
		t.Errorf("expected ErrTooManySeeds, got %v", err)
	}
	if _, err := CreateProgramAddress(append(seeds, []byte{0}), testProgramID()); !errors.Is(err, ErrTooManySeeds) {
		t.Errorf("expected ErrTooManySeeds, got %v", err)
	}
}

func TestVerifyPollAddressMismatch(t *testing.T) {
	programID := testProgramID()
	addr, bump, _ := DerivePollAddress(programID, "AbC1234")

	other, _, _ := DerivePollAddress(programID, "XyZ9876")
	if err := VerifyPollAddress(programID, "AbC1234", bump, other); err == nil {
		t.Error("expected mismatch error")
	}
	if err := VerifyPollAddress(programID, "AbC1234", bump, addr); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
