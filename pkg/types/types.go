// Package types provides the core ledger data types used by the polling client.
package types

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// decodeFixed decodes base58 s into dst, which must be filled exactly.
func decodeFixed(what, s string, dst []byte) error {
	b, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid base58 %s: %w", what, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%s must be %d bytes, got %d", what, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// Hash is a SHA-256 digest: a blockhash, a hash-chain entry or an accounts
// delta.
type Hash [32]byte

var ZeroHash Hash

func HashFromBase58(s string) (Hash, error) {
	var h Hash
	err := decodeFixed("hash", s, h[:])
	return h, err
}

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) String() string { return base58.Encode(h[:]) }
func (h Hash) IsZero() bool   { return h == ZeroHash }

// SHA256Multi hashes the concatenation of data.
func SHA256Multi(data ...[]byte) Hash {
	d := sha256.New()
	for _, b := range data {
		d.Write(b)
	}
	var out Hash
	d.Sum(out[:0])
	return out
}

// Pubkey is an Ed25519 public key or a program derived address.
type Pubkey [32]byte

var ZeroPubkey Pubkey

// SystemProgramID is the native program that creates and funds accounts.
var SystemProgramID = MustPubkeyFromBase58("11111111111111111111111111111111")

func PubkeyFromBase58(s string) (Pubkey, error) {
	var pk Pubkey
	err := decodeFixed("pubkey", s, pk[:])
	return pk, err
}

// MustPubkeyFromBase58 is for well-known addresses; it panics on bad input.
func MustPubkeyFromBase58(s string) Pubkey {
	pk, err := PubkeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk Pubkey) String() string { return base58.Encode(pk[:]) }
func (pk Pubkey) IsZero() bool   { return pk == ZeroPubkey }

// MarshalText renders pk as base58 in JSON documents.
func (pk Pubkey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := PubkeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Signature is an Ed25519 signature. The first signature of a transaction
// doubles as its transaction id.
type Signature [64]byte

var ZeroSignature Signature

func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != len(sig) {
		return sig, fmt.Errorf("signature must be %d bytes, got %d", len(sig), len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	err := decodeFixed("signature", s, sig[:])
	return sig, err
}

func (sig Signature) String() string { return base58.Encode(sig[:]) }
func (sig Signature) IsZero() bool   { return sig == ZeroSignature }

// Lamports is the smallest unit of SOL.
type Lamports uint64

const LamportsPerSOL Lamports = 1_000_000_000

func (l Lamports) SOL() float64 {
	return float64(l) / float64(LamportsPerSOL)
}

func LamportsFromSOL(sol float64) Lamports {
	return Lamports(sol * float64(LamportsPerSOL))
}

// Commitment is a confirmation level of the ledger.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// rank orders levels from least to most durable; unknown levels rank 0.
func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	}
	return 0
}

// Reaches reports whether c is at least as durable as target.
func (c Commitment) Reaches(target Commitment) bool {
	return c.rank() > 0 && c.rank() >= target.rank()
}

// ParseCommitment validates a commitment level name.
func ParseCommitment(s string) (Commitment, error) {
	c := Commitment(s)
	if c.rank() == 0 {
		return "", fmt.Errorf("unknown commitment %q", s)
	}
	return c, nil
}
