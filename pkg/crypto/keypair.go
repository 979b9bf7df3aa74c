package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Keypair is an in-process ed25519 signer.
type Keypair struct {
	private ed25519.PrivateKey
	public  types.Pubkey
}

// NewKeypair generates a random keypair.
func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return keypairFromPrivate(priv), nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidPrivateKey, SeedSize, len(seed))
	}
	return keypairFromPrivate(ed25519.NewKeyFromSeed(seed)), nil
}

// KeypairFromBytes builds a keypair from the 64-byte secret+public layout used
// by Solana CLI keypair files.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPrivateKey, PrivateKeySize, len(b))
	}
	kp, err := KeypairFromSeed(b[:SeedSize])
	if err != nil {
		return nil, err
	}
	if string(kp.public[:]) != string(b[SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidPrivateKey)
	}
	return kp, nil
}

// LoadKeypairFile reads a Solana CLI JSON keypair file (an array of 64 byte
// values). A leading "~/" is expanded to the user's home directory.
func LoadKeypairFile(path string) (*Keypair, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair file %s: %w", path, err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidPrivateKey, i)
		}
		raw[i] = byte(v)
	}
	return KeypairFromBytes(raw)
}

func keypairFromPrivate(priv ed25519.PrivateKey) *Keypair {
	kp := &Keypair{private: priv}
	copy(kp.public[:], priv.Public().(ed25519.PublicKey))
	return kp
}

// PublicKey returns the keypair's public key.
func (kp *Keypair) PublicKey() types.Pubkey {
	return kp.public
}

// Sign signs message with the private key.
func (kp *Keypair) Sign(message []byte) (types.Signature, error) {
	var sig types.Signature
	copy(sig[:], ed25519.Sign(kp.private, message))
	return sig, nil
}

// Bytes returns the 64-byte secret+public encoding.
func (kp *Keypair) Bytes() []byte {
	out := make([]byte, PrivateKeySize)
	copy(out, kp.private)
	return out
}
