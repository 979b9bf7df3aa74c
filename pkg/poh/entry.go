package poh

import (
	"crypto/sha256"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Entry is one link of the chain. A tick carries no signatures; a
// transaction entry mixes in the first signature of every transaction it
// records.
type Entry struct {
	NumHashes  uint64
	Hash       types.Hash
	Signatures []types.Signature
}

// IsTick reports whether the entry records no transactions.
func (e *Entry) IsTick() bool {
	return len(e.Signatures) == 0
}

// ComputeEntryHash computes the hash of an entry following prevHash.
//
// For ticks: hash = SHA256^numHashes(prevHash)
// For transaction entries: hash = SHA256(prevHash || merkle_root), then numHashes-1 more rounds
func ComputeEntryHash(prevHash types.Hash, numHashes uint64, signatures []types.Signature) types.Hash {
	if numHashes == 0 {
		return prevHash
	}

	hash := prevHash
	rounds := numHashes
	if len(signatures) > 0 {
		root := signatureMerkleRoot(signatures)
		hash = types.SHA256Multi(prevHash[:], root[:])
		rounds--
	}
	for i := uint64(0); i < rounds; i++ {
		hash = sha256.Sum256(hash[:])
	}
	return hash
}

func signatureMerkleRoot(signatures []types.Signature) types.Hash {
	leaves := make([]types.Hash, len(signatures))
	for i, sig := range signatures {
		leaves[i] = sha256.Sum256(sig[:])
	}
	return computeMerkleRoot(leaves)
}

// computeMerkleRoot folds leaves pairwise; an odd node is promoted as is.
func computeMerkleRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 0 {
		return types.ZeroHash
	}

	current := make([]types.Hash, len(leaves))
	copy(current, leaves)

	for len(current) > 1 {
		next := make([]types.Hash, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next[i/2] = types.SHA256Multi(current[i][:], current[i+1][:])
			} else {
				next[i/2] = current[i]
			}
		}
		current = next
	}

	return current[0]
}
