package accounts

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

const (
	// merkleArity is the number of children per node in the Merkle tree.
	merkleArity = 16
)

// HashAccount hashes an account together with its address.
func HashAccount(pubkey types.Pubkey, account *types.Account) types.Hash {
	var lamports, rentEpoch [8]byte
	binary.LittleEndian.PutUint64(lamports[:], uint64(account.Lamports))
	binary.LittleEndian.PutUint64(rentEpoch[:], account.RentEpoch)
	executable := []byte{0}
	if account.Executable {
		executable[0] = 1
	}
	return types.SHA256Multi(lamports[:], rentEpoch[:], account.Data, executable, account.Owner[:], pubkey[:])
}

// ComputeAccountsDeltaHash computes a 16-ary Merkle tree hash of the given
// accounts. Accounts are sorted by pubkey first, so the result does not depend
// on the order of the input.
func ComputeAccountsDeltaHash(accounts []types.KeyedAccount) types.Hash {
	if len(accounts) == 0 {
		return types.ZeroHash
	}

	sorted := make([]types.KeyedAccount, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Pubkey[:], sorted[j].Pubkey[:]) < 0
	})

	hashes := make([]types.Hash, len(sorted))
	for i, ka := range sorted {
		hashes[i] = HashAccount(ka.Pubkey, ka.Account)
	}

	return computeMerkleRoot(hashes)
}

// computeMerkleRoot computes the root of a 16-ary Merkle tree.
func computeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.ZeroHash
	}
	for len(hashes) > 1 {
		hashes = computeNextLevel(hashes)
	}
	return hashes[0]
}

// computeNextLevel computes the next level of the 16-ary Merkle tree.
func computeNextLevel(hashes []types.Hash) []types.Hash {
	numParents := (len(hashes) + merkleArity - 1) / merkleArity
	parents := make([]types.Hash, numParents)

	for i := 0; i < numParents; i++ {
		start := i * merkleArity
		end := start + merkleArity
		if end > len(hashes) {
			end = len(hashes)
		}
		parents[i] = hashChildren(hashes[start:end])
	}

	return parents
}

func hashChildren(children []types.Hash) types.Hash {
	if len(children) == 1 {
		return children[0]
	}
	parts := make([][]byte, len(children))
	for i := range children {
		parts[i] = children[i][:]
	}
	return types.SHA256Multi(parts...)
}
