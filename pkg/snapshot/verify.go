package snapshot

import (
	"github.com/AlysCarillo/solana-polling-station/pkg/accounts"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// VerifyResult contains the result of snapshot verification.
type VerifyResult struct {
	Manifest             *Manifest
	AccountsCount        uint64
	LamportsTotal        uint64
	ComputedAccountsHash types.Hash
}

// Verify reads the archive at path and checks its accounts against the
// manifest without storing them.
func Verify(path string) (*VerifyResult, error) {
	archive, err := OpenArchive(path)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	manifest, err := archive.ReadManifest()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Manifest: manifest}
	var accts []types.KeyedAccount
	err = archive.Accounts(func(ka types.KeyedAccount) error {
		accts = append(accts, ka)
		result.AccountsCount++
		result.LamportsTotal += uint64(ka.Account.Lamports)
		return nil
	})
	if err != nil {
		return result, err
	}

	result.ComputedAccountsHash = accounts.ComputeAccountsDeltaHash(accts)
	return result, checkManifest(manifest, result.AccountsCount, result.LamportsTotal, result.ComputedAccountsHash)
}
