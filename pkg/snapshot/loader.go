package snapshot

import (
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/accounts"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// LoadResult contains the result of loading a snapshot.
type LoadResult struct {
	Manifest       *Manifest
	AccountsLoaded uint64
	LamportsTotal  uint64
	AccountsHash   types.Hash
}

// ProgressCallback is called after every progressInterval accounts.
type ProgressCallback func(accountsProcessed, accountsTotal uint64)

const progressInterval = 1000

// LoadConfig contains configuration for loading a snapshot.
type LoadConfig struct {
	// VerifyBeforeLoad checks the archive before touching the store, so a
	// corrupt archive leaves it unchanged. The archive is read twice.
	VerifyBeforeLoad bool
	ProgressCallback ProgressCallback
}

// DefaultLoadConfig returns a default load configuration.
func DefaultLoadConfig() LoadConfig {
	return LoadConfig{VerifyBeforeLoad: true}
}

// Load restores the archive at path into db.
func Load(path string, db accounts.AccountsDB) (*LoadResult, error) {
	return LoadWithConfig(path, db, DefaultLoadConfig())
}

// LoadWithConfig restores the archive at path into db. The computed
// accounts hash is checked against the manifest after loading.
func LoadWithConfig(path string, db accounts.AccountsDB, config LoadConfig) (*LoadResult, error) {
	if config.VerifyBeforeLoad {
		if _, err := Verify(path); err != nil {
			return nil, fmt.Errorf("snapshot verification failed: %w", err)
		}
	}

	archive, err := OpenArchive(path)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	manifest, err := archive.ReadManifest()
	if err != nil {
		return nil, err
	}

	result := &LoadResult{Manifest: manifest}
	var loaded []types.KeyedAccount
	err = archive.Accounts(func(ka types.KeyedAccount) error {
		if err := db.SetAccount(ka.Pubkey, ka.Account); err != nil {
			return fmt.Errorf("failed to store account %s: %w", ka.Pubkey, err)
		}
		loaded = append(loaded, ka)
		result.AccountsLoaded++
		result.LamportsTotal += uint64(ka.Account.Lamports)
		if config.ProgressCallback != nil && result.AccountsLoaded%progressInterval == 0 {
			config.ProgressCallback(result.AccountsLoaded, manifest.AccountsCount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.AccountsHash = accounts.ComputeAccountsDeltaHash(loaded)
	if err := checkManifest(manifest, result.AccountsLoaded, result.LamportsTotal, result.AccountsHash); err != nil {
		return result, err
	}
	return result, nil
}

func checkManifest(m *Manifest, count, lamports uint64, hash types.Hash) error {
	if count != m.AccountsCount {
		return fmt.Errorf("%w: manifest lists %d accounts, archive holds %d", ErrHashMismatch, m.AccountsCount, count)
	}
	if lamports != m.LamportsTotal {
		return fmt.Errorf("%w: manifest lists %d lamports, archive holds %d", ErrHashMismatch, m.LamportsTotal, lamports)
	}
	if hash != m.AccountsHash {
		return fmt.Errorf("%w: accounts hash %s, manifest has %s", ErrHashMismatch, hash, m.AccountsHash)
	}
	return nil
}
