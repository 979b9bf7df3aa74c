package accounts

import (
	"bytes"
	"slices"
	"sync"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

var _ AccountsDB = (*MemoryDB)(nil)

// MemoryDB keeps accounts in a map. It backs the localnet when no data
// directory is given and every test ledger.
type MemoryDB struct {
	mu    sync.RWMutex
	byKey map[types.Pubkey]*types.Account
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{byKey: make(map[types.Pubkey]*types.Account)}
}

func (db *MemoryDB) GetAccount(pubkey types.Pubkey) (*types.Account, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if acc, ok := db.byKey[pubkey]; ok {
		return acc.Clone(), nil
	}
	return nil, nil
}

func (db *MemoryDB) SetAccount(pubkey types.Pubkey, account *types.Account) error {
	db.mu.Lock()
	db.byKey[pubkey] = account.Clone()
	db.mu.Unlock()
	return nil
}

func (db *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	db.mu.Lock()
	delete(db.byKey, pubkey)
	db.mu.Unlock()
	return nil
}

// ProgramAccounts scans the whole map; the localnet holds few accounts.
func (db *MemoryDB) ProgramAccounts(owner types.Pubkey) ([]types.KeyedAccount, error) {
	db.mu.RLock()
	var owned []types.KeyedAccount
	for key, acc := range db.byKey {
		if acc.Owner == owner {
			owned = append(owned, types.KeyedAccount{Pubkey: key, Account: acc.Clone()})
		}
	}
	db.mu.RUnlock()

	slices.SortFunc(owned, func(a, b types.KeyedAccount) int {
		return bytes.Compare(a.Pubkey[:], b.Pubkey[:])
	})
	return owned, nil
}

func (db *MemoryDB) GetAccountsCount() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return uint64(len(db.byKey))
}

// Close drops every account.
func (db *MemoryDB) Close() error {
	db.mu.Lock()
	clear(db.byKey)
	db.mu.Unlock()
	return nil
}
