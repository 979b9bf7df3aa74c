// Package accounts stores ledger accounts for the local test node.
package accounts

import (
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// AccountsDB is the account store behind a local ledger. Implementations are
// safe for concurrent use and hand out copies, never their own records.
type AccountsDB interface {
	// GetAccount returns nil, nil for an unknown key.
	GetAccount(pubkey types.Pubkey) (*types.Account, error)
	SetAccount(pubkey types.Pubkey, account *types.Account) error
	// DeleteAccount is a no-op for an unknown key.
	DeleteAccount(pubkey types.Pubkey) error

	// ProgramAccounts lists the accounts owned by owner in pubkey order.
	ProgramAccounts(owner types.Pubkey) ([]types.KeyedAccount, error)
	GetAccountsCount() uint64

	Close() error
}
