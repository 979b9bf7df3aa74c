package accounts

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

const (
	// accountKeyPrefix is the prefix for account keys in BadgerDB.
	accountKeyPrefix = "account:"

	// ownerKeyPrefix indexes accounts by owner: owner:<owner><pubkey> -> empty.
	ownerKeyPrefix = "owner:"
)

// BadgerOptions configures a BadgerDB.
type BadgerOptions struct {
	Path     string
	InMemory bool // ignore Path and keep everything in memory
	Logger   *slog.Logger
}

// BadgerDB is a persistent implementation of AccountsDB using BadgerDB.
type BadgerDB struct {
	db    *badger.DB
	count atomic.Uint64
}

// NewBadgerDB creates a new BadgerDB account database at the specified path.
func NewBadgerDB(path string) (*BadgerDB, error) {
	return OpenBadgerDB(BadgerOptions{Path: path})
}

// OpenBadgerDB opens a BadgerDB account database.
func OpenBadgerDB(o BadgerOptions) (*BadgerDB, error) {
	opts := badger.DefaultOptions(o.Path)
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts.Logger = badgerLogger{logger.With("component", "badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	bdb := &BadgerDB{
		db: db,
	}

	count, err := bdb.countAccounts()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}
	bdb.count.Store(count)

	return bdb, nil
}

// makeAccountKey creates the key for an account.
func makeAccountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, len(accountKeyPrefix)+32)
	copy(key, accountKeyPrefix)
	copy(key[len(accountKeyPrefix):], pubkey[:])
	return key
}

func makeOwnerPrefix(owner types.Pubkey) []byte {
	key := make([]byte, len(ownerKeyPrefix)+32)
	copy(key, ownerKeyPrefix)
	copy(key[len(ownerKeyPrefix):], owner[:])
	return key
}

func makeOwnerKey(owner, pubkey types.Pubkey) []byte {
	return append(makeOwnerPrefix(owner), pubkey[:]...)
}

// getTxn reads an account inside txn. Returns nil, nil if it does not exist.
func getTxn(txn *badger.Txn, pubkey types.Pubkey) (*types.Account, error) {
	item, err := txn.Get(makeAccountKey(pubkey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var account *types.Account
	err = item.Value(func(val []byte) error {
		var deserErr error
		account, deserErr = DeserializeAccount(val)
		return deserErr
	})
	return account, err
}

// GetAccount retrieves an account by pubkey.
// Returns nil, nil if account does not exist.
func (db *BadgerDB) GetAccount(pubkey types.Pubkey) (*types.Account, error) {
	var account *types.Account

	err := db.db.View(func(txn *badger.Txn) error {
		var err error
		account, err = getTxn(txn, pubkey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// SetAccount stores an account and moves its owner index entry when the
// owner changes.
func (db *BadgerDB) SetAccount(pubkey types.Pubkey, account *types.Account) error {
	data, err := SerializeAccount(account)
	if err != nil {
		return fmt.Errorf("failed to serialize account: %w", err)
	}

	var isNew bool
	err = db.db.Update(func(txn *badger.Txn) error {
		prev, err := getTxn(txn, pubkey)
		if err != nil {
			return err
		}
		isNew = prev == nil

		if prev != nil && prev.Owner != account.Owner {
			if err := txn.Delete(makeOwnerKey(prev.Owner, pubkey)); err != nil {
				return err
			}
		}
		if err := txn.Set(makeOwnerKey(account.Owner, pubkey), nil); err != nil {
			return err
		}
		return txn.Set(makeAccountKey(pubkey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to set account: %w", err)
	}

	if isNew {
		db.count.Add(1)
	}
	return nil
}

// DeleteAccount removes an account.
func (db *BadgerDB) DeleteAccount(pubkey types.Pubkey) error {
	var deleted bool
	err := db.db.Update(func(txn *badger.Txn) error {
		prev, err := getTxn(txn, pubkey)
		if err != nil || prev == nil {
			return err
		}

		if err := txn.Delete(makeOwnerKey(prev.Owner, pubkey)); err != nil {
			return err
		}
		if err := txn.Delete(makeAccountKey(pubkey)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	if deleted {
		db.count.Add(^uint64(0)) // Decrement by 1
	}
	return nil
}

// ProgramAccounts walks the owner index and returns every account owned by
// owner, ordered by pubkey.
func (db *BadgerDB) ProgramAccounts(owner types.Pubkey) ([]types.KeyedAccount, error) {
	var out []types.KeyedAccount
	prefix := makeOwnerPrefix(owner)

	err := db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var pubkey types.Pubkey
			copy(pubkey[:], it.Item().Key()[len(prefix):])

			account, err := getTxn(txn, pubkey)
			if err != nil {
				return fmt.Errorf("account %s: %w", pubkey, err)
			}
			if account == nil {
				continue
			}
			out = append(out, types.KeyedAccount{Pubkey: pubkey, Account: account})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan program accounts: %w", err)
	}

	return out, nil
}

// GetAccountsCount returns the total number of accounts.
func (db *BadgerDB) GetAccountsCount() uint64 {
	return db.count.Load()
}

// Close closes the database.
func (db *BadgerDB) Close() error {
	return db.db.Close()
}

// countAccounts counts all accounts in the database.
func (db *BadgerDB) countAccounts() (uint64, error) {
	var count uint64
	prefix := []byte(accountKeyPrefix)

	err := db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // Only need keys for counting
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

// badgerLogger routes badger's printf logging into slog.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

// Ensure BadgerDB implements AccountsDB.
var _ AccountsDB = (*BadgerDB)(nil)
