package accounts

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

func testPubkey(seed string) types.Pubkey {
	return types.Pubkey(sha256.Sum256([]byte(seed)))
}

func testAccount(lamports types.Lamports, data []byte, owner types.Pubkey) *types.Account {
	return &types.Account{
		Lamports: lamports,
		Data:     data,
		Owner:    owner,
	}
}

// backends runs fn against every AccountsDB implementation.
func backends(t *testing.T, fn func(t *testing.T, db AccountsDB)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryDB())
	})
	t.Run("badger", func(t *testing.T) {
		db, err := OpenBadgerDB(BadgerOptions{InMemory: true})
		if err != nil {
			t.Fatalf("OpenBadgerDB failed: %v", err)
		}
		defer db.Close()
		fn(t, db)
	})
}

func TestSetAndGetAccount(t *testing.T) {
	backends(t, func(t *testing.T, db AccountsDB) {
		pubkey := testPubkey("poll")
		account := testAccount(1_000_000_000, []byte("poll record"), testPubkey("program"))
		account.RentEpoch = 361

		if err := db.SetAccount(pubkey, account); err != nil {
			t.Fatalf("SetAccount failed: %v", err)
		}

		retrieved, err := db.GetAccount(pubkey)
		if err != nil {
			t.Fatalf("GetAccount failed: %v", err)
		}
		if retrieved == nil {
			t.Fatal("GetAccount returned nil for existing account")
		}
		if retrieved.Lamports != account.Lamports {
			t.Errorf("expected lamports %d, got %d", account.Lamports, retrieved.Lamports)
		}
		if !bytes.Equal(retrieved.Data, account.Data) {
			t.Errorf("expected data %q, got %q", account.Data, retrieved.Data)
		}
		if retrieved.Owner != account.Owner {
			t.Errorf("expected owner %s, got %s", account.Owner, retrieved.Owner)
		}
		if retrieved.RentEpoch != 361 {
			t.Errorf("expected rent epoch 361, got %d", retrieved.RentEpoch)
		}
	})
}

func TestGetAccount_NotFound(t *testing.T) {
	backends(t, func(t *testing.T, db AccountsDB) {
		account, err := db.GetAccount(testPubkey("nonexistent"))
		if err != nil {
			t.Fatalf("GetAccount should not error for nonexistent account: %v", err)
		}
		if account != nil {
			t.Error("GetAccount should return nil for nonexistent account")
		}
	})
}

func TestDeleteAccount(t *testing.T) {
	backends(t, func(t *testing.T, db AccountsDB) {
		owner := testPubkey("program")
		pubkey := testPubkey("poll")
		_ = db.SetAccount(pubkey, testAccount(1000, nil, owner))

		if err := db.DeleteAccount(pubkey); err != nil {
			t.Fatalf("DeleteAccount failed: %v", err)
		}
		if acc, err := db.GetAccount(pubkey); err != nil || acc != nil {
			t.Errorf("account should be deleted, got %v, %v", acc, err)
		}
		if db.GetAccountsCount() != 0 {
			t.Errorf("expected 0 accounts, got %d", db.GetAccountsCount())
		}

		owned, err := db.ProgramAccounts(owner)
		if err != nil {
			t.Fatalf("ProgramAccounts failed: %v", err)
		}
		if len(owned) != 0 {
			t.Errorf("deleted account still listed under its owner: %d", len(owned))
		}

		// Deleting twice is not an error.
		if err := db.DeleteAccount(pubkey); err != nil {
			t.Errorf("DeleteAccount should not error for nonexistent account: %v", err)
		}
	})
}

func TestGetAccountsCount(t *testing.T) {
	backends(t, func(t *testing.T, db AccountsDB) {
		for i := 0; i < 10; i++ {
			_ = db.SetAccount(testPubkey(fmt.Sprintf("account_%d", i)), testAccount(types.Lamports(i*1000), nil, types.SystemProgramID))
		}
		// Overwrites do not count twice.
		_ = db.SetAccount(testPubkey("account_0"), testAccount(5, nil, types.SystemProgramID))

		if db.GetAccountsCount() != 10 {
			t.Errorf("expected 10 accounts, got %d", db.GetAccountsCount())
		}
	})
}

func TestProgramAccounts(t *testing.T) {
	backends(t, func(t *testing.T, db AccountsDB) {
		program := testPubkey("program")
		other := testPubkey("other")

		for i := 0; i < 5; i++ {
			_ = db.SetAccount(testPubkey(fmt.Sprintf("poll_%d", i)), testAccount(1, []byte{byte(i)}, program))
		}
		_ = db.SetAccount(testPubkey("wallet"), testAccount(1, nil, types.SystemProgramID))
		_ = db.SetAccount(testPubkey("foreign"), testAccount(1, nil, other))

		owned, err := db.ProgramAccounts(program)
		if err != nil {
			t.Fatalf("ProgramAccounts failed: %v", err)
		}
		if len(owned) != 5 {
			t.Fatalf("expected 5 program accounts, got %d", len(owned))
		}
		for i := 1; i < len(owned); i++ {
			if bytes.Compare(owned[i-1].Pubkey[:], owned[i].Pubkey[:]) >= 0 {
				t.Errorf("program accounts not ordered by pubkey at %d", i)
			}
		}
		for _, ka := range owned {
			if ka.Account.Owner != program {
				t.Errorf("account %s has owner %s", ka.Pubkey, ka.Account.Owner)
			}
		}

		// Reassigning an account moves it between owners.
		moved := testPubkey("poll_0")
		_ = db.SetAccount(moved, testAccount(1, nil, other))

		owned, _ = db.ProgramAccounts(program)
		if len(owned) != 4 {
			t.Errorf("expected 4 program accounts after reassignment, got %d", len(owned))
		}
		foreign, _ := db.ProgramAccounts(other)
		if len(foreign) != 2 {
			t.Errorf("expected 2 accounts for the other owner, got %d", len(foreign))
		}
	})
}

func TestMemoryDB_DataIsolation(t *testing.T) {
	db := NewMemoryDB()
	pubkey := testPubkey("test_account")
	originalData := []byte("original_data")
	_ = db.SetAccount(pubkey, testAccount(1000, originalData, types.SystemProgramID))

	originalData[0] = 'X'

	retrieved, _ := db.GetAccount(pubkey)
	if retrieved.Data[0] == 'X' {
		t.Error("modifying original data should not affect stored data")
	}

	retrieved.Data[0] = 'Y'
	retrieved2, _ := db.GetAccount(pubkey)
	if retrieved2.Data[0] == 'Y' {
		t.Error("modifying retrieved data should not affect stored data")
	}
}

func TestMemoryDB_Concurrent(t *testing.T) {
	db := NewMemoryDB()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = db.SetAccount(testPubkey(fmt.Sprintf("account_%d", i)), testAccount(types.Lamports(i), nil, types.SystemProgramID))
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = db.GetAccount(testPubkey(fmt.Sprintf("account_%d", i)))
			_, _ = db.ProgramAccounts(types.SystemProgramID)
		}(i)
	}
	wg.Wait()

	if count := db.GetAccountsCount(); count != 100 {
		t.Errorf("expected 100 accounts, got %d", count)
	}
}

func TestSerializeAccount_RoundTrip(t *testing.T) {
	account := &types.Account{
		Lamports:   2_039_280,
		Data:       []byte{1, 2, 3, 4},
		Owner:      testPubkey("program"),
		Executable: true,
		RentEpoch:  ^uint64(0),
	}

	data, err := SerializeAccount(account)
	if err != nil {
		t.Fatalf("SerializeAccount failed: %v", err)
	}
	if len(data) != serializationMinSize+4 {
		t.Fatalf("expected %d bytes, got %d", serializationMinSize+4, len(data))
	}

	decoded, err := DeserializeAccount(data)
	if err != nil {
		t.Fatalf("DeserializeAccount failed: %v", err)
	}
	if decoded.Lamports != account.Lamports || decoded.Owner != account.Owner ||
		decoded.Executable != account.Executable || decoded.RentEpoch != account.RentEpoch ||
		!bytes.Equal(decoded.Data, account.Data) {
		t.Errorf("round trip mismatch: %+v vs %+v", decoded, account)
	}
}

func TestDeserializeAccount_Malformed(t *testing.T) {
	data, _ := SerializeAccount(testAccount(1, []byte("abc"), types.SystemProgramID))

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", data[:serializationMinSize-1]},
		{"truncated data", data[:len(data)-1]},
		{"trailing bytes", append(append([]byte(nil), data...), 0)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DeserializeAccount(tc.data)
			if !errors.Is(err, ErrInvalidAccountData) {
				t.Errorf("expected ErrInvalidAccountData, got %v", err)
			}
		})
	}

	if _, err := SerializeAccount(nil); err == nil {
		t.Error("serializing a nil account should fail")
	}
}

func TestComputeAccountsDeltaHash_Empty(t *testing.T) {
	if hash := ComputeAccountsDeltaHash(nil); hash != types.ZeroHash {
		t.Error("empty accounts should produce zero hash")
	}
}

func TestComputeAccountsDeltaHash_SingleAccount(t *testing.T) {
	pubkey := testPubkey("poll")
	account := testAccount(1000, []byte("data"), types.SystemProgramID)

	hash := ComputeAccountsDeltaHash([]types.KeyedAccount{{Pubkey: pubkey, Account: account}})
	if hash != HashAccount(pubkey, account) {
		t.Error("single account delta hash should equal the account hash")
	}
}

func TestComputeAccountsDeltaHash_Ordering(t *testing.T) {
	a := types.KeyedAccount{Pubkey: testPubkey("a"), Account: testAccount(1, nil, types.SystemProgramID)}
	b := types.KeyedAccount{Pubkey: testPubkey("b"), Account: testAccount(2, nil, types.SystemProgramID)}

	if ComputeAccountsDeltaHash([]types.KeyedAccount{a, b}) != ComputeAccountsDeltaHash([]types.KeyedAccount{b, a}) {
		t.Error("delta hash should not depend on input order")
	}
}

func TestComputeAccountsDeltaHash_Changes(t *testing.T) {
	pubkey := testPubkey("poll")
	base := testAccount(1000, []byte("votes: 0"), testPubkey("program"))
	baseHash := HashAccount(pubkey, base)

	for _, tc := range []struct {
		name   string
		mutate func(a *types.Account)
	}{
		{"lamports", func(a *types.Account) { a.Lamports++ }},
		{"data", func(a *types.Account) { a.Data = []byte("votes: 1") }},
		{"owner", func(a *types.Account) { a.Owner = types.SystemProgramID }},
		{"executable", func(a *types.Account) { a.Executable = true }},
		{"rent epoch", func(a *types.Account) { a.RentEpoch = 1 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			changed := base.Clone()
			tc.mutate(changed)
			if HashAccount(pubkey, changed) == baseHash {
				t.Errorf("changing %s should change the account hash", tc.name)
			}
		})
	}

	if HashAccount(testPubkey("elsewhere"), base) == baseHash {
		t.Error("the address should be part of the account hash")
	}
}

func TestComputeMerkleRoot_17Leaves(t *testing.T) {
	leaves := make([]types.Hash, 17)
	for i := range leaves {
		leaves[i] = types.Hash(sha256.Sum256([]byte{byte(i)}))
	}

	first := hashChildren(leaves[:16])
	want := hashChildren([]types.Hash{first, leaves[16]})
	if got := computeMerkleRoot(leaves); got != want {
		t.Errorf("17 leaves: got %s, want %s", got, want)
	}
}

func BenchmarkComputeAccountsDeltaHash_1000(b *testing.B) {
	accounts := make([]types.KeyedAccount, 1000)
	for i := range accounts {
		accounts[i] = types.KeyedAccount{
			Pubkey:  testPubkey(fmt.Sprintf("account_%d", i)),
			Account: testAccount(types.Lamports(i), []byte("data"), types.SystemProgramID),
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ComputeAccountsDeltaHash(accounts)
	}
}
