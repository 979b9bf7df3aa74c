package localnet

import (
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/accounts"
	"github.com/AlysCarillo/solana-polling-station/pkg/poh"
	"github.com/AlysCarillo/solana-polling-station/pkg/snapshot"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// SaveSnapshot archives every system and poll program account to path,
// together with the current slot and blockhash.
func (l *Ledger) SaveSnapshot(path string) (*snapshot.Manifest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var all []types.KeyedAccount
	for _, owner := range []types.Pubkey{types.SystemProgramID, l.cfg.ProgramID} {
		accts, err := l.db.ProgramAccounts(owner)
		if err != nil {
			return nil, fmt.Errorf("list accounts owned by %s: %w", owner, err)
		}
		all = append(all, accts...)
	}

	m, err := snapshot.WriteFile(path, snapshot.Manifest{
		Slot:      l.slot,
		Blockhash: l.blockhash,
		ProgramID: l.cfg.ProgramID,
	}, all)
	if err != nil {
		return nil, err
	}
	l.logger.Info("snapshot saved", "path", path, "slot", m.Slot, "accounts", m.AccountsCount)
	return m, nil
}

// RestoreLedger loads the snapshot at path into db and returns a ledger that
// resumes at the archived slot and blockhash. A zero cfg.ProgramID adopts
// the archived program id; any other must match it.
func RestoreLedger(path string, db accounts.AccountsDB, cfg LedgerConfig) (*Ledger, error) {
	if err := checkSnapshotProgram(path, &cfg); err != nil {
		return nil, err
	}
	res, err := snapshot.Load(path, db)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", path, err)
	}

	l, err := NewLedger(db, cfg)
	if err != nil {
		return nil, err
	}
	m := res.Manifest
	l.slot = m.Slot
	l.blockhash = m.Blockhash
	l.recent = map[types.Hash]uint64{m.Blockhash: m.Slot}
	l.poh = poh.NewRecorder(m.Blockhash, l.cfg.HashesPerTick)
	l.cfg.Metrics.RecordBlock(l.slot, db.GetAccountsCount())

	l.logger.Info("snapshot restored", "path", path, "slot", m.Slot, "accounts", res.AccountsLoaded)
	return l, nil
}

func checkSnapshotProgram(path string, cfg *LedgerConfig) error {
	archive, err := snapshot.OpenArchive(path)
	if err != nil {
		return err
	}
	defer archive.Close()

	m, err := archive.ReadManifest()
	if err != nil {
		return err
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = m.ProgramID
	} else if cfg.ProgramID != m.ProgramID {
		return fmt.Errorf("snapshot %s was taken for program %s, not %s", path, m.ProgramID, cfg.ProgramID)
	}
	return nil
}
