package localnet

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AlysCarillo/solana-polling-station/pkg/accounts"
	"github.com/AlysCarillo/solana-polling-station/pkg/crypto"
	"github.com/AlysCarillo/solana-polling-station/pkg/metrics"
	"github.com/AlysCarillo/solana-polling-station/pkg/poh"
	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

const (
	// DefaultFeePerSignature is charged to the fee payer for every signature.
	DefaultFeePerSignature types.Lamports = 5000

	// DefaultFinalityDepth is the number of slots after which a transaction
	// is reported as finalized.
	DefaultFinalityDepth = 32

	// DefaultMaxAirdrop caps a single airdrop.
	DefaultMaxAirdrop = 1000 * types.LamportsPerSOL

	// DefaultTicksPerSlot and DefaultHashesPerTick size the hash chain of
	// each block.
	DefaultTicksPerSlot  = 8
	DefaultHashesPerTick = 128

	// blockhashValidity is the number of slots a blockhash stays usable.
	blockhashValidity = 150

	maxAccountSpace = 10 << 20
)

// Transaction-level errors.
var (
	ErrBlockhashNotFound       = errors.New("BlockhashNotFound")
	ErrAlreadyProcessed        = errors.New("AlreadyProcessed")
	ErrAccountNotFound         = errors.New("AccountNotFound")
	ErrInsufficientFundsForFee = errors.New("InsufficientFundsForFee")
	ErrProgramAccountNotFound  = errors.New("ProgramAccountNotFound")
	ErrInvalidAccountIndex     = errors.New("InvalidAccountIndex")
	ErrInvalidAirdrop          = errors.New("invalid airdrop request")
	ErrSignatureVerification   = errors.New("signature verification failure")
)

// TransactionError is a failed execution. Index is the failing instruction,
// or -1 when the transaction failed before any instruction ran.
type TransactionError struct {
	Index int
	Err   error
	Logs  []string
}

func (e *TransactionError) Error() string {
	if e.Index < 0 {
		return "transaction failed: " + e.Err.Error()
	}
	return fmt.Sprintf("transaction failed: instruction %d: %v", e.Index, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error the way signature statuses report it.
func (e *TransactionError) MarshalJSON() ([]byte, error) {
	if e.Index < 0 {
		return json.Marshal(e.Err.Error())
	}
	return json.Marshal(map[string][]interface{}{
		"InstructionError": {e.Index, e.Err.Error()},
	})
}

// program executes the instructions addressed to one program id.
type program interface {
	execute(inv *invocation) error
}

// LedgerConfig configures a Ledger. Zero values pick the defaults.
type LedgerConfig struct {
	ProgramID       types.Pubkey
	Rent            types.Rent
	FeePerSignature types.Lamports
	FinalityDepth   uint64
	MaxAirdrop      types.Lamports
	TicksPerSlot    int
	HashesPerTick   uint64
	Clock           func() time.Time
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Block is the hash chain produced for one slot. Start is the chain head
// before the first entry.
type Block struct {
	Slot    uint64
	Start   types.Hash
	Entries []poh.Entry
}

type signatureRecord struct {
	slot uint64
	err  *TransactionError
}

// Ledger is a single-node ledger that runs the poll program. Every state
// change produces a new block; every signature status query advances the
// slot by one so that confirmation progresses while a client polls.
type Ledger struct {
	mu        sync.Mutex
	db        accounts.AccountsDB
	cfg       LedgerConfig
	programs  map[types.Pubkey]program
	faucet    *crypto.Keypair
	logger    *slog.Logger
	slot      uint64
	blockhash types.Hash
	poh       *poh.Recorder
	blocks    map[uint64]Block
	recent    map[types.Hash]uint64
	sigs      map[types.Signature]signatureRecord
	txCount   uint64
	airdrops  uint64
}

// NewLedger creates a ledger over db.
func NewLedger(db accounts.AccountsDB, cfg LedgerConfig) (*Ledger, error) {
	if cfg.Rent == (types.Rent{}) {
		cfg.Rent = types.DefaultRent
	}
	if cfg.FeePerSignature == 0 {
		cfg.FeePerSignature = DefaultFeePerSignature
	}
	if cfg.FinalityDepth == 0 {
		cfg.FinalityDepth = DefaultFinalityDepth
	}
	if cfg.MaxAirdrop == 0 {
		cfg.MaxAirdrop = DefaultMaxAirdrop
	}
	if cfg.TicksPerSlot == 0 {
		cfg.TicksPerSlot = DefaultTicksPerSlot
	}
	if cfg.HashesPerTick == 0 {
		cfg.HashesPerTick = DefaultHashesPerTick
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics()
	}

	faucet, err := crypto.NewKeypair()
	if err != nil {
		return nil, fmt.Errorf("create faucet: %w", err)
	}

	genesis := types.SHA256Multi([]byte("genesis"), cfg.ProgramID[:])
	return &Ledger{
		db:        db,
		cfg:       cfg,
		programs:  map[types.Pubkey]program{cfg.ProgramID: pollProgram{}},
		faucet:    faucet,
		logger:    cfg.Logger.With("component", "ledger"),
		blockhash: genesis,
		poh:       poh.NewRecorder(genesis, cfg.HashesPerTick),
		blocks:    make(map[uint64]Block),
		recent:    map[types.Hash]uint64{genesis: 0},
		sigs:      make(map[types.Signature]signatureRecord),
	}, nil
}

// ProgramID returns the id the poll program is deployed at.
func (l *Ledger) ProgramID() types.Pubkey {
	return l.cfg.ProgramID
}

// Metrics returns the ledger's metrics.
func (l *Ledger) Metrics() *metrics.Metrics {
	return l.cfg.Metrics
}

// Rent returns the rent parameters.
func (l *Ledger) Rent() types.Rent {
	return l.cfg.Rent
}

// Slot returns the current slot.
func (l *Ledger) Slot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot
}

// TransactionCount returns the number of committed transactions.
func (l *Ledger) TransactionCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txCount
}

// LatestBlockhash returns the newest blockhash and the last slot at which it
// is accepted.
func (l *Ledger) LatestBlockhash() (types.Hash, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockhash, l.recent[l.blockhash] + blockhashValidity
}

// Block returns the hash chain produced at slot. Only slots whose blockhash
// is still valid are kept.
func (l *Ledger) Block(slot uint64) (Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.blocks[slot]
	return b, ok
}

// Account returns the account at key, or nil.
func (l *Ledger) Account(key types.Pubkey) (*types.Account, error) {
	return l.db.GetAccount(key)
}

// ProgramAccounts returns the accounts owned by owner.
func (l *Ledger) ProgramAccounts(owner types.Pubkey) ([]types.KeyedAccount, error) {
	return l.db.ProgramAccounts(owner)
}

// SendTransaction verifies and executes tx. Without skipPreflight a failed
// execution is returned as a *TransactionError and leaves no trace. With it,
// the fee is charged and the failure recorded under the signature.
func (l *Ledger) SendTransaction(tx *types.Transaction, skipPreflight bool) (types.Signature, error) {
	sig, err := l.sendTransaction(tx, skipPreflight)
	if err != nil {
		l.cfg.Metrics.TransactionsRejected.Inc()
	}
	return sig, err
}

func (l *Ledger) sendTransaction(tx *types.Transaction, skipPreflight bool) (types.Signature, error) {
	if err := crypto.VerifyTransaction(tx); err != nil {
		return types.ZeroSignature, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	sig := tx.ID()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, seen := l.sigs[sig]; seen {
		return types.ZeroSignature, ErrAlreadyProcessed
	}
	issued, ok := l.recent[tx.Message.RecentBlockhash]
	if !ok || l.slot-issued > blockhashValidity {
		return types.ZeroSignature, ErrBlockhashNotFound
	}

	fees := newOverlay(l.db, nil)
	if txErr := l.chargeFee(tx, fees); txErr != nil {
		return types.ZeroSignature, txErr
	}

	state := newOverlay(l.db, fees)
	logs, effects, txErr := l.execute(tx, state)
	if txErr == nil && state.err != nil {
		return types.ZeroSignature, fmt.Errorf("account store: %w", state.err)
	}
	if txErr != nil {
		txErr.Logs = logs
		if !skipPreflight || txErr.Index < 0 {
			l.logger.Debug("transaction rejected in preflight", "signature", sig.String(), "error", txErr)
			return types.ZeroSignature, txErr
		}
		state = fees
	}

	modified, err := state.commit()
	if err != nil {
		return types.ZeroSignature, fmt.Errorf("commit: %w", err)
	}
	l.sigs[sig] = signatureRecord{slot: l.slot, err: txErr}
	l.txCount++
	l.produceBlock(sig, modified)

	m := l.cfg.Metrics
	m.Transactions.Inc()
	if txErr != nil {
		m.TransactionsFailed.Inc()
	} else {
		m.PollsCreated.Add(effects.pollsCreated)
		m.VotesCast.Add(effects.votesCast)
	}

	l.logger.Info("transaction executed",
		"signature", sig.String(), "slot", l.slot, "accounts", len(modified), "failed", txErr != nil)
	return sig, nil
}

func (l *Ledger) chargeFee(tx *types.Transaction, state *overlay) *TransactionError {
	payerKey := tx.FeePayer()
	payer := state.get(payerKey)
	if payer == nil || payer.Lamports == 0 {
		return &TransactionError{Index: -1, Err: ErrAccountNotFound}
	}
	fee := l.cfg.FeePerSignature * types.Lamports(len(tx.Signatures))
	if payer.Lamports < fee {
		return &TransactionError{Index: -1, Err: ErrInsufficientFundsForFee}
	}
	payer.Lamports -= fee
	state.set(payerKey, payer)
	return nil
}

func (l *Ledger) execute(tx *types.Transaction, state *overlay) ([]string, tally, *TransactionError) {
	msg := &tx.Message
	numSigners := int(msg.Header.NumRequiredSignatures)
	now := l.cfg.Clock()

	var logs []string
	var effects tally
	for i, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(msg.AccountKeys) {
			return logs, effects, &TransactionError{Index: -1, Err: ErrInvalidAccountIndex}
		}
		programKey := msg.AccountKeys[ci.ProgramIDIndex]
		prog, ok := l.programs[programKey]
		if !ok {
			return logs, effects, &TransactionError{Index: -1, Err: ErrProgramAccountNotFound}
		}

		views := make([]accountView, len(ci.AccountIndices))
		for j, idx := range ci.AccountIndices {
			if int(idx) >= len(msg.AccountKeys) {
				return logs, effects, &TransactionError{Index: -1, Err: ErrInvalidAccountIndex}
			}
			views[j] = accountView{
				key:      msg.AccountKeys[idx],
				signer:   int(idx) < numSigners,
				writable: msg.IsWritable(int(idx)),
			}
		}

		inv := &invocation{
			programID: programKey,
			accounts:  views,
			data:      ci.Data,
			state:     state,
			rent:      l.cfg.Rent,
			now:       now,
		}
		logs = append(logs, fmt.Sprintf("Program %s invoke [1]", programKey))
		err := prog.execute(inv)
		logs = append(logs, inv.logs...)
		if err == nil && state.err != nil {
			err = state.err
		}
		if err != nil {
			logs = append(logs, fmt.Sprintf("Program %s failed: %v", programKey, err))
			return logs, effects, &TransactionError{Index: i, Err: err}
		}
		logs = append(logs, fmt.Sprintf("Program %s success", programKey))
		effects.pollsCreated += inv.effects.pollsCreated
		effects.votesCast += inv.effects.votesCast
	}
	return logs, effects, nil
}

// RequestAirdrop credits lamports to to from the faucet.
func (l *Ledger) RequestAirdrop(to types.Pubkey, lamports types.Lamports) (types.Signature, error) {
	if lamports == 0 || lamports > l.cfg.MaxAirdrop {
		return types.ZeroSignature, fmt.Errorf("%w: %d lamports (max %d)", ErrInvalidAirdrop, lamports, l.cfg.MaxAirdrop)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state := newOverlay(l.db, nil)
	acc := state.get(to)
	if acc == nil {
		acc = types.NewAccount(0, types.SystemProgramID)
	}
	acc.Lamports += lamports
	state.set(to, acc)
	if state.err != nil {
		return types.ZeroSignature, state.err
	}

	l.airdrops++
	receipt := make([]byte, 0, 32+8+8+8)
	receipt = append(receipt, to[:]...)
	receipt = binary.LittleEndian.AppendUint64(receipt, uint64(lamports))
	receipt = binary.LittleEndian.AppendUint64(receipt, l.slot)
	receipt = binary.LittleEndian.AppendUint64(receipt, l.airdrops)
	sig, err := l.faucet.Sign(receipt)
	if err != nil {
		return types.ZeroSignature, err
	}

	modified, err := state.commit()
	if err != nil {
		return types.ZeroSignature, fmt.Errorf("commit: %w", err)
	}
	l.sigs[sig] = signatureRecord{slot: l.slot}
	l.txCount++
	l.produceBlock(sig, modified)
	l.cfg.Metrics.Airdrops.Inc()
	l.cfg.Metrics.AirdropLamports.Add(uint64(lamports))

	l.logger.Info("airdrop", "to", to.String(), "lamports", uint64(lamports), "signature", sig.String())
	return sig, nil
}

// SignatureStatuses reports one status per signature, nil where unknown, and
// then advances the slot.
func (l *Ledger) SignatureStatuses(sigs []types.Signature) []*rpc.SignatureStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*rpc.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		rec, ok := l.sigs[sig]
		if !ok {
			continue
		}
		st := &rpc.SignatureStatus{Slot: rec.slot}
		if rec.err != nil {
			st.Err, _ = json.Marshal(rec.err)
		}
		switch depth := l.slot - rec.slot; {
		case depth >= l.cfg.FinalityDepth:
			st.ConfirmationStatus = types.CommitmentFinalized
		case depth >= 1:
			st.ConfirmationStatus = types.CommitmentConfirmed
			st.Confirmations = &depth
		default:
			st.ConfirmationStatus = types.CommitmentProcessed
			st.Confirmations = &depth
		}
		out[i] = st
	}

	l.slot++
	return out
}

// produceBlock closes the current slot: sig is recorded in the hash chain,
// the slot's ticks follow, and the blockhash mixes the chain head with the
// accounts delta. Caller holds mu.
func (l *Ledger) produceBlock(sig types.Signature, modified []types.KeyedAccount) {
	block := Block{Slot: l.slot, Start: l.poh.Hash()}
	l.poh.Record([]types.Signature{sig})
	for i := 0; i < l.cfg.TicksPerSlot; i++ {
		l.poh.Tick()
	}
	block.Entries = l.poh.Drain()
	l.blocks[l.slot] = block

	head := l.poh.Hash()
	delta := accounts.ComputeAccountsDeltaHash(modified)
	var slot [8]byte
	binary.LittleEndian.PutUint64(slot[:], l.slot)

	l.slot++
	l.blockhash = types.SHA256Multi(head[:], delta[:], slot[:])
	l.recent[l.blockhash] = l.slot

	for h, issued := range l.recent {
		if l.slot-issued > blockhashValidity {
			delete(l.recent, h)
		}
	}
	for s := range l.blocks {
		if l.slot-s > blockhashValidity {
			delete(l.blocks, s)
		}
	}
	l.cfg.Metrics.RecordBlock(l.slot, l.db.GetAccountsCount())
}

// overlay buffers account writes until commit. Reads fall through to the
// parent overlay and then to the store. The first store error is kept in err.
type overlay struct {
	db     accounts.AccountsDB
	parent *overlay
	dirty  map[types.Pubkey]*types.Account
	err    error
}

func newOverlay(db accounts.AccountsDB, parent *overlay) *overlay {
	return &overlay{db: db, parent: parent, dirty: make(map[types.Pubkey]*types.Account)}
}

// get returns a copy of the account at key, or nil.
func (o *overlay) get(key types.Pubkey) *types.Account {
	if acc, ok := o.dirty[key]; ok {
		return acc.Clone()
	}
	if o.parent != nil {
		acc := o.parent.get(key)
		if o.parent.err != nil && o.err == nil {
			o.err = o.parent.err
		}
		return acc
	}
	acc, err := o.db.GetAccount(key)
	if err != nil {
		if o.err == nil {
			o.err = err
		}
		return nil
	}
	return acc
}

func (o *overlay) set(key types.Pubkey, acc *types.Account) {
	o.dirty[key] = acc.Clone()
}

// commit writes every buffered account and returns the accounts written.
// Writes in o take precedence over its parents. Accounts left with no
// lamports and no data are purged from the store.
func (o *overlay) commit() ([]types.KeyedAccount, error) {
	merged := make(map[types.Pubkey]*types.Account)
	o.flatten(merged)

	written := make([]types.KeyedAccount, 0, len(merged))
	for key, acc := range merged {
		var err error
		if acc.Lamports == 0 && len(acc.Data) == 0 {
			err = o.db.DeleteAccount(key)
		} else {
			err = o.db.SetAccount(key, acc)
		}
		if err != nil {
			return nil, err
		}
		written = append(written, types.KeyedAccount{Pubkey: key, Account: acc})
	}
	return written, nil
}

func (o *overlay) flatten(into map[types.Pubkey]*types.Account) {
	if o.parent != nil {
		o.parent.flatten(into)
	}
	for key, acc := range o.dirty {
		into[key] = acc
	}
}
