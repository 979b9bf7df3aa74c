package localnet

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AlysCarillo/solana-polling-station/pkg/instruction"
	"github.com/AlysCarillo/solana-polling-station/pkg/pda"
	"github.com/AlysCarillo/solana-polling-station/pkg/poll"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Instruction errors reported in transaction statuses.
var (
	ErrInvalidInstructionData = errors.New("InvalidInstructionData")
	ErrInvalidAccountData     = errors.New("InvalidAccountData")
	ErrIncorrectProgramID     = errors.New("IncorrectProgramId")
	ErrNotEnoughAccountKeys   = errors.New("NotEnoughAccountKeys")
	ErrMissingRequiredSig     = errors.New("MissingRequiredSignature")
	ErrReadonlyDataModified   = errors.New("ReadonlyDataModified")
	ErrAccountAlreadyInUse    = errors.New("AccountAlreadyInUse")
	ErrInsufficientFunds      = errors.New("InsufficientFunds")
	ErrInsufficientForRent    = errors.New("InsufficientFundsForRent")
	ErrInvalidSeeds           = errors.New("InvalidSeeds")
)

// accountView is one account of an instruction as the program sees it.
type accountView struct {
	key      types.Pubkey
	signer   bool
	writable bool
}

// invocation carries the state a single instruction executes against.
type invocation struct {
	programID types.Pubkey
	accounts  []accountView
	data      []byte
	state     *overlay
	rent      types.Rent
	now       time.Time
	logs      []string
	effects   tally
}

// tally counts what committed instructions did.
type tally struct {
	pollsCreated uint64
	votesCast    uint64
}

func (inv *invocation) log(format string, args ...interface{}) {
	inv.logs = append(inv.logs, "Program log: "+fmt.Sprintf(format, args...))
}

// pollProgram executes poll program instructions.
type pollProgram struct{}

func (pollProgram) execute(inv *invocation) error {
	env, err := instruction.DecodeEnvelope(inv.data)
	if err != nil {
		inv.log("unable to deserialize Instruction data: %v", err)
		return ErrInvalidInstructionData
	}
	if len(inv.accounts) < 2 {
		return ErrNotEnoughAccountKeys
	}
	payer, target := inv.accounts[0], inv.accounts[1]

	switch env.Action {
	case instruction.ActionCreatePoll:
		return createPoll(inv, env, payer, target)
	case instruction.ActionCastVote:
		return castVote(inv, env, target)
	default:
		inv.log("Invalid input Instruction action")
		return ErrInvalidInstructionData
	}
}

func createPoll(inv *invocation, env instruction.Envelope, payer, target accountView) error {
	rec, err := poll.Decode(env.Data)
	if err != nil {
		inv.log("Error deserializing Instruction poll data: %v", err)
		return ErrInvalidInstructionData
	}

	if err := createAccount(inv, env, payer, target, rec); err != nil {
		inv.log("Error creating PDA: %v", err)
		return ErrInvalidAccountData
	}

	fresh, err := poll.NewPoll(rec.WalletPubkey, rec.Owner, rec.ID, rec.Question, rec.Options, rec.SeedBump)
	if err != nil {
		inv.log("Error while creating new poll instance: %v", err)
		return ErrInvalidAccountData
	}
	// The account was sized with PlaceholderTimestamp, so only ten-digit Unix
	// times fit exactly. Shorter ones leave zero padding the decoder rejects
	// as trailing bytes; longer ones fail the write.
	fresh.Timestamp = strconv.FormatInt(inv.now.Unix(), 10)

	if err := writeRecord(inv, target.key, fresh); err != nil {
		inv.log("Error serializing new poll data: %v", err)
		return ErrInvalidAccountData
	}
	inv.log("data written to account successfully!")
	inv.effects.pollsCreated++
	return nil
}

// createAccount moves lamports from payer into a new account of env.Space
// bytes owned by the program, signed for by the poll's seeds.
func createAccount(inv *invocation, env instruction.Envelope, payer, target accountView, rec poll.Poll) error {
	if !payer.signer {
		return ErrMissingRequiredSig
	}
	if !payer.writable || !target.writable {
		return ErrReadonlyDataModified
	}
	if err := pda.VerifyPollAddress(inv.programID, rec.ID, rec.SeedBump, target.key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
	}
	if env.Space > uint64(maxAccountSpace) {
		return fmt.Errorf("space %d exceeds %d", env.Space, maxAccountSpace)
	}

	existing := inv.state.get(target.key)
	if existing != nil && (existing.Lamports > 0 || len(existing.Data) > 0) {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInUse, target.key)
	}

	from := inv.state.get(payer.key)
	if from == nil || uint64(from.Lamports) < env.Lamports {
		return ErrInsufficientFunds
	}
	if minimum := inv.rent.MinimumBalance(env.Space); types.Lamports(env.Lamports) < minimum {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientForRent, env.Lamports, minimum)
	}

	from.Lamports -= types.Lamports(env.Lamports)
	inv.state.set(payer.key, from)
	inv.state.set(target.key, &types.Account{
		Lamports: types.Lamports(env.Lamports),
		Data:     make([]byte, env.Space),
		Owner:    inv.programID,
	})
	return nil
}

func castVote(inv *invocation, env instruction.Envelope, target accountView) error {
	acc := inv.state.get(target.key)
	if acc == nil || acc.Owner != inv.programID {
		inv.log("%s", ErrIncorrectProgramID)
		return ErrIncorrectProgramID
	}
	vote, err := poll.DecodeVote(env.Data)
	if err != nil {
		inv.log("unable to deserialize new poll data: %v", err)
		return ErrInvalidInstructionData
	}
	if !target.writable {
		return ErrReadonlyDataModified
	}

	rec, err := poll.Decode(acc.Data)
	if err != nil {
		inv.log("%s: %v", ErrInvalidAccountData, err)
		return ErrInvalidAccountData
	}
	updated, err := rec.WithVote(vote.Option)
	if err != nil {
		inv.log("Error casting vote: %v", err)
		return ErrInvalidAccountData
	}

	if err := writeRecord(inv, target.key, updated); err != nil {
		inv.log("Error serializing vote data: %v", err)
		return ErrInvalidAccountData
	}
	inv.log("Vote casted successfully!")
	inv.effects.votesCast++
	return nil
}

// writeRecord serializes p into the start of the account's existing data.
// Bytes past the record are left untouched.
func writeRecord(inv *invocation, key types.Pubkey, p poll.Poll) error {
	acc := inv.state.get(key)
	if acc == nil {
		return fmt.Errorf("account %s missing", key)
	}
	b, err := poll.Encode(p)
	if err != nil {
		return err
	}
	if len(b) > len(acc.Data) {
		return fmt.Errorf("record needs %d bytes, account holds %d", len(b), len(acc.Data))
	}
	copy(acc.Data, b)
	inv.state.set(key, acc)
	return nil
}
