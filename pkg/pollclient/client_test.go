package pollclient

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlysCarillo/solana-polling-station/pkg/accounts"
	"github.com/AlysCarillo/solana-polling-station/pkg/crypto"
	"github.com/AlysCarillo/solana-polling-station/pkg/localnet"
	"github.com/AlysCarillo/solana-polling-station/pkg/pda"
	"github.com/AlysCarillo/solana-polling-station/pkg/poll"
	"github.com/AlysCarillo/solana-polling-station/pkg/query"
	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/submit"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

var testProgramID = types.Pubkey(sha256.Sum256([]byte("pollclient test program")))

type harness struct {
	client *Client
	ledger *localnet.Ledger
	payer  *crypto.Keypair
}

// newHarness serves a fresh local ledger whose clock advances one second per
// transaction, and funds a payer with one SOL.
func newHarness(t *testing.T) *harness {
	t.Helper()

	var tick atomic.Int64
	ledger, err := localnet.NewLedger(accounts.NewMemoryDB(), localnet.LedgerConfig{
		ProgramID: testProgramID,
		Clock: func() time.Time {
			return time.Unix(1_700_000_000+tick.Add(1), 0)
		},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(localnet.NewServer(nil, ledger).Handler())
	t.Cleanup(srv.Close)

	client := New(testProgramID, rpc.NewClient(srv.URL, rpc.ClientOptions{}), Options{
		PollInterval: time.Millisecond,
	})

	payer, err := crypto.NewKeypair()
	require.NoError(t, err)

	ctx := testContext(t)
	_, err = client.Airdrop(ctx, payer.PublicKey(), 0)
	require.NoError(t, err)

	return &harness{client: client, ledger: ledger, payer: payer}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) createPoll(t *testing.T, signer *crypto.Keypair, question string, options ...string) (string, types.Pubkey) {
	t.Helper()
	ctx := testContext(t)

	sig, id, err := h.client.CreatePoll(ctx, signer, question, options, "carol")
	require.NoError(t, err)
	require.NoError(t, h.client.Confirm(ctx, sig))

	addr, _, err := pda.DerivePollAddress(testProgramID, id)
	require.NoError(t, err)
	return id, addr
}

func TestAirdropAndBalance(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	balance, err := h.client.Balance(ctx, h.payer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, submit.DefaultAirdrop, balance)

	_, err = h.client.Airdrop(ctx, h.payer.PublicKey(), 500)
	require.NoError(t, err)
	balance, err = h.client.Balance(ctx, h.payer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, submit.DefaultAirdrop+500, balance)
}

func TestCreatePoll(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	id, addr := h.createPoll(t, h.payer, "Tabs or spaces?", "tabs", "spaces")
	assert.Len(t, id, poll.DefaultIDLength)

	handle, ok, err := h.client.FindPoll(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, addr, handle.Address)
	assert.Equal(t, h.payer.PublicKey().String(), handle.Poll.WalletPubkey)
	assert.Equal(t, "carol", handle.Poll.Owner)
	assert.Equal(t, "Tabs or spaces?", handle.Poll.Question)
	assert.Equal(t, []string{"tabs", "spaces"}, handle.Poll.Options)
	assert.Equal(t, []uint32{0, 0}, handle.Poll.Votes)
	assert.Len(t, handle.Poll.Timestamp, len(poll.PlaceholderTimestamp))
	assert.NotEqual(t, poll.PlaceholderTimestamp, handle.Poll.Timestamp)

	_, ok, err = h.client.FindPoll(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreatePollRejectsInvalidPoll(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)
	before := h.ledger.TransactionCount()

	_, _, err := h.client.CreatePoll(ctx, h.payer, "Anything?", nil, "carol")
	assert.ErrorIs(t, err, poll.ErrNoOptions)

	_, _, err = h.client.CreatePoll(ctx, h.payer, "", []string{"a"}, "carol")
	assert.ErrorIs(t, err, poll.ErrMissingField)

	assert.Equal(t, before, h.ledger.TransactionCount(), "nothing may reach the ledger")
}

func TestCastVote(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)
	id, addr := h.createPoll(t, h.payer, "Best season?", "spring", "autumn")

	for _, option := range []string{"autumn", "autumn", "spring"} {
		sig, err := h.client.CastVote(ctx, h.payer, addr, option)
		require.NoError(t, err)
		require.NoError(t, h.client.Confirm(ctx, sig))
	}

	handle, ok, err := h.client.FindPoll(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 2}, handle.Poll.Votes)
	assert.Equal(t, uint64(3), handle.Poll.TotalVotes())
}

func TestCastVoteUnknownOption(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)
	_, addr := h.createPoll(t, h.payer, "Editor?", "vim", "nano")
	before := h.ledger.TransactionCount()

	_, err := h.client.CastVote(ctx, h.payer, addr, "emacs")
	assert.ErrorIs(t, err, ErrUnknownOption)

	// Matching is exact.
	_, err = h.client.CastVote(ctx, h.payer, addr, "Vim")
	assert.ErrorIs(t, err, ErrUnknownOption)

	assert.Equal(t, before, h.ledger.TransactionCount())
}

func TestCastVoteOnForeignAccountIsRejectedByLedger(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	// The payer's own account is owned by the system program; the client
	// submits unchecked and the program refuses it.
	_, err := h.client.CastVote(ctx, h.payer, h.payer.PublicKey(), "yes")

	var subErr *submit.SubmissionError
	require.True(t, errors.As(err, &subErr), "got %v", err)
	assert.Equal(t, "send", subErr.Stage)

	var rpcErr *rpc.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, rpc.SendTransactionPreflightFailure, rpcErr.Code)
	assert.Contains(t, string(rpcErr.Data), "IncorrectProgramId")
}

func TestQueries(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	other, err := crypto.NewKeypair()
	require.NoError(t, err)
	_, err = h.client.Airdrop(ctx, other.PublicKey(), 0)
	require.NoError(t, err)

	first, _ := h.createPoll(t, h.payer, "First?", "a")
	second, _ := h.createPoll(t, other, "Second?", "b")
	third, _ := h.createPoll(t, h.payer, "Third?", "c")

	all, err := h.client.GetAllPolls(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third, second, first}, ids(all), "newest first")

	mine, err := h.client.GetPollsByOwner(ctx, h.payer.PublicKey().String())
	require.NoError(t, err)
	assert.Equal(t, []string{third, first}, ids(mine))

	// The owner filter compares the wallet field, so the owner name matches nothing.
	byOwnerName, err := h.client.GetPollsByOwner(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, byOwnerName)
}

func ids(handles []query.AccountHandle) []string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = h.Poll.ID
	}
	return out
}

func TestVerifyBlock(t *testing.T) {
	h := newHarness(t)
	ctx := testContext(t)

	slot := h.ledger.Slot()
	sig, _, err := h.client.CreatePoll(ctx, h.payer, "Light or dark?", []string{"light", "dark"}, "carol")
	require.NoError(t, err)
	require.NoError(t, h.client.Confirm(ctx, sig))

	report, err := h.client.VerifyBlock(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, slot, report.Slot)
	assert.Equal(t, []types.Signature{sig}, report.Transactions)
	assert.Equal(t, uint64(localnet.DefaultTicksPerSlot), report.Ticks)
	assert.Equal(t, 1+localnet.DefaultTicksPerSlot, report.Entries)

	_, err = h.client.VerifyBlock(ctx, h.ledger.Slot()+100)
	var rpcErr *rpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.SlotSkipped, rpcErr.Code)
}
