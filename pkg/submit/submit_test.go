package submit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlysCarillo/solana-polling-station/pkg/crypto"
	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// scriptedLedger replays a list of signature statuses, one per call. The last
// entry repeats.
type scriptedLedger struct {
	mu        sync.Mutex
	blockhash types.Hash
	hashErr   error
	sendErr   error
	statusErr error
	statuses  []*rpc.SignatureStatus
	sent      []*types.Transaction
	sendCfg   rpc.SendTransactionConfig
	polls     int
	airdrops  []types.Lamports
}

func (l *scriptedLedger) GetLatestBlockhash(context.Context) (types.Hash, uint64, error) {
	return l.blockhash, 100, l.hashErr
}

func (l *scriptedLedger) SendTransaction(_ context.Context, tx *types.Transaction, cfg rpc.SendTransactionConfig) (types.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return types.ZeroSignature, l.sendErr
	}
	l.sent = append(l.sent, tx)
	l.sendCfg = cfg
	return tx.ID(), nil
}

func (l *scriptedLedger) GetSignatureStatuses(_ context.Context, sigs ...types.Signature) ([]*rpc.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statusErr != nil {
		return nil, l.statusErr
	}
	i := l.polls
	if i >= len(l.statuses) {
		i = len(l.statuses) - 1
	}
	l.polls++
	var st *rpc.SignatureStatus
	if i >= 0 {
		st = l.statuses[i]
	}
	return []*rpc.SignatureStatus{st}, nil
}

func (l *scriptedLedger) RequestAirdrop(_ context.Context, _ types.Pubkey, lamports types.Lamports) (types.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return types.ZeroSignature, l.sendErr
	}
	l.airdrops = append(l.airdrops, lamports)
	return types.Signature{7}, nil
}

func status(level types.Commitment) *rpc.SignatureStatus {
	return &rpc.SignatureStatus{Slot: 1, ConfirmationStatus: level}
}

func testInstruction() types.Instruction {
	return types.Instruction{
		ProgramID: types.Pubkey{42},
		Accounts:  []types.AccountMeta{{Pubkey: types.Pubkey{9}, IsWritable: true}},
		Data:      []byte{1, 2, 3},
	}
}

func fastOptions() Options {
	return Options{PollInterval: time.Millisecond}
}

func TestSubmitSignsAndSends(t *testing.T) {
	kp, err := crypto.NewKeypair()
	require.NoError(t, err)
	ledger := &scriptedLedger{blockhash: types.Hash{5}}

	s := New(ledger, fastOptions())
	sig, err := s.Submit(context.Background(), testInstruction(), kp)
	require.NoError(t, err)

	require.Len(t, ledger.sent, 1)
	tx := ledger.sent[0]
	assert.Equal(t, tx.ID(), sig)
	assert.Equal(t, kp.PublicKey(), tx.FeePayer())
	assert.Equal(t, types.Hash{5}, tx.Message.RecentBlockhash)
	assert.NoError(t, crypto.VerifyTransaction(tx))
	assert.Equal(t, types.CommitmentConfirmed, ledger.sendCfg.PreflightCommitment)
}

type failingSigner struct{ pk types.Pubkey }

func (f failingSigner) PublicKey() types.Pubkey { return f.pk }
func (f failingSigner) Sign([]byte) (types.Signature, error) {
	return types.ZeroSignature, errors.New("user rejected the request")
}

func TestSubmitErrors(t *testing.T) {
	kp, _ := crypto.NewKeypair()

	t.Run("signer rejects", func(t *testing.T) {
		s := New(&scriptedLedger{}, fastOptions())
		_, err := s.Submit(context.Background(), testInstruction(), failingSigner{pk: types.Pubkey{1}})

		var subErr *SubmissionError
		require.True(t, errors.As(err, &subErr))
		assert.Equal(t, "sign", subErr.Stage)
	})

	t.Run("node rejects", func(t *testing.T) {
		ledger := &scriptedLedger{sendErr: rpc.NewRPCError(rpc.SendTransactionPreflightFailure, "Transaction simulation failed")}
		s := New(ledger, fastOptions())
		_, err := s.Submit(context.Background(), testInstruction(), kp)

		var subErr *SubmissionError
		require.True(t, errors.As(err, &subErr))
		assert.Equal(t, "send", subErr.Stage)
		var rpcErr *rpc.RPCError
		assert.True(t, errors.As(err, &rpcErr))
	})

	t.Run("transport fails", func(t *testing.T) {
		ledger := &scriptedLedger{hashErr: &rpc.NetworkError{Method: "getLatestBlockhash", Err: errors.New("dial tcp: refused")}}
		s := New(ledger, fastOptions())
		_, err := s.Submit(context.Background(), testInstruction(), kp)

		var netErr *rpc.NetworkError
		require.True(t, errors.As(err, &netErr))
		var subErr *SubmissionError
		assert.False(t, errors.As(err, &subErr))
	})
}

func TestConfirmWaitsForTarget(t *testing.T) {
	ledger := &scriptedLedger{statuses: []*rpc.SignatureStatus{
		nil,
		status(types.CommitmentProcessed),
		status(types.CommitmentConfirmed),
	}}
	s := New(ledger, fastOptions())

	err := s.Confirm(context.Background(), types.Signature{1})
	require.NoError(t, err)
	assert.Equal(t, 3, ledger.polls)
}

func TestConfirmFinalized(t *testing.T) {
	rooted := &rpc.SignatureStatus{Slot: 3} // null confirmations, no status name
	ledger := &scriptedLedger{statuses: []*rpc.SignatureStatus{status(types.CommitmentConfirmed), rooted}}
	opts := fastOptions()
	opts.Commitment = types.CommitmentFinalized
	s := New(ledger, opts)

	require.NoError(t, s.Confirm(context.Background(), types.Signature{1}))
	assert.Equal(t, 2, ledger.polls)
}

func TestConfirmTransactionFailed(t *testing.T) {
	failed := status(types.CommitmentConfirmed)
	failed.Err = json.RawMessage(`{"InstructionError":[0,"InvalidAccountData"]}`)
	s := New(&scriptedLedger{statuses: []*rpc.SignatureStatus{failed}}, fastOptions())

	err := s.Confirm(context.Background(), types.Signature{1})
	var confErr *ConfirmationError
	require.True(t, errors.As(err, &confErr))
	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.Contains(t, err.Error(), "InvalidAccountData")
}

func TestConfirmDeadline(t *testing.T) {
	ledger := &scriptedLedger{statuses: []*rpc.SignatureStatus{status(types.CommitmentProcessed)}}
	s := New(ledger, fastOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Confirm(ctx, types.Signature{1})
	var confErr *ConfirmationError
	require.True(t, errors.As(err, &confErr))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, types.CommitmentProcessed, confErr.Reached)
}

func TestConfirmStatusCallFails(t *testing.T) {
	netErr := &rpc.NetworkError{Method: "getSignatureStatuses", Err: errors.New("timeout")}
	s := New(&scriptedLedger{statusErr: netErr}, fastOptions())

	err := s.Confirm(context.Background(), types.Signature{1})
	var confErr *ConfirmationError
	require.True(t, errors.As(err, &confErr))
	var got *rpc.NetworkError
	assert.True(t, errors.As(err, &got))
}

func TestAirdrop(t *testing.T) {
	ledger := &scriptedLedger{statuses: []*rpc.SignatureStatus{status(types.CommitmentFinalized)}}
	s := New(ledger, fastOptions())

	sig, err := s.RequestAirdrop(context.Background(), types.Pubkey{3}, 0)
	require.NoError(t, err)
	require.NoError(t, s.ConfirmAirdrop(context.Background(), sig))
	assert.Equal(t, []types.Lamports{DefaultAirdrop}, ledger.airdrops)

	ledger.sendErr = rpc.NewRPCError(rpc.InternalError, "airdrop limit reached")
	_, err = s.RequestAirdrop(context.Background(), types.Pubkey{3}, 5)
	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, "airdrop", subErr.Stage)
}
