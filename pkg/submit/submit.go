// Package submit signs, sends and confirms transactions.
//
// Nothing here retries. A rejected submission or an unconfirmed transaction is
// returned to the caller, who may invoke the operation again.
package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AlysCarillo/solana-polling-station/pkg/crypto"
	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// DefaultPollInterval is the delay between signature status checks.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultAirdrop is the amount requested when funding a test wallet.
const DefaultAirdrop = types.LamportsPerSOL

// Signer signs serialized transaction messages. *crypto.Keypair implements it.
type Signer interface {
	PublicKey() types.Pubkey
	Sign(message []byte) (types.Signature, error)
}

// Ledger is the subset of the RPC client the submitter needs.
type Ledger interface {
	GetLatestBlockhash(ctx context.Context) (types.Hash, uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction, cfg rpc.SendTransactionConfig) (types.Signature, error)
	GetSignatureStatuses(ctx context.Context, sigs ...types.Signature) ([]*rpc.SignatureStatus, error)
	RequestAirdrop(ctx context.Context, pubkey types.Pubkey, lamports types.Lamports) (types.Signature, error)
}

// Options configures a Submitter.
type Options struct {
	Commitment   types.Commitment // target of Confirm, default confirmed
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Submitter sends instructions for one fee payer at a time.
type Submitter struct {
	ledger     Ledger
	commitment types.Commitment
	interval   time.Duration
	logger     *slog.Logger
}

// New creates a submitter over ledger.
func New(ledger Ledger, opts Options) *Submitter {
	if opts.Commitment == "" {
		opts.Commitment = types.CommitmentConfirmed
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Submitter{
		ledger:     ledger,
		commitment: opts.Commitment,
		interval:   opts.PollInterval,
		logger:     opts.Logger.With("component", "submit"),
	}
}

// Submit compiles ix into a transaction paid by signer, signs it and sends it
// with preflight at the confirmed level. It returns the transaction id.
func (s *Submitter) Submit(ctx context.Context, ix types.Instruction, signer Signer) (types.Signature, error) {
	blockhash, _, err := s.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return types.ZeroSignature, classify("blockhash", err)
	}

	msg, err := types.NewMessage(signer.PublicKey(), blockhash, ix)
	if err != nil {
		return types.ZeroSignature, &SubmissionError{Stage: "compile", Err: err}
	}

	tx, err := crypto.SignTransaction(msg, signer)
	if err != nil {
		return types.ZeroSignature, &SubmissionError{Stage: "sign", Err: err}
	}

	sig, err := s.ledger.SendTransaction(ctx, tx, rpc.SendTransactionConfig{
		PreflightCommitment: types.CommitmentConfirmed,
	})
	if err != nil {
		return types.ZeroSignature, classify("send", err)
	}
	if sig != tx.ID() {
		s.logger.Warn("node returned unexpected signature", "local", tx.ID().String(), "node", sig.String())
	}

	s.logger.Info("transaction submitted",
		"signature", sig.String(), "payer", signer.PublicKey().String(), "program", ix.ProgramID.String())
	return sig, nil
}

// Confirm polls the signature status until it reaches the target commitment.
// It has no timeout of its own; bound it with ctx.
func (s *Submitter) Confirm(ctx context.Context, sig types.Signature) error {
	return s.confirm(ctx, sig, s.commitment)
}

func (s *Submitter) confirm(ctx context.Context, sig types.Signature, target types.Commitment) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var reached types.Commitment
	fail := func(err error) error {
		return &ConfirmationError{Signature: sig, Target: target, Reached: reached, Err: err}
	}

	for {
		statuses, err := s.ledger.GetSignatureStatuses(ctx, sig)
		if err != nil {
			return fail(err)
		}
		if len(statuses) != 1 {
			return fail(fmt.Errorf("expected 1 status, got %d", len(statuses)))
		}

		if st := statuses[0]; st != nil {
			if st.Failed() {
				return fail(fmt.Errorf("%w: %s", ErrTransactionFailed, st.Err))
			}
			reached = statusLevel(st)
			if reached.Reaches(target) {
				s.logger.Debug("transaction confirmed", "signature", sig.String(), "commitment", string(reached), "slot", st.Slot)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case <-ticker.C:
		}
	}
}

// statusLevel reads the commitment of a status. Nodes report rooted
// transactions with null confirmations and may omit the status name.
func statusLevel(st *rpc.SignatureStatus) types.Commitment {
	if st.ConfirmationStatus != "" {
		return st.ConfirmationStatus
	}
	if st.Confirmations == nil {
		return types.CommitmentFinalized
	}
	return types.CommitmentProcessed
}

// RequestAirdrop asks the ledger to fund addr. Zero lamports requests
// DefaultAirdrop.
func (s *Submitter) RequestAirdrop(ctx context.Context, addr types.Pubkey, lamports types.Lamports) (types.Signature, error) {
	if lamports == 0 {
		lamports = DefaultAirdrop
	}
	sig, err := s.ledger.RequestAirdrop(ctx, addr, lamports)
	if err != nil {
		return types.ZeroSignature, classify("airdrop", err)
	}
	s.logger.Info("airdrop requested", "signature", sig.String(), "address", addr.String(), "lamports", uint64(lamports))
	return sig, nil
}

// ConfirmAirdrop confirms an airdrop transaction.
func (s *Submitter) ConfirmAirdrop(ctx context.Context, sig types.Signature) error {
	return s.Confirm(ctx, sig)
}

// classify passes transport failures through and wraps everything else as a
// rejection.
func classify(stage string, err error) error {
	var netErr *rpc.NetworkError
	if errors.As(err, &netErr) {
		return err
	}
	return &SubmissionError{Stage: stage, Err: err}
}
