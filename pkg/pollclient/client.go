// Package pollclient ties the codec, address derivation, instruction builder,
// query service and submitter into the create-poll and cast-vote flows.
package pollclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AlysCarillo/solana-polling-station/pkg/instruction"
	"github.com/AlysCarillo/solana-polling-station/pkg/pda"
	"github.com/AlysCarillo/solana-polling-station/pkg/poll"
	"github.com/AlysCarillo/solana-polling-station/pkg/query"
	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/submit"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// ErrUnknownOption is returned when a vote names an option the poll lacks.
var ErrUnknownOption = errors.New("pollclient: option is not offered by the poll")

// Ledger is everything the client reads from or sends to the ledger.
// *rpc.Client implements it.
type Ledger interface {
	query.AccountSource
	submit.Ledger
	GetAccountInfo(ctx context.Context, pubkey types.Pubkey) (*types.Account, error)
	GetBalance(ctx context.Context, pubkey types.Pubkey) (types.Lamports, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataLen uint64) (types.Lamports, error)
	GetBlock(ctx context.Context, slot uint64) (*rpc.BlockEntries, error)
}

// Options configures a Client.
type Options struct {
	Commitment   types.Commitment
	PollInterval time.Duration
	IDLength     int
	Logger       *slog.Logger
}

// Client runs poll flows against one program.
type Client struct {
	programID types.Pubkey
	ledger    Ledger
	builder   *instruction.Builder
	submitter *submit.Submitter
	queries   *query.Service
	idLength  int
	logger    *slog.Logger
}

// New creates a client for programID.
func New(programID types.Pubkey, ledger Ledger, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	idLength := opts.IDLength
	if idLength <= 0 {
		idLength = poll.DefaultIDLength
	}
	return &Client{
		programID: programID,
		ledger:    ledger,
		builder:   instruction.NewBuilder(programID, nil),
		submitter: submit.New(ledger, submit.Options{
			Commitment:   opts.Commitment,
			PollInterval: opts.PollInterval,
			Logger:       logger,
		}),
		queries:  query.NewService(programID, ledger, logger),
		idLength: idLength,
		logger:   logger.With("component", "pollclient"),
	}
}

// ProgramID returns the program the client targets.
func (c *Client) ProgramID() types.Pubkey {
	return c.programID
}

// Queries exposes the read side.
func (c *Client) Queries() *query.Service {
	return c.queries
}

// CreatePoll creates a poll owned by owner and paid for by signer. It returns
// the transaction id and the generated poll id. The transaction is submitted
// but not confirmed.
func (c *Client) CreatePoll(ctx context.Context, signer submit.Signer, question string, options []string, owner string) (types.Signature, string, error) {
	id, err := poll.GenerateID(c.idLength)
	if err != nil {
		return types.ZeroSignature, "", err
	}

	addr, bump, err := pda.DerivePollAddress(c.programID, id)
	if err != nil {
		return types.ZeroSignature, "", err
	}

	p, err := poll.NewPoll(signer.PublicKey().String(), owner, id, question, options, bump)
	if err != nil {
		return types.ZeroSignature, "", err
	}

	data, err := poll.Encode(p)
	if err != nil {
		return types.ZeroSignature, "", err
	}
	rent, err := c.ledger.GetMinimumBalanceForRentExemption(ctx, uint64(len(data)))
	if err != nil {
		return types.ZeroSignature, "", fmt.Errorf("quote rent: %w", err)
	}

	builder := c.builder.WithRent(instruction.FlatRent(rent))
	env, err := builder.BuildCreatePoll(p)
	if err != nil {
		return types.ZeroSignature, "", err
	}
	ix, err := builder.Instruction(env, signer.PublicKey(), addr)
	if err != nil {
		return types.ZeroSignature, "", err
	}

	sig, err := c.submitter.Submit(ctx, ix, signer)
	if err != nil {
		return types.ZeroSignature, "", err
	}

	c.logger.Info("poll created",
		"id", id, "address", addr.String(), "bump", bump, "space", env.Space, "lamports", env.Lamports, "signature", sig.String())
	return sig, id, nil
}

// CastVote votes for option on the poll at pollAddr. When the poll can be read
// the option is checked first and ErrUnknownOption returned on mismatch.
func (c *Client) CastVote(ctx context.Context, signer submit.Signer, pollAddr types.Pubkey, option string) (types.Signature, error) {
	acc, err := c.ledger.GetAccountInfo(ctx, pollAddr)
	if err != nil {
		return types.ZeroSignature, fmt.Errorf("read poll %s: %w", pollAddr, err)
	}
	switch {
	case acc == nil:
		c.logger.Warn("poll account not found, submitting unchecked vote", "address", pollAddr.String())
	case acc.Owner != c.programID:
		c.logger.Warn("poll account has a foreign owner, submitting unchecked vote",
			"address", pollAddr.String(), "owner", acc.Owner.String())
	default:
		p, err := poll.Decode(acc.Data)
		if err != nil {
			c.logger.Warn("poll account does not decode, submitting unchecked vote",
				"address", pollAddr.String(), "error", err)
			break
		}
		if !p.HasOption(option) {
			return types.ZeroSignature, fmt.Errorf("%w: %q not in %q", ErrUnknownOption, option, p.Options)
		}
	}

	env, err := c.builder.BuildCastVote(option)
	if err != nil {
		return types.ZeroSignature, err
	}
	ix, err := c.builder.Instruction(env, signer.PublicKey(), pollAddr)
	if err != nil {
		return types.ZeroSignature, err
	}
	return c.submitter.Submit(ctx, ix, signer)
}

// Confirm waits until sig reaches the configured commitment.
func (c *Client) Confirm(ctx context.Context, sig types.Signature) error {
	return c.submitter.Confirm(ctx, sig)
}

// Balance returns the lamport balance of addr.
func (c *Client) Balance(ctx context.Context, addr types.Pubkey) (types.Lamports, error) {
	return c.ledger.GetBalance(ctx, addr)
}

// Airdrop requests lamports for addr and waits for confirmation. Zero
// lamports requests one SOL.
func (c *Client) Airdrop(ctx context.Context, addr types.Pubkey, lamports types.Lamports) (types.Signature, error) {
	sig, err := c.submitter.RequestAirdrop(ctx, addr, lamports)
	if err != nil {
		return types.ZeroSignature, err
	}
	if err := c.submitter.ConfirmAirdrop(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// GetAllPolls lists every poll of the program, newest first.
func (c *Client) GetAllPolls(ctx context.Context) ([]query.AccountHandle, error) {
	return c.queries.GetAllPolls(ctx)
}

// GetPollsByOwner lists the polls matched by the owner prefix filter.
func (c *Client) GetPollsByOwner(ctx context.Context, owner string) ([]query.AccountHandle, error) {
	return c.queries.GetPollsByOwner(ctx, owner)
}

// FindPoll looks a poll up by id.
func (c *Client) FindPoll(ctx context.Context, id string) (query.AccountHandle, bool, error) {
	return c.queries.FindPoll(ctx, id)
}
