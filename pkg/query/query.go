// Package query reads poll accounts from the ledger.
//
// Every call re-issues a full program account scan. Accounts that are not
// owned by the program or do not decode as a poll are logged and skipped; a
// single bad account never fails the scan.
package query

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/AlysCarillo/solana-polling-station/pkg/poll"
	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// OwnerFilterOffset is the byte offset the owner prefix is compared at.
const OwnerFilterOffset = 0

// AccountSource lists program accounts. *rpc.Client implements it.
type AccountSource interface {
	GetProgramAccounts(ctx context.Context, programID types.Pubkey, filters ...rpc.Filter) ([]types.KeyedAccount, error)
}

// AccountHandle pairs a decoded poll with the address the ledger reported.
type AccountHandle struct {
	Poll    poll.Poll
	Address types.Pubkey
}

// Service answers poll queries for one program.
type Service struct {
	programID types.Pubkey
	source    AccountSource
	logger    *slog.Logger
}

// NewService creates a query service. A nil logger discards output.
func NewService(programID types.Pubkey, source AccountSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		programID: programID,
		source:    source,
		logger:    logger.With("component", "query", "program", programID.String()),
	}
}

// GetAllPolls scans every account of the program and returns the decodable
// polls, newest first.
func (s *Service) GetAllPolls(ctx context.Context) ([]AccountHandle, error) {
	accounts, err := s.source.GetProgramAccounts(ctx, s.programID)
	if err != nil {
		return nil, err
	}
	handles := s.decodeAll(accounts)
	SortByTimestamp(handles)
	return handles, nil
}

// GetPollsByOwner narrows the scan with the encoded owner prefix at offset 0.
//
// The prefix is compared against the first field of the record, which is the
// creator wallet rather than the owner. Results therefore contain polls whose
// wallet field equals owner.
func (s *Service) GetPollsByOwner(ctx context.Context, owner string) ([]AccountHandle, error) {
	prefix, err := poll.EncodeSearchByOwner(poll.SearchByOwner{Owner: owner})
	if err != nil {
		return nil, err
	}

	accounts, err := s.source.GetProgramAccounts(ctx, s.programID, rpc.MemcmpFilter(OwnerFilterOffset, prefix))
	if err != nil {
		return nil, err
	}
	handles := s.decodeAll(accounts)
	SortByTimestamp(handles)
	return handles, nil
}

// FindPoll scans for the poll with the given id. ok is false when none matches.
func (s *Service) FindPoll(ctx context.Context, id string) (AccountHandle, bool, error) {
	handles, err := s.GetAllPolls(ctx)
	if err != nil {
		return AccountHandle{}, false, err
	}
	for _, h := range handles {
		if h.Poll.ID == id {
			return h, true, nil
		}
	}
	return AccountHandle{}, false, nil
}

func (s *Service) decodeAll(accounts []types.KeyedAccount) []AccountHandle {
	handles := make([]AccountHandle, 0, len(accounts))
	for _, ka := range accounts {
		if ka.Account == nil {
			s.logger.Debug("skipping empty account entry", "address", ka.Pubkey.String())
			continue
		}
		if ka.Account.Owner != s.programID {
			s.logger.Warn("skipping account not owned by program",
				"address", ka.Pubkey.String(), "owner", ka.Account.Owner.String())
			continue
		}
		p, err := poll.Decode(ka.Account.Data)
		if err != nil {
			s.logger.Debug("skipping undecodable account",
				"address", ka.Pubkey.String(), "size", len(ka.Account.Data), "error", err)
			continue
		}
		handles = append(handles, AccountHandle{Poll: p, Address: ka.Pubkey})
	}
	return handles
}

// SortByTimestamp orders handles newest first, comparing timestamps as
// integers. Timestamps that are not integers sort after all numeric ones.
// Equal keys keep their input order.
func SortByTimestamp(handles []AccountHandle) {
	type key struct {
		n  int64
		ok bool
	}
	keys := make([]key, len(handles))
	idx := make([]int, len(handles))
	for i := range handles {
		n, err := strconv.ParseInt(handles[i].Poll.Timestamp, 10, 64)
		keys[i] = key{n: n, ok: err == nil}
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		if ka.ok != kb.ok {
			return ka.ok
		}
		return ka.ok && ka.n > kb.n
	})

	sorted := make([]AccountHandle, len(handles))
	for i, j := range idx {
		sorted[i] = handles[j]
	}
	copy(handles, sorted)
}
