package pollclient

import (
	"context"
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/poh"
	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// BlockReport summarizes a block whose hash chain verified.
type BlockReport struct {
	Slot         uint64
	Start        types.Hash
	Head         types.Hash
	Entries      int
	Ticks        uint64
	Transactions []types.Signature
}

// VerifyBlock fetches the hash chain of slot and replays it from its start
// hash. A chain that does not replay fails with poh.ErrHashMismatch.
func (c *Client) VerifyBlock(ctx context.Context, slot uint64) (BlockReport, error) {
	block, err := c.ledger.GetBlock(ctx, slot)
	if err != nil {
		return BlockReport{}, err
	}
	start, entries, err := decodeBlock(block)
	if err != nil {
		return BlockReport{}, fmt.Errorf("slot %d: %w", slot, err)
	}

	v := poh.NewVerifier(start)
	if err := v.VerifyEntries(entries); err != nil {
		return BlockReport{}, fmt.Errorf("slot %d: %w", slot, err)
	}

	report := BlockReport{
		Slot:    block.Slot,
		Start:   start,
		Head:    v.CurrentHash(),
		Entries: len(entries),
		Ticks:   v.TickCount(),
	}
	for _, e := range entries {
		report.Transactions = append(report.Transactions, e.Signatures...)
	}
	c.logger.Debug("block verified", "slot", slot, "entries", report.Entries, "ticks", report.Ticks)
	return report, nil
}

func decodeBlock(block *rpc.BlockEntries) (types.Hash, []poh.Entry, error) {
	start, err := types.HashFromBase58(block.StartHash)
	if err != nil {
		return types.ZeroHash, nil, fmt.Errorf("start hash: %w", err)
	}

	entries := make([]poh.Entry, len(block.Entries))
	for i, e := range block.Entries {
		hash, err := types.HashFromBase58(e.Hash)
		if err != nil {
			return types.ZeroHash, nil, fmt.Errorf("entry %d hash: %w", i, err)
		}
		entries[i] = poh.Entry{NumHashes: e.NumHashes, Hash: hash}
		for _, s := range e.Signatures {
			sig, err := types.SignatureFromBase58(s)
			if err != nil {
				return types.ZeroHash, nil, fmt.Errorf("entry %d signature: %w", i, err)
			}
			entries[i].Signatures = append(entries[i].Signatures, sig)
		}
	}
	return start, entries, nil
}
