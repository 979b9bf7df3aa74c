package localnet

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// Version is reported by getVersion.
const Version = "1.18.26"

// maxFilters is the most getProgramAccounts filters a request may carry.
const maxFilters = 4

// Handler is the function signature for RPC method handlers.
type Handler func(params json.RawMessage) (interface{}, *rpc.RPCError)

// Handlers maps RPC methods onto a Ledger.
type Handlers struct {
	ledger   *Ledger
	handlers map[string]Handler
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ledger *Ledger) *Handlers {
	h := &Handlers{
		ledger:   ledger,
		handlers: make(map[string]Handler),
	}
	h.registerHandlers()
	return h
}

// GetHandler returns the handler for a method, or nil if not found.
func (h *Handlers) GetHandler(method string) Handler {
	return h.handlers[method]
}

func (h *Handlers) registerHandlers() {
	h.handlers["getAccountInfo"] = h.handleGetAccountInfo
	h.handlers["getBalance"] = h.handleGetBalance
	h.handlers["getProgramAccounts"] = h.handleGetProgramAccounts
	h.handlers["getLatestBlockhash"] = h.handleGetLatestBlockhash
	h.handlers["getMinimumBalanceForRentExemption"] = h.handleGetMinimumBalanceForRentExemption
	h.handlers["sendTransaction"] = h.handleSendTransaction
	h.handlers["getSignatureStatuses"] = h.handleGetSignatureStatuses
	h.handlers["requestAirdrop"] = h.handleRequestAirdrop
	h.handlers["getSlot"] = h.handleGetSlot
	h.handlers["getBlock"] = h.handleGetBlock
	h.handlers["getTransactionCount"] = h.handleGetTransactionCount
	h.handlers["getHealth"] = h.handleGetHealth
	h.handlers["getVersion"] = h.handleGetVersion
}

// parseParams splits a positional params array and checks that at least
// required entries are present.
func parseParams(params json.RawMessage, required int) ([]json.RawMessage, *rpc.RPCError) {
	var raw []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &raw); err != nil {
			return nil, rpc.NewRPCError(rpc.InvalidParams, "invalid params: expected array")
		}
	}
	if len(raw) < required {
		return nil, rpc.NewRPCError(rpc.InvalidParams, fmt.Sprintf("expected at least %d params, got %d", required, len(raw)))
	}
	return raw, nil
}

func parsePubkey(raw json.RawMessage) (types.Pubkey, *rpc.RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.ZeroPubkey, rpc.NewRPCError(rpc.InvalidParams, "invalid pubkey parameter")
	}
	pk, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.ZeroPubkey, rpc.NewRPCError(rpc.InvalidParams, fmt.Sprintf("Invalid param: %v", err))
	}
	return pk, nil
}

// parseConfig decodes the optional config object at raw[i] into out.
func parseConfig(raw []json.RawMessage, i int, out interface{}) *rpc.RPCError {
	if len(raw) <= i || string(raw[i]) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw[i], out); err != nil {
		return rpc.NewRPCError(rpc.InvalidParams, fmt.Sprintf("invalid config: %v", err))
	}
	return nil
}

func encodingOrDefault(enc string) (string, *rpc.RPCError) {
	if enc == "" {
		return rpc.EncodingBase64, nil
	}
	if err := rpc.ValidateEncoding(enc); err != nil {
		return "", rpc.NewRPCError(rpc.UnsupportedEncoding, err.Error())
	}
	return enc, nil
}

func (h *Handlers) context() rpc.Context {
	return rpc.Context{Slot: h.ledger.Slot(), APIVersion: Version}
}

func accountInfo(acc *types.Account, encoding string) (*rpc.AccountInfo, *rpc.RPCError) {
	data, err := rpc.EncodeAccountData(acc.Data, encoding)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.InternalError, fmt.Sprintf("failed to encode data: %v", err))
	}
	return &rpc.AccountInfo{
		Lamports:   uint64(acc.Lamports),
		Data:       data,
		Owner:      acc.Owner.String(),
		Executable: acc.Executable,
		RentEpoch:  acc.RentEpoch,
		Space:      acc.DataLen(),
	}, nil
}

// handleGetAccountInfo handles the getAccountInfo RPC method.
// Params: [pubkey, {encoding, commitment}]
func (h *Handlers) handleGetAccountInfo(params json.RawMessage) (interface{}, *rpc.RPCError) {
	raw, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(raw[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg rpc.AccountInfoConfig
	if rpcErr := parseConfig(raw, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	encoding, rpcErr := encodingOrDefault(cfg.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	acc, err := h.ledger.Account(pubkey)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.InternalError, fmt.Sprintf("failed to get account: %v", err))
	}
	if acc == nil {
		return rpc.ContextualResult{Context: h.context(), Value: nil}, nil
	}

	info, rpcErr := accountInfo(acc, encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return rpc.ContextualResult{Context: h.context(), Value: info}, nil
}

// handleGetBalance handles the getBalance RPC method.
// Params: [pubkey, {commitment}]
func (h *Handlers) handleGetBalance(params json.RawMessage) (interface{}, *rpc.RPCError) {
	raw, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(raw[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	acc, err := h.ledger.Account(pubkey)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.InternalError, fmt.Sprintf("failed to get account: %v", err))
	}
	var balance uint64
	if acc != nil {
		balance = uint64(acc.Lamports)
	}
	return rpc.ContextualResult{Context: h.context(), Value: balance}, nil
}

// handleGetProgramAccounts handles the getProgramAccounts RPC method.
// Params: [programId, {encoding, filters, commitment}]
func (h *Handlers) handleGetProgramAccounts(params json.RawMessage) (interface{}, *rpc.RPCError) {
	raw, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parsePubkey(raw[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg rpc.ProgramAccountsConfig
	if rpcErr := parseConfig(raw, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	encoding, rpcErr := encodingOrDefault(cfg.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(cfg.Filters) > maxFilters {
		return nil, rpc.NewRPCError(rpc.InvalidParams, fmt.Sprintf("Too many filters provided; max %d", maxFilters))
	}
	filters, err := compileFilters(cfg.Filters)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.InvalidParams, err.Error())
	}

	owned, err := h.ledger.ProgramAccounts(owner)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.InternalError, fmt.Sprintf("failed to scan accounts: %v", err))
	}

	result := make([]rpc.KeyedAccountInfo, 0, len(owned))
	for _, ka := range owned {
		if !filters.match(ka.Account.Data) {
			continue
		}
		info, rpcErr := accountInfo(ka.Account, encoding)
		if rpcErr != nil {
			return nil, rpcErr
		}
		result = append(result, rpc.KeyedAccountInfo{Pubkey: ka.Pubkey.String(), Account: *info})
	}
	return result, nil
}

// handleGetLatestBlockhash handles the getLatestBlockhash RPC method.
// Params: [{commitment}]
func (h *Handlers) handleGetLatestBlockhash(params json.RawMessage) (interface{}, *rpc.RPCError) {
	hash, lastValid := h.ledger.LatestBlockhash()
	return rpc.ContextualResult{
		Context: h.context(),
		Value: rpc.BlockhashResult{
			Blockhash:            hash.String(),
			LastValidBlockHeight: lastValid,
		},
	}, nil
}

// handleGetMinimumBalanceForRentExemption handles the
// getMinimumBalanceForRentExemption RPC method.
// Params: [dataLen, {commitment}]
func (h *Handlers) handleGetMinimumBalanceForRentExemption(params json.RawMessage) (interface{}, *rpc.RPCError) {
	raw, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var dataLen uint64
	if err := json.Unmarshal(raw[0], &dataLen); err != nil {
		return nil, rpc.NewRPCError(rpc.InvalidParams, "invalid data length")
	}
	return uint64(h.ledger.Rent().MinimumBalance(dataLen)), nil
}

// handleSendTransaction handles the sendTransaction RPC method.
// Params: [encodedTransaction, {encoding, skipPreflight, preflightCommitment}]
func (h *Handlers) handleSendTransaction(params json.RawMessage) (interface{}, *rpc.RPCError) {
	raw, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var encoded string
	if err := json.Unmarshal(raw[0], &encoded); err != nil {
		return nil, rpc.NewRPCError(rpc.InvalidParams, "invalid transaction parameter")
	}
	var cfg rpc.SendTransactionConfig
	if rpcErr := parseConfig(raw, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}

	var wire []byte
	var err error
	switch cfg.Encoding {
	case "", rpc.EncodingBase58:
		wire, err = rpc.DecodeBase58(encoded)
	case rpc.EncodingBase64:
		wire, err = rpc.DecodeBase64(encoded)
	default:
		return nil, rpc.NewRPCError(rpc.UnsupportedEncoding, fmt.Sprintf("unsupported transaction encoding: %s", cfg.Encoding))
	}
	if err != nil {
		return nil, rpc.NewRPCError(rpc.InvalidParams, fmt.Sprintf("failed to decode transaction: %v", err))
	}
	tx, err := types.DeserializeTransaction(wire)
	if err != nil {
		return nil, rpc.NewRPCError(rpc.InvalidParams, fmt.Sprintf("failed to deserialize transaction: %v", err))
	}

	sig, err := h.ledger.SendTransaction(tx, cfg.SkipPreflight)
	if err != nil {
		return nil, sendError(err)
	}
	return sig.String(), nil
}

// simulationFailure is the data of a failed preflight.
type simulationFailure struct {
	Err  interface{} `json:"err"`
	Logs []string    `json:"logs"`
}

func sendError(err error) *rpc.RPCError {
	var txErr *TransactionError
	switch {
	case errors.As(err, &txErr):
		return rpc.NewRPCErrorWithData(rpc.SendTransactionPreflightFailure,
			"Transaction simulation failed: "+txErr.Error(),
			simulationFailure{Err: txErr, Logs: txErr.Logs})
	case errors.Is(err, ErrSignatureVerification):
		return rpc.NewRPCError(rpc.TransactionSignatureVerifyFail, "Transaction signature verification failure")
	case errors.Is(err, ErrBlockhashNotFound), errors.Is(err, ErrAlreadyProcessed):
		return rpc.NewRPCErrorWithData(rpc.SendTransactionPreflightFailure,
			"Transaction simulation failed: "+err.Error(),
			simulationFailure{Err: err.Error(), Logs: []string{}})
	default:
		return rpc.NewRPCError(rpc.InternalError, err.Error())
	}
}

// handleGetSignatureStatuses handles the getSignatureStatuses RPC method.
// Params: [[signature, ...], {searchTransactionHistory}]
func (h *Handlers) handleGetSignatureStatuses(params json.RawMessage) (interface{}, *rpc.RPCError) {
	raw, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var encoded []string
	if err := json.Unmarshal(raw[0], &encoded); err != nil {
		return nil, rpc.NewRPCError(rpc.InvalidParams, "invalid signatures parameter")
	}
	if len(encoded) > 256 {
		return nil, rpc.NewRPCError(rpc.InvalidParams, "Too many inputs provided; max 256")
	}

	sigs := make([]types.Signature, len(encoded))
	for i, s := range encoded {
		sig, err := types.SignatureFromBase58(s)
		if err != nil {
			return nil, rpc.NewRPCError(rpc.InvalidParams, fmt.Sprintf("Invalid param: %v", err))
		}
		sigs[i] = sig
	}

	ctx := h.context()
	return rpc.ContextualResult{Context: ctx, Value: h.ledger.SignatureStatuses(sigs)}, nil
}

// handleRequestAirdrop handles the requestAirdrop RPC method.
// Params: [pubkey, lamports, {commitment}]
func (h *Handlers) handleRequestAirdrop(params json.RawMessage) (interface{}, *rpc.RPCError) {
	raw, rpcErr := parseParams(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(raw[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if err := json.Unmarshal(raw[1], &lamports); err != nil {
		return nil, rpc.NewRPCError(rpc.InvalidParams, "invalid lamports parameter")
	}

	sig, err := h.ledger.RequestAirdrop(pubkey, types.Lamports(lamports))
	if err != nil {
		return nil, rpc.NewRPCError(rpc.InternalError, err.Error())
	}
	return sig.String(), nil
}

func (h *Handlers) handleGetSlot(params json.RawMessage) (interface{}, *rpc.RPCError) {
	return h.ledger.Slot(), nil
}

// handleGetBlock handles the getBlock RPC method.
// Params: [slot, {commitment}]
func (h *Handlers) handleGetBlock(params json.RawMessage) (interface{}, *rpc.RPCError) {
	raw, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var slot uint64
	if err := json.Unmarshal(raw[0], &slot); err != nil {
		return nil, rpc.NewRPCError(rpc.InvalidParams, "invalid slot parameter")
	}

	block, ok := h.ledger.Block(slot)
	if !ok {
		return nil, rpc.NewRPCError(rpc.SlotSkipped,
			fmt.Sprintf("Slot %d was skipped, or missing due to ledger jump to recent snapshot", slot))
	}

	out := rpc.BlockEntries{
		Slot:      block.Slot,
		StartHash: block.Start.String(),
		Entries:   make([]rpc.BlockEntry, len(block.Entries)),
	}
	for i, e := range block.Entries {
		sigs := make([]string, len(e.Signatures))
		for j, sig := range e.Signatures {
			sigs[j] = sig.String()
		}
		out.Entries[i] = rpc.BlockEntry{NumHashes: e.NumHashes, Hash: e.Hash.String(), Signatures: sigs}
	}
	return out, nil
}

func (h *Handlers) handleGetTransactionCount(params json.RawMessage) (interface{}, *rpc.RPCError) {
	return h.ledger.TransactionCount(), nil
}

func (h *Handlers) handleGetHealth(params json.RawMessage) (interface{}, *rpc.RPCError) {
	return "ok", nil
}

func (h *Handlers) handleGetVersion(params json.RawMessage) (interface{}, *rpc.RPCError) {
	return map[string]interface{}{
		"solana-core": Version,
		"feature-set": 0,
	}, nil
}
