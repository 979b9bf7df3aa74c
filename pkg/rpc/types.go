// Package rpc provides a JSON-RPC 2.0 client for the ledger the poll program
// runs on, together with the wire types shared with the local ledger server.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// JSON-RPC 2.0 constants
const (
	JSONRPCVersion = "2.0"
)

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// Solana-specific error codes
	SendTransactionPreflightFailure = -32002
	TransactionSignatureVerifyFail  = -32003
	SlotSkipped                     = -32007
	UnsupportedEncoding             = -32011
	RateLimited                     = -32429
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC response. The server rejected the
// request; the transport worked.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// NewRPCErrorWithData creates a new RPC error with additional data. Data that
// cannot be marshalled is dropped.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	e := NewRPCError(code, message)
	if raw, err := json.Marshal(data); err == nil {
		e.Data = raw
	}
	return e
}

// Context represents the response context containing slot info.
type Context struct {
	Slot       uint64 `json:"slot"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// ContextualResult wraps a result with context.
type ContextualResult struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// AccountInfo is the JSON form of an account.
type AccountInfo struct {
	Lamports   uint64   `json:"lamports"`
	Data       []string `json:"data"` // [data, encoding]
	Owner      string   `json:"owner"`
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
	Space      uint64   `json:"space"`
}

// ToAccount decodes the JSON form into a ledger account.
func (a *AccountInfo) ToAccount() (*types.Account, error) {
	owner, err := types.PubkeyFromBase58(a.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}

	var data []byte
	if len(a.Data) > 0 && a.Data[0] != "" {
		encoding := EncodingBase64
		if len(a.Data) > 1 {
			encoding = a.Data[1]
		}
		data, err = DecodeAccountData(a.Data[0], encoding)
		if err != nil {
			return nil, fmt.Errorf("decode account data: %w", err)
		}
	}

	return &types.Account{
		Lamports:   types.Lamports(a.Lamports),
		Data:       data,
		Owner:      owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}, nil
}

// KeyedAccountInfo is one entry of a getProgramAccounts result.
type KeyedAccountInfo struct {
	Pubkey  string      `json:"pubkey"`
	Account AccountInfo `json:"account"`
}

// Memcmp compares Bytes (base58) against account data at Offset.
type Memcmp struct {
	Offset   uint64 `json:"offset"`
	Bytes    string `json:"bytes"`
	Encoding string `json:"encoding,omitempty"`
}

// Filter narrows a getProgramAccounts scan. Exactly one field is set.
type Filter struct {
	Memcmp   *Memcmp `json:"memcmp,omitempty"`
	DataSize *uint64 `json:"dataSize,omitempty"`
}

// MemcmpFilter builds a filter matching prefix at offset.
func MemcmpFilter(offset uint64, prefix []byte) Filter {
	return Filter{Memcmp: &Memcmp{Offset: offset, Bytes: EncodeBase58(prefix)}}
}

// BlockEntries is the hash chain of one block as served by the local
// ledger's getBlock. Hashes and signatures are base58.
type BlockEntries struct {
	Slot      uint64       `json:"slot"`
	StartHash string       `json:"startHash"`
	Entries   []BlockEntry `json:"entries"`
}

// BlockEntry is one link of a block's hash chain.
type BlockEntry struct {
	NumHashes  uint64   `json:"numHashes"`
	Hash       string   `json:"hash"`
	Signatures []string `json:"signatures"`
}

// ProgramAccountsConfig is the config object of getProgramAccounts.
type ProgramAccountsConfig struct {
	Commitment types.Commitment `json:"commitment,omitempty"`
	Encoding   string           `json:"encoding,omitempty"`
	Filters    []Filter         `json:"filters,omitempty"`
}

// AccountInfoConfig is the config object of getAccountInfo.
type AccountInfoConfig struct {
	Commitment types.Commitment `json:"commitment,omitempty"`
	Encoding   string           `json:"encoding,omitempty"`
}

// CommitmentConfig carries only a commitment level.
type CommitmentConfig struct {
	Commitment types.Commitment `json:"commitment,omitempty"`
}

// SendTransactionConfig is the config object of sendTransaction.
type SendTransactionConfig struct {
	Encoding            string           `json:"encoding,omitempty"`
	SkipPreflight       bool             `json:"skipPreflight,omitempty"`
	PreflightCommitment types.Commitment `json:"preflightCommitment,omitempty"`
	MaxRetries          *uint            `json:"maxRetries,omitempty"`
}

// SignatureStatusConfig is the config object of getSignatureStatuses.
type SignatureStatusConfig struct {
	SearchTransactionHistory bool `json:"searchTransactionHistory"`
}

// BlockhashResult represents a blockhash with context.
type BlockhashResult struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// SignatureStatus is one entry of a getSignatureStatuses result. A nil entry
// means the ledger has not seen the signature.
type SignatureStatus struct {
	Slot               uint64           `json:"slot"`
	Confirmations      *uint64          `json:"confirmations"`
	Err                json.RawMessage  `json:"err"`
	ConfirmationStatus types.Commitment `json:"confirmationStatus"`
}

// Failed reports whether the transaction executed with an error.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}
