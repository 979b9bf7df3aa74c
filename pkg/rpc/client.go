package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 30 * time.Second

// ClientOptions configures a Client. Zero values pick the defaults.
type ClientOptions struct {
	Timeout    time.Duration
	Commitment types.Commitment // default confirmed
	Encoding   string           // account data encoding, default base64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client provides JSON-RPC access to a ledger node. It is safe for
// concurrent use; the only shared state is the request counter.
type Client struct {
	endpoint   string
	httpClient *http.Client
	commitment types.Commitment
	encoding   string
	logger     *slog.Logger
	requestID  atomic.Uint64
}

// NewClient creates a new RPC client.
func NewClient(endpoint string, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	commitment := opts.Commitment
	if commitment == "" {
		commitment = types.CommitmentConfirmed
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = EncodingBase64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		commitment: commitment,
		encoding:   encoding,
		logger:     logger,
	}
}

// Endpoint returns the RPC endpoint.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Commitment returns the default commitment of read calls.
func (c *Client) Commitment() types.Commitment {
	return c.commitment
}

// call makes a JSON-RPC call and unmarshals the result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqID := c.requestID.Add(1)

	body, err := json.Marshal(struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      uint64        `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params,omitempty"`
	}{JSONRPCVersion, reqID, method, params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	netErr := func(status int, err error) error {
		return &NetworkError{Method: method, Endpoint: c.endpoint, StatusCode: status, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return netErr(0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("rpc call failed", "method", method, "id", reqID, "error", err)
		return netErr(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return netErr(resp.StatusCode, errors.New(string(bytes.TrimSpace(bodyBytes))))
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return netErr(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	c.logger.Debug("rpc call", "method", method, "id", reqID, "duration", time.Since(start))

	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return netErr(resp.StatusCode, fmt.Errorf("unmarshal %s result: %w", method, err))
	}
	return nil
}

// GetProgramAccounts returns every account owned by programID that passes
// filters. The client's commitment and encoding are used.
func (c *Client) GetProgramAccounts(ctx context.Context, programID types.Pubkey, filters ...Filter) ([]types.KeyedAccount, error) {
	var result []KeyedAccountInfo
	err := c.call(ctx, "getProgramAccounts", []interface{}{
		programID.String(),
		ProgramAccountsConfig{
			Commitment: c.commitment,
			Encoding:   c.encoding,
			Filters:    filters,
		},
	}, &result)
	if err != nil {
		return nil, err
	}

	accounts := make([]types.KeyedAccount, 0, len(result))
	for i := range result {
		entry := &result[i]
		pubkey, err := types.PubkeyFromBase58(entry.Pubkey)
		if err != nil {
			c.logger.Warn("skipping account with invalid pubkey", "pubkey", entry.Pubkey, "error", err)
			continue
		}
		acc, err := entry.Account.ToAccount()
		if err != nil {
			c.logger.Warn("skipping undecodable account", "pubkey", entry.Pubkey, "error", err)
			continue
		}
		accounts = append(accounts, types.KeyedAccount{Pubkey: pubkey, Account: acc})
	}
	return accounts, nil
}

// GetAccountInfo returns account information, or nil if the account does not
// exist.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey types.Pubkey) (*types.Account, error) {
	var resp struct {
		Context Context      `json:"context"`
		Value   *AccountInfo `json:"value"`
	}
	err := c.call(ctx, "getAccountInfo", []interface{}{
		pubkey.String(),
		AccountInfoConfig{Commitment: c.commitment, Encoding: c.encoding},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, nil
	}
	return resp.Value.ToAccount()
}

// GetBalance returns the lamport balance of pubkey.
func (c *Client) GetBalance(ctx context.Context, pubkey types.Pubkey) (types.Lamports, error) {
	var resp struct {
		Context Context `json:"context"`
		Value   uint64  `json:"value"`
	}
	err := c.call(ctx, "getBalance", []interface{}{
		pubkey.String(),
		CommitmentConfig{Commitment: c.commitment},
	}, &resp)
	if err != nil {
		return 0, err
	}
	return types.Lamports(resp.Value), nil
}

// GetLatestBlockhash returns the latest blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (types.Hash, uint64, error) {
	var resp struct {
		Context Context         `json:"context"`
		Value   BlockhashResult `json:"value"`
	}
	err := c.call(ctx, "getLatestBlockhash", []interface{}{
		CommitmentConfig{Commitment: c.commitment},
	}, &resp)
	if err != nil {
		return types.ZeroHash, 0, err
	}

	hash, err := types.HashFromBase58(resp.Value.Blockhash)
	if err != nil {
		return types.ZeroHash, 0, fmt.Errorf("parse blockhash: %w", err)
	}
	return hash, resp.Value.LastValidBlockHeight, nil
}

// GetMinimumBalanceForRentExemption quotes the rent-exempt minimum for an
// account holding dataLen bytes.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, dataLen uint64) (types.Lamports, error) {
	var lamports uint64
	err := c.call(ctx, "getMinimumBalanceForRentExemption", []interface{}{
		dataLen,
		CommitmentConfig{Commitment: c.commitment},
	}, &lamports)
	if err != nil {
		return 0, err
	}
	return types.Lamports(lamports), nil
}

// SendTransaction submits a signed transaction and returns its signature as
// reported by the node.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction, cfg SendTransactionConfig) (types.Signature, error) {
	wire, err := tx.Serialize()
	if err != nil {
		return types.ZeroSignature, fmt.Errorf("serialize transaction: %w", err)
	}
	cfg.Encoding = EncodingBase64

	var sig string
	if err := c.call(ctx, "sendTransaction", []interface{}{EncodeBase64(wire), cfg}, &sig); err != nil {
		return types.ZeroSignature, err
	}
	return types.SignatureFromBase58(sig)
}

// GetSignatureStatuses returns one status per signature, nil where unknown.
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs ...types.Signature) ([]*SignatureStatus, error) {
	encoded := make([]string, len(sigs))
	for i, sig := range sigs {
		encoded[i] = sig.String()
	}

	var resp struct {
		Context Context            `json:"context"`
		Value   []*SignatureStatus `json:"value"`
	}
	err := c.call(ctx, "getSignatureStatuses", []interface{}{
		encoded,
		SignatureStatusConfig{SearchTransactionHistory: false},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Value) != len(sigs) {
		return nil, fmt.Errorf("getSignatureStatuses: expected %d statuses, got %d", len(sigs), len(resp.Value))
	}
	return resp.Value, nil
}

// RequestAirdrop asks the node to credit lamports to pubkey.
func (c *Client) RequestAirdrop(ctx context.Context, pubkey types.Pubkey, lamports types.Lamports) (types.Signature, error) {
	var sig string
	err := c.call(ctx, "requestAirdrop", []interface{}{
		pubkey.String(),
		uint64(lamports),
		CommitmentConfig{Commitment: c.commitment},
	}, &sig)
	if err != nil {
		return types.ZeroSignature, err
	}
	return types.SignatureFromBase58(sig)
}

// GetBlock returns the hash chain produced at slot. A slot without a block
// fails with an *RPCError carrying SlotSkipped.
func (c *Client) GetBlock(ctx context.Context, slot uint64) (*BlockEntries, error) {
	var block BlockEntries
	err := c.call(ctx, "getBlock", []interface{}{
		slot,
		CommitmentConfig{Commitment: c.commitment},
	}, &block)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// GetHealth checks if the node is healthy.
func (c *Client) GetHealth(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("node unhealthy: %s", strconv.Quote(status))
	}
	return nil
}
