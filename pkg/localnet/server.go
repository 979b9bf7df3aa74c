// Package localnet runs a single-node ledger with the poll program deployed,
// served over the same JSON-RPC methods the poll client uses.
package localnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AlysCarillo/solana-polling-station/pkg/metrics"
	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
)

// ServerConfig holds configuration for the RPC server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8899" or "127.0.0.1:8899")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxRequestSize is the maximum size of a request body in bytes.
	MaxRequestSize int64

	// AllowedOrigins for CORS (empty means allow all).
	AllowedOrigins []string

	EnableRateLimit bool
	RateLimitRPS    float64
	RateLimitBurst  int

	// Logger for request logging (nil disables logging).
	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         "127.0.0.1:8899",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		MaxRequestSize:  10 * 1024 * 1024, // 10MB
		AllowedOrigins:  []string{"*"},
		EnableRateLimit: false,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// response is a JSON-RPC 2.0 response with an unmarshalled result.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpc.RPCError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

var nullID = json.RawMessage("null")

// Server is a JSON-RPC 2.0 server over a Ledger.
type Server struct {
	config   *ServerConfig
	handlers *Handlers
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
	mu       sync.RWMutex
	running  bool
}

// NewServer creates a new RPC server.
func NewServer(config *ServerConfig, ledger *Ledger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		config:   config,
		handlers: NewHandlers(ledger),
		metrics:  ledger.Metrics(),
		logger:   logger.With("component", "localnet"),
	}
}

// Handler returns the server's HTTP handler with its middleware applied.
// Metrics are served at /metrics.
func (s *Server) Handler() http.Handler {
	middlewares := []Middleware{
		RecoveryMiddleware(s.logger),
		CORSMiddleware(s.config.AllowedOrigins),
	}
	if s.config.Logger != nil {
		middlewares = append(middlewares, LoggingMiddleware(s.logger))
	}
	if s.config.EnableRateLimit {
		middlewares = append(middlewares, RateLimitMiddleware(s.config.RateLimitRPS, s.config.RateLimitBurst))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/", Chain(http.HandlerFunc(s.handleRequest), middlewares...))
	return mux
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Addr:         s.config.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", s.config.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop gracefully stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, response{JSONRPC: rpc.JSONRPCVersion, Error: rpc.NewRPCError(rpc.InvalidRequest, "only POST method is allowed"), ID: nullID})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSON(w, response{JSONRPC: rpc.JSONRPCVersion, Error: rpc.NewRPCError(rpc.ParseError, "failed to read request body"), ID: nullID})
		return
	}

	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(w, body)
		return
	}
	s.writeJSON(w, s.processRequest(body))
}

func (s *Server) handleBatchRequest(w http.ResponseWriter, body []byte) {
	var requests []json.RawMessage
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeJSON(w, response{JSONRPC: rpc.JSONRPCVersion, Error: rpc.NewRPCError(rpc.ParseError, "invalid JSON"), ID: nullID})
		return
	}
	if len(requests) == 0 {
		s.writeJSON(w, response{JSONRPC: rpc.JSONRPCVersion, Error: rpc.NewRPCError(rpc.InvalidRequest, "empty batch"), ID: nullID})
		return
	}

	responses := make([]response, 0, len(requests))
	for _, reqBody := range requests {
		responses = append(responses, s.processRequest(reqBody))
	}
	s.writeJSON(w, responses)
}

func (s *Server) processRequest(body []byte) response {
	start := time.Now()
	resp := s.dispatch(body)
	s.metrics.RecordRequest(time.Since(start), resp.Error != nil)
	return resp
}

func (s *Server) dispatch(body []byte) response {
	var req rpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return response{JSONRPC: rpc.JSONRPCVersion, Error: rpc.NewRPCError(rpc.ParseError, "invalid JSON"), ID: nullID}
	}
	id := req.ID
	if len(id) == 0 {
		id = nullID
	}
	if req.JSONRPC != rpc.JSONRPCVersion {
		return response{JSONRPC: rpc.JSONRPCVersion, Error: rpc.NewRPCError(rpc.InvalidRequest, "invalid jsonrpc version"), ID: id}
	}

	handler := s.handlers.GetHandler(req.Method)
	if handler == nil {
		return response{JSONRPC: rpc.JSONRPCVersion, Error: rpc.NewRPCError(rpc.MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method)), ID: id}
	}

	result, rpcErr := handler(req.Params)
	if rpcErr != nil {
		s.logger.Debug("rpc error", "method", req.Method, "code", rpcErr.Code, "message", rpcErr.Message)
		return response{JSONRPC: rpc.JSONRPCVersion, Error: rpcErr, ID: id}
	}
	if result == nil {
		result = nullResult{}
	}
	return response{JSONRPC: rpc.JSONRPCVersion, Result: result, ID: id}
}

// nullResult marshals to null so that a successful empty result still
// carries a result member.
type nullResult struct{}

func (nullResult) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}
