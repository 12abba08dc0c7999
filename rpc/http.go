package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"creditpool/crypto"
	"creditpool/native/creditpool"
	"creditpool/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 60
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeActionRejected = -32050
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the pool engine over JSON-RPC 2.0. Administrator methods
// require the bearer token configured via CREDITPOOL_RPC_TOKEN.
type Server struct {
	engine    *creditpool.Engine
	adminAddr crypto.Address
	logger    *slog.Logger
	metrics   *observability.PoolMetrics

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
}

// NewServer wires a server around the engine. The administrator address is
// the caller identity attached to token-authenticated methods.
func NewServer(engine *creditpool.Engine, adminAddr crypto.Address, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	token := strings.TrimSpace(os.Getenv("CREDITPOOL_RPC_TOKEN"))
	return &Server{
		engine:       engine,
		adminAddr:    adminAddr,
		logger:       logger,
		metrics:      observability.Metrics(),
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    token,
	}
}

// Start serves requests on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Handler exposes the RPC entry point for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handle)
	return mux
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "method not allowed", nil)
		return
	}
	if !s.allow(sourceIP(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}

	if isAdminMethod(req.Method) && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "administrator token required", nil)
		return
	}

	s.dispatch(w, r, &req)
}

func isAdminMethod(method string) bool {
	switch method {
	case "loan_open", "loan_unban", "pool_transferAsset", "pool_prepareBridge":
		return true
	}
	return false
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix)) == s.authToken
}

func (s *Server) allow(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	limiter, ok := s.rateLimiters[source]
	if !ok || now.Sub(limiter.windowStart) > rateLimitWindow {
		s.rateLimiters[source] = &rateLimiter{count: 1, windowStart: now}
		return true
	}
	if limiter.count >= maxTxPerWindow {
		return false
	}
	limiter.count++
	return true
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

// writeEngineError maps engine failures onto JSON-RPC errors. Business
// rejections carry their reason code in the error data.
func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, action string, err error) {
	if reason, ok := creditpool.ReasonOf(err); ok && reason != creditpool.ReasonNone {
		s.metrics.ObserveAction(action, false)
		s.metrics.ObserveReject(action, reason.String())
		writeError(w, http.StatusOK, id, codeActionRejected, fmt.Sprintf("%s rejected", action), reason.String())
		return
	}
	s.logger.Error("engine failure", "action", action, "err", err)
	writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", err.Error())
}
