package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"dstakerouter/native/common"
	"dstakerouter/native/router"
	"dstakerouter/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
)

// Server exposes the router engine over JSON-RPC 2.0. Read views are open;
// every value-moving and admin method requires the bearer token. The engine
// is not safe for concurrent use, so the server serializes all calls.
type Server struct {
	mu        sync.Mutex
	engine    *router.Engine
	state     *router.State
	authToken string
	metrics   *observability.RouterMetrics
}

// NewServer wires a server around an engine and its production state.
func NewServer(engine *router.Engine, state *router.State, authToken string) *Server {
	return &Server{
		engine:    engine,
		state:     state,
		authToken: strings.TrimSpace(authToken),
		metrics:   observability.Router(),
	}
}

// Start serves JSON-RPC on addr until the listener fails.
func (s *Server) Start(addr string) error {
	fmt.Printf("Starting JSON-RPC server on %s\n", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// errorCode maps the router's error taxonomy onto stable RPC error strings so
// integrators can branch on failures without parsing messages.
func errorCode(err error) string {
	switch {
	case errors.Is(err, router.ErrConfigInvalid):
		return "config_invalid"
	case errors.Is(err, router.ErrVaultNotEligible):
		return "vault_not_eligible"
	case errors.Is(err, router.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, router.ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, router.ErrAdapterFailure):
		return "adapter_failure"
	case errors.Is(err, router.ErrReentrant):
		return "reentrant"
	case errors.Is(err, router.ErrAlreadyImpaired):
		return "already_impaired"
	case errors.Is(err, router.ErrNotImpaired):
		return "not_impaired"
	case errors.Is(err, router.ErrValuationUnavailable):
		return "valuation_unavailable"
	case errors.Is(err, common.ErrModulePaused):
		return "module_paused"
	default:
		return "internal"
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusOK, id, codeServerError, err.Error(), map[string]string{"code": errorCode(err)})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "failed to read request body", err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}

	handler, ok := s.handlers()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if handler.privileged {
		if rpcErr := s.requireAuth(r); rpcErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, nil)
			return
		}
	}

	start := time.Now()
	s.mu.Lock()
	handlerErr := handler.fn(w, req)
	s.mu.Unlock()
	s.metrics.ObserveOperation(req.Method, handlerErr, time.Since(start))
}

type methodHandler struct {
	privileged bool
	// fn writes its own response and reports the engine error, if any, for
	// metrics.
	fn func(w http.ResponseWriter, req *RPCRequest) error
}

func (s *Server) handlers() map[string]methodHandler {
	return map[string]methodHandler{
		"router_currentAllocations":  {fn: s.handleCurrentAllocations},
		"router_maxWithdraw":         {fn: s.handleMaxWithdraw},
		"router_shortfall":           {fn: s.handleShortfall},
		"router_validateAllocations": {fn: s.handleValidateAllocations},
		"router_params":              {fn: s.handleParams},

		"router_routeDeposit":         {privileged: true, fn: s.handleRouteDeposit},
		"router_routeWithdraw":        {privileged: true, fn: s.handleRouteWithdraw},
		"router_solverDepositAssets":  {privileged: true, fn: s.handleSolverDepositAssets},
		"router_solverDepositShares":  {privileged: true, fn: s.handleSolverDepositShares},
		"router_solverWithdrawAssets": {privileged: true, fn: s.handleSolverWithdrawAssets},
		"router_solverWithdrawShares": {privileged: true, fn: s.handleSolverWithdrawShares},
		"router_rebalanceShares":      {privileged: true, fn: s.handleRebalanceShares},
		"router_rebalanceValue":       {privileged: true, fn: s.handleRebalanceValue},
		"router_rebalanceExternal":    {privileged: true, fn: s.handleRebalanceExternal},
		"router_setVaultStatus":       {privileged: true, fn: s.handleSetVaultStatus},
		"router_updateVaultConfig":    {privileged: true, fn: s.handleUpdateVaultConfig},
		"router_removeVaultConfig":    {privileged: true, fn: s.handleRemoveVaultConfig},
		"router_acknowledgeLoss":      {privileged: true, fn: s.handleAcknowledgeLoss},
		"router_forceRemoveVault":     {privileged: true, fn: s.handleForceRemoveVault},
		"router_sweepDust":            {privileged: true, fn: s.handleSweepDust},
		"router_sweepSurplus":         {privileged: true, fn: s.handleSweepSurplus},
		"router_setDustTolerance":     {privileged: true, fn: s.handleSetDustTolerance},
		"router_setMaxVaults":         {privileged: true, fn: s.handleSetMaxVaults},
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}
