package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"p2plend/core"
	"p2plend/observability"
	"p2plend/observability/logging"
	"p2plend/storage/eventlog"
	"p2plend/storage/positionindex"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	requestIDHeader = "X-Request-ID"

	jwtLeeway = 30 * time.Second

	tracingOperation = "lendd.rpc"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeUnavailable    = -32005
	codeRateLimited    = -32020
)

// EventJournal replays committed events.
type EventJournal interface {
	Range(fromHeight uint64, limit int) ([]eventlog.Record, error)
}

// PositionIndex answers lifecycle queries from the SQL projection.
type PositionIndex interface {
	ByWrangler(wrangler, status string, limit int) ([]positionindex.PositionRecord, error)
	History(position string) ([]positionindex.EventRecord, error)
}

// ServerConfig tunes the HTTP listener. Zero values fall back to defaults.
type ServerConfig struct {
	// BearerToken guards lend_sendTransaction when non-empty.
	BearerToken string
	// JWTSecret additionally accepts HS256 bearer tokens carrying an exp
	// claim.
	JWTSecret         string
	RateLimitPerSec   float64
	RateLimitBurst    int
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type methodHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

type method struct {
	module  string
	auth    bool
	limited bool
	handler methodHandler
}

type Server struct {
	node    *core.Node
	journal EventJournal
	index   PositionIndex
	cfg     ServerConfig
	logger  *slog.Logger
	metrics interface {
		Observe(module, method string, status int, duration time.Duration)
		RecordThrottle(module, reason string)
	}

	limiter *clientLimiter
	methods map[string]method
	tracing trace.TracerProvider

	serverMu   sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer wires the JSON-RPC surface over node. journal may be nil, in
// which case lend_getEvents reports the journal as unavailable.
func NewServer(node *core.Node, journal EventJournal, cfg ServerConfig) *Server {
	s := &Server{
		node:    node,
		journal: journal,
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: observability.ModuleMetrics(),
		limiter: newClientLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
	}
	s.methods = map[string]method{
		"lend_sendTransaction":   {module: "lend", auth: true, limited: true, handler: s.handleSendTransaction},
		"lend_getReceipt":        {module: "lend", handler: s.handleGetReceipt},
		"lend_getPosition":       {module: "lend", handler: s.handleGetPosition},
		"lend_positionCounts":    {module: "lend", handler: s.handlePositionCounts},
		"lend_listPositions":     {module: "lend", handler: s.handleListPositions},
		"lend_kernelHash":        {module: "lend", handler: s.handleKernelHash},
		"lend_positionHash":      {module: "lend", handler: s.handlePositionHash},
		"lend_owedValue":         {module: "lend", handler: s.handleOwedValue},
		"lend_kernelStatus":      {module: "lend", handler: s.handleKernelStatus},
		"lend_canOpen":           {module: "lend", handler: s.handleCanOpen},
		"lend_wranglerNonce":     {module: "lend", handler: s.handleWranglerNonce},
		"lend_params":            {module: "lend", handler: s.handleParams},
		"lend_getNonce":          {module: "lend", handler: s.handleGetNonce},
		"lend_getEvents":         {module: "lend", handler: s.handleGetEvents},
		"lend_wranglerPositions": {module: "lend", handler: s.handleWranglerPositions},
		"lend_positionHistory":   {module: "lend", handler: s.handlePositionHistory},
		"token_balanceOf":        {module: "token", handler: s.handleTokenBalance},
		"token_allowance":        {module: "token", handler: s.handleTokenAllowance},
		"token_list":             {module: "token", handler: s.handleTokenList},
		"node_status":            {module: "node", handler: s.handleNodeStatus},
	}
	return s
}

// SetLogger replaces the request logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// SetPositionIndex enables the index-backed lifecycle queries.
func (s *Server) SetPositionIndex(index PositionIndex) {
	s.index = index
}

// SetTracerProvider overrides the provider request spans are recorded with.
// By default the global provider is used.
func (s *Server) SetTracerProvider(tp trace.TracerProvider) {
	s.tracing = tp
}

// Handler returns the routed HTTP surface. Every request runs inside a server
// span.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)

	var opts []otelhttp.Option
	if s.tracing != nil {
		opts = append(opts, otelhttp.WithTracerProvider(s.tracing))
	}
	return otelhttp.NewHandler(r, tracingOperation, opts...)
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: orDuration(s.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       orDuration(s.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      orDuration(s.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       orDuration(s.cfg.IdleTimeout, 60*time.Second),
	}
	s.serverMu.Lock()
	if s.closed {
		s.serverMu.Unlock()
		_ = listener.Close()
		return http.ErrServerClosed
	}
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("json-rpc server listening", slog.String("address", listener.Addr().String()))
	return srv.Serve(listener)
}

// Shutdown stops accepting requests and waits for in-flight ones. A server
// shut down before it started never serves.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.closed = true
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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

type requestIDKey struct{}

// requestID tags every request with an ID, honouring one supplied by the
// client.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
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
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetName("rpc " + req.Method)
	span.SetAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
	)

	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	defer func() {
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		span.SetAttributes(attribute.Int("rpc.status", status))
		s.metrics.Observe(m.module, req.Method, status, elapsed)
		s.logger.Debug("rpc request",
			slog.String("method", req.Method),
			slog.Int("status", status),
			slog.Duration("duration", elapsed),
			slog.String("request_id", requestIDFrom(r.Context())),
			logging.Fingerprint("client", clientSource(r)),
		)
	}()

	if m.auth {
		if authErr := s.requireAuth(r); authErr != nil {
			s.metrics.RecordThrottle(m.module, "unauthorized")
			writeError(sw, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	if m.limited {
		if !s.limiter.allow(clientSource(r), time.Now()) {
			s.metrics.RecordThrottle(m.module, "rate_limit")
			writeError(sw, http.StatusTooManyRequests, req.ID, codeRateLimited, "transaction rate limit exceeded", nil)
			return
		}
	}
	m.handler(sw, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.cfg.BearerToken == "" && s.cfg.JWTSecret == "" {
		return nil
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
	if s.cfg.BearerToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.BearerToken)) == 1 {
		return nil
	}
	if s.cfg.JWTSecret != "" {
		if err := s.verifyJWT(token); err == nil {
			return nil
		}
	}
	return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
}

func (s *Server) verifyJWT(raw string) error {
	_, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithLeeway(jwtLeeway))
	return err
}

// clientSource identifies the caller by its remote host. Forwarded headers
// are ignored; a proxy in front of the node collapses callers into one bucket.
func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeParams decodes the single parameter object of req into out.
func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

// writeNodeError maps ledger errors onto JSON-RPC errors.
func writeNodeError(w http.ResponseWriter, id interface{}, err error) {
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, id, codeNotFound, err.Error(), nil)
		return
	}
	kind := core.ErrorKind(err)
	if kind == "internal" {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), map[string]string{"kind": kind})
}
