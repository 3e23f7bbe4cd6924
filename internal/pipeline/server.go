package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andycufari/portero/internal/auth"
	"github.com/andycufari/portero/internal/mcp"
)

// Version is the reported gateway version for /health and initialize.
const Version = "0.1.0"

// ServerConfig configures the HTTP listener (spec §6).
type ServerConfig struct {
	ListenAddr   string
	MaxBodyBytes int64
}

// Server is the gateway's HTTP surface: the out-of-scope-but-ambient
// listener named in spec §1, grounded on the reference
// internal/gateway/http_server.go shape (mux, /health, promhttp on
// /metrics, ReadHeaderTimeout, graceful shutdown).
type Server struct {
	cfg      ServerConfig
	pipeline *Pipeline
	gate     *auth.Gate
	logger   *slog.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
}

// NewServer creates a Server bound to pipeline and gated by gate (an empty
// bearer token disables the gate entirely, per internal/auth).
func NewServer(cfg ServerConfig, p *Pipeline, gate *auth.Gate, logger *slog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20 // 10 MiB, spec §6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		pipeline:  p,
		gate:      gate,
		logger:    logger.With("component", "http"),
		startTime: time.Now(),
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// Start binds the listener and begins serving; it returns once the
// listener is bound, serving continues on a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mcpHandler := http.HandlerFunc(s.handleMCPMessage)
	wsHandler := http.HandlerFunc(s.handleMCPWebsocket)
	if s.gate != nil {
		mux.Handle("/mcp/message", s.gate.Middleware(mcpHandler))
		mux.Handle("/mcp/ws", s.gate.Middleware(wsHandler))
	} else {
		mux.Handle("/mcp/message", mcpHandler)
		mux.Handle("/mcp/ws", wsHandler)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("pipeline: http listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddr)
	return nil
}

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// handleHealth serves GET /health, no authentication (spec §6).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Timestamp: time.Now(), Version: Version})
}

// handleMCPMessage serves POST /mcp/message: the single aggregated
// JSON-RPC 2.0 endpoint (spec §6).
func (s *Server) handleMCPMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req mcp.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, nil, nil, &mcp.JSONRPCError{Code: mcp.ErrCodeParseError, Message: "invalid JSON-RPC request"})
		return
	}

	if IsNotification(req.Method) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	result, rpcErr := s.pipeline.Handle(r.Context(), &req)
	writeEnvelope(w, req.ID, result, rpcErr)
}

// handleMCPWebsocket upgrades to a persistent connection carrying the same
// JSON-RPC envelope, additive to POST /mcp/message for clients that keep a
// session open across many calls (SPEC_FULL.md §2.1/§4.10).
func (s *Server) handleMCPWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req mcp.JSONRPCRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		if IsNotification(req.Method) {
			continue
		}

		result, rpcErr := s.pipeline.Handle(r.Context(), &req)
		resp := mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func writeEnvelope(w http.ResponseWriter, id any, result json.RawMessage, rpcErr *mcp.JSONRPCError) {
	w.Header().Set("Content-Type", "application/json")
	resp := mcp.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr}
	_ = json.NewEncoder(w).Encode(resp)
}
