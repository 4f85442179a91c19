// Package server exposes the Covenant instruction surface over HTTP and
// streams commit events over WebSocket. It is a thin shell: every state
// transition goes through the ledger engine.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/covenant-labs/covenant/internal/ledger"
	"github.com/covenant-labs/covenant/internal/signer"
	"github.com/covenant-labs/covenant/internal/storage"
)

// Server is the main HTTP server for the Covenant API.
type Server struct {
	engine        *ledger.Engine
	secret        string
	mux           *http.ServeMux
	hub           *Hub
	reportLimiter *rateLimiter
}

// New creates a new Server with all routes registered. The hub is wired into
// the engine as its commit event sink.
func New(engine *ledger.Engine, secret string) *Server {
	s := &Server{
		engine:        engine,
		secret:        secret,
		mux:           http.NewServeMux(),
		hub:           NewHub(),
		reportLimiter: newRateLimiter(30, time.Minute),
	}
	engine.SetEmitter(s.hub)
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Protocol
	s.mux.HandleFunc("POST /api/protocol/initialize", s.handleInitialize)
	s.mux.HandleFunc("GET /api/protocol", s.handleGetProtocol)

	// Accounts (deposit is the external funding boundary, operator-gated)
	s.mux.HandleFunc("POST /api/accounts/deposit", s.handleDeposit)
	s.mux.HandleFunc("GET /api/accounts/{id}/balance", s.handleGetBalance)

	// Providers
	s.mux.HandleFunc("POST /api/providers", s.handleRegisterProvider)
	s.mux.HandleFunc("GET /api/providers", s.handleListProviders)
	s.mux.HandleFunc("GET /api/providers/{addr}", s.handleGetProvider)
	s.mux.HandleFunc("POST /api/providers/{addr}/success", s.handleRecordSuccess)

	// SLA
	s.mux.HandleFunc("POST /api/sla", s.handleDefineSLA)
	s.mux.HandleFunc("GET /api/providers/{addr}/sla", s.handleGetSLA)

	// Violations and slashing
	s.mux.HandleFunc("POST /api/providers/{addr}/violations", s.handleReportViolation)
	s.mux.HandleFunc("GET /api/providers/{addr}/violations", s.handleListViolations)
	s.mux.HandleFunc("GET /api/providers/{addr}/violations/{seq}", s.handleGetViolation)
	s.mux.HandleFunc("POST /api/providers/{addr}/violations/{seq}/slash", s.handleSlash)

	// Stake
	s.mux.HandleFunc("POST /api/stake/withdraw", s.handleWithdrawStake)

	// Transaction log and commit events
	s.mux.HandleFunc("GET /api/log", s.handleListLog)
	s.mux.HandleFunc("GET /api/events", s.hub.HandleWebSocket)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "covenant",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeLedgerError maps a ledger error onto the HTTP status taxonomy:
// validation 400, authorization 403, missing records 404, state conflicts
// 409, arithmetic guards 500.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsValidation(err) || errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case ledger.IsConflict(err) || errors.Is(err, storage.ErrStale):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// readBody reads the full request body. The body bytes are needed for
// signature verification before JSON decoding.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// adminAuth checks the X-Admin-Secret header against the server secret.
// Returns false (writing a 401) if the header is missing or incorrect.
func (s *Server) adminAuth(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-Admin-Secret") != s.secret {
		writeError(w, http.StatusUnauthorized, "invalid admin secret")
		return false
	}
	return true
}

// callerAuth verifies the Ed25519 signature on an incoming request and
// returns the caller identity. On failure it writes a 401 and returns false.
func (s *Server) callerAuth(w http.ResponseWriter, r *http.Request, body []byte) (ledger.Identity, bool) {
	var id ledger.Identity
	pub, err := signer.VerifyRequest(r, body)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "signature verification failed: "+err.Error())
		return id, false
	}
	copy(id[:], pub)
	return id, true
}

// pathAddress parses the {addr} path segment as a record address.
func pathAddress(w http.ResponseWriter, r *http.Request) (ledger.Address, bool) {
	addr, err := ledger.ParseAddress(r.PathValue("addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return addr, false
	}
	return addr, true
}
