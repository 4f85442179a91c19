package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/covenant-labs/covenant/internal/ledger"
)

// ---------------------------------------------------------------------------
// Instruction handlers
// ---------------------------------------------------------------------------

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	caller, ok := s.callerAuth(w, r, body)
	if !ok {
		return
	}
	if err := s.engine.Initialize(r.Context(), caller); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"protocol": ledger.ProtocolAddress().String(),
	})
}

type depositRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuth(w, r) {
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	account, err := ledger.ParseIdentity(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Deposit(r.Context(), account, req.Amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.String(),
		"amount":  req.Amount,
	})
}

type registerProviderRequest struct {
	Name            string `json:"name"`
	ServiceEndpoint string `json:"service_endpoint"`
	StakeAmount     uint64 `json:"stake_amount"`
}

func (s *Server) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	caller, ok := s.callerAuth(w, r, body)
	if !ok {
		return
	}
	var req registerProviderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	addr, err := s.engine.RegisterProvider(r.Context(), caller, req.Name, req.ServiceEndpoint, req.StakeAmount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"provider": addr.String(),
		"vault":    ledger.VaultAddress(caller).String(),
	})
}

type defineSLARequest struct {
	UptimeGuaranteePct   uint8  `json:"uptime_guarantee_pct"`
	MaxResponseTimeMs    uint32 `json:"max_response_time_ms"`
	AccuracyGuaranteePct uint8  `json:"accuracy_guarantee_pct"`
	PenaltyPct           uint8  `json:"penalty_pct"`
}

func (s *Server) handleDefineSLA(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	caller, ok := s.callerAuth(w, r, body)
	if !ok {
		return
	}
	var req defineSLARequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	addr, err := s.engine.DefineSLA(r.Context(), caller,
		req.UptimeGuaranteePct, req.MaxResponseTimeMs, req.AccuracyGuaranteePct, req.PenaltyPct)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sla": addr.String()})
}

type reportViolationRequest struct {
	ViolationType string `json:"violation_type"`
	EvidenceHash  string `json:"evidence_hash"`
	Description   string `json:"description"`
}

// parseViolationType maps the wire name back to its enum value.
func parseViolationType(s string) (ledger.ViolationType, bool) {
	for v := ledger.UptimeViolation; v <= ledger.OtherViolation; v++ {
		if v.String() == s {
			return v, true
		}
	}
	return 0, false
}

func (s *Server) handleReportViolation(w http.ResponseWriter, r *http.Request) {
	provider, ok := pathAddress(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	reporter, ok := s.callerAuth(w, r, body)
	if !ok {
		return
	}
	if !s.reportLimiter.allow(reporter.String()) {
		writeError(w, http.StatusTooManyRequests, "report rate limit exceeded")
		return
	}
	var req reportViolationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	vtype, ok := parseViolationType(req.ViolationType)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown violation type: "+req.ViolationType)
		return
	}
	evidence, err := hex.DecodeString(req.EvidenceHash)
	if err != nil || len(evidence) != 32 {
		writeError(w, http.StatusBadRequest, "evidence_hash must be 32 bytes of hex")
		return
	}
	var evidenceHash [32]byte
	copy(evidenceHash[:], evidence)

	addr, seq, err := s.engine.ReportViolation(r.Context(), reporter, provider, vtype, evidenceHash, req.Description)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"violation": addr.String(),
		"seq":       seq,
	})
}

func (s *Server) handleSlash(w http.ResponseWriter, r *http.Request) {
	provider, ok := pathAddress(w, r)
	if !ok {
		return
	}
	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence index")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	caller, ok := s.callerAuth(w, r, body)
	if !ok {
		return
	}
	amount, err := s.engine.Slash(r.Context(), caller, ledger.ViolationAddress(provider, seq))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"penalty_amount": amount})
}

func (s *Server) handleRecordSuccess(w http.ResponseWriter, r *http.Request) {
	provider, ok := pathAddress(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	caller, ok := s.callerAuth(w, r, body)
	if !ok {
		return
	}
	if err := s.engine.RecordSuccess(r.Context(), caller, provider); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type withdrawStakeRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleWithdrawStake(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	caller, ok := s.callerAuth(w, r, body)
	if !ok {
		return
	}
	var req withdrawStakeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.engine.WithdrawStake(r.Context(), caller, req.Amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawn": req.Amount})
}

// ---------------------------------------------------------------------------
// Read handlers
// ---------------------------------------------------------------------------

func (s *Server) handleGetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetProtocol()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":         ledger.ProtocolAddress().String(),
		"authority":       p.Authority.String(),
		"total_providers": p.TotalProviders,
		"total_staked":    p.TotalStaked,
		"total_slashed":   p.TotalSlashed,
	})
}

// providerView is the JSON shape of a provider record on the read surface.
type providerView struct {
	Address            string `json:"address"`
	Authority          string `json:"authority"`
	Name               string `json:"name"`
	ServiceEndpoint    string `json:"service_endpoint"`
	StakeAmount        uint64 `json:"stake_amount"`
	ViolationsCount    uint64 `json:"violations_count"`
	SuccessfulRequests uint64 `json:"successful_requests"`
	CreatedAt          int64  `json:"created_at"`
	IsActive           bool   `json:"is_active"`
}

func toProviderView(p *ledger.Provider) providerView {
	return providerView{
		Address:            ledger.ProviderAddress(p.Authority).String(),
		Authority:          p.Authority.String(),
		Name:               p.Name,
		ServiceEndpoint:    p.ServiceEndpoint,
		StakeAmount:        p.StakeAmount,
		ViolationsCount:    p.ViolationsCount,
		SuccessfulRequests: p.SuccessfulRequests,
		CreatedAt:          p.CreatedAt,
		IsActive:           p.IsActive,
	}
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.engine.ListProviders()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		views = append(views, toProviderView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	p, err := s.engine.GetProvider(addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProviderView(p))
}

func (s *Server) handleGetSLA(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	sla, err := s.engine.GetSLA(addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":                ledger.SLAAddress(addr).String(),
		"provider":               sla.Provider.String(),
		"uptime_guarantee_pct":   sla.UptimeGuarantee,
		"max_response_time_ms":   sla.MaxResponseTimeMs,
		"accuracy_guarantee_pct": sla.AccuracyGuarantee,
		"penalty_pct":            sla.PenaltyPct,
		"created_at":             sla.CreatedAt,
		"is_active":              sla.IsActive,
	})
}

// violationView is the JSON shape of a violation record on the read surface.
type violationView struct {
	Address       string `json:"address"`
	Provider      string `json:"provider"`
	Reporter      string `json:"reporter"`
	ViolationType string `json:"violation_type"`
	EvidenceHash  string `json:"evidence_hash"`
	Description   string `json:"description"`
	Timestamp     int64  `json:"timestamp"`
	IsResolved    bool   `json:"is_resolved"`
}

func toViolationView(provider ledger.Address, seq uint64, v *ledger.Violation) violationView {
	return violationView{
		Address:       ledger.ViolationAddress(provider, seq).String(),
		Provider:      v.Provider.String(),
		Reporter:      v.Reporter.String(),
		ViolationType: v.Type.String(),
		EvidenceHash:  hex.EncodeToString(v.EvidenceHash[:]),
		Description:   v.Description,
		Timestamp:     v.Timestamp,
		IsResolved:    v.IsResolved,
	}
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	violations, err := s.engine.ListViolations(addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	views := make([]violationView, 0, len(violations))
	for seq, v := range violations {
		views = append(views, toViolationView(addr, uint64(seq), v))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetViolation(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence index")
		return
	}
	v, err := s.engine.GetViolation(addr, seq)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViolationView(addr, seq, v))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseIdentity(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := s.engine.Balance(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": id.String(),
		"balance": balance,
	})
}

func (s *Server) handleListLog(w http.ResponseWriter, r *http.Request) {
	after := int64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		after = parsed
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}
	entries, err := s.engine.DB().ListLog(after, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
