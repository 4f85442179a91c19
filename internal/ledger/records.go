package ledger

// MinStake is the minimum collateral (in native units) a provider must hold
// to register and to remain active: 0.1 unit at 10^9 units per whole.
const MinStake uint64 = 100_000_000

// Field bounds for variable-length record fields.
const (
	MaxNameLen        = 64
	MaxEndpointLen    = 256
	MaxDescriptionLen = 512
)

// Record kinds as persisted in the record arena.
const (
	KindProtocol = iota + 1
	KindProvider
	KindSLA
	KindViolation
)

// ViolationType classifies a reported SLA breach.
type ViolationType uint8

const (
	UptimeViolation ViolationType = iota
	ResponseTimeViolation
	AccuracyViolation
	ServiceUnavailable
	OtherViolation
)

// Valid reports whether v is a known violation type.
func (v ViolationType) Valid() bool {
	return v <= OtherViolation
}

func (v ViolationType) String() string {
	switch v {
	case UptimeViolation:
		return "uptime"
	case ResponseTimeViolation:
		return "response_time"
	case AccuracyViolation:
		return "accuracy"
	case ServiceUnavailable:
		return "service_unavailable"
	case OtherViolation:
		return "other"
	}
	return "unknown"
}

// Protocol is the singleton registry of aggregate counters. Created once by
// initialize, mutated by every registration, slash, and withdrawal, never
// destroyed. TotalStaked equals the sum of all vault balances at all times.
type Protocol struct {
	Authority      Identity `json:"authority"`
	TotalProviders uint64   `json:"total_providers"`
	TotalStaked    uint64   `json:"total_staked"`
	TotalSlashed   uint64   `json:"total_slashed"`
}

// Provider is one registered service provider. The record persists forever;
// deactivation freezes it but never deletes it.
type Provider struct {
	Authority          Identity `json:"authority"`
	Name               string   `json:"name"`
	ServiceEndpoint    string   `json:"service_endpoint"`
	StakeAmount        uint64   `json:"stake_amount"`
	ViolationsCount    uint64   `json:"violations_count"`
	SuccessfulRequests uint64   `json:"successful_requests"`
	CreatedAt          int64    `json:"created_at"`
	IsActive           bool     `json:"is_active"`
}

// SLA is the declared service guarantee for a provider. At most one active SLA
// exists per provider; redefining replaces the terms wholesale.
type SLA struct {
	Provider          Address `json:"provider"`
	UptimeGuarantee   uint8   `json:"uptime_guarantee_pct"`
	MaxResponseTimeMs uint32  `json:"max_response_time_ms"`
	AccuracyGuarantee uint8   `json:"accuracy_guarantee_pct"`
	PenaltyPct        uint8   `json:"penalty_pct"`
	CreatedAt         int64   `json:"created_at"`
	IsActive          bool    `json:"is_active"`
}

// Violation is one reported incident. Append-only: created unresolved, set
// resolved exactly once by slash, never mutated again and never deleted.
// EvidenceHash is an opaque content commitment; the ledger never validates it.
type Violation struct {
	Provider     Address       `json:"provider"`
	Reporter     Identity      `json:"reporter"`
	Type         ViolationType `json:"violation_type"`
	EvidenceHash [32]byte      `json:"evidence_hash"`
	Description  string        `json:"description"`
	Timestamp    int64         `json:"timestamp"`
	IsResolved   bool          `json:"is_resolved"`
}
