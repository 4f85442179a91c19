package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-labs/covenant/internal/storage"
)

// Event describes one committed instruction, published to subscribers after
// the transaction commits.
type Event struct {
	Kind      string `json:"kind"`
	Caller    string `json:"caller"`
	Provider  string `json:"provider,omitempty"`
	Violation string `json:"violation,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	AppliedAt int64  `json:"applied_at"`
}

// Emitter receives commit events. Implementations must not block.
type Emitter interface {
	Emit(Event)
}

// Engine executes ledger instructions. Every instruction runs as one storage
// transaction: either all of its record, balance, and log writes commit, or
// the attempt is discarded with no partial state change.
type Engine struct {
	db   *storage.DB
	emit Emitter
	now  func() int64
}

// NewEngine creates an Engine over the given substrate.
func NewEngine(db *storage.DB) *Engine {
	return &Engine{db: db, now: func() int64 { return time.Now().Unix() }}
}

// SetEmitter registers a commit event sink. Pass nil to disable.
func (e *Engine) SetEmitter(em Emitter) {
	e.emit = em
}

// DB exposes the underlying substrate for read-only access.
func (e *Engine) DB() *storage.DB {
	return e.db
}

// mulDivFloor computes floor(a * b / den) with a 128-bit intermediate product,
// truncating toward zero so the result never exceeds what the vault holds.
// den must be greater than b's contribution to the high word; with b <= 100
// and den == 100 the division cannot fault.
func mulDivFloor(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	quo, _ := bits.Div64(hi, lo, den)
	return quo
}

// checkedAdd returns a+b or ErrArithmeticOverflow.
func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// checkedSub returns a-b or ErrArithmeticOverflow on underflow.
func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

// appendLog writes the instruction's transaction-log entry inside tx.
func (e *Engine) appendLog(tx *storage.Tx, instruction string, caller Identity, params any) error {
	var paramsJSON string
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal log params: %w", err)
		}
		paramsJSON = string(b)
	}
	return tx.AppendLog(&storage.LogEntry{
		ID:          uuid.NewString(),
		Instruction: instruction,
		Caller:      caller.String(),
		Params:      paramsJSON,
		AppliedAt:   e.now(),
	})
}

func (e *Engine) publish(ev Event) {
	if e.emit != nil {
		ev.AppliedAt = e.now()
		e.emit.Emit(ev)
	}
}

// --- record load/store helpers (within a transaction) ---

func loadProtocol(tx *storage.Tx) (*Protocol, int64, error) {
	addr := ProtocolAddress()
	rec, err := tx.GetRecord(addr[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, 0, ErrNotInitialized
	}
	if err != nil {
		return nil, 0, err
	}
	p, err := DecodeProtocol(rec.Data)
	if err != nil {
		return nil, 0, err
	}
	return p, rec.Version, nil
}

func loadProvider(tx *storage.Tx, addr Address) (*Provider, int64, error) {
	rec, err := tx.GetRecord(addr[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, 0, ErrProviderNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	p, err := DecodeProvider(rec.Data)
	if err != nil {
		return nil, 0, err
	}
	return p, rec.Version, nil
}

func loadViolation(tx *storage.Tx, addr Address) (*Violation, int64, error) {
	rec, err := tx.GetRecord(addr[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, 0, ErrViolationNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	v, err := DecodeViolation(rec.Data)
	if err != nil {
		return nil, 0, err
	}
	return v, rec.Version, nil
}

// --- instructions ---

// Initialize creates the singleton protocol record with the caller as
// authority and all counters zero.
func (e *Engine) Initialize(ctx context.Context, authority Identity) error {
	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		addr := ProtocolAddress()
		p := &Protocol{Authority: authority}
		if err := tx.CreateRecord(addr[:], KindProtocol, p.Encode()); err != nil {
			if errors.Is(err, storage.ErrExists) {
				return ErrAlreadyInitialized
			}
			return err
		}
		return e.appendLog(tx, "initialize", authority, nil)
	})
	if err != nil {
		return err
	}
	e.publish(Event{Kind: "initialized", Caller: authority.String()})
	return nil
}

// Deposit credits an account's general balance. This is the external funding
// boundary; the HTTP layer gates it behind operator auth.
func (e *Engine) Deposit(ctx context.Context, account Identity, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	addr := AccountAddress(account)
	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.Credit(addr[:], amount); err != nil {
			return err
		}
		return e.appendLog(tx, "deposit", account, map[string]uint64{"amount": amount})
	})
	if err != nil {
		return err
	}
	e.publish(Event{Kind: "deposit", Caller: account.String(), Amount: amount})
	return nil
}

// RegisterProvider creates the provider record and its vault, moves the stake
// from the caller's general balance into the vault, and bumps the protocol
// aggregates. Returns the new provider address.
func (e *Engine) RegisterProvider(ctx context.Context, authority Identity, name, endpoint string, stake uint64) (Address, error) {
	providerAddr := ProviderAddress(authority)
	if len(name) > MaxNameLen {
		return providerAddr, ErrNameTooLong
	}
	if len(endpoint) > MaxEndpointLen {
		return providerAddr, ErrEndpointTooLong
	}
	if stake < MinStake {
		return providerAddr, ErrInsufficientStake
	}

	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		proto, protoVer, err := loadProtocol(tx)
		if err != nil {
			return err
		}

		p := &Provider{
			Authority:       authority,
			Name:            name,
			ServiceEndpoint: endpoint,
			StakeAmount:     stake,
			CreatedAt:       e.now(),
			IsActive:        true,
		}
		if err := tx.CreateRecord(providerAddr[:], KindProvider, p.Encode()); err != nil {
			if errors.Is(err, storage.ErrExists) {
				return ErrProviderExists
			}
			return err
		}

		account := AccountAddress(authority)
		vault := VaultAddress(authority)
		if err := tx.Transfer(account[:], vault[:], stake); err != nil {
			if errors.Is(err, storage.ErrInsufficientBalance) {
				return ErrInsufficientFunds
			}
			return err
		}

		proto.TotalProviders++
		if proto.TotalStaked, err = checkedAdd(proto.TotalStaked, stake); err != nil {
			return err
		}
		protoAddr := ProtocolAddress()
		if err := tx.UpdateRecord(protoAddr[:], protoVer, proto.Encode()); err != nil {
			return err
		}

		return e.appendLog(tx, "register_provider", authority, map[string]any{
			"name": name, "service_endpoint": endpoint, "stake_amount": stake,
		})
	})
	if err != nil {
		return providerAddr, err
	}
	e.publish(Event{Kind: "provider_registered", Caller: authority.String(), Provider: providerAddr.String(), Amount: stake})
	return providerAddr, nil
}

// DefineSLA creates or wholesale-overwrites the SLA record for the caller's
// provider. Returns the SLA address.
func (e *Engine) DefineSLA(ctx context.Context, authority Identity, uptime uint8, maxResponseMs uint32, accuracy, penalty uint8) (Address, error) {
	providerAddr := ProviderAddress(authority)
	slaAddr := SLAAddress(providerAddr)

	if uptime > 100 || accuracy > 100 || penalty < 1 || penalty > 100 {
		return slaAddr, ErrInvalidPercentage
	}
	if maxResponseMs == 0 {
		return slaAddr, ErrInvalidResponseTime
	}

	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		provider, _, err := loadProvider(tx, providerAddr)
		if err != nil {
			return err
		}
		if provider.Authority != authority {
			return ErrUnauthorized
		}

		s := &SLA{
			Provider:          providerAddr,
			UptimeGuarantee:   uptime,
			MaxResponseTimeMs: maxResponseMs,
			AccuracyGuarantee: accuracy,
			PenaltyPct:        penalty,
			CreatedAt:         e.now(),
			IsActive:          true,
		}

		rec, err := tx.GetRecord(slaAddr[:])
		switch {
		case errors.Is(err, storage.ErrNotFound):
			err = tx.CreateRecord(slaAddr[:], KindSLA, s.Encode())
		case err == nil:
			err = tx.UpdateRecord(slaAddr[:], rec.Version, s.Encode())
		}
		if err != nil {
			return err
		}

		return e.appendLog(tx, "define_sla", authority, map[string]any{
			"uptime_guarantee_pct": uptime, "max_response_time_ms": maxResponseMs,
			"accuracy_guarantee_pct": accuracy, "penalty_pct": penalty,
		})
	})
	if err != nil {
		return slaAddr, err
	}
	e.publish(Event{Kind: "sla_defined", Caller: authority.String(), Provider: providerAddr.String()})
	return slaAddr, nil
}

// ReportViolation appends a violation record against an active provider at
// the next sequence index. Reporting is free and carries no economic effect;
// the evidence hash is an opaque commitment, never inspected. Returns the
// violation address and its sequence index.
func (e *Engine) ReportViolation(ctx context.Context, reporter Identity, provider Address, vtype ViolationType, evidenceHash [32]byte, description string) (Address, uint64, error) {
	var violationAddr Address
	var seq uint64

	if !vtype.Valid() {
		return violationAddr, 0, ErrInvalidViolationType
	}
	if len(description) > MaxDescriptionLen {
		return violationAddr, 0, ErrDescriptionTooLong
	}

	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		p, pVer, err := loadProvider(tx, provider)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return ErrProviderInactive
		}

		// The sequence index is the counter value read in this same
		// transaction; the counter increment below commits atomically with
		// the record creation, so concurrent reports cannot collide on one
		// derived address.
		seq = p.ViolationsCount
		violationAddr = ViolationAddress(provider, seq)

		v := &Violation{
			Provider:     provider,
			Reporter:     reporter,
			Type:         vtype,
			EvidenceHash: evidenceHash,
			Description:  description,
			Timestamp:    e.now(),
		}
		if err := tx.CreateRecord(violationAddr[:], KindViolation, v.Encode()); err != nil {
			return err
		}

		if p.ViolationsCount, err = checkedAdd(p.ViolationsCount, 1); err != nil {
			return err
		}
		if err := tx.UpdateRecord(provider[:], pVer, p.Encode()); err != nil {
			return err
		}

		return e.appendLog(tx, "report_violation", reporter, map[string]any{
			"provider": provider.String(), "violation_type": vtype.String(), "seq": seq,
		})
	})
	if err != nil {
		return violationAddr, 0, err
	}
	e.publish(Event{Kind: "violation_reported", Caller: reporter.String(), Provider: provider.String(), Violation: violationAddr.String()})
	return violationAddr, seq, nil
}

// Slash resolves a violation: it computes the penalty from the provider's
// current stake and the SLA penalty rate, pays it from the vault to the
// violation's reporter, and updates the protocol aggregates. This is the only
// instruction that moves funds out of a vault without the provider's consent.
// The caller must be the violation's reporter. Returns the amount slashed.
func (e *Engine) Slash(ctx context.Context, caller Identity, violation Address) (uint64, error) {
	var penalty uint64
	var providerAddr Address

	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		v, vVer, err := loadViolation(tx, violation)
		if err != nil {
			return err
		}
		if v.IsResolved {
			return ErrAlreadyResolved
		}
		if v.Reporter != caller {
			return ErrUnauthorized
		}
		providerAddr = v.Provider

		p, pVer, err := loadProvider(tx, providerAddr)
		if err != nil {
			return err
		}
		if ProviderAddress(p.Authority) != providerAddr {
			return fmt.Errorf("provider record address mismatch: %w", ErrProviderNotFound)
		}

		slaAddr := SLAAddress(providerAddr)
		rec, err := tx.GetRecord(slaAddr[:])
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSLANotFound
		}
		if err != nil {
			return err
		}
		sla, err := DecodeSLA(rec.Data)
		if err != nil {
			return err
		}
		if !sla.IsActive {
			return ErrSLANotFound
		}

		proto, protoVer, err := loadProtocol(tx)
		if err != nil {
			return err
		}

		if p.StakeAmount == 0 {
			return ErrInsufficientFunds
		}
		penalty = mulDivFloor(p.StakeAmount, uint64(sla.PenaltyPct), 100)
		if penalty > p.StakeAmount {
			penalty = p.StakeAmount
		}

		// penalty <= StakeAmount <= TotalStaked, so these cannot underflow.
		if p.StakeAmount, err = checkedSub(p.StakeAmount, penalty); err != nil {
			return err
		}
		if proto.TotalStaked, err = checkedSub(proto.TotalStaked, penalty); err != nil {
			return err
		}
		if proto.TotalSlashed, err = checkedAdd(proto.TotalSlashed, penalty); err != nil {
			return err
		}

		vault := VaultAddress(p.Authority)
		reporterAccount := AccountAddress(v.Reporter)
		if err := tx.Transfer(vault[:], reporterAccount[:], penalty); err != nil {
			if errors.Is(err, storage.ErrInsufficientBalance) {
				return ErrInsufficientFunds
			}
			return err
		}

		if p.StakeAmount < MinStake {
			p.IsActive = false
		}
		v.IsResolved = true

		if err := tx.UpdateRecord(providerAddr[:], pVer, p.Encode()); err != nil {
			return err
		}
		if err := tx.UpdateRecord(violation[:], vVer, v.Encode()); err != nil {
			return err
		}
		protoAddr := ProtocolAddress()
		if err := tx.UpdateRecord(protoAddr[:], protoVer, proto.Encode()); err != nil {
			return err
		}

		return e.appendLog(tx, "slash", caller, map[string]any{
			"violation": violation.String(), "penalty_amount": penalty,
		})
	})
	if err != nil {
		return 0, err
	}
	e.publish(Event{Kind: "slashed", Caller: caller.String(), Provider: providerAddr.String(), Violation: violation.String(), Amount: penalty})
	return penalty, nil
}

// RecordSuccess increments a provider's successful request counter. Any
// signer may call this; the trust model for success attestation is decided
// off-ledger.
func (e *Engine) RecordSuccess(ctx context.Context, caller Identity, provider Address) error {
	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		p, pVer, err := loadProvider(tx, provider)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return ErrProviderInactive
		}
		if p.SuccessfulRequests, err = checkedAdd(p.SuccessfulRequests, 1); err != nil {
			return err
		}
		if err := tx.UpdateRecord(provider[:], pVer, p.Encode()); err != nil {
			return err
		}
		return e.appendLog(tx, "record_success", caller, map[string]any{
			"provider": provider.String(),
		})
	})
	if err != nil {
		return err
	}
	e.publish(Event{Kind: "success_recorded", Caller: caller.String(), Provider: provider.String()})
	return nil
}

// WithdrawStake moves amount from the caller's vault back to their general
// balance. The remaining stake must stay at or above MinStake, or reach
// exactly zero, which deactivates the provider.
func (e *Engine) WithdrawStake(ctx context.Context, authority Identity, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	providerAddr := ProviderAddress(authority)

	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		p, pVer, err := loadProvider(tx, providerAddr)
		if err != nil {
			return err
		}
		if p.Authority != authority {
			return ErrUnauthorized
		}
		if !p.IsActive {
			return ErrProviderInactive
		}
		if amount > p.StakeAmount {
			return ErrInsufficientFunds
		}
		remaining := p.StakeAmount - amount
		if remaining > 0 && remaining < MinStake {
			return ErrBelowMinimumStake
		}

		proto, protoVer, err := loadProtocol(tx)
		if err != nil {
			return err
		}
		if proto.TotalStaked, err = checkedSub(proto.TotalStaked, amount); err != nil {
			return err
		}

		vault := VaultAddress(authority)
		account := AccountAddress(authority)
		if err := tx.Transfer(vault[:], account[:], amount); err != nil {
			if errors.Is(err, storage.ErrInsufficientBalance) {
				return ErrInsufficientFunds
			}
			return err
		}

		p.StakeAmount = remaining
		if remaining == 0 {
			p.IsActive = false
		}

		if err := tx.UpdateRecord(providerAddr[:], pVer, p.Encode()); err != nil {
			return err
		}
		protoAddr := ProtocolAddress()
		if err := tx.UpdateRecord(protoAddr[:], protoVer, proto.Encode()); err != nil {
			return err
		}

		return e.appendLog(tx, "withdraw_stake", authority, map[string]uint64{"amount": amount})
	})
	if err != nil {
		return err
	}
	e.publish(Event{Kind: "stake_withdrawn", Caller: authority.String(), Provider: providerAddr.String(), Amount: amount})
	return nil
}
