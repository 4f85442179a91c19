package ledger

import (
	"errors"

	"github.com/covenant-labs/covenant/internal/storage"
)

// Read-only views over committed state. These never open a transaction; each
// call sees some committed snapshot of the record it reads.

// GetProtocol returns the committed protocol record.
func (e *Engine) GetProtocol() (*Protocol, error) {
	addr := ProtocolAddress()
	rec, err := e.db.GetRecord(addr[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return DecodeProtocol(rec.Data)
}

// GetProvider returns the committed provider record at addr.
func (e *Engine) GetProvider(addr Address) (*Provider, error) {
	rec, err := e.db.GetRecord(addr[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeProvider(rec.Data)
}

// GetSLA returns the committed SLA for the provider at addr.
func (e *Engine) GetSLA(provider Address) (*SLA, error) {
	slaAddr := SLAAddress(provider)
	rec, err := e.db.GetRecord(slaAddr[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSLANotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeSLA(rec.Data)
}

// GetViolation returns the seq-th violation reported against a provider.
func (e *Engine) GetViolation(provider Address, seq uint64) (*Violation, error) {
	addr := ViolationAddress(provider, seq)
	rec, err := e.db.GetRecord(addr[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrViolationNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeViolation(rec.Data)
}

// ListProviders returns every committed provider record.
func (e *Engine) ListProviders() ([]*Provider, error) {
	recs, err := e.db.ListRecordsByKind(KindProvider)
	if err != nil {
		return nil, err
	}
	providers := make([]*Provider, 0, len(recs))
	for _, rec := range recs {
		p, err := DecodeProvider(rec.Data)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// ListViolations returns all violations reported against a provider, in
// sequence order. The dense sequence indexing makes the walk deterministic.
func (e *Engine) ListViolations(provider Address) ([]*Violation, error) {
	p, err := e.GetProvider(provider)
	if err != nil {
		return nil, err
	}
	violations := make([]*Violation, 0, p.ViolationsCount)
	for seq := uint64(0); seq < p.ViolationsCount; seq++ {
		v, err := e.GetViolation(provider, seq)
		if err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, nil
}

// Balance returns the committed general balance for an identity.
func (e *Engine) Balance(id Identity) (uint64, error) {
	addr := AccountAddress(id)
	return e.db.GetBalance(addr[:])
}

// VaultBalance returns the committed vault balance for a provider authority.
func (e *Engine) VaultBalance(authority Identity) (uint64, error) {
	addr := VaultAddress(authority)
	return e.db.GetBalance(addr[:])
}
