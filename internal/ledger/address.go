// Package ledger implements the Covenant account state machine: the persistent
// records (protocol registry, providers, SLAs, violations), their invariants,
// and the instruction handlers that mutate them atomically against the
// append-only transaction log.
package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// AddressLength is the byte length of a record address (256 bits).
const AddressLength = 32

// Address is a 256-bit deterministic record address. Addresses are derived by
// domain-separated hashing, so any observer can compute them without querying
// the ledger first.
type Address [AddressLength]byte

// Identity is an Ed25519 public key identifying a caller (authority, reporter).
type Identity [32]byte

// Address derivation seeds. One namespace tag per record type.
const (
	seedProtocol  = "covenant:protocol"
	seedProvider  = "covenant:provider:"
	seedVault     = "covenant:vault:"
	seedSLA       = "covenant:sla:"
	seedViolation = "covenant:violation:"
	seedAccount   = "covenant:account:"
)

// ProtocolAddress returns the address of the singleton protocol record.
func ProtocolAddress() Address {
	return sha3.Sum256([]byte(seedProtocol))
}

// ProviderAddress derives the provider record address from its authority.
func ProviderAddress(authority Identity) Address {
	return sha3.Sum256(append([]byte(seedProvider), authority[:]...))
}

// VaultAddress derives the escrow vault address for a provider authority. The
// vault is a balance row owned exclusively by the ledger logic; no signature
// can authorize a direct withdrawal from it.
func VaultAddress(authority Identity) Address {
	return sha3.Sum256(append([]byte(seedVault), authority[:]...))
}

// SLAAddress derives the SLA record address from the provider record address.
func SLAAddress(provider Address) Address {
	return sha3.Sum256(append([]byte(seedSLA), provider[:]...))
}

// ViolationAddress derives the address of the seq-th violation reported
// against a provider. seq is the provider's violation counter at report time,
// encoded little-endian, so violations form a densely indexed append-only log.
func ViolationAddress(provider Address, seq uint64) Address {
	buf := make([]byte, 0, len(seedViolation)+AddressLength+8)
	buf = append(buf, seedViolation...)
	buf = append(buf, provider[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, seq)
	return sha3.Sum256(buf)
}

// AccountAddress derives the general balance address for a caller identity.
// Provider stakes leave this balance on registration and return to it on
// withdrawal; slashing payouts land on the reporter's account address.
func AccountAddress(id Identity) Address {
	return sha3.Sum256(append([]byte(seedAccount), id[:]...))
}

// String returns the address as lowercase hex.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAddress decodes a 64-character hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	if len(b) != AddressLength {
		return a, fmt.Errorf("parse address: got %d bytes, want %d", len(b), AddressLength)
	}
	copy(a[:], b)
	return a, nil
}

// String returns the identity as lowercase hex.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// ParseIdentity decodes a 64-character hex string into an Identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse identity: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("parse identity: got %d bytes, want %d", len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// EvidenceHash computes the SHA3-256 commitment over raw evidence bytes.
// The ledger never inspects evidence content; this helper exists for clients
// producing the commitment before reporting.
func EvidenceHash(evidence []byte) [32]byte {
	return sha3.Sum256(evidence)
}
