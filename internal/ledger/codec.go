package ledger

import (
	"encoding/binary"
	"fmt"
)

// recordFormatVersion is the first byte of every encoded record. Bump it when
// a record layout changes; decoders reject versions they do not understand.
const recordFormatVersion = 1

// Records are persisted in a fixed binary layout: a format version byte,
// little-endian integers, raw 32-byte arrays, and strings prefixed with a
// uint16 byte length. Layouts are append-ordered per the struct definitions.

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// decoder reads the binary record layout, tracking the first error so call
// sites stay flat.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("decode %s: truncated record at offset %d", what, d.off)
	}
}

func (d *decoder) bytes32(what string) (out [32]byte) {
	if d.err != nil {
		return
	}
	if d.off+32 > len(d.buf) {
		d.fail(what)
		return
	}
	copy(out[:], d.buf[d.off:d.off+32])
	d.off += 32
	return
}

func (d *decoder) uint8(what string) uint8 {
	if d.err != nil {
		return 0
	}
	if d.off+1 > len(d.buf) {
		d.fail(what)
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) uint16(what string) uint16 {
	if d.err != nil {
		return 0
	}
	if d.off+2 > len(d.buf) {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v
}

func (d *decoder) uint32(what string) uint32 {
	if d.err != nil {
		return 0
	}
	if d.off+4 > len(d.buf) {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) uint64(what string) uint64 {
	if d.err != nil {
		return 0
	}
	if d.off+8 > len(d.buf) {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) int64(what string) int64 {
	return int64(d.uint64(what))
}

func (d *decoder) bool(what string) bool {
	return d.uint8(what) != 0
}

func (d *decoder) string(what string) string {
	n := int(d.uint16(what))
	if d.err != nil {
		return ""
	}
	if d.off+n > len(d.buf) {
		d.fail(what)
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}

// checkVersion consumes and validates the leading format version byte.
func (d *decoder) checkVersion(kind string) {
	v := d.uint8("format version")
	if d.err == nil && v != recordFormatVersion {
		d.err = fmt.Errorf("decode %s: unsupported record format version %d", kind, v)
	}
}

// Encode serializes the protocol record.
func (p *Protocol) Encode() []byte {
	buf := make([]byte, 0, 1+32+3*8)
	buf = append(buf, recordFormatVersion)
	buf = append(buf, p.Authority[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, p.TotalProviders)
	buf = binary.LittleEndian.AppendUint64(buf, p.TotalStaked)
	buf = binary.LittleEndian.AppendUint64(buf, p.TotalSlashed)
	return buf
}

// DecodeProtocol deserializes a protocol record.
func DecodeProtocol(buf []byte) (*Protocol, error) {
	d := &decoder{buf: buf}
	d.checkVersion("protocol")
	p := &Protocol{
		Authority:      d.bytes32("authority"),
		TotalProviders: d.uint64("total_providers"),
		TotalStaked:    d.uint64("total_staked"),
		TotalSlashed:   d.uint64("total_slashed"),
	}
	return p, d.err
}

// Encode serializes the provider record.
func (p *Provider) Encode() []byte {
	buf := make([]byte, 0, 1+32+2+len(p.Name)+2+len(p.ServiceEndpoint)+4*8+1)
	buf = append(buf, recordFormatVersion)
	buf = append(buf, p.Authority[:]...)
	buf = appendString(buf, p.Name)
	buf = appendString(buf, p.ServiceEndpoint)
	buf = binary.LittleEndian.AppendUint64(buf, p.StakeAmount)
	buf = binary.LittleEndian.AppendUint64(buf, p.ViolationsCount)
	buf = binary.LittleEndian.AppendUint64(buf, p.SuccessfulRequests)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.CreatedAt))
	buf = appendBool(buf, p.IsActive)
	return buf
}

// DecodeProvider deserializes a provider record.
func DecodeProvider(buf []byte) (*Provider, error) {
	d := &decoder{buf: buf}
	d.checkVersion("provider")
	p := &Provider{
		Authority:          d.bytes32("authority"),
		Name:               d.string("name"),
		ServiceEndpoint:    d.string("service_endpoint"),
		StakeAmount:        d.uint64("stake_amount"),
		ViolationsCount:    d.uint64("violations_count"),
		SuccessfulRequests: d.uint64("successful_requests"),
		CreatedAt:          d.int64("created_at"),
		IsActive:           d.bool("is_active"),
	}
	return p, d.err
}

// Encode serializes the SLA record.
func (s *SLA) Encode() []byte {
	buf := make([]byte, 0, 1+32+1+4+1+1+8+1)
	buf = append(buf, recordFormatVersion)
	buf = append(buf, s.Provider[:]...)
	buf = append(buf, s.UptimeGuarantee)
	buf = binary.LittleEndian.AppendUint32(buf, s.MaxResponseTimeMs)
	buf = append(buf, s.AccuracyGuarantee)
	buf = append(buf, s.PenaltyPct)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.CreatedAt))
	buf = appendBool(buf, s.IsActive)
	return buf
}

// DecodeSLA deserializes an SLA record.
func DecodeSLA(buf []byte) (*SLA, error) {
	d := &decoder{buf: buf}
	d.checkVersion("sla")
	s := &SLA{
		Provider:          d.bytes32("provider"),
		UptimeGuarantee:   d.uint8("uptime_guarantee"),
		MaxResponseTimeMs: d.uint32("max_response_time_ms"),
		AccuracyGuarantee: d.uint8("accuracy_guarantee"),
		PenaltyPct:        d.uint8("penalty_pct"),
		CreatedAt:         d.int64("created_at"),
		IsActive:          d.bool("is_active"),
	}
	return s, d.err
}

// Encode serializes the violation record.
func (v *Violation) Encode() []byte {
	buf := make([]byte, 0, 1+32+32+1+32+2+len(v.Description)+8+1)
	buf = append(buf, recordFormatVersion)
	buf = append(buf, v.Provider[:]...)
	buf = append(buf, v.Reporter[:]...)
	buf = append(buf, uint8(v.Type))
	buf = append(buf, v.EvidenceHash[:]...)
	buf = appendString(buf, v.Description)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Timestamp))
	buf = appendBool(buf, v.IsResolved)
	return buf
}

// DecodeViolation deserializes a violation record.
func DecodeViolation(buf []byte) (*Violation, error) {
	d := &decoder{buf: buf}
	d.checkVersion("violation")
	v := &Violation{
		Provider:     d.bytes32("provider"),
		Reporter:     d.bytes32("reporter"),
		Type:         ViolationType(d.uint8("violation_type")),
		EvidenceHash: d.bytes32("evidence_hash"),
		Description:  d.string("description"),
		Timestamp:    d.int64("timestamp"),
		IsResolved:   d.bool("is_resolved"),
	}
	return v, d.err
}
