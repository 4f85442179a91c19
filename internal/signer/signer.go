// Package signer provides Ed25519 request signing and verification for the
// Covenant instruction API. The verified public key is the instruction's
// signer; key custody stays with the client.
package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// TimestampWindow is the maximum age of a signed request before it is rejected.
const TimestampWindow = 5 * time.Minute

// Header names carrying the caller identity and signature.
const (
	HeaderKey       = "X-Covenant-Key"
	HeaderTimestamp = "X-Covenant-Timestamp"
	HeaderSignature = "X-Covenant-Signature"
)

// SignRequest adds identity, timestamp, and signature headers to an outgoing
// HTTP request. The signature covers:
//
//	method + path + timestamp + body
func SignRequest(req *http.Request, pub ed25519.PublicKey, priv ed25519.PrivateKey, body []byte) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	req.Header.Set(HeaderKey, hex.EncodeToString(pub))
	req.Header.Set(HeaderTimestamp, ts)

	msg := req.Method + req.URL.Path + ts + string(body)
	sig := ed25519.Sign(priv, []byte(msg))
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
}

// VerifyRequest checks that:
//  1. The request carries a well-formed Ed25519 public key.
//  2. The timestamp is within TimestampWindow of the current time.
//  3. The signature is valid for the reconstructed message.
//
// On success it returns the caller's public key.
func VerifyRequest(req *http.Request, body []byte) (ed25519.PublicKey, error) {
	keyHex := req.Header.Get(HeaderKey)
	tsStr := req.Header.Get(HeaderTimestamp)
	sigHex := req.Header.Get(HeaderSignature)

	if keyHex == "" {
		return nil, fmt.Errorf("missing %s header", HeaderKey)
	}
	if tsStr == "" {
		return nil, fmt.Errorf("missing %s header", HeaderTimestamp)
	}
	if sigHex == "" {
		return nil, fmt.Errorf("missing %s header", HeaderSignature)
	}

	pub, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(pub))
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	diff := math.Abs(float64(time.Now().Unix() - ts))
	if diff > TimestampWindow.Seconds() {
		return nil, fmt.Errorf("timestamp expired: %.0fs drift exceeds %v window", diff, TimestampWindow)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}

	msg := req.Method + req.URL.Path + tsStr + string(body)
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(msg), sig) {
		return nil, fmt.Errorf("ed25519 signature verification failed")
	}

	return ed25519.PublicKey(pub), nil
}
