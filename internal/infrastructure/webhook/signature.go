// Package webhook implements the webhook half of the integration hub:
// inbound payload validation and routing, outbound fan-out to subscriber
// endpoints, delivery bookkeeping, and the failed-delivery retry sweep.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 signature of the raw
// request body, both on inbound payloads and outbound deliveries
const SignatureHeader = "X-Webhook-Signature"

// signaturePrefix is accepted (and emitted) in front of the hex digest
const signaturePrefix = "sha256="

// Sign computes the hex HMAC-SHA256 signature of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a presented signature against the raw body.
// The comparison is constant-time; a bare hex digest without the
// sha256= prefix is accepted for senders that omit it.
func ValidateSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	presented := strings.TrimPrefix(signature, signaturePrefix)
	expected := strings.TrimPrefix(Sign(secret, body), signaturePrefix)
	return hmac.Equal([]byte(presented), []byte(expected))
}
