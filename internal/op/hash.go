package op

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Domain prefixes for content-derived keys. The version suffix leaves room
// for a future change of algorithm without colliding with old keys.
const (
	DomainIdempotency = "stocksync/idempotency/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentKey derives an idempotency key from what the write does: target,
// method and body. Two records describing the same write get the same key, so
// a redelivery after a crash is recognisable on the server.
//
// Bodies that cannot be canonicalized (for example ones holding fractional
// numbers) are hashed as raw bytes, which is still deterministic per record.
func ContentKey(o Operation) string {
	m := map[string]any{
		"method": strings.ToUpper(o.Payload.Method),
		"url":    o.Target,
	}
	data, err := MarshalCanonical(m)
	if err != nil {
		// Only strings are present; this cannot fail.
		panic(err)
	}
	if len(o.Payload.Body) > 0 {
		body, err := CanonicalizeJSON(o.Payload.Body)
		if err != nil {
			body = o.Payload.Body
		}
		data = append(data, 0x00)
		data = append(data, body...)
	}
	return hashWithDomain(DomainIdempotency, data)
}
