// Package signature computes tamper-evident digests over record attributes.
package signature

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
)

// Fields that never participate in a digest: the signature column itself
// and the mutable bookkeeping timestamps.
var excludedFields = map[string]struct{}{
	"signature":  {},
	"created_at": {},
	"updated_at": {},
	"deleted_at": {},
}

// Engine signs and verifies record attribute sets.
type Engine struct {
	logger    *slog.Logger
	onFailure func()
}

// NewEngine constructs an Engine. onFailure is invoked whenever signing
// degrades to the random-nonce fallback; pass nil when no metric is wired.
func NewEngine(logger *slog.Logger, onFailure func()) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, onFailure: onFailure}
}

// Sign returns the lowercase hex SHA-512 digest of the canonical
// serialization of record, scoped by scope and (optionally) tenant.
//
// When a record value cannot be serialized the engine hashes a random
// nonce instead of failing the write path. The resulting row will never
// verify, which is the intended signal that it was written degraded.
func (e *Engine) Sign(record map[string]any, scope, tenant string) string {
	payload, err := canonical(record)
	if err != nil {
		e.logger.Error("signature: canonical serialization failed, signing nonce",
			slog.String("scope", scope), slog.Any("error", err))
		if e.onFailure != nil {
			e.onFailure()
		}
		nonce := make([]byte, 32)
		_, _ = rand.Read(nonce)
		sum := sha512.Sum512(nonce)
		return hex.EncodeToString(sum[:])
	}

	var b strings.Builder
	b.WriteString(payload)
	b.WriteString(scope)
	if tenant != "" {
		b.WriteString(tenant)
	}
	sum := sha512.Sum512([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest for record and compares it to digest in
// constant time.
func (e *Engine) Verify(record map[string]any, scope, tenant, digest string) bool {
	payload, err := canonical(record)
	if err != nil {
		return false
	}
	var b strings.Builder
	b.WriteString(payload)
	b.WriteString(scope)
	if tenant != "" {
		b.WriteString(tenant)
	}
	sum := sha512.Sum512([]byte(b.String()))
	computed := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

// canonical serializes record as a JSON object with lexicographically
// sorted keys and no insignificant whitespace, skipping excluded fields.
func canonical(record map[string]any) (string, error) {
	keys := make([]string, 0, len(record))
	for k := range record {
		if _, skip := excludedFields[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		b.Write(name)
		b.WriteByte(':')
		value, err := json.Marshal(record[k])
		if err != nil {
			return "", err
		}
		b.Write(value)
	}
	b.WriteByte('}')
	return b.String(), nil
}
