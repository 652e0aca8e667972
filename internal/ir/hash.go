package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSpan        = "modcall/span/v1"
	DomainDeclaration = "modcall/declaration/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SpanID computes the content address of one span within a turn.
// Same turn token, same position, same raw text: same id.
func SpanID(turn string, index int, raw string) (string, error) {
	obj := IRObject{
		"turn":  IRString(turn),
		"index": IRInt(index),
		"raw":   IRString(raw),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SpanID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainSpan, canonical), nil
}

// DeclarationHash hashes a canonical description of a declaration set.
// The registry feeds it the canonical form of every module it loaded, in
// declaration order, so equal sets produce equal fingerprints.
func DeclarationHash(decls IRArray) (string, error) {
	canonical, err := MarshalCanonical(decls)
	if err != nil {
		return "", fmt.Errorf("DeclarationHash: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainDeclaration, canonical), nil
}

// MustSpanID is like SpanID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSpanID(turn string, index int, raw string) string {
	id, err := SpanID(turn, index, raw)
	if err != nil {
		panic(err)
	}
	return id
}
