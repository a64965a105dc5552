package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainDocument prefixes every document digest. The version suffix leaves
// room for a future change of canonical form.
const DomainDocument = "jsoncrdt/document/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns a hex fingerprint of v that is identical on every replica
// holding a deep-equal document. Replicas compare digests instead of whole
// documents when checking convergence.
func Digest(v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when v is known to be valid.
func MustDigest(v Value) string {
	d, err := Digest(v)
	if err != nil {
		panic(err)
	}
	return d
}
