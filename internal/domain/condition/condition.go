// Package condition generates and verifies PREIMAGE-SHA-256 crypto-conditions.
//
// A Condition is the public digest published with a ledger hold. The matching
// Fulfillment reveals the preimage and is the only thing that unlocks the hold,
// so it is modelled as a sensitive value that redacts itself from every standard
// formatting, serialization and logging path.
package condition

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// PreimageSize is the length of generated preimages in bytes.
const PreimageSize = 32

// DER prefixes for the PREIMAGE-SHA-256 type (type id 0).
var (
	fulfillmentPrefix = []byte{0xA0, 0x22, 0x80, 0x20}
	conditionPrefix   = []byte{0xA0, 0x25, 0x80, 0x20}
	conditionSuffix   = []byte{0x81, 0x01, PreimageSize}
)

// Condition is the hex-encoded DER condition that may be disclosed publicly.
type Condition string

// String returns the hex encoding.
func (c Condition) String() string {
	return string(c)
}

// Digest returns the SHA-256 fingerprint embedded in the condition.
func (c Condition) Digest() ([]byte, error) {
	raw, err := hex.DecodeString(string(c))
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrMalformedCondition)
	}
	want := len(conditionPrefix) + sha256.Size + len(conditionSuffix)
	if len(raw) != want ||
		!bytes.HasPrefix(raw, conditionPrefix) ||
		!bytes.HasSuffix(raw, conditionSuffix) {
		return nil, ErrMalformedCondition
	}
	return raw[len(conditionPrefix) : len(conditionPrefix)+sha256.Size], nil
}

// ParseCondition validates the encoding of s and returns it as a Condition.
func ParseCondition(s string) (Condition, error) {
	c := Condition(strings.ToUpper(strings.TrimSpace(s)))
	if _, err := c.Digest(); err != nil {
		return "", err
	}
	return c, nil
}

// Generate produces a fresh random preimage and returns its condition and fulfillment.
func Generate() (Condition, Fulfillment, error) {
	preimage := make([]byte, PreimageSize)
	if _, err := rand.Read(preimage); err != nil {
		return "", Fulfillment{}, fmt.Errorf("reading preimage entropy: %w", err)
	}
	f := Fulfillment{preimage: preimage}
	return f.Condition(), f, nil
}

// Verify recomputes the condition from f and compares it with c in constant time.
func Verify(c Condition, f Fulfillment) bool {
	digest, err := c.Digest()
	if err != nil || f.IsZero() {
		return false
	}
	sum := sha256.Sum256(f.preimage)
	return subtle.ConstantTimeCompare(digest, sum[:]) == 1
}

// Generator is the injectable form of Generate and Verify.
type Generator interface {
	Generate() (Condition, Fulfillment, error)
	Verify(c Condition, f Fulfillment) bool
}

// SHA256Generator implements Generator with PREIMAGE-SHA-256 conditions.
type SHA256Generator struct{}

// Generate implements Generator.
func (SHA256Generator) Generate() (Condition, Fulfillment, error) { return Generate() }

// Verify implements Generator.
func (SHA256Generator) Verify(c Condition, f Fulfillment) bool { return Verify(c, f) }

func encodeCondition(preimage []byte) Condition {
	sum := sha256.Sum256(preimage)
	buf := make([]byte, 0, len(conditionPrefix)+sha256.Size+len(conditionSuffix))
	buf = append(buf, conditionPrefix...)
	buf = append(buf, sum[:]...)
	buf = append(buf, conditionSuffix...)
	return Condition(strings.ToUpper(hex.EncodeToString(buf)))
}
