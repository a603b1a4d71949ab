package evidence

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// AttestationPayload is the Data of external_attestation evidence. Signature is
// an ed25519 signature over Subject.Statement, hex or base64 encoded.
type AttestationPayload struct {
	Attestor  string `json:"attestor"`
	Signature string `json:"signature"`
}

// Attestation accepts statements signed by a trusted attestor.
type Attestation struct {
	trusted map[string]ed25519.PublicKey
}

// NewAttestation creates the verifier for a set of named attestor keys.
func NewAttestation(trusted map[string]ed25519.PublicKey) *Attestation {
	keys := make(map[string]ed25519.PublicKey, len(trusted))
	for name, pub := range trusted {
		keys[name] = pub
	}
	return &Attestation{trusted: keys}
}

// ParseAttestors decodes "name=hexkey" pairs.
func ParseAttestors(pairs []string) (map[string]ed25519.PublicKey, error) {
	out := make(map[string]ed25519.PublicKey, len(pairs))
	for _, pair := range pairs {
		name, key, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("attestor %q: want name=hexkey", pair)
		}
		raw, err := hex.DecodeString(key)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("attestor %q: key must be %d hex-encoded bytes", name, ed25519.PublicKeySize)
		}
		out[name] = ed25519.PublicKey(raw)
	}
	return out, nil
}

// Verify implements Verifier.
func (v *Attestation) Verify(_ context.Context, subject Subject, ev Evidence) (bool, error) {
	var payload AttestationPayload
	if err := ev.Decode(&payload); err != nil {
		return false, err
	}
	pub, ok := v.trusted[payload.Attestor]
	if !ok {
		return false, nil
	}
	sig, err := decodeSignature(payload.Signature)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, []byte(subject.Statement()), sig), nil
}

func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if raw, err := hex.DecodeString(s); err == nil && len(raw) == ed25519.SignatureSize {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil && len(raw) == ed25519.SignatureSize {
		return raw, nil
	}
	return nil, fmt.Errorf("attestation signature: %w", ErrMalformed)
}
