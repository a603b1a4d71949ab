package condition

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

const redacted = "[REDACTED]"

// Fulfillment holds a preimage that satisfies a Condition. The zero value is empty.
//
// Formatting with fmt, encoding/json, encoding.TextMarshaler and slog all yield a
// redacted placeholder. The preimage is reachable only through Reveal and Encode.
type Fulfillment struct {
	preimage []byte
}

// ParseFulfillment decodes a hex DER fulfillment.
func ParseFulfillment(s string) (Fulfillment, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Fulfillment{}, fmt.Errorf("%w: not hex", ErrMalformedFulfillment)
	}
	return FulfillmentFromDER(raw)
}

// FulfillmentFromDER decodes a binary DER fulfillment. The input is copied.
func FulfillmentFromDER(raw []byte) (Fulfillment, error) {
	if len(raw) != len(fulfillmentPrefix)+PreimageSize || !bytes.HasPrefix(raw, fulfillmentPrefix) {
		return Fulfillment{}, ErrMalformedFulfillment
	}
	preimage := make([]byte, PreimageSize)
	copy(preimage, raw[len(fulfillmentPrefix):])
	return Fulfillment{preimage: preimage}, nil
}

// IsZero reports whether f carries no preimage.
func (f Fulfillment) IsZero() bool {
	return len(f.preimage) == 0
}

// Condition derives the public condition for f.
func (f Fulfillment) Condition() Condition {
	return encodeCondition(f.preimage)
}

// Encode returns the hex DER encoding presented to the ledger on release.
func (f Fulfillment) Encode() string {
	return strings.ToUpper(hex.EncodeToString(f.Reveal()))
}

// Reveal returns a copy of the binary DER encoding.
func (f Fulfillment) Reveal() []byte {
	if f.IsZero() {
		return nil
	}
	out := make([]byte, 0, len(fulfillmentPrefix)+len(f.preimage))
	out = append(out, fulfillmentPrefix...)
	return append(out, f.preimage...)
}

// Equal compares two fulfillments in constant time.
func (f Fulfillment) Equal(other Fulfillment) bool {
	return subtle.ConstantTimeCompare(f.preimage, other.preimage) == 1
}

// Wipe zeroes the preimage in place.
//
//go:noinline
func (f Fulfillment) Wipe() {
	for i := range f.preimage {
		f.preimage[i] = 0
	}
	runtime.KeepAlive(f.preimage)
}

func (f Fulfillment) String() string   { return redacted }
func (f Fulfillment) GoString() string { return "condition.Fulfillment{" + redacted + "}" }

// LogValue implements slog.LogValuer.
func (f Fulfillment) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalText implements encoding.TextMarshaler.
func (f Fulfillment) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// MarshalJSON implements json.Marshaler.
func (f Fulfillment) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }
