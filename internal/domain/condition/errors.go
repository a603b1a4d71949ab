package condition

import (
	"errors"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/fault"
)

var (
	// ErrMalformedCondition indicates a condition that is not PREIMAGE-SHA-256 DER hex.
	ErrMalformedCondition = fmt.Errorf("malformed condition: %w", fault.ErrValidation)
	// ErrMalformedFulfillment indicates a fulfillment that is not PREIMAGE-SHA-256 DER hex.
	ErrMalformedFulfillment = fmt.Errorf("malformed fulfillment: %w", fault.ErrValidation)
)

// IsMalformed reports whether err came from parsing a condition or fulfillment.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedCondition) || errors.Is(err, ErrMalformedFulfillment)
}
