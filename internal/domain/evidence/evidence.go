// Package evidence decides whether a milestone's reported evidence is acceptable.
//
// A Registry dispatches on Evidence.Kind to a Verifier. Verifiers return
// (false, nil) for evidence they understood and rejected, and an error when the
// evidence is malformed or could not be checked.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rpggio/escrowfund/internal/domain/fault"
)

// Kind names an evidence scheme.
type Kind string

const (
	KindRepositoryLink      Kind = "repository_link"
	KindExternalAttestation Kind = "external_attestation"
	KindManualApproval      Kind = "manual_approval"
)

var (
	// ErrUnknownKind indicates no verifier is registered for the evidence kind.
	ErrUnknownKind = fmt.Errorf("unknown evidence kind: %w", fault.ErrValidation)
	// ErrMalformed indicates the evidence payload could not be decoded.
	ErrMalformed = fmt.Errorf("malformed evidence: %w", fault.ErrValidation)
)

// Subject identifies the milestone a piece of evidence is offered for.
type Subject struct {
	ProjectID   string `json:"project_id"`
	MilestoneID string `json:"milestone_id"`
	Title       string `json:"title"`
}

// Statement is the canonical text attestors sign for a milestone.
func (s Subject) Statement() string {
	return fmt.Sprintf("escrowfund:milestone:%s:%s", s.ProjectID, s.MilestoneID)
}

// Evidence is an opaque, kind-tagged payload.
type Evidence struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Evidence) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload: %w", e.Kind, ErrMalformed)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %v: %w", e.Kind, err, ErrMalformed)
	}
	return nil
}

// Verifier checks one kind of evidence.
type Verifier interface {
	Verify(ctx context.Context, subject Subject, ev Evidence) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, subject Subject, ev Evidence) (bool, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, subject Subject, ev Evidence) (bool, error) {
	return f(ctx, subject, ev)
}

// Registry dispatches verification by evidence kind.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[Kind]Verifier
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[Kind]Verifier)}
}

// Register installs v for kind, replacing any previous verifier.
func (r *Registry) Register(kind Kind, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[kind] = v
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.verifiers))
	for k := range r.verifiers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Verify implements Verifier.
func (r *Registry) Verify(ctx context.Context, subject Subject, ev Evidence) (bool, error) {
	r.mu.RLock()
	v, ok := r.verifiers[ev.Kind]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%q: %w", ev.Kind, ErrUnknownKind)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return v.Verify(ctx, subject, ev)
}
