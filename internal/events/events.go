// Package events publishes domain events after state changes commit.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event is a committed state change.
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	ProjectID    string         `json:"project_id"`
	InvestmentID string         `json:"investment_id,omitempty"`
	EscrowID     string         `json:"escrow_id,omitempty"`
	Summary      string         `json:"summary"`
	Data         map[string]any `json:"data,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// New creates an event with a fresh ID and the current time.
func New(eventType, projectID, summary string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ProjectID:  projectID,
		Summary:    summary,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.InfoContext(ctx, "event",
		"event_id", e.ID,
		"type", e.Type,
		"project_id", e.ProjectID,
		"investment_id", e.InvestmentID,
		"escrow_id", e.EscrowID,
		"summary", e.Summary,
	)
	return nil
}

// Multi fans an event out to every publisher, joining their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
