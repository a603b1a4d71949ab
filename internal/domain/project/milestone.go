package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/fault"
)

// EscrowFailure describes an escrow that could not be released.
type EscrowFailure struct {
	EscrowID string `json:"escrow_id"`
	Error    string `json:"error"`
}

// MilestoneOutcome is the result of an accepted milestone claim.
type MilestoneOutcome struct {
	Project   *Project        `json:"project"`
	Milestone Milestone       `json:"milestone"`
	Released  []escrow.Escrow `json:"released"`
	Failed    []EscrowFailure `json:"failed,omitempty"`
}

// AchieveMilestone verifies evidence for the next claimable milestone and, once
// accepted, completes it and releases every escrow keyed to it. Verification
// runs without the project lock and stops on ctx cancellation with no side
// effect. Condition mismatches during release are returned as an error
// alongside the outcome.
func (s *Service) AchieveMilestone(ctx context.Context, projectID, milestoneID string, ev evidence.Evidence) (*MilestoneOutcome, error) {
	p, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	m, err := claimable(p, milestoneID)
	if err != nil {
		return nil, err
	}

	subject := evidence.Subject{ProjectID: p.ID, MilestoneID: m.ID, Title: m.Title}
	ok, err := s.verifier.Verify(ctx, subject, ev)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, &MilestoneVerificationError{ProjectID: p.ID, MilestoneID: m.ID, Reason: "evidence could not be verified", Err: err}
	}
	if !ok {
		s.logger.Info("milestone evidence rejected", "project_id", p.ID, "milestone_id", m.ID, "kind", ev.Kind)
		return nil, &MilestoneVerificationError{ProjectID: p.ID, MilestoneID: m.ID, Reason: fmt.Sprintf("%s evidence rejected", ev.Kind)}
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, &MilestoneVerificationError{ProjectID: p.ID, MilestoneID: m.ID, Reason: "evidence could not be stored", Err: err}
	}

	var outcome *MilestoneOutcome
	var mismatches []error
	err = s.withLock(ctx, projectID, func(p *Project) error {
		ctx := context.WithoutCancel(ctx)
		m, err := claimable(p, milestoneID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		m.Status = MilestoneCompleted
		m.Evidence = string(raw)
		m.AchievedAt = &now
		if err := s.save(ctx, p); err != nil {
			return err
		}
		s.record(ctx, p, activity.TypeMilestoneAchieved, "", "", fmt.Sprintf("Milestone %q achieved", m.Title),
			map[string]any{"milestone_id": m.ID, "kind": string(ev.Kind)})
		s.logger.Info("milestone achieved", "project_id", p.ID, "milestone_id", m.ID)

		outcome = &MilestoneOutcome{Project: p, Milestone: *m}
		escrows, err := s.escrows.ListByMilestone(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("listing escrows of milestone %s: %w", m.ID, err)
		}
		for i := range escrows {
			e := &escrows[i]
			if e.Status != escrow.StatusActive {
				continue
			}
			released, err := s.releaseEscrow(ctx, p, e)
			if err != nil {
				if errors.Is(err, fault.ErrConditionMismatch) {
					mismatches = append(mismatches, err)
				}
				outcome.Failed = append(outcome.Failed, EscrowFailure{EscrowID: e.ID, Error: err.Error()})
				continue
			}
			outcome.Released = append(outcome.Released, *released)
		}

		if p.Status == StatusFunded && p.AllMilestonesCompleted() {
			if err := s.complete(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}
	return outcome, errors.Join(mismatches...)
}

// claimable returns milestoneID if it is the next claimable milestone of p.
func claimable(p *Project, milestoneID string) (*Milestone, error) {
	if p.Status.Terminal() {
		return nil, fmt.Errorf("claiming milestone of project %s: %w", p.ID, ErrTerminal)
	}
	if p.Status != StatusActive && p.Status != StatusFunded {
		return nil, fmt.Errorf("claiming milestone of project %s in %s: %w", p.ID, p.Status, ErrNotActive)
	}
	m := p.Milestone(milestoneID)
	if m == nil {
		return nil, fmt.Errorf("milestone %s of project %s: %w", milestoneID, p.ID, ErrMilestoneNotFound)
	}
	if m.Status != MilestonePending {
		return nil, &MilestoneVerificationError{ProjectID: p.ID, MilestoneID: m.ID, Reason: "milestone already completed"}
	}
	if next := p.ClaimableMilestone(); next == nil || next.ID != m.ID {
		return nil, &MilestoneVerificationError{ProjectID: p.ID, MilestoneID: m.ID, Reason: "milestone is not the next claimable one"}
	}
	return m, nil
}

// complete moves a FUNDED project with every milestone done to COMPLETED.
func (s *Service) complete(ctx context.Context, p *Project) error {
	if err := s.transition(p, StatusCompleted); err != nil {
		return err
	}
	if err := s.save(ctx, p); err != nil {
		return err
	}
	s.record(ctx, p, activity.TypeProjectCompleted, "", "", "Project completed", nil)
	s.logger.Info("project completed", "project_id", p.ID)
	return nil
}
