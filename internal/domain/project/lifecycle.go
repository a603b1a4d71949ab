package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
)

// CancelProject cancels a non-terminal project. Every open escrow is cancelled
// with administrative override and its investment refunded before the project
// becomes CANCELLED; if any refund fails the project keeps its status and the
// call can be repeated.
func (s *Service) CancelProject(ctx context.Context, projectID, reason string) (*Project, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by operator"
	}

	var out *Project
	err := s.withLock(ctx, projectID, func(p *Project) error {
		ctx := context.WithoutCancel(ctx)
		if p.Status.Terminal() {
			return fmt.Errorf("cancelling project %s: %w", p.ID, ErrTerminal)
		}
		if !CanTransition(p.Status, StatusCancelled) {
			return fmt.Errorf("cancelling project %s in %s: %w", p.ID, p.Status, ErrNotActive)
		}
		if err := s.unwind(ctx, p, reason); err != nil {
			return err
		}
		if err := s.transition(p, StatusCancelled); err != nil {
			return err
		}
		if err := s.save(ctx, p); err != nil {
			return err
		}
		s.record(ctx, p, activity.TypeProjectCancelled, "", "", "Project cancelled: "+reason, nil)
		s.logger.Info("project cancelled", "project_id", p.ID, "reason", reason)
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// unwind refunds every confirmed investment whose escrow was not released.
// A hold whose creation outcome is still unknown is resolved first; if that
// cannot be done the investment is left for a later pass.
func (s *Service) unwind(ctx context.Context, p *Project, reason string) error {
	var errs []error
	for _, snapshot := range sortedInvestments(p) {
		inv := p.Investments[snapshot.ID]
		if inv.Status != InvestmentConfirmed {
			continue
		}
		escrows, err := s.escrows.ListByInvestment(ctx, inv.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("loading escrows of investment %s: %w", inv.ID, err))
			continue
		}
		released, blocked := false, false
		for i := range escrows {
			e := &escrows[i]
			if e.Status == escrow.StatusPending {
				resolved, err := s.escrows.ResolvePending(ctx, e.ID)
				if err != nil {
					errs = append(errs, fmt.Errorf("resolving escrow %s: %w", e.ID, err))
					blocked = true
					continue
				}
				e = resolved
			}
			switch e.Status {
			case escrow.StatusFinished:
				released = true
			case escrow.StatusActive:
				if _, err := s.cancelEscrow(ctx, p, e, escrow.CancelRequest{Reason: reason, Override: true}); err != nil {
					errs = append(errs, err)
					blocked = true
				}
			}
		}
		if released || blocked {
			continue
		}
		if err := s.refund(ctx, p, inv, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) cancelEscrow(ctx context.Context, p *Project, e *escrow.Escrow, req escrow.CancelRequest) (*escrow.Escrow, error) {
	cancelled, err := s.escrows.Cancel(context.WithoutCancel(ctx), e.ID, req)
	if err != nil {
		s.record(ctx, p, activity.TypeEscrowFailed, e.InvestmentID, e.ID, "Escrow cancel failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("cancelling escrow %s: %w", e.ID, err)
	}
	s.record(ctx, p, activity.TypeEscrowCancelled, e.InvestmentID, e.ID, "Escrow cancelled: "+req.Reason,
		map[string]any{"tx_ref": cancelled.CancelTxRef, "override": req.Override})
	return cancelled, nil
}

// SweepReport summarizes a deadline sweep.
type SweepReport struct {
	FailedProjects      []string `json:"failed_projects"`
	CancelledEscrows    []string `json:"cancelled_escrows"`
	RefundedInvestments []string `json:"refunded_investments"`
	Errors              []string `json:"errors,omitempty"`
}

// SweepDeadlines fails ACTIVE projects whose funding deadline passed short of
// target, and cancels and refunds every escrow whose own deadline passed.
func (s *Service) SweepDeadlines(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	var errs []error
	fail := func(err error) {
		errs = append(errs, err)
		report.Errors = append(report.Errors, err.Error())
	}

	now := s.now().UTC()
	active := StatusActive
	projects, err := s.List(ctx, ListOptions{Status: &active})
	if err != nil {
		return nil, err
	}
	for _, summary := range projects {
		if now.Before(summary.Deadline) {
			continue
		}
		err := s.withLock(ctx, summary.ID, func(p *Project) error {
			ctx := context.WithoutCancel(ctx)
			if p.Status != StatusActive || now.Before(p.Deadline) || !p.CurrentAmount.LessThan(p.TargetAmount) {
				return nil
			}
			before := refundedIDs(p)
			unwindErr := s.unwind(ctx, p, "funding deadline passed")
			report.RefundedInvestments = append(report.RefundedInvestments, newlyRefunded(p, before)...)
			if unwindErr != nil {
				return unwindErr
			}
			if err := s.transition(p, StatusFailed); err != nil {
				return err
			}
			if err := s.save(ctx, p); err != nil {
				return err
			}
			s.record(ctx, p, activity.TypeProjectFailed, "", "", fmt.Sprintf("Funding deadline passed at %s of %s", p.CurrentAmount, p.TargetAmount), nil)
			s.logger.Info("project failed", "project_id", p.ID, "raised", p.CurrentAmount.String(), "target", p.TargetAmount.String())
			report.FailedProjects = append(report.FailedProjects, p.ID)
			return nil
		})
		if err != nil {
			fail(fmt.Errorf("sweeping project %s: %w", summary.ID, err))
		}
	}

	expired, err := s.escrows.ListExpired(ctx, now)
	if err != nil {
		fail(fmt.Errorf("listing expired escrows: %w", err))
		return report, errors.Join(errs...)
	}
	for i := range expired {
		e := &expired[i]
		err := s.withLock(ctx, e.ProjectID, func(p *Project) error {
			ctx := context.WithoutCancel(ctx)
			cancelled, err := s.cancelEscrow(ctx, p, e, escrow.CancelRequest{Reason: "escrow deadline passed"})
			if err != nil {
				return err
			}
			report.CancelledEscrows = append(report.CancelledEscrows, cancelled.ID)
			inv, ok := p.Investments[e.InvestmentID]
			if !ok {
				return fmt.Errorf("escrow %s references unknown investment %s", e.ID, e.InvestmentID)
			}
			if err := s.refund(ctx, p, inv, "escrow deadline passed"); err != nil {
				return err
			}
			report.RefundedInvestments = append(report.RefundedInvestments, inv.ID)
			return nil
		})
		if err != nil {
			fail(fmt.Errorf("sweeping escrow %s: %w", e.ID, err))
		}
	}

	return report, errors.Join(errs...)
}

func refundedIDs(p *Project) map[string]bool {
	out := make(map[string]bool)
	for id, inv := range p.Investments {
		if inv.Status == InvestmentRefunded {
			out[id] = true
		}
	}
	return out
}

func newlyRefunded(p *Project, before map[string]bool) []string {
	var out []string
	for _, inv := range sortedInvestments(p) {
		if inv.Status == InvestmentRefunded && !before[inv.ID] {
			out = append(out, inv.ID)
		}
	}
	return out
}

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	OpenedEscrows       []string `json:"opened_escrows"`
	ReleasedEscrows     []string `json:"released_escrows"`
	RefundedInvestments []string `json:"refunded_investments"`
}

// ReconcileEscrows brings a project's escrows in line with its state: holds are
// opened for settled investments that lack one, escrows of completed milestones
// are released, and investments of failed or cancelled projects are refunded.
func (s *Service) ReconcileEscrows(ctx context.Context, projectID string) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	err := s.withLock(ctx, projectID, func(p *Project) error {
		ctx := context.WithoutCancel(ctx)
		if p.Status == StatusFailed || p.Status == StatusCancelled {
			before := refundedIDs(p)
			err := s.unwind(ctx, p, fmt.Sprintf("project %s", strings.ToLower(string(p.Status))))
			report.RefundedInvestments = newlyRefunded(p, before)
			return err
		}

		var errs []error
		for _, snapshot := range sortedInvestments(p) {
			inv := p.Investments[snapshot.ID]
			if inv.Status != InvestmentConfirmed || inv.EscrowID != "" {
				continue
			}
			e, err := s.openHold(ctx, p, inv)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			report.OpenedEscrows = append(report.OpenedEscrows, e.ID)
			if e.Status == escrow.StatusFinished {
				report.ReleasedEscrows = append(report.ReleasedEscrows, e.ID)
			}
		}

		escrows, err := s.escrows.ListByProject(ctx, p.ID)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("listing escrows: %w", err))...)
		}
		for i := range escrows {
			e := &escrows[i]
			m := p.Milestone(e.MilestoneID)
			if e.Status != escrow.StatusActive || m == nil || m.Status != MilestoneCompleted {
				continue
			}
			released, err := s.releaseEscrow(ctx, p, e)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			report.ReleasedEscrows = append(report.ReleasedEscrows, released.ID)
		}
		return errors.Join(errs...)
	})
	return report, err
}

// Finalize moves a FUNDED project whose milestones are all completed to COMPLETED.
func (s *Service) Finalize(ctx context.Context, projectID string) (*Project, error) {
	var out *Project
	err := s.withLock(ctx, projectID, func(p *Project) error {
		if p.Status == StatusCompleted {
			out = p
			return nil
		}
		if p.Status != StatusFunded {
			if p.Status.Terminal() {
				return fmt.Errorf("finalizing project %s: %w", p.ID, ErrTerminal)
			}
			return fmt.Errorf("finalizing project %s in %s: %w", p.ID, p.Status, ErrNotActive)
		}
		if !p.AllMilestonesCompleted() {
			return fmt.Errorf("finalizing project %s with open milestones: %w", p.ID, ErrNotActive)
		}
		if err := s.complete(context.WithoutCancel(ctx), p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
