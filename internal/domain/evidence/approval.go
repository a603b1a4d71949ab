package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/fault"
	"github.com/rpggio/escrowfund/internal/repository"
)

// Approval is an operator's sign-off on a milestone.
type Approval struct {
	MilestoneID string    `json:"milestone_id"`
	Approver    string    `json:"approver"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ApprovalRepository persists approvals; one per approver and milestone.
type ApprovalRepository interface {
	Add(ctx context.Context, a *Approval) error
	List(ctx context.Context, milestoneID string) ([]Approval, error)
}

// MilestoneLookup reports whether a milestone is stored.
type MilestoneLookup interface {
	MilestoneExists(ctx context.Context, milestoneID string) (bool, error)
}

var (
	// ErrAlreadyApproved indicates the approver already signed off on the milestone.
	ErrAlreadyApproved = errors.New("milestone already approved by this approver")
	// ErrUnknownMilestone indicates an approval names a milestone no project has.
	ErrUnknownMilestone = fmt.Errorf("unknown milestone: %w", fault.ErrNotFound)
)

// ManualApproval accepts a milestone once enough distinct operators approved it.
type ManualApproval struct {
	repo       ApprovalRepository
	milestones MilestoneLookup
	required   int
}

// NewManualApproval creates the verifier. required < 1 is treated as 1.
func NewManualApproval(repo ApprovalRepository, milestones MilestoneLookup, required int) *ManualApproval {
	if required < 1 {
		required = 1
	}
	return &ManualApproval{repo: repo, milestones: milestones, required: required}
}

// Approve records an approval for a stored milestone.
func (v *ManualApproval) Approve(ctx context.Context, milestoneID, approver, note string) (*Approval, error) {
	milestoneID = strings.TrimSpace(milestoneID)
	approver = strings.TrimSpace(approver)
	if milestoneID == "" || approver == "" {
		return nil, fmt.Errorf("milestone and approver are required: %w", ErrMalformed)
	}
	ok, err := v.milestones.MilestoneExists(ctx, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("looking up milestone %s: %w", milestoneID, err)
	}
	if !ok {
		return nil, fmt.Errorf("milestone %s: %w", milestoneID, ErrUnknownMilestone)
	}
	a := &Approval{MilestoneID: milestoneID, Approver: approver, Note: note, CreatedAt: time.Now().UTC()}
	if err := v.repo.Add(ctx, a); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyApproved
		}
		return nil, fmt.Errorf("recording approval: %w", err)
	}
	return a, nil
}

// Approvals lists the approvals recorded for a milestone.
func (v *ManualApproval) Approvals(ctx context.Context, milestoneID string) ([]Approval, error) {
	list, err := v.repo.List(ctx, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("listing approvals: %w", err)
	}
	return list, nil
}

// Verify implements Verifier. The payload is ignored.
func (v *ManualApproval) Verify(ctx context.Context, subject Subject, _ Evidence) (bool, error) {
	list, err := v.Approvals(ctx, subject.MilestoneID)
	if err != nil {
		return false, err
	}
	return len(list) >= v.required, nil
}
