package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/events"
	"github.com/rpggio/escrowfund/internal/lock"
	"github.com/rpggio/escrowfund/internal/repository"
	"github.com/shopspring/decimal"
)

// DefaultHold is how long past the project deadline an escrow stays open when
// its milestone has no deadline of its own.
const DefaultHold = 90 * 24 * time.Hour

// Config holds the economic parameters of the ledger.
type Config struct {
	Fees        FeeConfig
	Split       RevenueSplit
	DefaultHold time.Duration
}

// DefaultConfig returns the standard fee schedule and revenue split.
func DefaultConfig() Config {
	return Config{Fees: DefaultFees(), Split: DefaultSplit(), DefaultHold: DefaultHold}
}

// Validate checks the fee schedule and revenue split.
func (c Config) Validate() error {
	if err := c.Fees.Validate(); err != nil {
		return err
	}
	return c.Split.Validate()
}

// Service is the project ledger: the project, milestone and investment state
// machine. Mutations of one project are serialized through the Locker.
type Service struct {
	repo       Repository
	gateway    ledger.Gateway
	wallets    Wallets
	escrows    Escrows
	settlement Settlement
	verifier   Verifier
	locker     lock.Locker
	activities Activities
	events     events.Publisher
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a project service.
func NewService(deps Dependencies, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultHold <= 0 {
		cfg.DefaultHold = DefaultHold
	}
	s := &Service{
		repo:       deps.Repo,
		gateway:    deps.Gateway,
		wallets:    deps.Wallets,
		escrows:    deps.Escrows,
		settlement: deps.Settlement,
		verifier:   deps.Verifier,
		locker:     deps.Locker,
		activities: deps.Activities,
		events:     deps.Events,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MilestoneInput describes one milestone of a new project.
type MilestoneInput struct {
	Title        string
	Description  string
	TargetAmount decimal.Decimal
	Deadline     *time.Time
}

// CreateRequest defines project creation inputs.
type CreateRequest struct {
	Name          string
	Description   string
	TargetAmount  decimal.Decimal
	Deadline      time.Time
	CreatorWallet string
	TokenCode     string
	TotalTokens   int64
	Milestones    []MilestoneInput
}

func (s *Service) validateCreate(req CreateRequest, now time.Time) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(req.CreatorWallet) == "" {
		return fmt.Errorf("creator wallet is required: %w", ErrInvalidInput)
	}
	if !req.TargetAmount.IsPositive() {
		return fmt.Errorf("target amount must be positive: %w", ErrInvalidInput)
	}
	if !req.Deadline.After(now) {
		return fmt.Errorf("deadline must be in the future: %w", ErrInvalidInput)
	}
	if req.TotalTokens <= 0 {
		return fmt.Errorf("total tokens must be positive: %w", ErrInvalidInput)
	}
	if req.TotalTokens-s.cfg.Fees.ReservedTokens(req.TotalTokens) <= 0 {
		return fmt.Errorf("no tokens left for investors after the platform reserve: %w", ErrInvalidInput)
	}
	if !ledger.ValidTokenCode(req.TokenCode) {
		return fmt.Errorf("token code %q must be 3-12 upper-case letters or digits: %w", req.TokenCode, ErrInvalidInput)
	}
	if len(req.Milestones) == 0 {
		return fmt.Errorf("at least one milestone is required: %w", ErrInvalidInput)
	}

	sum := decimal.Zero
	for i, m := range req.Milestones {
		if strings.TrimSpace(m.Title) == "" {
			return fmt.Errorf("milestone %d: title is required: %w", i, ErrInvalidInput)
		}
		if !m.TargetAmount.IsPositive() {
			return fmt.Errorf("milestone %d: target amount must be positive: %w", i, ErrInvalidInput)
		}
		if m.Deadline != nil {
			if !m.Deadline.After(now) {
				return fmt.Errorf("milestone %d: deadline must be in the future: %w", i, ErrInvalidInput)
			}
			if m.Deadline.After(req.Deadline) {
				return fmt.Errorf("milestone %d: deadline after project deadline: %w", i, ErrInvalidInput)
			}
		}
		sum = sum.Add(m.TargetAmount)
	}
	if sum.GreaterThan(req.TargetAmount) {
		return fmt.Errorf("milestone targets %s exceed project target %s: %w", sum, req.TargetAmount, ErrInvalidInput)
	}
	return nil
}

// CreateProject validates req, provisions the project wallet, defines the
// project token on the ledger and records the project as ACTIVE. Nothing is
// persisted when the wallet or token definition fails.
func (s *Service) CreateProject(ctx context.Context, req CreateRequest) (*Project, error) {
	now := s.now().UTC()
	if err := s.validateCreate(req, now); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	w, err := s.wallets.CreateProjectWallet(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("creating wallet for project %s: %w", id, err)
	}
	signer, err := s.wallets.ProjectSigner(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolving signer of project %s: %w", id, err)
	}

	tx, err := ledger.NewTokenDefinition(w.Address, req.TokenCode, req.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}
	res, err := s.gateway.Submit(ctx, tx, signer)
	if err != nil {
		return nil, fmt.Errorf("defining token %s for project %s: %w", req.TokenCode, id, err)
	}
	if !res.Accepted {
		return nil, fmt.Errorf("defining token %s for project %s: %w", req.TokenCode, id, ledger.Reject(tx, res))
	}

	p := &Project{
		ID:                     id,
		Name:                   strings.TrimSpace(req.Name),
		Description:            req.Description,
		TargetAmount:           req.TargetAmount,
		CurrentAmount:          decimal.Zero,
		Status:                 StatusDraft,
		CreatorWallet:          req.CreatorWallet,
		ProjectWallet:          w.Address,
		TokenDefinitionID:      res.ObjectRef,
		TokenCode:              req.TokenCode,
		TotalTokenSupply:       req.TotalTokens,
		ReservedPlatformTokens: s.cfg.Fees.ReservedTokens(req.TotalTokens),
		Investments:            make(map[string]*Investment),
		Deadline:               req.Deadline.UTC(),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	for i, in := range req.Milestones {
		m := Milestone{
			ID:           uuid.NewString(),
			ProjectID:    id,
			Position:     i,
			Title:        strings.TrimSpace(in.Title),
			Description:  in.Description,
			TargetAmount: in.TargetAmount,
			Status:       MilestonePending,
		}
		if in.Deadline != nil {
			d := in.Deadline.UTC()
			m.Deadline = &d
		}
		p.Milestones = append(p.Milestones, m)
	}
	if err := s.transition(p, StatusActive); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.logger.Error("token defined but project not recorded", "project_id", id, "token", req.TokenCode, "error", err)
		return nil, fmt.Errorf("recording project %s: %w", id, err)
	}

	s.record(ctx, p, activity.TypeProjectCreated, "", "", fmt.Sprintf("Project %q created with target %s", p.Name, p.TargetAmount),
		map[string]any{"target": p.TargetAmount.String(), "token": p.TokenCode, "supply": p.TotalTokenSupply})
	s.logger.Info("project created", "project_id", id, "target", p.TargetAmount.String(), "token", p.TokenCode)
	return p, nil
}

// Get fetches a project by ID with its milestones and investments.
func (s *Service) Get(ctx context.Context, id string) (*Project, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// List returns project summaries.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]ProjectSummary, error) {
	list, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return list, nil
}

// ListInvestments returns a project's investments, oldest first.
func (s *Service) ListInvestments(ctx context.Context, projectID string) ([]Investment, error) {
	p, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return sortedInvestments(p), nil
}

// Quote previews the fee and token breakdown of an investment.
func (s *Service) Quote(ctx context.Context, projectID string, principal decimal.Decimal) (Quote, error) {
	p, err := s.Get(ctx, projectID)
	if err != nil {
		return Quote{}, err
	}
	return QuoteInvestment(principal, p.TargetAmount, p.TotalTokenSupply, s.cfg.Fees.Rate())
}

// transition moves p to status to, enforcing the state machine.
func (s *Service) transition(p *Project, to Status) error {
	if p.Status == to {
		return nil
	}
	if p.Status.Terminal() {
		return fmt.Errorf("project %s is %s: %w", p.ID, p.Status, ErrTerminal)
	}
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("project %s cannot move from %s to %s: %w", p.ID, p.Status, to, ErrNotActive)
	}
	p.Status = to
	return nil
}

// withLock runs fn holding the project's lock. fn receives a freshly loaded project.
func (s *Service) withLock(ctx context.Context, projectID string, fn func(p *Project) error) error {
	unlock, err := s.locker.Lock(ctx, "project:"+projectID)
	if err != nil {
		return fmt.Errorf("locking project %s: %w", projectID, err)
	}
	defer unlock()

	p, err := s.Get(ctx, projectID)
	if err != nil {
		return err
	}
	return fn(p)
}

// save persists p guarded by its current version.
func (s *Service) save(ctx context.Context, p *Project) error {
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p, p.Version); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("saving project %s: %w", p.ID, ErrConcurrentUpdate)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("saving project %s: %w", p.ID, err)
	}
	return nil
}

// record writes an activity entry and publishes the matching event. Failures
// are logged; the state change they describe has already committed.
func (s *Service) record(ctx context.Context, p *Project, typ activity.ActivityType, investmentID, escrowID, summary string, details map[string]any) {
	ctx = context.WithoutCancel(ctx)
	if s.activities != nil {
		entry := &activity.ActivityEntry{
			ProjectID:    p.ID,
			InvestmentID: activity.Ref(investmentID),
			EscrowID:     activity.Ref(escrowID),
			ActivityType: typ,
			Summary:      summary,
			Details:      activity.Details(details),
		}
		if err := s.activities.Log(ctx, entry); err != nil {
			s.logger.Warn("failed to log activity", "project_id", p.ID, "type", typ, "error", err)
		}
	}

	e := events.New(string(typ), p.ID, summary)
	e.InvestmentID = investmentID
	e.EscrowID = escrowID
	e.Data = details
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", "project_id", p.ID, "type", typ, "error", err)
	}
}
