package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stylemint/server/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Authorization is a non-mutating pre-check token proving sufficient
// balance existed at check time. It is not a reservation: the debit
// happens at Charge time, under the same conditional update that
// re-verifies sufficiency.
type Authorization struct {
	AccountID   uuid.UUID
	FeatureType model.FeatureType
	Cost        int64
}

// ServiceInterface defines the ledger service interface.
type ServiceInterface interface {
	// Authorization protocol
	Authorize(ctx context.Context, accountID uuid.UUID, feature model.FeatureType) (*Authorization, error)
	Charge(ctx context.Context, auth *Authorization) error
	Release(ctx context.Context, auth *Authorization) error

	// Webhook-driven mutations
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason string) error
	GrantMonthlyAllocation(ctx context.Context, accountID uuid.UUID, amount int64) error
	ActivateSubscription(ctx context.Context, accountID uuid.UUID, planID, stripeCustomerID, stripeSubscriptionID string) error
	SetStatus(ctx context.Context, accountID uuid.UUID, status model.SubscriptionStatus) error

	// Reads
	GetSubscription(ctx context.Context, accountID uuid.UUID) (*model.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*model.Subscription, error)
	ListPlans(ctx context.Context) ([]*model.Plan, error)
	GetPlan(ctx context.Context, planID string) (*model.Plan, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*model.CreditTransaction, error)

	// WithTx returns a service bound to an existing transaction.
	WithTx(tx *gorm.DB) ServiceInterface
}

// Service implements ledger operations.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new ledger service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) WithTx(tx *gorm.DB) ServiceInterface {
	return &Service{repo: s.repo.WithTx(tx), logger: s.logger}
}

// --- Authorization Protocol ---

// Authorize validates that the account's plan permits the feature and
// that the balance covers its cost. It does not mutate any state; the
// debit is deferred to Charge so failed generations are never billed.
func (s *Service) Authorize(ctx context.Context, accountID uuid.UUID, feature model.FeatureType) (*Authorization, error) {
	cost, ok := Cost(feature)
	if !ok {
		return nil, ErrUnknownFeature
	}

	sub, err := s.repo.GetSubscriptionWithPlan(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return nil, ErrSubscriptionNotActive
	}
	if sub.Plan == nil {
		return nil, ErrPlanNotFound
	}

	if feature == model.FeatureVideo {
		if !sub.Plan.AllowVideo {
			return nil, ErrPlanCapability
		}
		if sub.VideosUsedThisPeriod >= sub.Plan.VideoMonthlyLimit {
			return nil, ErrPlanCapability
		}
	}

	if !sub.HasSufficientCredits(cost) {
		return nil, ErrInsufficientCredits
	}

	return &Authorization{
		AccountID:   accountID,
		FeatureType: feature,
		Cost:        cost,
	}, nil
}

// Charge commits the debit for a previously authorized generation.
// Sufficiency is re-verified under the conditional update, since the
// balance may have shrunk between Authorize and Charge.
func (s *Service) Charge(ctx context.Context, auth *Authorization) error {
	if auth == nil {
		return fmt.Errorf("nil authorization")
	}

	countVideo := auth.FeatureType == model.FeatureVideo
	err := s.repo.Charge(ctx, auth.AccountID, auth.Cost, auth.FeatureType, "generation_charge", countVideo)
	if err != nil {
		return err
	}

	s.logger.Info("credits charged",
		zap.String("account_id", auth.AccountID.String()),
		zap.String("feature", auth.FeatureType.String()),
		zap.Int64("cost", auth.Cost),
	)
	return nil
}

// Release is a no-op: Authorize never mutated state, so failure after
// authorization requires no compensating action. If the debit ever moves
// to Authorize time, this must perform the exact inverse credit.
func (s *Service) Release(ctx context.Context, auth *Authorization) error {
	if auth == nil {
		return nil
	}
	s.logger.Debug("authorization released",
		zap.String("account_id", auth.AccountID.String()),
		zap.String("feature", auth.FeatureType.String()),
	)
	return nil
}

// --- Webhook-Driven Mutations ---

// Credit increments the account balance and appends the paired ledger row.
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := s.repo.Credit(ctx, accountID, amount, "", reason, false); err != nil {
		return err
	}
	s.logger.Info("credits added",
		zap.String("account_id", accountID.String()),
		zap.Int64("amount", amount),
		zap.String("reason", reason),
	)
	return nil
}

// GrantMonthlyAllocation credits the plan's monthly allocation and resets
// the per-period video counter. Invoked from the invoice-paid webhook,
// which fires once per billing period.
func (s *Service) GrantMonthlyAllocation(ctx context.Context, accountID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := s.repo.Credit(ctx, accountID, amount, "", "monthly_allocation", true); err != nil {
		return err
	}
	s.logger.Info("monthly allocation granted",
		zap.String("account_id", accountID.String()),
		zap.Int64("amount", amount),
	)
	return nil
}

// ActivateSubscription creates or reactivates the account's subscription
// after a completed checkout.
func (s *Service) ActivateSubscription(ctx context.Context, accountID uuid.UUID, planID, stripeCustomerID, stripeSubscriptionID string) error {
	sub := &model.Subscription{
		ID:                   uuid.New(),
		AccountID:            accountID,
		PlanID:               planID,
		Status:               model.SubscriptionStatusActive,
		StripeCustomerID:     stripeCustomerID,
		StripeSubscriptionID: stripeSubscriptionID,
	}
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return err
	}
	s.logger.Info("subscription activated",
		zap.String("account_id", accountID.String()),
		zap.String("plan_id", planID),
	)
	return nil
}

// SetStatus transitions the subscription status. Independent of balance.
func (s *Service) SetStatus(ctx context.Context, accountID uuid.UUID, status model.SubscriptionStatus) error {
	return s.repo.SetStatus(ctx, accountID, status)
}

// --- Reads ---

func (s *Service) GetSubscription(ctx context.Context, accountID uuid.UUID) (*model.Subscription, error) {
	return s.repo.GetSubscriptionWithPlan(ctx, accountID)
}

func (s *Service) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*model.Subscription, error) {
	return s.repo.GetSubscriptionByStripeID(ctx, stripeSubID)
}

func (s *Service) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	return s.repo.ListActivePlans(ctx)
}

func (s *Service) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	return s.repo.GetPlan(ctx, planID)
}

func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*model.CreditTransaction, error) {
	return s.repo.ListTransactions(ctx, accountID, limit, offset)
}
