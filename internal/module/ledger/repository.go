package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stylemint/server/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for ledger data access.
//
// Balance mutations are single-row conditional updates paired with a
// credit_transactions insert inside one database transaction. The balance
// is never read into application memory and written back.
type Repository interface {
	// WithTx returns a Repository bound to an existing transaction,
	// so callers can fold ledger writes into a larger atomic unit.
	WithTx(tx *gorm.DB) Repository

	// Plan operations
	ListActivePlans(ctx context.Context) ([]*model.Plan, error)
	GetPlan(ctx context.Context, id string) (*model.Plan, error)

	// Subscription operations
	GetSubscription(ctx context.Context, accountID uuid.UUID) (*model.Subscription, error)
	GetSubscriptionWithPlan(ctx context.Context, accountID uuid.UUID) (*model.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*model.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *model.Subscription) error
	SetStatus(ctx context.Context, accountID uuid.UUID, status model.SubscriptionStatus) error

	// Balance mutations
	Charge(ctx context.Context, accountID uuid.UUID, amount int64, feature model.FeatureType, description string, countVideo bool) error
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, feature model.FeatureType, description string, resetVideoUsage bool) error

	// Transaction log
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*model.CreditTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new ledger repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

// --- Plan Operations ---

func (r *repository) ListActivePlans(ctx context.Context) ([]*model.Plan, error) {
	var plans []*model.Plan
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("display_order ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}
	return plans, nil
}

func (r *repository) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	var plan model.Plan
	err := r.db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &plan, nil
}

// --- Subscription Operations ---

func (r *repository) GetSubscription(ctx context.Context, accountID uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (r *repository) GetSubscriptionWithPlan(ctx context.Context, accountID uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("account_id = ?", accountID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription with plan: %w", err)
	}
	return &sub, nil
}

func (r *repository) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return &sub, nil
}

func (r *repository) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_id", "status", "stripe_customer_id", "stripe_subscription_id", "updated_at",
			}),
		}).
		Create(sub).Error
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (r *repository) SetStatus(ctx context.Context, accountID uuid.UUID, status model.SubscriptionStatus) error {
	res := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("set subscription status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// --- Balance Mutations ---

// Charge decrements the balance by amount, guarded by a conditional
// UPDATE so the decrement can never drive the balance negative, and
// appends the matching ledger row in the same transaction.
func (r *repository) Charge(ctx context.Context, accountID uuid.UUID, amount int64, feature model.FeatureType, description string, countVideo bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"credit_balance": gorm.Expr("credit_balance - ?", amount),
			"updated_at":     time.Now(),
		}
		if countVideo {
			updates["videos_used_this_period"] = gorm.Expr("videos_used_this_period + 1")
		}

		res := tx.Model(&model.Subscription{}).
			Where("account_id = ? AND credit_balance >= ?", accountID, amount).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("deduct balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.Subscription{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
				return fmt.Errorf("check subscription: %w", err)
			}
			if count == 0 {
				return ErrSubscriptionNotFound
			}
			return ErrInsufficientCredits
		}

		txn := &model.CreditTransaction{
			AccountID:   accountID,
			Amount:      -amount,
			FeatureType: feature,
			Description: description,
		}
		if err := tx.Create(txn).Error; err != nil {
			return fmt.Errorf("append charge transaction: %w", err)
		}
		return nil
	})
}

// Credit increments the balance by amount and appends the matching
// ledger row in the same transaction.
func (r *repository) Credit(ctx context.Context, accountID uuid.UUID, amount int64, feature model.FeatureType, description string, resetVideoUsage bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"credit_balance": gorm.Expr("credit_balance + ?", amount),
			"updated_at":     time.Now(),
		}
		if resetVideoUsage {
			updates["videos_used_this_period"] = 0
		}

		res := tx.Model(&model.Subscription{}).
			Where("account_id = ?", accountID).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("add balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSubscriptionNotFound
		}

		txn := &model.CreditTransaction{
			AccountID:   accountID,
			Amount:      amount,
			FeatureType: feature,
			Description: description,
		}
		if err := tx.Create(txn).Error; err != nil {
			return fmt.Errorf("append credit transaction: %w", err)
		}
		return nil
	})
}

// --- Transaction Log ---

func (r *repository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*model.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var txns []*model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}
