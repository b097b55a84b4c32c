package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stylemint/server/internal/model"
	"github.com/stylemint/server/internal/module/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome describes how a webhook event was handled.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
)

// Service processes payment-processor webhooks and starts checkouts.
type Service struct {
	db       *gorm.DB
	ledger   ledger.ServiceInterface
	provider CheckoutProvider
	logger   *zap.Logger
}

// NewService creates a new payment service.
func NewService(db *gorm.DB, ledgerService ledger.ServiceInterface, provider CheckoutProvider, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		ledger:   ledgerService,
		provider: provider,
		logger:   logger,
	}
}

// CreateCheckoutSession starts a subscription checkout for the account.
func (s *Service) CreateCheckoutSession(ctx context.Context, accountID uuid.UUID, planID string) (*CheckoutSession, error) {
	plan, err := s.ledger.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ledger.ErrPlanNotFound
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, accountID.String(), plan)
	if err != nil {
		s.logger.Error("checkout session creation failed",
			zap.String("account_id", accountID.String()),
			zap.String("plan_id", planID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	return sess, nil
}

// ProcessWebhook verifies, deduplicates and applies one webhook event.
//
// The dedup record and the event's effect commit in one database
// transaction: either both happen or neither does. A delivery that races
// or replays an already-recorded event id becomes a no-op and is
// acknowledged, so at-least-once delivery never double-applies credits.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := s.provider.VerifyWebhook(payload, signature)
	if err != nil {
		return "", err
	}

	outcome := OutcomeProcessed
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &model.WebhookEvent{
			EventID:     event.ID,
			Type:        string(event.Type),
			Payload:     string(payload),
			ProcessedAt: time.Now(),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(record)
		if res.Error != nil {
			return fmt.Errorf("record webhook event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			outcome = OutcomeDuplicate
			return nil
		}

		applied, applyErr := s.applyEvent(ctx, tx, event)
		if applyErr == nil {
			outcome = applied
			return nil
		}
		if soft, ok := applyErr.(*softFailure); ok {
			// The event cannot be applied and retrying will not help.
			// Keep the dedup row, note the reason, acknowledge.
			outcome = OutcomeSkipped
			s.logger.Warn("webhook event skipped",
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.String("reason", soft.reason),
			)
			return tx.Model(record).Update("process_error", soft.reason).Error
		}
		return applyErr
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeDuplicate {
		s.logger.Info("webhook event already processed", zap.String("event_id", event.ID))
	}
	return outcome, nil
}

// softFailure marks an event that is acknowledged but not applied, such
// as a payload referencing no known subscription. Redelivery would fail
// identically, so the dedup row is kept and the delivery succeeds.
type softFailure struct {
	reason string
}

func (e *softFailure) Error() string { return e.reason }

func softFailuref(format string, args ...any) error {
	return &softFailure{reason: fmt.Sprintf(format, args...)}
}

func (s *Service) applyEvent(ctx context.Context, tx *gorm.DB, event *stripe.Event) (Outcome, error) {
	switch event.Type {
	case "checkout.session.completed":
		return OutcomeProcessed, s.handleCheckoutCompleted(ctx, tx, event)
	case "invoice.paid":
		return OutcomeProcessed, s.handleInvoicePaid(ctx, tx, event)
	case "customer.subscription.deleted":
		return OutcomeProcessed, s.handleSubscriptionDeleted(ctx, tx, event)
	default:
		// Unknown types are acknowledged so the processor stops
		// redelivering them; the dedup row still records the sighting.
		s.logger.Debug("unhandled webhook event type", zap.String("type", string(event.Type)))
		return OutcomeIgnored, nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	accountIDRaw := sess.Metadata["account_id"]
	planID := sess.Metadata["plan_id"]
	if accountIDRaw == "" || planID == "" {
		return softFailuref("checkout session %s missing account or plan metadata", sess.ID)
	}
	accountID, err := uuid.Parse(accountIDRaw)
	if err != nil {
		return softFailuref("checkout session %s has malformed account id %q", sess.ID, accountIDRaw)
	}

	var customerID, subscriptionID string
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		subscriptionID = sess.Subscription.ID
	}

	svc := s.ledger.WithTx(tx)
	if _, err := svc.GetPlan(ctx, planID); err != nil {
		return softFailuref("checkout session %s references unknown plan %q", sess.ID, planID)
	}
	if err := svc.ActivateSubscription(ctx, accountID, planID, customerID, subscriptionID); err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}

	s.logger.Info("checkout completed",
		zap.String("account_id", accountID.String()),
		zap.String("plan_id", planID),
	)
	return nil
}

func (s *Service) handleInvoicePaid(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return softFailuref("invoice %s has no subscription reference", inv.ID)
	}

	svc := s.ledger.WithTx(tx)
	sub, err := svc.GetSubscriptionByStripeID(ctx, inv.Subscription.ID)
	if err != nil {
		return softFailuref("invoice %s references unknown subscription %q", inv.ID, inv.Subscription.ID)
	}
	plan, err := svc.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return softFailuref("invoice %s subscription has unknown plan %q", inv.ID, sub.PlanID)
	}

	if err := svc.GrantMonthlyAllocation(ctx, sub.AccountID, plan.MonthlyCredits); err != nil {
		return fmt.Errorf("grant monthly allocation: %w", err)
	}

	s.logger.Info("invoice paid, credits granted",
		zap.String("account_id", sub.AccountID.String()),
		zap.Int64("credits", plan.MonthlyCredits),
	)
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	svc := s.ledger.WithTx(tx)
	sub, err := svc.GetSubscriptionByStripeID(ctx, stripeSub.ID)
	if err != nil {
		return softFailuref("deleted subscription %q is not known", stripeSub.ID)
	}
	if err := svc.SetStatus(ctx, sub.AccountID, model.SubscriptionStatusCanceled); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	s.logger.Info("subscription canceled",
		zap.String("account_id", sub.AccountID.String()),
	)
	return nil
}
