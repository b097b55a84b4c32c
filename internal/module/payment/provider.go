package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/stylemint/server/internal/model"
)

// CheckoutSession is the provider-neutral result of starting a checkout.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutProvider abstracts the payment processor.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, accountID string, plan *model.Plan) (*CheckoutSession, error)
	VerifyWebhook(payload []byte, signature string) (*stripe.Event, error)
}

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// StripeProvider implements CheckoutProvider for Stripe.
type StripeProvider struct {
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeProvider creates a new Stripe provider.
func NewStripeProvider(config *StripeConfig) *StripeProvider {
	stripe.Key = config.APIKey
	return &StripeProvider{
		webhookSecret: config.WebhookSecret,
		successURL:    config.SuccessURL,
		cancelURL:     config.CancelURL,
	}
}

// CreateCheckoutSession starts a subscription checkout for the plan. The
// account and plan identifiers travel in session metadata so the completion
// webhook can link the Stripe objects back to our records.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, accountID string, plan *model.Plan) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
		Metadata: map[string]string{
			"account_id": accountID,
			"plan_id":    plan.ID,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"account_id": accountID,
				"plan_id":    plan.ID,
			},
		},
	}

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// VerifyWebhook checks the signature over the raw payload and returns the
// parsed event. Verification happens before any parsing side effects.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &event, nil
}
