package services

import (
	"errors"
	"os"
	"time"

	"villaops_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
	"gorm.io/gorm"
)

type StripeService struct {
	db            *gorm.DB
	webhookSecret string
}

func NewStripeService(db *gorm.DB, secretKey, webhookSecret string) *StripeService {
	stripe.Key = secretKey
	return &StripeService{db: db, webhookSecret: webhookSecret}
}

// CreateCheckoutSession starts a subscription checkout for a plan upgrade.
// The user id travels as the client reference so the webhook can link the
// resulting subscription back to its owner.
func (s *StripeService) CreateCheckoutSession(userID uuid.UUID, planName string) (*stripe.CheckoutSession, error) {
	plan := GetPlan(planName)
	if plan.StripePriceID == "" {
		return nil, errors.New("plan is not purchasable")
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(os.Getenv("BILLING_SUCCESS_URL")),
		CancelURL:         stripe.String(os.Getenv("BILLING_CANCEL_URL")),
		ClientReferenceID: stripe.String(userID.String()),
		Metadata: map[string]string{
			"plan": plan.Name,
		},
	}

	return session.New(params)
}

func (s *StripeService) HandleWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signatureHeader, s.webhookSecret)
}

// ApplyCheckoutCompleted records the purchased plan on the user's
// subscription row after a successful checkout.
func (s *StripeService) ApplyCheckoutCompleted(checkout *stripe.CheckoutSession) error {
	userID, err := uuid.Parse(checkout.ClientReferenceID)
	if err != nil {
		return err
	}
	plan := checkout.Metadata["plan"]
	if plan == "" {
		return errors.New("checkout session carries no plan metadata")
	}

	updates := map[string]interface{}{
		"plan":   plan,
		"status": "active",
	}
	if checkout.Customer != nil {
		updates["stripe_customer_id"] = checkout.Customer.ID
	}
	if checkout.Subscription != nil {
		updates["stripe_subscription_id"] = checkout.Subscription.ID
	}

	sub := models.Subscription{UserID: userID, Plan: plan, Status: "active"}
	result := s.db.Where(models.Subscription{UserID: userID}).Assign(updates).FirstOrCreate(&sub)
	if result.Error != nil {
		return result.Error
	}

	log.Info().Str("userID", userID.String()).Str("plan", plan).Msg("Applied checkout to subscription")
	return nil
}

// ApplySubscriptionUpdated syncs period bounds and status from Stripe.
func (s *StripeService) ApplySubscriptionUpdated(stripeSub *stripe.Subscription) error {
	periodStart := time.Unix(stripeSub.CurrentPeriodStart, 0).UTC()
	periodEnd := time.Unix(stripeSub.CurrentPeriodEnd, 0).UTC()

	result := s.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSub.ID).
		Updates(map[string]interface{}{
			"status":               string(stripeSub.Status),
			"current_period_start": periodStart,
			"current_period_end":   periodEnd,
			"cancel_at_period_end": stripeSub.CancelAtPeriodEnd,
		})
	return result.Error
}

// ApplySubscriptionDeleted downgrades the owner to the free tier.
func (s *StripeService) ApplySubscriptionDeleted(stripeSub *stripe.Subscription) error {
	result := s.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSub.ID).
		Updates(map[string]interface{}{
			"plan":                   "free",
			"status":                 "active",
			"stripe_subscription_id": "",
			"current_period_start":   nil,
			"current_period_end":     nil,
			"cancel_at_period_end":   false,
		})
	if result.Error == nil {
		log.Info().Str("stripeSubscriptionID", stripeSub.ID).Msg("Downgraded subscription to free tier")
	}
	return result.Error
}
