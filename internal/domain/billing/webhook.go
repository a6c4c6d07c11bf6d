package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v83"

	"github.com/clearpix/clearpix-api/internal/domain/credit"
	"github.com/clearpix/clearpix-api/internal/pkg/response"
)

const maxWebhookBody = 65536

// WebhookHandler processes Stripe notifications: it is the single
// place credits are granted for plan cycles, keeping the orchestrator
// itself free of synchronous crediting.
type WebhookHandler struct {
	secret   string
	repo     Repository
	catalog  *Catalog
	credits  credit.Service
	users    TierUpdater
	notifier Notifier
}

// Notifier sends user-facing emails for billing events. May be nil.
type Notifier interface {
	PlanChanged(ctx context.Context, userID uuid.UUID, planName string, creditsPerCycle int) error
	SubscriptionCanceled(ctx context.Context, userID uuid.UUID) error
}

func NewWebhookHandler(secret string, repo Repository, catalog *Catalog, credits credit.Service, users TierUpdater, notifier Notifier) *WebhookHandler {
	return &WebhookHandler{
		secret:   secret,
		repo:     repo,
		catalog:  catalog,
		credits:  credits,
		users:    users,
		notifier: notifier,
	}
}

// Handle verifies the signature, claims the event id, and dispatches.
// Events are processed at most once: a redelivered id is acknowledged
// without side effects, so a grant can never be applied twice.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Failed to read request body")
		return
	}

	event, err := stripe.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		log.Warn().Err(err).Msg("Webhook signature verification failed")
		response.BadRequest(w, "Invalid signature")
		return
	}

	first, err := h.repo.MarkEventProcessed(r.Context(), event.ID)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to claim webhook event")
		response.InternalError(w)
		return
	}
	if !first {
		response.OK(w, map[string]string{"status": "already_processed"})
		return
	}

	if err := h.process(r, &event); err != nil {
		// The event id is already claimed; log for replay tooling
		// rather than letting a redelivery double-apply.
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("Webhook processing failed")
	}

	response.OK(w, map[string]string{"status": "processed"})
}

func (h *WebhookHandler) process(r *http.Request, event *stripe.Event) error {
	switch event.Type {
	case "customer.subscription.updated":
		return h.handleSubscriptionUpdated(r, event)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(r, event)
	case "invoice.payment_succeeded":
		return h.handleInvoicePaid(r, event)
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(r, event)
	default:
		log.Debug().Str("event_type", string(event.Type)).Msg("Ignoring webhook event")
		return nil
	}
}

// handleSubscriptionUpdated syncs the mirror and, when the price
// changed (an executed schedule or an upgrade), grants the new plan's
// cycle credits with bounded rollover.
func (h *WebhookHandler) handleSubscriptionUpdated(r *http.Request, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	mirror, err := h.repo.GetByStripeID(r.Context(), sub.ID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			// Subscription created outside this service; the
			// checkout flow owns mirror creation.
			log.Debug().Str("stripe_subscription_id", sub.ID).Msg("No mirror for subscription, skipping")
			return nil
		}
		return err
	}

	priceID := currentPriceID(&sub)
	periodStart, periodEnd := periodBounds(&sub)
	planChanged := priceID != "" && priceID != mirror.PriceID

	if err := h.repo.SyncState(r.Context(), sub.ID, priceID, Status(sub.Status), periodStart, periodEnd); err != nil {
		return err
	}

	if !planChanged {
		return nil
	}

	plan, ok := h.catalog.ByPriceID(priceID)
	if !ok {
		log.Warn().Str("price_id", priceID).Msg("Subscription moved to a price outside the catalog")
		return nil
	}

	// The renewal invoice for the same boundary carries its own event
	// id, so grants dedup on the period claim, not the event log.
	first, err := h.repo.ClaimCycleGrant(r.Context(), mirror.UserID, priceID, periodStart)
	if err != nil {
		return err
	}
	if first {
		if _, err := h.credits.GrantCycleCredits(r.Context(), mirror.UserID, plan.CreditsPerCycle, plan.RolloverCap(), "plan change: "+plan.Name); err != nil {
			return fmt.Errorf("grant cycle credits: %w", err)
		}
	} else {
		log.Debug().
			Str("user_id", mirror.UserID.String()).
			Str("price_id", priceID).
			Msg("Cycle credits already granted for this period")
	}

	if err := h.users.UpdatePlanTier(r.Context(), mirror.UserID, plan.Key); err != nil {
		log.Error().Err(err).Str("user_id", mirror.UserID.String()).Msg("Failed to update plan tier label")
	}

	if h.notifier != nil {
		if err := h.notifier.PlanChanged(r.Context(), mirror.UserID, plan.Name, plan.CreditsPerCycle); err != nil {
			log.Warn().Err(err).Str("user_id", mirror.UserID.String()).Msg("Failed to send plan change email")
		}
	}

	return nil
}

func (h *WebhookHandler) handleSubscriptionDeleted(r *http.Request, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	mirror, err := h.repo.GetByStripeID(r.Context(), sub.ID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			return nil
		}
		return err
	}

	periodStart, periodEnd := periodBounds(&sub)
	if err := h.repo.SyncState(r.Context(), sub.ID, mirror.PriceID, StatusCanceled, periodStart, periodEnd); err != nil {
		return err
	}

	if err := h.users.UpdatePlanTier(r.Context(), mirror.UserID, "free"); err != nil {
		log.Error().Err(err).Str("user_id", mirror.UserID.String()).Msg("Failed to reset plan tier label")
	}

	if h.notifier != nil {
		if err := h.notifier.SubscriptionCanceled(r.Context(), mirror.UserID); err != nil {
			log.Warn().Err(err).Str("user_id", mirror.UserID.String()).Msg("Failed to send cancellation email")
		}
	}

	return nil
}

// handleCheckoutCompleted credits one-time credit-pack purchases into
// the never-expiring purchased pool. The pack size and buyer travel in
// the checkout session's metadata, set when the session is created.
func (h *WebhookHandler) handleCheckoutCompleted(r *http.Request, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	if session.Mode != stripe.CheckoutSessionModePayment {
		// Subscription checkouts are credited via the
		// subscription-updated path.
		return nil
	}

	rawCredits, ok := session.Metadata["credits"]
	if !ok {
		return nil
	}
	amount, err := strconv.Atoi(rawCredits)
	if err != nil || amount <= 0 {
		return fmt.Errorf("invalid credits metadata %q", rawCredits)
	}

	rawUser := session.Metadata["user_id"]
	if rawUser == "" {
		rawUser = session.ClientReferenceID
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return fmt.Errorf("invalid user reference %q: %w", rawUser, err)
	}

	if _, err := h.credits.AddPurchased(r.Context(), userID, amount, fmt.Sprintf("credit pack purchase (%d credits)", amount)); err != nil {
		return fmt.Errorf("add purchased credits: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Int("credits", amount).
		Msg("Credited one-time purchase")
	return nil
}

// handleInvoicePaid grants cycle credits on renewal invoices. The
// subscription reference moves around between Stripe API versions, so
// it is dug out of the raw payload.
func (h *WebhookHandler) handleInvoicePaid(r *http.Request, event *stripe.Event) error {
	var rawData map[string]interface{}
	if err := json.Unmarshal(event.Data.Raw, &rawData); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	subscriptionID := ""
	switch v := rawData["subscription"].(type) {
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			subscriptionID = id
		}
	case string:
		subscriptionID = v
	}
	if subscriptionID == "" {
		// Not a subscription invoice.
		return nil
	}

	if reason, ok := rawData["billing_reason"].(string); ok && reason != "subscription_cycle" {
		// Creation and update invoices are credited via the
		// subscription-updated path.
		return nil
	}

	mirror, err := h.repo.GetByStripeID(r.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			return nil
		}
		return err
	}

	// The mirror can lag when a scheduled change executed at this
	// boundary and its subscription-updated event has not landed yet.
	// Prefer the price actually billed on the invoice line.
	priceID, periodStart := invoiceCycleInfo(rawData)
	if _, ok := h.catalog.ByPriceID(priceID); !ok {
		priceID = mirror.PriceID
	}
	plan, ok := h.catalog.ByPriceID(priceID)
	if !ok {
		return nil
	}
	if periodStart.IsZero() {
		log.Warn().
			Str("subscription_id", subscriptionID).
			Msg("Cycle invoice without a readable period, skipping grant")
		return nil
	}

	first, err := h.repo.ClaimCycleGrant(r.Context(), mirror.UserID, priceID, periodStart)
	if err != nil {
		return err
	}
	if !first {
		log.Debug().
			Str("user_id", mirror.UserID.String()).
			Str("price_id", priceID).
			Msg("Cycle credits already granted for this period")
		return nil
	}

	if _, err := h.credits.GrantCycleCredits(r.Context(), mirror.UserID, plan.CreditsPerCycle, plan.RolloverCap(), "cycle renewal: "+plan.Name); err != nil {
		return fmt.Errorf("grant cycle credits: %w", err)
	}

	return nil
}

// invoiceCycleInfo digs the billed price and the period start out of a
// raw invoice payload. The line shapes move between Stripe API
// versions, so every step tolerates absence.
func invoiceCycleInfo(raw map[string]interface{}) (priceID string, periodStart time.Time) {
	lines, _ := raw["lines"].(map[string]interface{})
	data, _ := lines["data"].([]interface{})
	if len(data) > 0 {
		line, _ := data[0].(map[string]interface{})
		if period, ok := line["period"].(map[string]interface{}); ok {
			if start, ok := period["start"].(float64); ok && start > 0 {
				periodStart = time.Unix(int64(start), 0).UTC()
			}
		}
		if price, ok := line["price"].(map[string]interface{}); ok {
			priceID, _ = price["id"].(string)
		}
		if priceID == "" {
			if pricing, ok := line["pricing"].(map[string]interface{}); ok {
				if details, ok := pricing["price_details"].(map[string]interface{}); ok {
					priceID, _ = details["price"].(string)
				}
			}
		}
	}
	if periodStart.IsZero() {
		// For a cycle invoice the top-level period ends at the
		// boundary the new period starts on.
		if end, ok := raw["period_end"].(float64); ok && end > 0 {
			periodStart = time.Unix(int64(end), 0).UTC()
		}
	}
	return priceID, periodStart
}
