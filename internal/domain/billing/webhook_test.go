package billing

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/clearpix/clearpix-api/internal/domain/credit"
)

type recordingCredits struct {
	grants    []int
	purchased []int
}

func (r *recordingCredits) ChargeAndRun(ctx context.Context, userID uuid.UUID, cost int, jobID uuid.UUID, description string, op credit.Operation) (credit.Balance, error) {
	return credit.Balance{}, nil
}

func (r *recordingCredits) Refund(ctx context.Context, userID uuid.UUID, jobID uuid.UUID, description string) (credit.Balance, error) {
	return credit.Balance{}, nil
}

func (r *recordingCredits) GrantCycleCredits(ctx context.Context, userID uuid.UUID, amount, rolloverCap int, description string) (credit.Balance, error) {
	r.grants = append(r.grants, amount)
	return credit.Balance{SubscriptionCredits: amount}, nil
}

func (r *recordingCredits) AddPurchased(ctx context.Context, userID uuid.UUID, amount int, description string) (credit.Balance, error) {
	r.purchased = append(r.purchased, amount)
	return credit.Balance{PurchasedCredits: amount}, nil
}

func (r *recordingCredits) GetBalance(ctx context.Context, userID uuid.UUID) (credit.Balance, error) {
	return credit.Balance{}, nil
}

func (r *recordingCredits) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]credit.Transaction, error) {
	return nil, nil
}

func rawEvent(t *testing.T, eventType string, payload interface{}) *stripe.Event {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal event payload: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

// boundarySubscriptionEvent is the subscription state after a scheduled
// downgrade executed: new price, new period starting at the boundary.
func boundarySubscriptionEvent(t *testing.T, priceID string, boundary time.Time) *stripe.Event {
	sub := liveSubscription(priceID)
	sub.Items.Data[0].CurrentPeriodStart = boundary.Unix()
	sub.Items.Data[0].CurrentPeriodEnd = boundary.AddDate(0, 1, 0).Unix()
	return rawEvent(t, "customer.subscription.updated", sub)
}

// boundaryCycleInvoiceEvent is the renewal invoice billed for the same
// boundary, carrying the billed price on its line.
func boundaryCycleInvoiceEvent(t *testing.T, priceID string, boundary time.Time) *stripe.Event {
	return rawEvent(t, "invoice.payment_succeeded", map[string]interface{}{
		"subscription":   "sub_123",
		"billing_reason": "subscription_cycle",
		"period_end":     boundary.Unix(),
		"lines": map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"period": map[string]interface{}{
						"start": boundary.Unix(),
						"end":   boundary.AddDate(0, 1, 0).Unix(),
					},
					"price": map[string]interface{}{"id": priceID},
				},
			},
		},
	})
}

// A scheduled downgrade executing at the period boundary makes Stripe
// emit both a subscription update and a cycle invoice, each with its
// own event id. Exactly one grant must land, and it must be the new
// plan's amount, regardless of delivery order.
func TestWebhook_BoundaryDowngradeGrantsOnce(t *testing.T) {
	boundary := testPeriodEnd

	orders := map[string][]string{
		"subscription_first": {"sub", "invoice"},
		"invoice_first":      {"invoice", "sub"},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			userID := uuid.New()
			repo := &stubMirrorRepo{sub: mirrorSubscription(userID, "price_pro")}
			credits := &recordingCredits{}
			users := &stubTierUpdater{}
			h := NewWebhookHandler("whsec_test", repo, testCatalog(), credits, users, nil)

			events := map[string]*stripe.Event{
				"sub":     boundarySubscriptionEvent(t, "price_hobby", boundary),
				"invoice": boundaryCycleInvoiceEvent(t, "price_hobby", boundary),
			}

			req := httptest.NewRequest("POST", "/webhooks/stripe", nil)
			for _, key := range order {
				if err := h.process(req, events[key]); err != nil {
					t.Fatalf("process(%s) error = %v", key, err)
				}
			}

			if len(credits.grants) != 1 {
				t.Fatalf("cycle grants applied: %v, want exactly one", credits.grants)
			}
			if credits.grants[0] != 200 {
				t.Errorf("granted %d credits, want the new plan's 200", credits.grants[0])
			}
			if users.tiers[userID] != "hobby" {
				t.Errorf("plan tier = %s, want hobby", users.tiers[userID])
			}
		})
	}
}

func TestWebhook_PlainRenewalGrantsOnce(t *testing.T) {
	boundary := testPeriodEnd
	userID := uuid.New()
	repo := &stubMirrorRepo{sub: mirrorSubscription(userID, "price_hobby")}
	credits := &recordingCredits{}
	h := NewWebhookHandler("whsec_test", repo, testCatalog(), credits, &stubTierUpdater{}, nil)

	req := httptest.NewRequest("POST", "/webhooks/stripe", nil)

	// Renewal without a plan change: the subscription update syncs
	// state only, the invoice carries the grant.
	if err := h.process(req, boundarySubscriptionEvent(t, "price_hobby", boundary)); err != nil {
		t.Fatalf("process(subscription) error = %v", err)
	}
	if err := h.process(req, boundaryCycleInvoiceEvent(t, "price_hobby", boundary)); err != nil {
		t.Fatalf("process(invoice) error = %v", err)
	}

	if len(credits.grants) != 1 || credits.grants[0] != 200 {
		t.Fatalf("cycle grants applied: %v, want a single grant of 200", credits.grants)
	}
	if repo.syncCalls != 1 {
		t.Errorf("sync calls = %d, want 1", repo.syncCalls)
	}
}

func TestWebhook_CheckoutCompletedCreditsPurchase(t *testing.T) {
	userID := uuid.New()
	repo := &stubMirrorRepo{}
	credits := &recordingCredits{}
	h := NewWebhookHandler("whsec_test", repo, testCatalog(), credits, &stubTierUpdater{}, nil)

	event := rawEvent(t, "checkout.session.completed", map[string]interface{}{
		"mode": "payment",
		"metadata": map[string]string{
			"credits": "500",
			"user_id": userID.String(),
		},
	})

	req := httptest.NewRequest("POST", "/webhooks/stripe", nil)
	if err := h.process(req, event); err != nil {
		t.Fatalf("process(checkout) error = %v", err)
	}

	if len(credits.purchased) != 1 || credits.purchased[0] != 500 {
		t.Fatalf("purchased credits applied: %v, want a single 500", credits.purchased)
	}
	if len(credits.grants) != 0 {
		t.Errorf("cycle grants applied: %v, want none", credits.grants)
	}
}
