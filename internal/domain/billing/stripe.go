package billing

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// StripeClient is the narrow slice of the Stripe API the orchestrator
// uses. Tests substitute a fake.
type StripeClient interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionUpdateParams) (*stripe.Subscription, error)
	PreviewInvoice(ctx context.Context, params *stripe.InvoiceCreatePreviewParams) (*stripe.Invoice, error)
	CreateSchedule(ctx context.Context, params *stripe.SubscriptionScheduleCreateParams) (*stripe.SubscriptionSchedule, error)
	UpdateSchedule(ctx context.Context, id string, params *stripe.SubscriptionScheduleUpdateParams) (*stripe.SubscriptionSchedule, error)
}

type stripeAPI struct {
	sc *stripe.Client
}

// NewStripeClient wraps the official client behind StripeClient.
func NewStripeClient(apiKey string) StripeClient {
	return &stripeAPI{sc: stripe.NewClient(apiKey)}
}

func (a *stripeAPI) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return a.sc.V1Subscriptions.Retrieve(ctx, id, nil)
}

func (a *stripeAPI) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionUpdateParams) (*stripe.Subscription, error) {
	return a.sc.V1Subscriptions.Update(ctx, id, params)
}

func (a *stripeAPI) PreviewInvoice(ctx context.Context, params *stripe.InvoiceCreatePreviewParams) (*stripe.Invoice, error) {
	return a.sc.V1Invoices.CreatePreview(ctx, params)
}

func (a *stripeAPI) CreateSchedule(ctx context.Context, params *stripe.SubscriptionScheduleCreateParams) (*stripe.SubscriptionSchedule, error) {
	return a.sc.V1SubscriptionSchedules.Create(ctx, params)
}

func (a *stripeAPI) UpdateSchedule(ctx context.Context, id string, params *stripe.SubscriptionScheduleUpdateParams) (*stripe.SubscriptionSchedule, error) {
	return a.sc.V1SubscriptionSchedules.Update(ctx, id, params)
}

// periodBounds reads the current billing period from a Stripe
// subscription. Recent Stripe API versions moved the period fields
// onto the subscription item; when they're absent the bounds are
// recomputed from the billing cycle anchor. All vendor shape
// assumptions live here.
func periodBounds(sub *stripe.Subscription) (time.Time, time.Time) {
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart > 0 && item.CurrentPeriodEnd > 0 {
			return time.Unix(item.CurrentPeriodStart, 0).UTC(), time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}

	start := time.Unix(sub.BillingCycleAnchor, 0).UTC()
	return start, start.AddDate(0, 1, 0)
}

// currentItem returns the first subscription item, which this service
// treats as the plan item (one price per subscription).
func currentItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func currentPriceID(sub *stripe.Subscription) string {
	item := currentItem(sub)
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

// wrapProviderError converts a Stripe failure into a ProviderError,
// keeping the vendor code for support diagnosis.
func wrapProviderError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderError{
			Code:    string(stripeErr.Code),
			Message: stripeErr.Msg,
			Err:     err,
		}
	}
	return &ProviderError{Message: err.Error(), Err: err}
}
