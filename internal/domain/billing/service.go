package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v83"
)

// TierUpdater writes the plan-tier label used for feature gating.
type TierUpdater interface {
	UpdatePlanTier(ctx context.Context, userID uuid.UUID, tier string) error
}

// Service orchestrates plan changes against Stripe, keeping the local
// mirror consistent. Concurrency control is optimistic: the live
// subscription's price id must still match the mirror at apply time.
type Service struct {
	repo    Repository
	stripe  StripeClient
	catalog *Catalog
	users   TierUpdater
}

func NewService(repo Repository, sc StripeClient, catalog *Catalog, users TierUpdater) *Service {
	return &Service{
		repo:    repo,
		stripe:  sc,
		catalog: catalog,
		users:   users,
	}
}

// PreviewChange computes what a change to targetPriceID would cost.
// Downgrades are never prorated and take effect at the period end;
// upgrades are priced by a Stripe preview invoice and take effect
// immediately.
func (s *Service) PreviewChange(ctx context.Context, userID uuid.UUID, targetPriceID string) (*Preview, error) {
	target, mirror, err := s.resolveChange(ctx, userID, targetPriceID)
	if err != nil {
		return nil, err
	}

	isDowngrade := s.catalog.IsDowngrade(mirror.PriceID, targetPriceID)

	// Period bounds come from the live subscription, not the mirror,
	// so a stale mirror can't produce a wrong effective date.
	live, err := s.stripe.GetSubscription(ctx, mirror.StripeSubscriptionID)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	_, periodEnd := periodBounds(live)

	preview := &Preview{
		CurrentPriceID: mirror.PriceID,
		TargetPriceID:  targetPriceID,
		IsDowngrade:    isDowngrade,
	}

	if isDowngrade {
		preview.AmountDue = 0
		preview.EffectiveImmediately = false
		preview.EffectiveDate = periodEnd
		return preview, nil
	}

	item := currentItem(live)
	if item == nil {
		return nil, &ProviderError{Message: "subscription has no items"}
	}

	params := &stripe.InvoiceCreatePreviewParams{
		Customer:     stripe.String(mirror.StripeCustomerID),
		Subscription: stripe.String(mirror.StripeSubscriptionID),
		SubscriptionDetails: &stripe.InvoiceCreatePreviewSubscriptionDetailsParams{
			Items: []*stripe.InvoiceCreatePreviewSubscriptionDetailsItemParams{
				{
					ID:    stripe.String(item.ID),
					Price: stripe.String(targetPriceID),
				},
			},
			ProrationBehavior: stripe.String("create_prorations"),
		},
	}

	invoice, err := s.stripe.PreviewInvoice(ctx, params)
	if err != nil {
		return nil, wrapProviderError(err)
	}

	currentPlan, _ := s.catalog.ByPriceID(mirror.PriceID)
	preview.AmountDue = sumChangeLines(invoice, currentPlan.Name, target.Name)
	preview.Currency = string(invoice.Currency)
	preview.EffectiveImmediately = true
	preview.EffectiveDate = time.Now().UTC()

	return preview, nil
}

// ApplyChange performs the change. Classification is redone from live
// state; a mismatch between the live price id and the mirror aborts
// with ErrSubscriptionModified before anything mutates.
func (s *Service) ApplyChange(ctx context.Context, userID uuid.UUID, targetPriceID string) (*ChangeResult, error) {
	target, mirror, err := s.resolveChange(ctx, userID, targetPriceID)
	if err != nil {
		return nil, err
	}

	live, err := s.stripe.GetSubscription(ctx, mirror.StripeSubscriptionID)
	if err != nil {
		return nil, wrapProviderError(err)
	}

	if currentPriceID(live) != mirror.PriceID {
		return nil, ErrSubscriptionModified
	}

	var result *ChangeResult
	if s.catalog.IsDowngrade(mirror.PriceID, targetPriceID) {
		result, err = s.applyDowngrade(ctx, mirror, live, targetPriceID)
	} else {
		result, err = s.applyUpgrade(ctx, mirror, live, targetPriceID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdatePlanTier(ctx, mirror.UserID, target.Key); err != nil {
		log.Error().Err(err).
			Str("user_id", mirror.UserID.String()).
			Str("tier", target.Key).
			Msg("Failed to update plan tier label")
	}

	return result, nil
}

// applyDowngrade schedules a two-phase transition: the current price
// until period end, then the target price, with no proration either
// side. The schedule releases back to a plain subscription once phase
// two starts. The mirror's primary price id is left untouched; only
// the scheduled fields are set.
func (s *Service) applyDowngrade(ctx context.Context, mirror *Subscription, live *stripe.Subscription, targetPriceID string) (*ChangeResult, error) {
	periodStart, periodEnd := periodBounds(live)

	item := currentItem(live)
	if item == nil {
		return nil, &ProviderError{Message: "subscription has no items"}
	}

	// One schedule per subscription: reuse an attached one.
	scheduleID := ""
	if live.Schedule != nil {
		scheduleID = live.Schedule.ID
	} else {
		schedule, err := s.stripe.CreateSchedule(ctx, &stripe.SubscriptionScheduleCreateParams{
			FromSubscription: stripe.String(mirror.StripeSubscriptionID),
		})
		if err != nil {
			return nil, wrapProviderError(err)
		}
		scheduleID = schedule.ID
	}

	quantity := item.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	_, err := s.stripe.UpdateSchedule(ctx, scheduleID, &stripe.SubscriptionScheduleUpdateParams{
		EndBehavior: stripe.String("release"),
		Phases: []*stripe.SubscriptionScheduleUpdatePhaseParams{
			{
				Items: []*stripe.SubscriptionScheduleUpdatePhaseItemParams{
					{
						Price:    stripe.String(mirror.PriceID),
						Quantity: stripe.Int64(quantity),
					},
				},
				StartDate:         stripe.Int64(periodStart.Unix()),
				EndDate:           stripe.Int64(periodEnd.Unix()),
				ProrationBehavior: stripe.String("none"),
			},
			{
				Items: []*stripe.SubscriptionScheduleUpdatePhaseItemParams{
					{
						Price:    stripe.String(targetPriceID),
						Quantity: stripe.Int64(quantity),
					},
				},
				StartDate:         stripe.Int64(periodEnd.Unix()),
				ProrationBehavior: stripe.String("none"),
			},
		},
	})
	if err != nil {
		return nil, wrapProviderError(err)
	}

	if err := s.repo.SetScheduledChange(ctx, mirror.ID, targetPriceID, periodEnd); err != nil {
		log.Error().Err(err).
			Str("subscription_id", mirror.ID.String()).
			Msg("Failed to persist scheduled change, mirror will self-heal via webhook")
	}

	scheduled := targetPriceID
	return &ChangeResult{
		PriceID:              mirror.PriceID,
		IsDowngrade:          true,
		EffectiveImmediately: false,
		EffectiveDate:        periodEnd,
		ScheduledPriceID:     &scheduled,
	}, nil
}

// applyUpgrade swaps the item price immediately with proration. The
// payment behavior aborts the whole change if the proration charge
// can't be collected, so Stripe is never left billing the old price
// while the user runs on the new one.
func (s *Service) applyUpgrade(ctx context.Context, mirror *Subscription, live *stripe.Subscription, targetPriceID string) (*ChangeResult, error) {
	item := currentItem(live)
	if item == nil {
		return nil, &ProviderError{Message: "subscription has no items"}
	}

	updated, err := s.stripe.UpdateSubscription(ctx, mirror.StripeSubscriptionID, &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(item.ID),
				Price: stripe.String(targetPriceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
		PaymentBehavior:   stripe.String("error_if_incomplete"),
	})
	if err != nil {
		return nil, wrapProviderError(err)
	}

	periodStart, periodEnd := periodBounds(updated)
	if err := s.repo.ApplyImmediateChange(ctx, mirror.ID, targetPriceID, periodStart, periodEnd); err != nil {
		log.Error().Err(err).
			Str("subscription_id", mirror.ID.String()).
			Msg("Failed to update mirror after upgrade, will self-heal via webhook")
	}

	return &ChangeResult{
		PriceID:              targetPriceID,
		IsDowngrade:          false,
		EffectiveImmediately: true,
		EffectiveDate:        time.Now().UTC(),
	}, nil
}

// GetCurrent returns the mirror subscription and its catalog plan.
func (s *Service) GetCurrent(ctx context.Context, userID uuid.UUID) (*Subscription, Plan, error) {
	mirror, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, Plan{}, err
	}

	plan, _ := s.catalog.ByPriceID(mirror.PriceID)
	return mirror, plan, nil
}

// Plans returns the catalog.
func (s *Service) Plans() []Plan {
	return s.catalog.Plans()
}

// resolveChange runs the shared validation: known target price, a
// changeable subscription, and an actual change.
func (s *Service) resolveChange(ctx context.Context, userID uuid.UUID, targetPriceID string) (Plan, *Subscription, error) {
	target, ok := s.catalog.ByPriceID(targetPriceID)
	if !ok {
		return Plan{}, nil, ErrInvalidPriceID
	}

	mirror, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return Plan{}, nil, err
	}
	if !mirror.IsChangeable() {
		return Plan{}, nil, ErrNoActiveSubscription
	}

	if mirror.PriceID == targetPriceID {
		return Plan{}, nil, ErrSamePlan
	}

	return target, mirror, nil
}

// sumChangeLines totals the preview-invoice lines attributable to this
// change by matching plan names in line descriptions. Fragile if plan
// names collide; kept until Stripe supports tagging preview lines.
func sumChangeLines(invoice *stripe.Invoice, currentPlanName, targetPlanName string) int64 {
	if invoice.Lines == nil {
		return 0
	}

	var total int64
	for _, line := range invoice.Lines.Data {
		if line.Description == "" {
			continue
		}
		if (currentPlanName != "" && strings.Contains(line.Description, currentPlanName)) ||
			(targetPlanName != "" && strings.Contains(line.Description, targetPlanName)) {
			total += line.Amount
		}
	}

	return total
}
