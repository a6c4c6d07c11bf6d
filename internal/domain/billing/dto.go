package billing

import "time"

// ChangePlanRequest for POST /subscriptions/change and its preview
type ChangePlanRequest struct {
	PriceID string `json:"price_id" validate:"required"`
}

// PlanResponse represents a catalog plan in API
type PlanResponse struct {
	Key             string   `json:"key"`
	Name            string   `json:"name"`
	CreditsPerCycle int      `json:"credits_per_cycle"`
	PriceIDMonthly  string   `json:"price_id_monthly"`
	PriceIDYearly   string   `json:"price_id_yearly,omitempty"`
	Features        []string `json:"features"`
}

// PlanResponseFromEntity converts a plan to a response
func PlanResponseFromEntity(p Plan) *PlanResponse {
	return &PlanResponse{
		Key:             p.Key,
		Name:            p.Name,
		CreditsPerCycle: p.CreditsPerCycle,
		PriceIDMonthly:  p.PriceIDMonthly,
		PriceIDYearly:   p.PriceIDYearly,
		Features:        p.Features,
	}
}

// PreviewResponse represents a plan-change preview in API
type PreviewResponse struct {
	CurrentPriceID       string    `json:"current_price_id"`
	TargetPriceID        string    `json:"target_price_id"`
	IsDowngrade          bool      `json:"is_downgrade"`
	AmountDue            int64     `json:"amount_due"`
	Currency             string    `json:"currency,omitempty"`
	EffectiveImmediately bool      `json:"effective_immediately"`
	EffectiveDate        time.Time `json:"effective_date"`
}

// PreviewResponseFromEntity converts a preview to a response
func PreviewResponseFromEntity(p *Preview) *PreviewResponse {
	return &PreviewResponse{
		CurrentPriceID:       p.CurrentPriceID,
		TargetPriceID:        p.TargetPriceID,
		IsDowngrade:          p.IsDowngrade,
		AmountDue:            p.AmountDue,
		Currency:             p.Currency,
		EffectiveImmediately: p.EffectiveImmediately,
		EffectiveDate:        p.EffectiveDate,
	}
}

// ChangeResponse represents an applied plan change in API
type ChangeResponse struct {
	PriceID              string    `json:"price_id"`
	IsDowngrade          bool      `json:"is_downgrade"`
	EffectiveImmediately bool      `json:"effective_immediately"`
	EffectiveDate        time.Time `json:"effective_date"`
	ScheduledPriceID     *string   `json:"scheduled_price_id,omitempty"`
}

// ChangeResponseFromEntity converts a change result to a response
func ChangeResponseFromEntity(c *ChangeResult) *ChangeResponse {
	return &ChangeResponse{
		PriceID:              c.PriceID,
		IsDowngrade:          c.IsDowngrade,
		EffectiveImmediately: c.EffectiveImmediately,
		EffectiveDate:        c.EffectiveDate,
		ScheduledPriceID:     c.ScheduledPriceID,
	}
}

// SubscriptionResponse represents the mirror subscription in API
type SubscriptionResponse struct {
	PlanKey            string     `json:"plan_key,omitempty"`
	PlanName           string     `json:"plan_name,omitempty"`
	PriceID            string     `json:"price_id"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	ScheduledPriceID   *string    `json:"scheduled_price_id,omitempty"`
	ScheduledChangeAt  *time.Time `json:"scheduled_change_at,omitempty"`
}

// SubscriptionResponseFromEntity converts a mirror row to a response
func SubscriptionResponseFromEntity(s *Subscription, plan Plan) *SubscriptionResponse {
	return &SubscriptionResponse{
		PlanKey:            plan.Key,
		PlanName:           plan.Name,
		PriceID:            s.PriceID,
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		ScheduledPriceID:   s.ScheduledPriceID,
		ScheduledChangeAt:  s.ScheduledChangeAt,
	}
}
