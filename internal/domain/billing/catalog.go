package billing

// Plan is a static catalog entry. The catalog is loaded from
// configuration at startup and immutable afterwards.
type Plan struct {
	Key             string
	Name            string
	CreditsPerCycle int
	PriceIDMonthly  string
	PriceIDYearly   string
	Features        []string
}

// RolloverCap bounds how many subscription credits can accumulate
// across cycles for this plan.
func (p Plan) RolloverCap() int {
	return 2 * p.CreditsPerCycle
}

// Catalog resolves Stripe price ids to plans.
type Catalog struct {
	plans   []Plan
	byPrice map[string]Plan
	byKey   map[string]Plan
}

// NewCatalog builds a catalog from the configured plans, in display
// order.
func NewCatalog(plans []Plan) *Catalog {
	c := &Catalog{
		plans:   plans,
		byPrice: make(map[string]Plan),
		byKey:   make(map[string]Plan),
	}
	for _, p := range plans {
		c.byKey[p.Key] = p
		if p.PriceIDMonthly != "" {
			c.byPrice[p.PriceIDMonthly] = p
		}
		if p.PriceIDYearly != "" {
			c.byPrice[p.PriceIDYearly] = p
		}
	}
	return c
}

// Plans returns the catalog in display order.
func (c *Catalog) Plans() []Plan {
	return c.plans
}

// ByPriceID resolves a Stripe price id to its plan.
func (c *Catalog) ByPriceID(priceID string) (Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

// ByKey resolves a plan key.
func (c *Catalog) ByKey(key string) (Plan, bool) {
	p, ok := c.byKey[key]
	return p, ok
}

// IsDowngrade classifies a change from currentPriceID to
// targetPriceID. A change is a downgrade only when the target plan
// grants strictly fewer credits per cycle; ties and unknown plans
// fail open to upgrade semantics.
func (c *Catalog) IsDowngrade(currentPriceID, targetPriceID string) bool {
	current, okCurrent := c.byPrice[currentPriceID]
	target, okTarget := c.byPrice[targetPriceID]
	if !okCurrent || !okTarget {
		return false
	}
	return target.CreditsPerCycle < current.CreditsPerCycle
}
