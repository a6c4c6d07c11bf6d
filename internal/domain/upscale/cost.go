package upscale

// CostLimits clamps computed job costs to a configured range.
type CostLimits struct {
	Min int
	Max int
}

var baseCosts = map[Mode]int{
	ModeStandard: 1,
	ModePhoto:    2,
	ModeArt:      3,
}

var scaleMultipliers = map[int]int{
	2: 1,
	4: 2,
	8: 4,
}

// ComputeCost returns the credit cost of a job: mode base cost times
// the scale multiplier, plus one credit per enabled add-on, clamped to
// the configured range. Unknown modes and scales price as the cheapest
// tier; validation rejects them before this runs.
func ComputeCost(mode Mode, scale int, faceEnhance, denoise bool, limits CostLimits) int {
	base, ok := baseCosts[mode]
	if !ok {
		base = 1
	}
	mult, ok := scaleMultipliers[scale]
	if !ok {
		mult = 1
	}

	cost := base * mult
	if faceEnhance {
		cost++
	}
	if denoise {
		cost++
	}

	if limits.Min > 0 && cost < limits.Min {
		cost = limits.Min
	}
	if limits.Max > 0 && cost > limits.Max {
		cost = limits.Max
	}

	return cost
}
