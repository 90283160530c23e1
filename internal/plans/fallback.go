package plans

import "strings"

// Prices used when neither event metadata nor plans.json yields an amount.
var fallbackSubscriptionPrices = map[string]map[string]int64{
	Seedling: {Weekly: 29, Monthly: 99},
	Sprout:   {Weekly: 129, Monthly: 499},
	Tree:     {Weekly: 249, Monthly: 999},
}

var fallbackOneTimePrices = map[string]int64{
	Seedling: 79,
	Sprout:   199,
	Tree:     499,
}

// FallbackPrice returns the hardcoded subscription price for a plan.
func FallbackPrice(planType, cycle string) (int64, bool) {
	cycles, ok := fallbackSubscriptionPrices[NormalizePlanType(planType)]
	if !ok {
		return 0, false
	}
	amount, ok := cycles[NormalizeBillingCycle(cycle)]
	return amount, ok
}

func NormalizePlanType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case Seedling:
		return Seedling
	case Sprout:
		return Sprout
	case Tree:
		return Tree
	default:
		return ""
	}
}

func NormalizeBillingCycle(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case Weekly, "week":
		return Weekly
	case Monthly, "month":
		return Monthly
	default:
		return ""
	}
}
