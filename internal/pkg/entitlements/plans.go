package entitlements

import (
	"strings"
	"time"
)

type Plan string

const (
	PlanBasic    Plan = "basic"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

// Metered features gated by an active subscription.
type Feature string

const (
	FeatureImageEnhance Feature = "image_enhance"
	FeatureCVGenerate   Feature = "cv_generate"
	FeatureSMS          Feature = "sms"
)

// SubscriptionPeriod is the length one subscribe payment buys.
const SubscriptionPeriod = 30 * 24 * time.Hour

// planLimits maps each plan to its monthly per-feature allowance. Static
// configuration; a feature missing from a plan means no allowance at all.
var planLimits = map[Plan]map[Feature]int{
	PlanBasic: {
		FeatureImageEnhance: 20,
		FeatureCVGenerate:   5,
		FeatureSMS:          50,
	},
	PlanStandard: {
		FeatureImageEnhance: 100,
		FeatureCVGenerate:   25,
		FeatureSMS:          300,
	},
	PlanPremium: {
		FeatureImageEnhance: 500,
		FeatureCVGenerate:   100,
		FeatureSMS:          1500,
	},
}

// ParsePlan normalizes a plan identifier and reports whether it is known.
func ParsePlan(s string) (Plan, bool) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	_, ok := planLimits[p]
	return p, ok
}

// KnownPlan reports whether the identifier names a configured plan.
func KnownPlan(s string) bool {
	_, ok := ParsePlan(s)
	return ok
}

// LimitFor returns the monthly allowance of a feature under a plan.
func LimitFor(plan Plan, feature Feature) (int, bool) {
	limits, ok := planLimits[plan]
	if !ok {
		return 0, false
	}
	limit, ok := limits[feature]
	return limit, ok
}

// FeaturesFor lists the metered features a plan covers.
func FeaturesFor(plan Plan) []Feature {
	limits, ok := planLimits[plan]
	if !ok {
		return nil
	}
	features := make([]Feature, 0, len(limits))
	for f := range limits {
		features = append(features, f)
	}
	return features
}
