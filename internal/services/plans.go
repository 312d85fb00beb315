package services

import "os"

// PlanLimits describes a subscription tier. A nil MaxAIQueriesPerMonth means
// unlimited.
type PlanLimits struct {
	Name                 string
	DisplayName          string
	MaxAIQueriesPerMonth *int
	PriceMonthlyCents    int64
	StripePriceID        string
}

func intPtr(v int) *int { return &v }

var plans = map[string]PlanLimits{
	"free": {
		Name:                 "free",
		DisplayName:          "Free",
		MaxAIQueriesPerMonth: intPtr(50),
		PriceMonthlyCents:    0,
	},
	"pro": {
		Name:                 "pro",
		DisplayName:          "Pro",
		MaxAIQueriesPerMonth: intPtr(500),
		PriceMonthlyCents:    2900,
		StripePriceID:        os.Getenv("STRIPE_PRO_PRICE_ID"),
	},
	"business": {
		Name:                 "business",
		DisplayName:          "Business",
		MaxAIQueriesPerMonth: nil,
		PriceMonthlyCents:    7900,
		StripePriceID:        os.Getenv("STRIPE_BUSINESS_PRICE_ID"),
	},
}

// GetPlan returns the limits for a plan name, defaulting to free when unknown.
func GetPlan(name string) PlanLimits {
	if plan, ok := plans[name]; ok {
		return plan
	}
	return plans["free"]
}

// GetPlanByPriceID reverse-maps a Stripe price id to a plan name.
func GetPlanByPriceID(priceID string) (string, bool) {
	if priceID == "" {
		return "", false
	}
	for name, plan := range plans {
		if plan.StripePriceID == priceID {
			return name, true
		}
	}
	return "", false
}
