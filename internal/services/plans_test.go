package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPlanLimits(t *testing.T) {
	free := GetPlan("free")
	require.NotNil(t, free.MaxAIQueriesPerMonth)
	assert.Equal(t, 50, *free.MaxAIQueriesPerMonth)
	assert.EqualValues(t, 0, free.PriceMonthlyCents)

	pro := GetPlan("pro")
	require.NotNil(t, pro.MaxAIQueriesPerMonth)
	assert.Equal(t, 500, *pro.MaxAIQueriesPerMonth)
	assert.EqualValues(t, 2900, pro.PriceMonthlyCents)

	business := GetPlan("business")
	assert.Nil(t, business.MaxAIQueriesPerMonth)
	assert.EqualValues(t, 7900, business.PriceMonthlyCents)
}

func TestGetPlanUnknownDefaultsToFree(t *testing.T) {
	plan := GetPlan("enterprise")
	assert.Equal(t, "free", plan.Name)
}

func TestGetPlanByPriceIDEmpty(t *testing.T) {
	_, ok := GetPlanByPriceID("")
	assert.False(t, ok)
}
