package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRequestTransitions(t *testing.T) {
	require.True(t, CanTransition(RequestStatusRequested, RequestStatusProcessing))
	require.True(t, CanTransition(RequestStatusProcessing, RequestStatusReady))
	require.True(t, CanTransition(RequestStatusProcessing, RequestStatusExpired))
	require.True(t, CanTransition(RequestStatusReady, RequestStatusReady))

	// назад нельзя
	require.False(t, CanTransition(RequestStatusProcessing, RequestStatusRequested))
	require.False(t, CanTransition(RequestStatusReady, RequestStatusProcessing))
	require.False(t, CanTransition(RequestStatusReady, RequestStatusExpired))
	require.False(t, CanTransition(RequestStatusExpired, RequestStatusReady))
	require.False(t, CanTransition(RequestStatusExpired, RequestStatusExpired))

	require.ElementsMatch(t,
		[]RequestStatus{RequestStatusRequested, RequestStatusProcessing},
		TransitionSources(RequestStatusExpired))
	require.ElementsMatch(t,
		[]RequestStatus{RequestStatusProcessing, RequestStatusReady},
		TransitionSources(RequestStatusReady))
}

func TestTokenState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := CarrierToken{IssuedAt: now, ExpiresAt: now.Add(30 * time.Minute)}

	require.Equal(t, TokenStateIssued, token.State(now.Add(29*time.Minute)))
	require.Equal(t, TokenStateExpired, token.State(now.Add(30*time.Minute)))

	token.Submitted = true
	require.Equal(t, TokenStateConsumed, token.State(now.Add(31*time.Minute)))
}

func TestPricingContextDirectCost(t *testing.T) {
	require.False(t, PricingContext{Caller: Caller{Role: RoleCustomer}}.DirectCost())
	require.True(t, PricingContext{Caller: Caller{Role: RoleAdmin}}.DirectCost())
	require.True(t, PricingContext{Caller: Caller{Role: RoleEmployee}}.DirectCost())
	require.True(t, PricingContext{Caller: Caller{Role: RoleCustomer}, OrgShowDirectCost: true}.DirectCost())
	require.True(t, PricingContext{Caller: Caller{Role: RoleCustomer}, CustomerOwnedAccount: true}.DirectCost())
}

func TestCostBreakdownTotal(t *testing.T) {
	cost := CostBreakdown{
		Freight:       decimal.RequireFromString("100.10"),
		Fuel:          decimal.RequireFromString("12.345"),
		Accessorials:  decimal.RequireFromString("5"),
		Documentation: decimal.Zero,
		Other:         decimal.RequireFromString("0.5"),
	}
	require.Equal(t, "117.95", cost.Total().StringFixed(2))
}

func TestManualAndLane(t *testing.T) {
	data := ShipmentRequestData{
		Mode:        ModeRoad,
		ServiceType: ServiceFTL,
		Origin:      Address{Country: "us"},
		Destination: Address{Country: "MX"},
	}
	require.True(t, data.Manual())
	require.Equal(t, "US-MX", data.Lane())

	data.ServiceType = ServiceLTL
	require.False(t, data.Manual())
}
