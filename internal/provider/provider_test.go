package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestUnitConversion(t *testing.T) {
	kg, err := WeightKG(100, model.WeightUnitLB)
	require.NoError(t, err)
	require.Equal(t, 45.36, kg)

	lb, err := WeightLB(100, model.WeightUnitKG)
	require.NoError(t, err)
	require.Equal(t, 220.46, lb)

	lb, err = WeightLB(12.346, model.WeightUnitLB)
	require.NoError(t, err)
	require.Equal(t, 12.35, lb)

	cm, err := LengthCM(48, model.DimUnitIN)
	require.NoError(t, err)
	require.Equal(t, 121.92, cm)

	in, err := LengthIN(100, model.DimUnitCM)
	require.NoError(t, err)
	require.Equal(t, 39.37, in)

	_, err = WeightKG(1, "stone")
	require.ErrorIs(t, err, ErrUnknownUnit)
	_, err = LengthIN(1, "ft")
	require.ErrorIs(t, err, ErrUnknownUnit)
}

func TestTotalWeightKG(t *testing.T) {
	total, err := TotalWeightKG(model.Cargo{Pieces: []model.Piece{
		{Quantity: 2, Weight: 100, WeightUnit: model.WeightUnitKG},
		{Quantity: 1, Weight: 100, WeightUnit: model.WeightUnitLB},
	}})
	require.NoError(t, err)
	require.Equal(t, 245.36, total)
}

func TestConverter(t *testing.T) {
	conv := NewConverter("usd", map[string]float64{"EUR": 1.1, "cad": 0.75})
	require.Equal(t, "USD", conv.Base())

	v, err := conv.ToBase(decimal.RequireFromString("100"), "eur")
	require.NoError(t, err)
	require.Equal(t, "110.00", v.StringFixed(2))

	v, err = conv.ToBase(decimal.RequireFromString("10.005"), "USD")
	require.NoError(t, err)
	require.Equal(t, "10.01", v.StringFixed(2))

	_, err = conv.ToBase(decimal.RequireFromString("1"), "JPY")
	require.ErrorIs(t, err, ErrUnknownCurrency)

	cost, err := conv.CostToBase(model.CostBreakdown{
		Freight:          decimal.RequireFromString("100"),
		Fuel:             decimal.RequireFromString("20"),
		AccessorialItems: []model.CostItem{{Name: "Liftgate", Amount: decimal.RequireFromString("40")}},
		Accessorials:     decimal.RequireFromString("40"),
	}, "CAD")
	require.NoError(t, err)
	require.Equal(t, "75.00", cost.Freight.StringFixed(2))
	require.Equal(t, "15.00", cost.Fuel.StringFixed(2))
	require.Equal(t, "30.00", cost.Accessorials.StringFixed(2))
	require.Equal(t, "30.00", cost.AccessorialItems[0].Amount.StringFixed(2))
	require.Equal(t, "120.00", cost.Total().StringFixed(2))
}

type stubProvider struct {
	code  string
	creds model.Credentials
}

func (p *stubProvider) Code() string { return p.code }
func (p *stubProvider) GetRates(context.Context, model.ShipmentRequest) (*model.ProviderQuote, error) {
	return nil, nil
}

func stubFactory(code string) Factory {
	return func(creds model.Credentials) (Provider, error) {
		return &stubProvider{code: code, creds: creds}, nil
	}
}

func roadLTL() model.ShipmentRequest {
	return model.ShipmentRequest{Number: "1", Data: model.ShipmentRequestData{Mode: model.ModeRoad, ServiceType: model.ServiceLTL}}
}

func TestRegistryResolveAccountOverride(t *testing.T) {
	r := NewRegistry()
	r.Register("LTL", stubFactory("LTL"), model.Credentials{APIKey: "company"}, Coverage{Mode: model.ModeRoad})

	p, err := r.Resolve("LTL", nil)
	require.NoError(t, err)
	require.Equal(t, "company", p.(*stubProvider).creds.APIKey)

	p, err = r.Resolve("LTL", &model.CarrierAccount{ID: "acc1", APIKey: "own", CustomerOwned: true})
	require.NoError(t, err)
	creds := p.(*stubProvider).creds
	require.Equal(t, "own", creds.APIKey)
	require.Equal(t, "acc1", creds.AccountID)
	require.True(t, creds.CustomerOwned)

	_, err = r.Resolve("NOPE", nil)
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistryEligible(t *testing.T) {
	r := NewRegistry()
	r.Register("LTL", stubFactory("LTL"), model.Credentials{APIKey: "k"}, Coverage{Mode: model.ModeRoad, Services: []model.ServiceType{model.ServiceLTL}})
	r.Register("AIR", stubFactory("AIR"), model.Credentials{APIKey: "k"}, Coverage{Mode: model.ModeAir})
	r.Register("BROKEN", func(model.Credentials) (Provider, error) {
		return nil, errors.New("bad config")
	}, model.Credentials{}, Coverage{Mode: model.ModeRoad})

	accounts := []model.CarrierAccount{
		{ID: "a1", ProviderCode: "LTL", APIKey: "mine", Active: true, CustomerOwned: true},
		{ID: "a2", ProviderCode: "LTL", APIKey: "old", Active: false},
		{ID: "a3", ProviderCode: "AIR", APIKey: "air", Active: true},
		{ID: "a4", ProviderCode: "GONE", APIKey: "x", Active: true},
	}

	targets := r.Eligible(roadLTL(), accounts)
	require.Len(t, targets, 3)
	require.Equal(t, "BROKEN", targets[0].Code)
	require.Error(t, targets[0].Err)
	require.Equal(t, "LTL", targets[1].Code)
	require.Nil(t, targets[1].Account)
	require.Equal(t, "LTL", targets[2].Code)
	require.Equal(t, "a1", targets[2].Account.ID)
	require.Equal(t, "mine", targets[2].Provider.(*stubProvider).creds.APIKey)

	// аккаунты клиента подключаются только для автоперевозок
	air := model.ShipmentRequest{Data: model.ShipmentRequestData{Mode: model.ModeAir}}
	targets = r.Eligible(air, accounts)
	require.Len(t, targets, 1)
	require.Equal(t, "AIR", targets[0].Code)

	require.NoError(t, r.SetEnabled("LTL", false))
	require.Equal(t, []string{"AIR", "BROKEN"}, r.Enabled())
	targets = r.Eligible(roadLTL(), accounts)
	require.Len(t, targets, 1)
	require.Equal(t, "BROKEN", targets[0].Code)

	require.ErrorIs(t, r.SetEnabled("NOPE", true), ErrUnknownProvider)
}
