package provider

import (
	"fmt"
	"math"
	"strings"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/shopspring/decimal"
)

const (
	kgPerLB = 0.45359237
	cmPerIN = 2.54
)

// Вес и габариты

func WeightLB(w float64, unit model.WeightUnit) (float64, error) {
	switch unit {
	case model.WeightUnitLB:
		return round2(w), nil
	case model.WeightUnitKG:
		return round2(w / kgPerLB), nil
	}
	return 0, fmt.Errorf("%w: weight %q", ErrUnknownUnit, unit)
}

func WeightKG(w float64, unit model.WeightUnit) (float64, error) {
	switch unit {
	case model.WeightUnitKG:
		return round2(w), nil
	case model.WeightUnitLB:
		return round2(w * kgPerLB), nil
	}
	return 0, fmt.Errorf("%w: weight %q", ErrUnknownUnit, unit)
}

func LengthIN(l float64, unit model.DimUnit) (float64, error) {
	switch unit {
	case model.DimUnitIN:
		return round2(l), nil
	case model.DimUnitCM:
		return round2(l / cmPerIN), nil
	}
	return 0, fmt.Errorf("%w: dimension %q", ErrUnknownUnit, unit)
}

func LengthCM(l float64, unit model.DimUnit) (float64, error) {
	switch unit {
	case model.DimUnitCM:
		return round2(l), nil
	case model.DimUnitIN:
		return round2(l * cmPerIN), nil
	}
	return 0, fmt.Errorf("%w: dimension %q", ErrUnknownUnit, unit)
}

// TotalWeightKG sums quantity x weight of all pieces.
func TotalWeightKG(cargo model.Cargo) (float64, error) {
	var total float64
	for _, p := range cargo.Pieces {
		kg, err := WeightKG(p.Weight, p.WeightUnit)
		if err != nil {
			return 0, err
		}
		total += kg * float64(p.Quantity)
	}
	return round2(total), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Валюта

// Converter normalizes provider amounts to the base currency.
type Converter struct {
	base  string
	rates map[string]decimal.Decimal
}

// NewConverter takes units of base currency per one unit of each currency.
func NewConverter(base string, rates map[string]float64) Converter {
	c := Converter{
		base:  strings.ToUpper(base),
		rates: make(map[string]decimal.Decimal, len(rates)),
	}
	for code, rate := range rates {
		c.rates[strings.ToUpper(code)] = decimal.NewFromFloat(rate)
	}
	return c
}

func (c Converter) Base() string {
	return c.base
}

func (c Converter) ToBase(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if currency == "" || currency == c.base {
		return amount.Round(2), nil
	}
	rate, ok := c.rates[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return amount.Mul(rate).Round(2), nil
}

// CostToBase converts every component of a breakdown.
func (c Converter) CostToBase(cost model.CostBreakdown, currency string) (model.CostBreakdown, error) {
	var out model.CostBreakdown
	var err error
	fields := []struct {
		src decimal.Decimal
		dst *decimal.Decimal
	}{
		{cost.Freight, &out.Freight},
		{cost.Fuel, &out.Fuel},
		{cost.Accessorials, &out.Accessorials},
		{cost.Documentation, &out.Documentation},
		{cost.Other, &out.Other},
	}
	for _, f := range fields {
		if *f.dst, err = c.ToBase(f.src, currency); err != nil {
			return model.CostBreakdown{}, err
		}
	}
	for _, item := range cost.AccessorialItems {
		amount, err := c.ToBase(item.Amount, currency)
		if err != nil {
			return model.CostBreakdown{}, err
		}
		out.AccessorialItems = append(out.AccessorialItems, model.CostItem{Name: item.Name, Amount: amount})
	}
	return out, nil
}
