package pricing

import (
	"errors"
	"fmt"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/pricing/config"
	"github.com/shopspring/decimal"
)

var (
	ErrNegativeCost      = errors.New("raw cost cannot be negative")
	ErrNoDefaultMarkup   = errors.New("default markup percentage is not configured")
	ErrInvalidPercentage = errors.New("markup percentage out of range")
	ErrNegativeAmount    = errors.New("markup amounts must be non-negative")
	ErrCapBelowMinimum   = errors.New("maximum markup is below minimum markup")
	ErrUnknownFeeType    = errors.New("unknown fee type")
	ErrUnknownMode       = errors.New("unknown mode")
)

var (
	hundred       = decimal.NewFromInt(100)
	maxPercentage = decimal.NewFromInt(1000)
)

type Engine interface {
	Price(rawCost decimal.Decimal, pc model.PricingContext, cfg model.MarkupConfig, mode model.Mode, providerCode string) (model.Pricing, error)
}

type engine struct {
	defaultPercentage decimal.Decimal
}

func NewEngine(cfg config.Config) (Engine, error) {
	pct := decimal.NewFromFloat(cfg.DefaultPercentage)
	if pct.IsNegative() || pct.GreaterThan(maxPercentage) {
		return nil, ErrNoDefaultMarkup
	}
	return &engine{defaultPercentage: pct}, nil
}

// Price turns a provider cost into the customer price.
//
// The direct-cost bypass is checked before any rule lookup. The markup is the
// percentage of the cost clamped to [MinimumMarkup, MaximumMarkup], the flat
// fee is added after clamping. Percentage fees apply to cost plus markup.
func (e *engine) Price(rawCost decimal.Decimal, pc model.PricingContext, cfg model.MarkupConfig, mode model.Mode, providerCode string) (model.Pricing, error) {
	if rawCost.IsNegative() {
		return model.Pricing{}, ErrNegativeCost
	}
	raw := roundMoney(rawCost)

	pricing := model.Pricing{
		RawCost:          raw,
		MarkupPercentage: decimal.Zero,
		MarkupAmount:     decimal.Zero,
		FeesTotal:        decimal.Zero,
		Total:            raw,
	}

	// Себестоимость без наценки и сборов
	if pc.DirectCost() {
		pricing.DirectCost = true
		return pricing, nil
	}

	rule, ok := ResolveRule(cfg.Rules, providerCode, mode)
	if !ok {
		rule = model.MarkupRule{
			ProviderCode: model.ProviderAll,
			Mode:         model.ModeAll,
			Percentage:   e.defaultPercentage,
		}
		pricing.DefaultRule = true
	}
	pricing.RuleProvider = rule.ProviderCode
	pricing.RuleMode = rule.Mode
	pricing.MarkupPercentage = rule.Percentage
	pricing.MarkupAmount = MarkupAmount(raw, rule)

	subtotal := raw.Add(pricing.MarkupAmount)
	for _, fee := range cfg.Fees {
		if !feeApplies(fee, mode) {
			continue
		}
		amount := feeAmount(fee, subtotal)
		pricing.Fees = append(pricing.Fees, model.AppliedFee{Name: fee.Name, Amount: amount})
		pricing.FeesTotal = pricing.FeesTotal.Add(amount)
	}

	pricing.Total = roundMoney(subtotal.Add(pricing.FeesTotal))
	return pricing, nil
}

// MarkupAmount applies one rule to a cost: percentage, clamp, then flat fee.
func MarkupAmount(rawCost decimal.Decimal, rule model.MarkupRule) decimal.Decimal {
	amount := roundMoney(rawCost.Mul(rule.Percentage).Div(hundred))
	if amount.LessThan(rule.MinimumMarkup) {
		amount = rule.MinimumMarkup
	}
	if rule.MaximumMarkup.IsPositive() && amount.GreaterThan(rule.MaximumMarkup) {
		amount = rule.MaximumMarkup
	}
	return roundMoney(amount.Add(rule.FlatFee))
}

// ResolveRule picks the most specific rule: exact provider and mode, exact
// provider with any mode, any provider with exact mode, then the full wildcard.
// Storage order does not matter.
func ResolveRule(rules []model.MarkupRule, providerCode string, mode model.Mode) (model.MarkupRule, bool) {
	tiers := [...]struct {
		provider string
		mode     model.Mode
	}{
		{providerCode, mode},
		{providerCode, model.ModeAll},
		{model.ProviderAll, mode},
		{model.ProviderAll, model.ModeAll},
	}
	for _, tier := range tiers {
		for _, rule := range rules {
			if rule.ProviderCode == tier.provider && rule.Mode == tier.mode {
				return rule, true
			}
		}
	}
	return model.MarkupRule{}, false
}

func feeApplies(fee model.AdditionalFee, mode model.Mode) bool {
	return fee.Active && (fee.Mode == model.ModeAll || fee.Mode == mode)
}

func feeAmount(fee model.AdditionalFee, subtotal decimal.Decimal) decimal.Decimal {
	if fee.Type == model.FeeTypePercentage {
		return roundMoney(subtotal.Mul(fee.Amount).Div(hundred))
	}
	return roundMoney(fee.Amount)
}

// roundMoney rounds half-up to cents; amounts here are never negative.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ValidateConfig checks a markup configuration when it is loaded.
func ValidateConfig(cfg model.MarkupConfig) error {
	for i, rule := range cfg.Rules {
		if rule.ProviderCode == "" {
			return fmt.Errorf("rule %d: empty provider code", i)
		}
		if rule.Mode != model.ModeAll && !rule.Mode.Valid() {
			return fmt.Errorf("rule %d: %w %q", i, ErrUnknownMode, rule.Mode)
		}
		if rule.Percentage.IsNegative() || rule.Percentage.GreaterThan(maxPercentage) {
			return fmt.Errorf("rule %d: %w", i, ErrInvalidPercentage)
		}
		if rule.MinimumMarkup.IsNegative() || rule.MaximumMarkup.IsNegative() || rule.FlatFee.IsNegative() {
			return fmt.Errorf("rule %d: %w", i, ErrNegativeAmount)
		}
		if rule.MaximumMarkup.IsPositive() && rule.MaximumMarkup.LessThan(rule.MinimumMarkup) {
			return fmt.Errorf("rule %d: %w", i, ErrCapBelowMinimum)
		}
	}
	for i, fee := range cfg.Fees {
		if fee.Type != model.FeeTypeFixed && fee.Type != model.FeeTypePercentage {
			return fmt.Errorf("fee %d (%s): %w", i, fee.Name, ErrUnknownFeeType)
		}
		if fee.Mode != model.ModeAll && !fee.Mode.Valid() {
			return fmt.Errorf("fee %d (%s): %w %q", i, fee.Name, ErrUnknownMode, fee.Mode)
		}
		if fee.Amount.IsNegative() {
			return fmt.Errorf("fee %d (%s): %w", i, fee.Name, ErrNegativeAmount)
		}
		if fee.Type == model.FeeTypePercentage && fee.Amount.GreaterThan(maxPercentage) {
			return fmt.Errorf("fee %d (%s): %w", i, fee.Name, ErrInvalidPercentage)
		}
	}
	return nil
}
