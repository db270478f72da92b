package model

import "github.com/shopspring/decimal"

// Настройки наценки организации / профиля

// ProviderAll is the wildcard provider code of a markup rule.
const ProviderAll = "ALL"

type MarkupRule struct {
	ProviderCode  string
	Mode          Mode
	Percentage    decimal.Decimal
	MinimumMarkup decimal.Decimal
	// нулевое значение - без ограничения сверху
	MaximumMarkup decimal.Decimal
	FlatFee       decimal.Decimal
}

type FeeType string

const (
	FeeTypeFixed      FeeType = "fixed"
	FeeTypePercentage FeeType = "percentage"
)

type AdditionalFee struct {
	Name   string
	Type   FeeType
	Amount decimal.Decimal
	Mode   Mode
	Active bool
}

type MarkupConfig struct {
	Rules []MarkupRule
	Fees  []AdditionalFee
}

type Organization struct {
	ID   string
	Name string
	// сотрудники организации видят себестоимость
	ShowDirectCost bool
	// именованный профиль наценки; если пусто - используются собственные правила
	MarkupProfile string
	Markup        MarkupConfig
}

type MarkupProfile struct {
	ID     string
	Name   string
	Markup MarkupConfig
}

type PricingContext struct {
	Caller            Caller
	OrgShowDirectCost bool
	// ставка получена по собственному аккаунту клиента у перевозчика
	CustomerOwnedAccount bool
}

// DirectCost reports whether the caller sees the provider cost unchanged.
func (pc PricingContext) DirectCost() bool {
	switch pc.Caller.Role {
	case RoleAdmin, RoleEmployee:
		return true
	}
	return pc.OrgShowDirectCost || pc.CustomerOwnedAccount
}
