package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ответ поставщика тарифа (без наценки)

type ProviderQuote struct {
	ID            string
	RequestNumber string
	ProviderCode  string
	// идентификатор ставки на стороне поставщика
	ExternalID    string
	AccountID     string
	CustomerOwned bool
	Source        QuoteSource
	Carrier       string
	Service       string
	Cost          CostBreakdown
	Currency      string
	TransitDays   int
	Guaranteed    bool
	Notes         string
	ValidUntil    time.Time
	Status        QuoteStatus
	CreatedAt     time.Time
}

type CostBreakdown struct {
	Freight       decimal.Decimal
	Fuel          decimal.Decimal
	Accessorials  decimal.Decimal
	Documentation decimal.Decimal
	Other         decimal.Decimal
	// детализация доп. услуг, если поставщик ее вернул
	AccessorialItems []CostItem
}

type CostItem struct {
	Name   string
	Amount decimal.Decimal
}

func (c CostBreakdown) Total() decimal.Decimal {
	return c.Freight.Add(c.Fuel).Add(c.Accessorials).Add(c.Documentation).Add(c.Other).Round(2)
}

type QuoteSource string

const (
	QuoteSourceProvider QuoteSource = "provider"
	QuoteSourceAccount  QuoteSource = "account"
	QuoteSourceCarrier  QuoteSource = "carrier"
)

type QuoteStatus string

const (
	QuoteStatusPending QuoteStatus = "pending"
	QuoteStatusReady   QuoteStatus = "ready"
	QuoteStatusFailed  QuoteStatus = "failed"
)

// Expired reports whether the quote validity window has passed. A zero
// ValidUntil means the provider did not limit it.
func (q ProviderQuote) Expired(now time.Time) bool {
	return !q.ValidUntil.IsZero() && !now.Before(q.ValidUntil)
}

// Цена для клиента

type Pricing struct {
	RawCost          decimal.Decimal
	MarkupPercentage decimal.Decimal
	MarkupAmount     decimal.Decimal
	// правило, по которому рассчитана наценка; пусто для значения по умолчанию
	RuleProvider string
	RuleMode     Mode
	DefaultRule  bool
	DirectCost   bool
	Fees         []AppliedFee
	FeesTotal    decimal.Decimal
	Total        decimal.Decimal
}

type AppliedFee struct {
	Name   string
	Amount decimal.Decimal
}

type PricedQuote struct {
	Quote   ProviderQuote
	Pricing Pricing
	Flags   RankFlags
}

type RankFlags struct {
	Cheapest    bool
	Fastest     bool
	Recommended bool
}
