package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Одноразовые ссылки для перевозчиков

type CarrierToken struct {
	Value         string
	RequestNumber string
	Carrier       CarrierContact
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Submitted     bool
	SubmittedAt   time.Time
}

type TokenState string

const (
	TokenStateIssued   TokenState = "issued"
	TokenStateConsumed TokenState = "consumed"
	TokenStateExpired  TokenState = "expired"
)

func (t CarrierToken) State(now time.Time) TokenState {
	switch {
	case t.Submitted:
		return TokenStateConsumed
	case !now.Before(t.ExpiresAt):
		return TokenStateExpired
	default:
		return TokenStateIssued
	}
}

type CarrierContact struct {
	ID      string
	Name    string
	Email   string
	Phone   string
	Modes   []ServiceType
	Enabled bool
}

// Ответ перевозчика по ссылке

type CarrierSubmission struct {
	BaseRate          decimal.Decimal
	FuelSurcharge     decimal.Decimal
	Accessorials      []CostItem
	AccessorialsTotal decimal.Decimal
	TransitDays       int
	Guaranteed        bool
	Notes             string
}

// Аккаунты клиента у поставщиков тарифов

type CarrierAccount struct {
	ID           string
	UserCode     string
	ProviderCode string
	AccountNo    string
	APIKey       string
	Secret       string
	// собственный договор клиента: наценка не применяется
	CustomerOwned bool
	Active        bool
}

// Credentials are what a provider needs to authenticate one call.
type Credentials struct {
	AccountID     string
	AccountNo     string
	APIKey        string
	Secret        string
	CustomerOwned bool
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.AccountNo == ""
}

// Опрос асинхронных поставщиков

type PollJob struct {
	ID            string
	RequestNumber string
	ProviderCode  string
	AccountID     string
	TrackingID    string
	Attempts      int
	MaxAttempts   int
	Interval      time.Duration
	NextPollAt    time.Time
	Status        PollJobStatus
	Reason        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PollJobStatus string

const (
	PollJobPending PollJobStatus = "pending"
	PollJobReady   PollJobStatus = "ready"
	PollJobFailed  PollJobStatus = "failed"
)

// TokenBatch is the set of tokens issued for one request; they share one deadline.
type TokenBatch struct {
	RequestNumber string
	Deadline      time.Time
}
