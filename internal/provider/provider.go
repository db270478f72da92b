package provider

import (
	"context"
	"errors"

	"github.com/iurnickita/freightrate/internal/model"
)

// Provider is one external rate source.
//
// GetRates returns (nil, nil) when the provider declines to quote, for example
// when it has no credentials or no rate for the lane. An error means the call
// was attempted and failed.
type Provider interface {
	Code() string
	GetRates(ctx context.Context, req model.ShipmentRequest) (*model.ProviderQuote, error)
}

// AsyncProvider answers through a submit + poll cycle.
//
// Submit returns ("", nil) when the provider declines the request.
type AsyncProvider interface {
	Provider
	Submit(ctx context.Context, req model.ShipmentRequest) (string, error)
	Poll(ctx context.Context, trackingID string) (PollResult, error)
}

type PollStatus string

const (
	PollStatusPending PollStatus = "pending"
	PollStatusReady   PollStatus = "ready"
	PollStatusFailed  PollStatus = "failed"
)

type PollResult struct {
	Status PollStatus
	// при готовности может быть пустым: поставщику нечего предложить
	Quotes []model.ProviderQuote
	Reason string
}

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrUnknownUnit     = errors.New("unknown unit")
	ErrBadResponse     = errors.New("malformed provider response")
)
