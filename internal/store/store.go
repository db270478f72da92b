package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/store/config"
)

type Store interface {
	RequestPost(ctx context.Context, req model.ShipmentRequest) error
	RequestGet(ctx context.Context, number string) (model.ShipmentRequest, error)
	// RequestTransition is the only way to change a request status.
	RequestTransition(ctx context.Context, number string, to model.RequestStatus, reason string) error

	QuotePost(ctx context.Context, quote model.PricedQuote) error
	QuoteGet(ctx context.Context, requestNumber string) ([]model.PricedQuote, error)
	QuotePutRanking(ctx context.Context, requestNumber string, quotes []model.PricedQuote) error

	OrganizationPut(ctx context.Context, org model.Organization) error
	OrganizationGet(ctx context.Context, id string) (model.Organization, error)
	MarkupProfilePut(ctx context.Context, profile model.MarkupProfile) error
	MarkupProfileGet(ctx context.Context, id string) (model.MarkupProfile, error)

	CarrierAccountPut(ctx context.Context, account model.CarrierAccount) error
	CarrierAccountGet(ctx context.Context, userCode string) ([]model.CarrierAccount, error)
	CarrierContactPut(ctx context.Context, contact model.CarrierContact) error
	CarrierContactGet(ctx context.Context, service model.ServiceType) ([]model.CarrierContact, error)

	CarrierTokenPost(ctx context.Context, tokens []model.CarrierToken) error
	CarrierTokenGet(ctx context.Context, value string) (model.CarrierToken, error)
	CarrierTokenGetByRequest(ctx context.Context, requestNumber string) ([]model.CarrierToken, error)
	// CarrierTokenConsume marks the token submitted if it was not yet and
	// has not expired at at.
	CarrierTokenConsume(ctx context.Context, value string, at time.Time) error
	// CarrierTokenRelease undoes a consume whose quote was not stored.
	CarrierTokenRelease(ctx context.Context, value string) error
	// CarrierTokenBatches lists token batches of requests still waiting for carriers.
	CarrierTokenBatches(ctx context.Context) ([]model.TokenBatch, error)

	PollJobPost(ctx context.Context, job model.PollJob) error
	PollJobPut(ctx context.Context, job model.PollJob) error
	PollJobGetPending(ctx context.Context) ([]model.PollJob, error)
	PollJobGetByRequest(ctx context.Context, requestNumber string) ([]model.PollJob, error)

	Close() error
}

var (
	ErrNoRows           = errors.New("no rows")
	ErrAlreadyExists    = errors.New("already exists")
	ErrTransition       = errors.New("status transition not allowed")
	ErrAlreadySubmitted = errors.New("token already submitted")
	ErrTokenExpired     = errors.New("token expired")
)

const (
	DBTypePostgres = "postgres"
	DBTypeMongo    = "mongo"
	DBTypeMemory   = "memory"
)

func NewStore(cfg config.Config) (Store, error) {
	switch cfg.DBType {
	case DBTypePostgres, "":
		return NewPostgresStore(cfg)
	case DBTypeMongo:
		return NewMongoStore(cfg)
	case DBTypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown db type %q", cfg.DBType)
	}
}

// consumeError explains why a consume matched no token.
func consumeError(token model.CarrierToken, at time.Time) error {
	if token.Submitted {
		return ErrAlreadySubmitted
	}
	if !at.Before(token.ExpiresAt) {
		return ErrTokenExpired
	}
	return ErrAlreadySubmitted
}

func transitionError(number string, from, to model.RequestStatus) error {
	return fmt.Errorf("%w: request %s %s -> %s", ErrTransition, number, from, to)
}
