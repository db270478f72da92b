package handshake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iurnickita/freightrate/internal/handshake/config"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrTokenNotFound         = errors.New("token not found")
	ErrTokenAlreadySubmitted = errors.New("token already submitted")
	ErrTokenExpired          = errors.New("token expired")
	ErrInvalidPayload        = errors.New("invalid payload")
	ErrNoContacts            = errors.New("no carrier contacts")
)

// ProviderCode marks quotes entered by carriers through a token.
const ProviderCode = "CARRIER"

const (
	defaultTokenTTL = 30 * time.Minute
	tokenBytes      = 32
	maxNotes        = 2000
)

// DeadlineFunc is called once per token batch when its tokens expire.
type DeadlineFunc func(ctx context.Context, requestNumber string)

type Handshake interface {
	Issue(ctx context.Context, req model.ShipmentRequest, contacts []model.CarrierContact, onDeadline DeadlineFunc) ([]model.CarrierToken, error)
	Lookup(ctx context.Context, value string) (model.CarrierToken, error)
	Validate(ctx context.Context, value string, payload model.CarrierSubmission) (model.CarrierToken, error)
	Consume(ctx context.Context, value string, payload model.CarrierSubmission) (model.CarrierToken, error)
	Release(ctx context.Context, value string) error
	Resume(ctx context.Context, onDeadline DeadlineFunc) (int, error)
	Stop()
}

type handshake struct {
	ttl    time.Duration
	store  store.Store
	zaplog *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewHandshake(cfg config.Config, store store.Store, zaplog *zap.Logger) Handshake {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &handshake{
		ttl:    ttl,
		store:  store,
		zaplog: zaplog,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

func newTokenValue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Issue creates one token per contact. All tokens of the batch share one
// expiry and are stored before the deadline is armed.
func (h *handshake) Issue(ctx context.Context, req model.ShipmentRequest, contacts []model.CarrierContact, onDeadline DeadlineFunc) ([]model.CarrierToken, error) {
	if len(contacts) == 0 {
		return nil, ErrNoContacts
	}

	now := h.now()
	expiresAt := now.Add(h.ttl)
	tokens := make([]model.CarrierToken, 0, len(contacts))
	for _, c := range contacts {
		value, err := newTokenValue()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, model.CarrierToken{
			Value:         value,
			RequestNumber: req.Number,
			Carrier:       c,
			IssuedAt:      now,
			ExpiresAt:     expiresAt,
		})
	}

	if err := h.store.CarrierTokenPost(ctx, tokens); err != nil {
		return nil, err
	}
	h.schedule(model.TokenBatch{RequestNumber: req.Number, Deadline: expiresAt}, onDeadline)

	h.zaplog.Info("carrier tokens issued",
		zap.String("request", req.Number),
		zap.Int("carriers", len(tokens)),
		zap.Time("expires_at", expiresAt))
	return tokens, nil
}

func (h *handshake) Lookup(ctx context.Context, value string) (model.CarrierToken, error) {
	token, err := h.store.CarrierTokenGet(ctx, value)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.CarrierToken{}, ErrTokenNotFound
		}
		return model.CarrierToken{}, err
	}
	return token, nil
}

// Validate checks the token and the payload without consuming the token.
// Checks run in a fixed order: existence, submission, expiry, payload.
func (h *handshake) Validate(ctx context.Context, value string, payload model.CarrierSubmission) (model.CarrierToken, error) {
	token, err := h.Lookup(ctx, value)
	if err != nil {
		return model.CarrierToken{}, err
	}
	switch token.State(h.now()) {
	case model.TokenStateConsumed:
		return token, ErrTokenAlreadySubmitted
	case model.TokenStateExpired:
		return token, ErrTokenExpired
	}
	if err = ValidatePayload(payload); err != nil {
		return token, err
	}
	return token, nil
}

// Consume validates and then marks the token submitted. Of concurrent calls
// for one token exactly one succeeds.
func (h *handshake) Consume(ctx context.Context, value string, payload model.CarrierSubmission) (model.CarrierToken, error) {
	token, err := h.Validate(ctx, value, payload)
	if err != nil {
		return token, err
	}

	at := h.now()
	err = h.store.CarrierTokenConsume(ctx, value, at)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadySubmitted):
			return token, ErrTokenAlreadySubmitted
		case errors.Is(err, store.ErrTokenExpired):
			return token, ErrTokenExpired
		case errors.Is(err, store.ErrNoRows):
			return token, ErrTokenNotFound
		default:
			return token, err
		}
	}
	token.Submitted = true
	token.SubmittedAt = at
	return token, nil
}

// Release returns a consumed token to the issued state when its quote
// could not be stored.
func (h *handshake) Release(ctx context.Context, value string) error {
	err := h.store.CarrierTokenRelease(ctx, value)
	if errors.Is(err, store.ErrNoRows) {
		return ErrTokenNotFound
	}
	return err
}

// Resume re-arms deadlines of batches whose requests still wait for carriers.
func (h *handshake) Resume(ctx context.Context, onDeadline DeadlineFunc) (int, error) {
	batches, err := h.store.CarrierTokenBatches(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range batches {
		h.schedule(b, onDeadline)
	}
	return len(batches), nil
}

func (h *handshake) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for number, t := range h.timers {
		t.Stop()
		delete(h.timers, number)
	}
}

func (h *handshake) schedule(batch model.TokenBatch, onDeadline DeadlineFunc) {
	delay := batch.Deadline.Sub(h.now())
	if delay < 0 {
		delay = 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	// одна проверка на рассылку
	if t, ok := h.timers[batch.RequestNumber]; ok {
		t.Stop()
	}
	h.timers[batch.RequestNumber] = time.AfterFunc(delay, func() {
		h.mu.Lock()
		delete(h.timers, batch.RequestNumber)
		h.mu.Unlock()

		h.zaplog.Info("carrier deadline reached", zap.String("request", batch.RequestNumber))
		onDeadline(context.Background(), batch.RequestNumber)
	})
}

// ValidatePayload checks a carrier submission.
func ValidatePayload(p model.CarrierSubmission) error {
	if !p.BaseRate.IsPositive() {
		return fmt.Errorf("%w: base rate must be positive", ErrInvalidPayload)
	}
	if p.FuelSurcharge.IsNegative() {
		return fmt.Errorf("%w: fuel surcharge is negative", ErrInvalidPayload)
	}
	if p.AccessorialsTotal.IsNegative() {
		return fmt.Errorf("%w: accessorials total is negative", ErrInvalidPayload)
	}
	for _, item := range p.Accessorials {
		if item.Name == "" {
			return fmt.Errorf("%w: accessorial without name", ErrInvalidPayload)
		}
		if item.Amount.IsNegative() {
			return fmt.Errorf("%w: accessorial %q is negative", ErrInvalidPayload, item.Name)
		}
	}
	if p.TransitDays <= 0 {
		return fmt.Errorf("%w: transit days must be positive", ErrInvalidPayload)
	}
	if len(p.Notes) > maxNotes {
		return fmt.Errorf("%w: notes too long", ErrInvalidPayload)
	}
	return nil
}

// ManualQuote turns a carrier submission into a raw quote. Itemized
// accessorials win over the lump sum.
func ManualQuote(token model.CarrierToken, p model.CarrierSubmission, now time.Time) model.ProviderQuote {
	accessorials := p.AccessorialsTotal
	if len(p.Accessorials) > 0 {
		accessorials = decimal.Zero
		for _, item := range p.Accessorials {
			accessorials = accessorials.Add(item.Amount)
		}
	}

	return model.ProviderQuote{
		ID:            uuid.NewString(),
		RequestNumber: token.RequestNumber,
		ProviderCode:  ProviderCode,
		ExternalID:    token.Carrier.ID,
		Source:        model.QuoteSourceCarrier,
		Carrier:       token.Carrier.Name,
		Cost: model.CostBreakdown{
			Freight:          p.BaseRate,
			Fuel:             p.FuelSurcharge,
			Accessorials:     accessorials,
			AccessorialItems: p.Accessorials,
		},
		TransitDays: p.TransitDays,
		Guaranteed:  p.Guaranteed,
		Notes:       p.Notes,
		Status:      model.QuoteStatusReady,
		CreatedAt:   now,
	}
}
