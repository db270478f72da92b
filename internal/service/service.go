package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iurnickita/freightrate/internal/aggregator"
	"github.com/iurnickita/freightrate/internal/handshake"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/notify"
	notifyConfig "github.com/iurnickita/freightrate/internal/notify/config"
	"github.com/iurnickita/freightrate/internal/pricing"
	"github.com/iurnickita/freightrate/internal/provider"
	"github.com/iurnickita/freightrate/internal/ranking"
	"github.com/iurnickita/freightrate/internal/service/config"
	"github.com/iurnickita/freightrate/internal/store"
	"github.com/theplant/luhn"
	"go.uber.org/zap"
)

type Service interface {
	CreateQuote(ctx context.Context, caller model.Caller, data model.ShipmentRequestData) (model.ShipmentRequest, error)
	GetQuote(ctx context.Context, caller model.Caller, number string) (QuoteResult, error)
	GetCarrierRequest(ctx context.Context, value string) (CarrierRequest, error)
	SubmitCarrierQuote(ctx context.Context, value string, payload model.CarrierSubmission) (model.PricedQuote, error)
	Resume(ctx context.Context) error
	Close()
}

var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnprocessableEntity = errors.New("unprocessable entity")
	ErrNotFound            = errors.New("not found")
)

// ConfigurationError makes a single request fail: no eligible providers, no
// carrier contacts or a markup configuration that cannot be used.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

type QuoteResult struct {
	Request model.ShipmentRequest
	Quotes  []model.PricedQuote
}

// CarrierRequest is what a carrier sees behind a token.
type CarrierRequest struct {
	Token   model.CarrierToken
	State   model.TokenState
	Request model.ShipmentRequest
}

// Err returns why the token cannot take a submission, or nil.
func (cr CarrierRequest) Err() error {
	switch {
	case cr.State == model.TokenStateConsumed:
		return handshake.ErrTokenAlreadySubmitted
	case cr.State == model.TokenStateExpired, cr.Request.Data.Status == model.RequestStatusExpired:
		return handshake.ErrTokenExpired
	}
	return nil
}

// Deps are the components the service orchestrates.
type Deps struct {
	Store      store.Store
	Registry   *provider.Registry
	Engine     pricing.Engine
	Aggregator aggregator.Aggregator
	Poller     aggregator.Poller
	Handshake  handshake.Handshake
	Notifier   notify.Notifier
	Logger     *zap.Logger
}

const lockStripes = 64

type service struct {
	cfg        config.Config
	store      store.Store
	registry   *provider.Registry
	engine     pricing.Engine
	aggregator aggregator.Aggregator
	poller     aggregator.Poller
	handshake  handshake.Handshake
	notifier   notify.Notifier
	zaplog     *zap.Logger

	// изменения котировок одного запроса идут последовательно
	locks [lockStripes]sync.Mutex
}

func NewService(cfg config.Config, deps Deps) (Service, error) {
	if deps.Store == nil || deps.Registry == nil || deps.Engine == nil ||
		deps.Aggregator == nil || deps.Poller == nil || deps.Handshake == nil {
		return nil, errors.New("service: missing dependency")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewNotifier(notifyConfig.Config{}, deps.Logger)
	}

	service := service{
		cfg:        cfg,
		store:      deps.Store,
		registry:   deps.Registry,
		engine:     deps.Engine,
		aggregator: deps.Aggregator,
		poller:     deps.Poller,
		handshake:  deps.Handshake,
		notifier:   deps.Notifier,
		zaplog:     deps.Logger,
	}
	return &service, nil
}

func (service *service) lock(number string) func() {
	h := fnv.New32a()
	h.Write([]byte(number))
	mu := &service.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Номер запроса

// newNumber returns an 11 digit number with a Luhn check digit.
func newNumber() string {
	id := uuid.New()
	base := int(binary.BigEndian.Uint64(id[:8])%9_000_000_000) + 1_000_000_000
	return strconv.Itoa(base*10 + luhn.CalculateLuhn(base))
}

// ValidNumber reports whether number passes the Luhn check.
func ValidNumber(number string) bool {
	if number == "" || len(number) > 18 {
		return false
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return false
		}
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return false
	}
	return luhn.Valid(n)
}

// Создание запроса

func (service *service) CreateQuote(ctx context.Context, caller model.Caller, data model.ShipmentRequestData) (model.ShipmentRequest, error) {
	if caller.UserCode == "" {
		return model.ShipmentRequest{}, ErrInsufficientData
	}
	if err := validateRequest(data); err != nil {
		return model.ShipmentRequest{}, err
	}

	now := time.Now()
	req := model.ShipmentRequest{Data: data}
	req.Data.Owner = caller
	req.Data.Status = model.RequestStatusRequested
	req.Data.Error = ""
	req.Data.CreatedAt = now
	req.Data.UpdatedAt = now

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		req.Number = newNumber()
		err = service.store.RequestPost(ctx, req)
		if !errors.Is(err, store.ErrAlreadyExists) {
			break
		}
	}
	if err != nil {
		return model.ShipmentRequest{}, err
	}

	if err = service.store.RequestTransition(ctx, req.Number, model.RequestStatusProcessing, ""); err != nil {
		return model.ShipmentRequest{}, err
	}
	req.Data.Status = model.RequestStatusProcessing

	go service.process(req)

	return req, nil
}

func validateRequest(data model.ShipmentRequestData) error {
	if !data.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, data.Mode)
	}
	if data.Mode == model.ModeRoad {
		switch data.ServiceType {
		case model.ServiceLTL, model.ServiceFTL, model.ServiceExpedited:
		default:
			return fmt.Errorf("%w: road service type %q", ErrInvalidRequest, data.ServiceType)
		}
	} else if data.ServiceType != model.ServiceNone {
		return fmt.Errorf("%w: service type %q is only for road", ErrInvalidRequest, data.ServiceType)
	}
	if data.Origin.Country == "" || data.Destination.Country == "" {
		return fmt.Errorf("%w: origin and destination country", ErrInsufficientData)
	}
	if len(data.Cargo.Pieces) == 0 {
		return fmt.Errorf("%w: cargo pieces", ErrInsufficientData)
	}
	for i, p := range data.Cargo.Pieces {
		if p.Quantity <= 0 || p.Weight <= 0 {
			return fmt.Errorf("%w: piece %d quantity and weight must be positive", ErrInvalidRequest, i)
		}
		if p.WeightUnit != model.WeightUnitLB && p.WeightUnit != model.WeightUnitKG {
			return fmt.Errorf("%w: piece %d weight unit %q", ErrInvalidRequest, i, p.WeightUnit)
		}
		if p.DimUnit != model.DimUnitIN && p.DimUnit != model.DimUnitCM {
			return fmt.Errorf("%w: piece %d dimension unit %q", ErrInvalidRequest, i, p.DimUnit)
		}
		if p.Length < 0 || p.Width < 0 || p.Height < 0 {
			return fmt.Errorf("%w: piece %d negative dimension", ErrInvalidRequest, i)
		}
	}
	return nil
}

// Обработка запроса в фоне

func (service *service) process(req model.ShipmentRequest) {
	ctx := context.Background()

	var err error
	if req.Data.Manual() {
		err = service.inviteCarriers(ctx, req)
	} else {
		err = service.collect(ctx, req)
	}
	if err != nil {
		service.zaplog.Error("quote request failed",
			zap.String("request", req.Number),
			zap.Error(err))
		service.finish(ctx, req.Number, model.RequestStatusExpired, err.Error())
	}
}

func (service *service) collect(ctx context.Context, req model.ShipmentRequest) error {
	mk, err := service.loadMarkup(ctx, req.Data.Owner)
	if err != nil {
		return err
	}

	var accounts []model.CarrierAccount
	if req.Data.Mode == model.ModeRoad {
		accounts, err = service.store.CarrierAccountGet(ctx, req.Data.Owner.UserCode)
		if err != nil {
			return err
		}
	}
	targets := service.registry.Eligible(req, accounts)
	if len(targets) == 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("no eligible providers for %s %s", req.Data.Mode, req.Data.ServiceType)}
	}

	outcomes := service.aggregator.Collect(ctx, req, targets)

	unlock := service.lock(req.Number)
	defer unlock()

	pending := 0
	for _, out := range outcomes {
		switch {
		case out.Quote != nil:
			if _, err := service.addQuote(ctx, req, *out.Quote, mk); err != nil {
				service.zaplog.Warn("quote not priced",
					zap.String("request", req.Number),
					zap.String("provider", out.ProviderCode),
					zap.Error(err))
			}
		case out.Async != nil:
			if _, err := service.poller.Start(ctx, req, out, service); err != nil {
				service.zaplog.Error("poll job not started",
					zap.String("request", req.Number),
					zap.String("provider", out.ProviderCode),
					zap.Error(err))
				continue
			}
			pending++
		}
	}

	if _, err := service.rerank(ctx, req.Number); err != nil {
		return err
	}
	// ответы асинхронных поставщиков завершат запрос позже
	if pending == 0 {
		service.finish(ctx, req.Number, model.RequestStatusReady, "")
	}
	return nil
}

type markupInputs struct {
	config         model.MarkupConfig
	showDirectCost bool
}

// loadMarkup reads the caller's markup configuration for every pricing run.
// An organization without a stored configuration gets the default markup.
func (service *service) loadMarkup(ctx context.Context, owner model.Caller) (markupInputs, error) {
	if owner.Organization == "" {
		return markupInputs{}, nil
	}
	org, err := service.store.OrganizationGet(ctx, owner.Organization)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return markupInputs{}, nil
		}
		return markupInputs{}, err
	}

	mk := markupInputs{config: org.Markup, showDirectCost: org.ShowDirectCost}
	if org.MarkupProfile != "" {
		profile, err := service.store.MarkupProfileGet(ctx, org.MarkupProfile)
		if err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return markupInputs{}, &ConfigurationError{Reason: fmt.Sprintf("markup profile %q of organization %q not found", org.MarkupProfile, org.ID)}
			}
			return markupInputs{}, err
		}
		mk.config = profile.Markup
	}
	if err = pricing.ValidateConfig(mk.config); err != nil {
		return markupInputs{}, &ConfigurationError{Reason: fmt.Sprintf("markup of organization %q: %v", org.ID, err)}
	}
	return mk, nil
}

func (service *service) addQuote(ctx context.Context, req model.ShipmentRequest, quote model.ProviderQuote, mk markupInputs) (model.PricedQuote, error) {
	if quote.ID == "" {
		quote.ID = uuid.NewString()
	}
	quote.RequestNumber = req.Number
	if quote.CreatedAt.IsZero() {
		quote.CreatedAt = time.Now()
	}
	if quote.Source == "" || quote.Source == model.QuoteSourceProvider {
		quote.Source = model.QuoteSourceProvider
		if quote.AccountID != "" {
			quote.Source = model.QuoteSourceAccount
		}
	}
	if quote.Currency == "" {
		quote.Currency = service.cfg.BaseCurrency
	}
	if quote.Status == "" {
		quote.Status = model.QuoteStatusReady
	}

	pc := model.PricingContext{
		Caller:               req.Data.Owner,
		OrgShowDirectCost:    mk.showDirectCost,
		CustomerOwnedAccount: quote.CustomerOwned,
	}
	p, err := service.engine.Price(quote.Cost.Total(), pc, mk.config, req.Data.Mode, quote.ProviderCode)
	if err != nil {
		return model.PricedQuote{}, fmt.Errorf("%s: %w", quote.ProviderCode, err)
	}

	priced := model.PricedQuote{Quote: quote, Pricing: p}
	if err = service.store.QuotePost(ctx, priced); err != nil {
		return model.PricedQuote{}, err
	}
	return priced, nil
}

// rerank recomputes flags of all quotes of the request. Caller holds the lock.
func (service *service) rerank(ctx context.Context, number string) ([]model.PricedQuote, error) {
	quotes, err := service.store.QuoteGet(ctx, number)
	if err != nil {
		return nil, err
	}
	ranked := ranking.Rank(quotes, time.Now())
	if err = service.store.QuotePutRanking(ctx, number, ranked); err != nil {
		return nil, err
	}
	return ranked, nil
}

// finish moves the request to a final status and publishes the event.
// A request already in that status is left alone and publishes nothing.
func (service *service) finish(ctx context.Context, number string, status model.RequestStatus, reason string) {
	prev, err := service.store.RequestGet(ctx, number)
	if err != nil {
		service.zaplog.Error("request not read", zap.String("request", number), zap.Error(err))
		return
	}
	if prev.Data.Status == status {
		return
	}

	err = service.store.RequestTransition(ctx, number, status, reason)
	if err != nil {
		service.zaplog.Warn("request status not changed",
			zap.String("request", number),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}

	req, err := service.store.RequestGet(ctx, number)
	if err != nil {
		service.zaplog.Error("request not read", zap.String("request", number), zap.Error(err))
		return
	}
	service.zaplog.Info("request finished",
		zap.String("request", number),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	if err = service.notifier.RequestFinished(ctx, req); err != nil {
		service.zaplog.Error("request event not published", zap.String("request", number), zap.Error(err))
	}
}

// Асинхронные поставщики

func (service *service) PollReady(ctx context.Context, job model.PollJob, quotes []model.ProviderQuote) {
	unlock := service.lock(job.RequestNumber)
	defer unlock()

	req, err := service.store.RequestGet(ctx, job.RequestNumber)
	if err != nil {
		service.zaplog.Error("request not read", zap.String("request", job.RequestNumber), zap.Error(err))
		return
	}
	mk, err := service.loadMarkup(ctx, req.Data.Owner)
	if err != nil {
		service.zaplog.Error("markup not loaded", zap.String("request", req.Number), zap.Error(err))
		service.finish(ctx, req.Number, model.RequestStatusExpired, err.Error())
		return
	}

	for _, q := range quotes {
		if q.AccountID == "" {
			q.AccountID = job.AccountID
		}
		if _, err := service.addQuote(ctx, req, q, mk); err != nil {
			service.zaplog.Warn("quote not priced",
				zap.String("request", req.Number),
				zap.String("provider", job.ProviderCode),
				zap.Error(err))
		}
	}
	if _, err = service.rerank(ctx, req.Number); err != nil {
		service.zaplog.Error("rerank failed", zap.String("request", req.Number), zap.Error(err))
	}
	service.settle(ctx, req)
}

func (service *service) PollFailed(ctx context.Context, job model.PollJob, err error) {
	unlock := service.lock(job.RequestNumber)
	defer unlock()

	service.zaplog.Warn("poll job failed",
		zap.String("request", job.RequestNumber),
		zap.String("provider", job.ProviderCode),
		zap.Error(err))

	req, err := service.store.RequestGet(ctx, job.RequestNumber)
	if err != nil {
		service.zaplog.Error("request not read", zap.String("request", job.RequestNumber), zap.Error(err))
		return
	}
	service.settle(ctx, req)
}

// settle closes a request once none of its poll jobs is pending. Without any
// quote the failures of the jobs expire it; otherwise it is ready and keeps
// the failures as a note.
func (service *service) settle(ctx context.Context, req model.ShipmentRequest) {
	if req.Data.Status != model.RequestStatusProcessing {
		return
	}
	jobs, err := service.store.PollJobGetByRequest(ctx, req.Number)
	if err != nil {
		service.zaplog.Error("poll jobs not read", zap.String("request", req.Number), zap.Error(err))
		return
	}
	var reasons []string
	for _, j := range jobs {
		switch j.Status {
		case model.PollJobPending:
			return
		case model.PollJobFailed:
			reasons = append(reasons, j.Reason)
		}
	}
	reason := strings.Join(reasons, "; ")

	quotes, err := service.store.QuoteGet(ctx, req.Number)
	if err != nil {
		service.zaplog.Error("quotes not read", zap.String("request", req.Number), zap.Error(err))
		return
	}
	if len(quotes) == 0 && reason != "" {
		service.finish(ctx, req.Number, model.RequestStatusExpired, reason)
		return
	}
	service.finish(ctx, req.Number, model.RequestStatusReady, reason)
}

// Перевозчики по одноразовым ссылкам

func (service *service) inviteCarriers(ctx context.Context, req model.ShipmentRequest) error {
	if _, err := service.loadMarkup(ctx, req.Data.Owner); err != nil {
		return err
	}
	contacts, err := service.store.CarrierContactGet(ctx, req.Data.ServiceType)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("no carrier contacts for %s", req.Data.ServiceType)}
	}

	tokens, err := service.handshake.Issue(ctx, req, contacts, service.carrierDeadline)
	if err != nil {
		return err
	}
	if err = service.notifier.CarriersInvited(ctx, req, tokens); err != nil {
		service.zaplog.Error("carrier invitations not published", zap.String("request", req.Number), zap.Error(err))
	}
	return nil
}

func (service *service) carrierDeadline(ctx context.Context, number string) {
	unlock := service.lock(number)
	defer unlock()

	quotes, err := service.store.QuoteGet(ctx, number)
	if err != nil {
		service.zaplog.Error("quotes not read", zap.String("request", number), zap.Error(err))
		return
	}
	if len(quotes) == 0 {
		service.finish(ctx, number, model.RequestStatusExpired, "no carrier responded")
		return
	}
	if _, err = service.rerank(ctx, number); err != nil {
		service.zaplog.Error("rerank failed", zap.String("request", number), zap.Error(err))
	}
	service.finish(ctx, number, model.RequestStatusReady, "")
}

func (service *service) GetCarrierRequest(ctx context.Context, value string) (CarrierRequest, error) {
	token, err := service.handshake.Lookup(ctx, value)
	if err != nil {
		return CarrierRequest{}, err
	}
	req, err := service.store.RequestGet(ctx, token.RequestNumber)
	if err != nil {
		return CarrierRequest{}, err
	}
	return CarrierRequest{Token: token, State: token.State(time.Now()), Request: req}, nil
}

// SubmitCarrierQuote accepts a carrier answer. The token is consumed only
// after the pricing inputs are known to be usable and is released again if
// the quote cannot be stored.
func (service *service) SubmitCarrierQuote(ctx context.Context, value string, payload model.CarrierSubmission) (model.PricedQuote, error) {
	token, err := service.handshake.Validate(ctx, value, payload)
	if err != nil {
		return model.PricedQuote{}, err
	}

	unlock := service.lock(token.RequestNumber)
	defer unlock()

	req, err := service.store.RequestGet(ctx, token.RequestNumber)
	if err != nil {
		return model.PricedQuote{}, err
	}
	if req.Data.Status == model.RequestStatusExpired {
		return model.PricedQuote{}, handshake.ErrTokenExpired
	}
	mk, err := service.loadMarkup(ctx, req.Data.Owner)
	if err != nil {
		return model.PricedQuote{}, err
	}

	token, err = service.handshake.Consume(ctx, value, payload)
	if err != nil {
		return model.PricedQuote{}, err
	}

	quote := handshake.ManualQuote(token, payload, time.Now())
	quote.Service = string(req.Data.ServiceType)
	priced, err := service.addQuote(ctx, req, quote, mk)
	if err != nil {
		// ответ не сохранен: ссылку можно использовать снова
		if rerr := service.handshake.Release(ctx, value); rerr != nil {
			service.zaplog.Error("carrier token not released", zap.String("request", req.Number), zap.Error(rerr))
		}
		return model.PricedQuote{}, err
	}

	// первый ответ делает запрос готовым, остальные только добавляются
	service.finish(ctx, req.Number, model.RequestStatusReady, "")

	ranked, err := service.rerank(ctx, req.Number)
	if err != nil {
		return priced, err
	}
	for _, q := range ranked {
		if q.Quote.ID == priced.Quote.ID {
			priced = q
			break
		}
	}

	service.zaplog.Info("carrier quote accepted",
		zap.String("request", req.Number),
		zap.String("carrier", token.Carrier.ID),
		zap.String("total", priced.Pricing.Total.StringFixed(2)))
	return priced, nil
}

// Чтение результата

func canView(caller, owner model.Caller) bool {
	switch {
	case caller.Role == model.RoleAdmin:
		return true
	case caller.UserCode != "" && caller.UserCode == owner.UserCode:
		return true
	case caller.Role == model.RoleEmployee && caller.Organization != "" && caller.Organization == owner.Organization:
		return true
	}
	return false
}

func (service *service) GetQuote(ctx context.Context, caller model.Caller, number string) (QuoteResult, error) {
	if !ValidNumber(number) {
		return QuoteResult{}, ErrUnprocessableEntity
	}
	req, err := service.store.RequestGet(ctx, number)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return QuoteResult{}, ErrNotFound
		}
		return QuoteResult{}, err
	}
	if !canView(caller, req.Data.Owner) {
		return QuoteResult{}, ErrNotFound
	}

	quotes, err := service.store.QuoteGet(ctx, number)
	if err != nil {
		return QuoteResult{}, err
	}
	return QuoteResult{Request: req, Quotes: ranking.Rank(quotes, time.Now())}, nil
}

// Перезапуск

func (service *service) Resume(ctx context.Context) error {
	jobs, err := service.poller.Resume(ctx, service)
	if err != nil {
		return err
	}
	batches, err := service.handshake.Resume(ctx, service.carrierDeadline)
	if err != nil {
		return err
	}
	service.zaplog.Info("background work resumed",
		zap.Int("poll_jobs", jobs),
		zap.Int("carrier_batches", batches))
	return nil
}

func (service *service) Close() {
	service.poller.Stop()
	service.handshake.Stop()
	if err := service.notifier.Close(); err != nil {
		service.zaplog.Error("notifier not closed", zap.Error(err))
	}
}
