package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iurnickita/freightrate/internal/aggregator/config"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/provider"
	"github.com/iurnickita/freightrate/internal/store"
	"go.uber.org/zap"
)

const defaultPollTimeout = 30 * time.Second

// Handler receives the terminal result of a poll job.
type Handler interface {
	PollReady(ctx context.Context, job model.PollJob, quotes []model.ProviderQuote)
	PollFailed(ctx context.Context, job model.PollJob, err error)
}

// Resolver builds provider instances; *provider.Registry satisfies it.
type Resolver interface {
	Resolve(code string, account *model.CarrierAccount) (provider.Provider, error)
}

// Poller drives the submit/poll cycle of asynchronous providers. Every job is
// persisted before it is scheduled and after each attempt, so Resume can pick
// pending jobs up after a restart.
type Poller interface {
	Start(ctx context.Context, req model.ShipmentRequest, out Outcome, h Handler) (model.PollJob, error)
	Resume(ctx context.Context, h Handler) (int, error)
	Stop()
}

type poller struct {
	cfg      config.Config
	store    store.Store
	resolver Resolver
	zaplog   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewPoller(cfg config.Config, store store.Store, resolver Resolver, zaplog *zap.Logger) Poller {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &poller{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		zaplog:   zaplog,
		now:      time.Now,
		timers:   make(map[string]*time.Timer),
	}
}

func (p *poller) Start(ctx context.Context, req model.ShipmentRequest, out Outcome, h Handler) (model.PollJob, error) {
	if out.Async == nil || out.TrackingID == "" {
		return model.PollJob{}, fmt.Errorf("%s: no tracking id", out.ProviderCode)
	}

	policy := PolicyFor(p.cfg, req.Data.Lane())
	now := p.now()
	job := model.PollJob{
		ID:            uuid.NewString(),
		RequestNumber: req.Number,
		ProviderCode:  out.ProviderCode,
		AccountID:     out.AccountID,
		TrackingID:    out.TrackingID,
		MaxAttempts:   policy.MaxAttempts,
		Interval:      policy.Interval,
		NextPollAt:    now.Add(policy.InitialDelay),
		Status:        model.PollJobPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}

	// сначала сохраняем, потом планируем
	if err := p.store.PollJobPost(ctx, job); err != nil {
		return model.PollJob{}, err
	}
	p.schedule(job, out.Async, h)

	p.zaplog.Info("poll job started",
		zap.String("request", job.RequestNumber),
		zap.String("provider", job.ProviderCode),
		zap.String("tracking_id", job.TrackingID),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Duration("interval", job.Interval))
	return job, nil
}

// Resume schedules every pending job found in the store.
func (p *poller) Resume(ctx context.Context, h Handler) (int, error) {
	jobs, err := p.store.PollJobGetPending(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, job := range jobs {
		prov, err := p.resolve(ctx, job)
		if err != nil {
			p.zaplog.Error("poll job cannot be resumed",
				zap.String("request", job.RequestNumber),
				zap.String("provider", job.ProviderCode),
				zap.Error(err))
			p.fail(context.Background(), job, h, fmt.Errorf("%w: %v", ErrProviderFailed, err))
			continue
		}
		p.schedule(job, prov, h)
		resumed++
	}
	return resumed, nil
}

func (p *poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}

func (p *poller) resolve(ctx context.Context, job model.PollJob) (provider.AsyncProvider, error) {
	var account *model.CarrierAccount
	if job.AccountID != "" {
		req, err := p.store.RequestGet(ctx, job.RequestNumber)
		if err != nil {
			return nil, err
		}
		accounts, err := p.store.CarrierAccountGet(ctx, req.Data.Owner.UserCode)
		if err != nil {
			return nil, err
		}
		for i := range accounts {
			if accounts[i].ID == job.AccountID {
				account = &accounts[i]
				break
			}
		}
		if account == nil {
			return nil, fmt.Errorf("account %s not found", job.AccountID)
		}
	}

	prov, err := p.resolver.Resolve(job.ProviderCode, account)
	if err != nil {
		return nil, err
	}
	async, ok := prov.(provider.AsyncProvider)
	if !ok {
		return nil, fmt.Errorf("%s is not asynchronous", job.ProviderCode)
	}
	return async, nil
}

func (p *poller) schedule(job model.PollJob, prov provider.AsyncProvider, h Handler) {
	delay := job.NextPollAt.Sub(p.now())
	if delay < 0 {
		delay = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.timers[job.ID] = time.AfterFunc(delay, func() {
		p.poll(job, prov, h)
	})
}

func (p *poller) poll(job model.PollJob, prov provider.AsyncProvider, h Handler) {
	p.mu.Lock()
	delete(p.timers, job.ID)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PollTimeout)
	res, err := prov.Poll(ctx, job.TrackingID)
	cancel()

	job.Attempts++
	job.UpdatedAt = p.now()

	log := p.zaplog.With(
		zap.String("request", job.RequestNumber),
		zap.String("provider", job.ProviderCode),
		zap.String("tracking_id", job.TrackingID),
		zap.Int("attempt", job.Attempts))

	// ошибка опроса не окончательная: пробуем в следующий раз
	if err != nil {
		log.Warn("poll failed", zap.Error(err))
		p.next(job, prov, h, err.Error())
		return
	}

	switch res.Status {
	case provider.PollStatusReady:
		job.Status = model.PollJobReady
		job.Reason = ""
		p.put(job)
		log.Info("poll job ready", zap.Int("quotes", len(res.Quotes)))
		h.PollReady(context.Background(), job, res.Quotes)
	case provider.PollStatusFailed:
		log.Warn("provider failed quote request", zap.String("reason", res.Reason))
		p.fail(context.Background(), job, h, fmt.Errorf("%w: %s: %s", ErrProviderFailed, job.ProviderCode, res.Reason))
	default:
		p.next(job, prov, h, "quote still pending")
	}
}

func (p *poller) next(job model.PollJob, prov provider.AsyncProvider, h Handler, last string) {
	if job.Attempts >= job.MaxAttempts {
		err := fmt.Errorf("%w: %s gave no rates after %d attempts (%s)", ErrPollExhausted, job.ProviderCode, job.Attempts, last)
		p.zaplog.Warn("poll job exhausted",
			zap.String("request", job.RequestNumber),
			zap.String("provider", job.ProviderCode),
			zap.Int("attempts", job.Attempts))
		p.fail(context.Background(), job, h, err)
		return
	}
	job.NextPollAt = p.now().Add(job.Interval)
	p.put(job)
	p.schedule(job, prov, h)
}

func (p *poller) fail(ctx context.Context, job model.PollJob, h Handler, err error) {
	job.Status = model.PollJobFailed
	job.Reason = err.Error()
	job.UpdatedAt = p.now()
	p.put(job)
	h.PollFailed(ctx, job, err)
}

func (p *poller) put(job model.PollJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PollTimeout)
	defer cancel()
	if err := p.store.PollJobPut(ctx, job); err != nil {
		p.zaplog.Error("poll job not saved",
			zap.String("request", job.RequestNumber),
			zap.String("job", job.ID),
			zap.Error(err))
	}
}
