package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iurnickita/freightrate/internal/aggregator/config"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/provider"
	"go.uber.org/zap"
)

var (
	ErrProviderTimeout = errors.New("provider timeout")
	ErrPollExhausted   = errors.New("poll attempts exhausted")
	ErrProviderFailed  = errors.New("provider failed")
)

const defaultProviderTimeout = 10 * time.Second

// Outcome is the result of one target call. Exactly one of Quote, Declined,
// Async and Err describes it.
type Outcome struct {
	ProviderCode string
	AccountID    string
	Quote        *model.ProviderQuote
	Declined     bool
	// асинхронный поставщик принял запрос
	TrackingID string
	Async      provider.AsyncProvider
	Err        error
	Duration   time.Duration
}

type Aggregator interface {
	Collect(ctx context.Context, req model.ShipmentRequest, targets []provider.Target) []Outcome
}

type aggregator struct {
	timeout time.Duration
	zaplog  *zap.Logger
}

func NewAggregator(cfg config.Config, zaplog *zap.Logger) Aggregator {
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &aggregator{timeout: timeout, zaplog: zaplog}
}

// Collect calls every target concurrently and waits until each one answered
// or ran out of its own time budget. Outcomes keep the order of targets.
func (a *aggregator) Collect(ctx context.Context, req model.ShipmentRequest, targets []provider.Target) []Outcome {
	outcomes := make([]Outcome, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		outcomes[i].ProviderCode = target.Code
		if target.Account != nil {
			outcomes[i].AccountID = target.Account.ID
		}
		if target.Err != nil {
			outcomes[i].Err = target.Err
			continue
		}

		wg.Add(1)
		go func(slot *Outcome, target provider.Target) {
			defer wg.Done()
			a.call(ctx, req, target, slot)
		}(&outcomes[i], target)
	}
	wg.Wait()

	for _, out := range outcomes {
		a.log(req, out)
	}
	return outcomes
}

type callResult struct {
	quote      *model.ProviderQuote
	trackingID string
	err        error
}

func (a *aggregator) call(ctx context.Context, req model.ShipmentRequest, target provider.Target, out *Outcome) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	async, isAsync := target.Provider.(provider.AsyncProvider)

	// буфер на один ответ: опоздавший поставщик не блокируется
	ch := make(chan callResult, 1)
	go func() {
		if isAsync {
			id, err := async.Submit(ctx, req)
			ch <- callResult{trackingID: id, err: err}
			return
		}
		quote, err := target.Provider.GetRates(ctx, req)
		ch <- callResult{quote: quote, err: err}
	}()

	select {
	case res := <-ch:
		out.Duration = time.Since(start)
		switch {
		case res.err != nil:
			out.Err = fmt.Errorf("%s: %w", target.Code, res.err)
		case isAsync && res.trackingID == "":
			out.Declined = true
		case isAsync:
			out.TrackingID = res.trackingID
			out.Async = async
		case res.quote == nil:
			out.Declined = true
		default:
			out.Quote = res.quote
		}
	case <-ctx.Done():
		out.Duration = time.Since(start)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.Err = fmt.Errorf("%w: %s after %s", ErrProviderTimeout, target.Code, a.timeout)
			return
		}
		out.Err = fmt.Errorf("%s: %w", target.Code, ctx.Err())
	}
}

func (a *aggregator) log(req model.ShipmentRequest, out Outcome) {
	fields := []zap.Field{
		zap.String("request", req.Number),
		zap.String("provider", out.ProviderCode),
		zap.String("account", out.AccountID),
		zap.Duration("duration", out.Duration),
	}
	switch {
	case out.Err != nil:
		a.zaplog.Warn("provider call failed", append(fields, zap.Error(out.Err))...)
	case out.Declined:
		a.zaplog.Info("provider declined", fields...)
	case out.Async != nil:
		a.zaplog.Info("provider accepted request", append(fields, zap.String("tracking_id", out.TrackingID))...)
	default:
		a.zaplog.Info("provider quoted", fields...)
	}
}

// PolicyFor picks the polling schedule for a lane.
func PolicyFor(cfg config.Config, lane string) config.Policy {
	for _, l := range cfg.FastLanes {
		if l == lane {
			return cfg.Fast
		}
	}
	return cfg.Slow
}
