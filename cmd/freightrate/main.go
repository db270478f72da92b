package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/iurnickita/freightrate/internal/aggregator"
	"github.com/iurnickita/freightrate/internal/auth"
	"github.com/iurnickita/freightrate/internal/config"
	"github.com/iurnickita/freightrate/internal/handler"
	"github.com/iurnickita/freightrate/internal/handshake"
	"github.com/iurnickita/freightrate/internal/logger"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/notify"
	"github.com/iurnickita/freightrate/internal/pricing"
	"github.com/iurnickita/freightrate/internal/provider"
	providerConfig "github.com/iurnickita/freightrate/internal/provider/config"
	"github.com/iurnickita/freightrate/internal/provider/forwarder"
	"github.com/iurnickita/freightrate/internal/provider/ltlrate"
	"github.com/iurnickita/freightrate/internal/service"
	"github.com/iurnickita/freightrate/internal/store"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := newRegistry(cfg.Provider)
	if err != nil {
		return err
	}
	zaplog.Info("providers enabled", zap.Strings("codes", registry.Enabled()))

	engine, err := pricing.NewEngine(cfg.Pricing)
	if err != nil {
		return err
	}

	service, err := service.NewService(cfg.Service, service.Deps{
		Store:      store,
		Registry:   registry,
		Engine:     engine,
		Aggregator: aggregator.NewAggregator(cfg.Aggregator, zaplog),
		Poller:     aggregator.NewPoller(cfg.Aggregator, store, registry, zaplog),
		Handshake:  handshake.NewHandshake(cfg.Handshake, store, zaplog),
		Notifier:   notify.NewNotifier(cfg.Notify, zaplog),
		Logger:     zaplog,
	})
	if err != nil {
		return err
	}
	defer service.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// опросы и дедлайны, прерванные перезапуском
	if err = service.Resume(ctx); err != nil {
		return err
	}

	auth := auth.NewAuth(cfg.Auth)
	reqLogger := logger.NewRequestLogger(cfg.Logger, zaplog)

	return handler.Serve(ctx, cfg.Handler, auth, service, reqLogger, zaplog)
}

func newRegistry(cfg providerConfig.Config) (*provider.Registry, error) {
	conv := provider.NewConverter(cfg.BaseCurrency, cfg.Currencies)
	registry := provider.NewRegistry()

	ltl := cfg.LTL
	registry.Register(ltl.Code, ltlrate.New(ltl.Code, ltl.BaseURL, conv),
		model.Credentials{APIKey: ltl.APIKey, AccountNo: ltl.AccountNo},
		provider.Coverage{Mode: model.ModeRoad, Services: []model.ServiceType{model.ServiceLTL}})
	if err := registry.SetEnabled(ltl.Code, ltl.Enabled); err != nil {
		return nil, err
	}

	fwd := cfg.Forwarder
	registry.Register(fwd.Code, forwarder.New(fwd.Code, fwd.BaseURL, conv),
		model.Credentials{APIKey: fwd.APIKey, AccountNo: fwd.AccountNo},
		provider.Coverage{Mode: model.ModeAir},
		provider.Coverage{Mode: model.ModeOcean})
	if err := registry.SetEnabled(fwd.Code, fwd.Enabled); err != nil {
		return nil, err
	}

	return registry, nil
}
