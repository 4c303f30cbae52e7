package app

import (
	"context"
	"fmt"

	ctcfg "copytrade/internal/config"
	"copytrade/internal/engine"
	"copytrade/internal/engine/monitor"
	"copytrade/internal/engine/replicate"
	"copytrade/internal/gateway/binance"
	"copytrade/internal/gateway/exchange"
	"copytrade/internal/linkset"
	"copytrade/internal/logger"
	"copytrade/internal/store"
	"copytrade/internal/store/gormstore"
	adminhttp "copytrade/internal/transport/http/admin"
)

type AppBuilder struct {
	cfg *ctcfg.Config

	ledgerFn  func(ctcfg.StoreConfig) (store.Ledger, error)
	gatewayFn func(ctcfg.ExchangeConfig) (exchange.Gateway, error)
	linkSetFn func(ctcfg.LinkSetConfig) (*linkset.Registry, error)
	adminFn   func(ctcfg.AppConfig, *engine.Engine, store.Ledger) (*adminhttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *ctcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		ledgerFn:  buildLedger,
		gatewayFn: buildGateway,
		linkSetFn: buildLinkSet,
		adminFn:   buildAdminServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	ledger, err := b.ledgerFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	gw, err := b.gatewayFn(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("init exchange gateway: %w", err)
	}

	reg, err := b.linkSetFn(cfg.LinkSet)
	if err != nil {
		return nil, fmt.Errorf("load link set: %w", err)
	}
	snap := reg.Snapshot()
	if err := linkset.Seed(ctx, ledger, snap); err != nil {
		return nil, fmt.Errorf("seed link set: %w", err)
	}
	logger.Infof("link set loaded: %d accounts, %d links", len(snap.Accounts), len(snap.Links))

	eng := engine.New(gw, ledger, engine.Options{
		Monitor: monitor.Options{
			Interval:         cfg.Monitor.PollInterval(),
			FailureSleep:     cfg.Monitor.FailureSleep(),
			StartupWindow:    cfg.Monitor.StartupWindow(),
			BreakerThreshold: cfg.Monitor.BreakerThreshold,
			BreakerTimeout:   cfg.Monitor.BreakerTimeout(),
		},
		Replicate: replicate.Options{
			HistoryLookback:      cfg.Replicate.HistoryLookback(),
			HistoryLimit:         cfg.Replicate.HistoryLimit,
			StaleCancelAge:       cfg.Replicate.StaleCancelAge(),
			FallbackWindow:       cfg.Replicate.FallbackWindow(),
			LeverageLadder:       cfg.Replicate.LeverageLadder,
			DispatchBudget:       cfg.Replicate.DispatchBudget,
			EquityDriftThreshold: cfg.Replicate.EquityDriftPct / 100,
			TargetMarginRatio:    cfg.Replicate.TargetMarginRatio,
			CallTimeout:          cfg.Replicate.CallTimeout(),
		},
	})

	admin, err := b.adminFn(cfg.App, eng, ledger)
	if err != nil {
		return nil, fmt.Errorf("init admin server: %w", err)
	}

	return &App{
		cfg:     cfg,
		ledger:  ledger,
		engine:  eng,
		linkSet: reg,
		admin:   admin,
	}, nil
}

func buildLedger(cfg ctcfg.StoreConfig) (store.Ledger, error) {
	return gormstore.NewGormStore(cfg.DBPath)
}

func buildGateway(cfg ctcfg.ExchangeConfig) (exchange.Gateway, error) {
	return binance.New(binance.Config{
		RESTBaseURL:  cfg.RESTBaseURL,
		HTTPTimeout:  cfg.HTTPTimeout(),
		ProxyEnabled: cfg.ProxyEnabled,
		RESTProxyURL: cfg.RESTProxyURL,
		FilterTTL:    cfg.FilterTTL(),
	})
}

func buildLinkSet(cfg ctcfg.LinkSetConfig) (*linkset.Registry, error) {
	return linkset.NewRegistry(cfg.Path)
}

func buildAdminServer(cfg ctcfg.AppConfig, eng *engine.Engine, ledger store.Ledger) (*adminhttp.Server, error) {
	return adminhttp.NewServer(adminhttp.ServerConfig{
		Addr:   cfg.HTTPAddr,
		Engine: eng,
		Ledger: ledger,
	})
}

func WithLedger(fn func(ctcfg.StoreConfig) (store.Ledger, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.ledgerFn = fn
		}
	}
}

func WithGateway(fn func(ctcfg.ExchangeConfig) (exchange.Gateway, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.gatewayFn = fn
		}
	}
}

func WithLinkSet(fn func(ctcfg.LinkSetConfig) (*linkset.Registry, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.linkSetFn = fn
		}
	}
}
