// Package app wires configuration into the running service: ledger,
// exchange gateway, link set registry, replication engine, and the admin
// HTTP surface.
package app

import (
	"context"
	"fmt"
	"time"

	ctcfg "copytrade/internal/config"
	"copytrade/internal/engine"
	"copytrade/internal/linkset"
	"copytrade/internal/logger"
	"copytrade/internal/store"
	adminhttp "copytrade/internal/transport/http/admin"

	"golang.org/x/sync/errgroup"
)

// App owns application-level orchestration: build dependencies once, then
// run the admin server, the log pruner, and (optionally) the engine.
type App struct {
	cfg     *ctcfg.Config
	ledger  store.Ledger
	engine  *engine.Engine
	linkSet *linkset.Registry
	admin   *adminhttp.Server
}

// NewApp builds the application object from config without starting it.
func NewApp(cfg *ctcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run serves until ctx is cancelled. The engine is stopped and the ledger
// closed on the way out.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.ledger.Close()

	a.linkSet.OnChange(func(snap linkset.Snapshot) {
		a.applyLinkSet(snap)
	})

	if a.cfg.App.AutoStart {
		if err := a.engine.Start(ctx); err != nil {
			return fmt.Errorf("engine auto start: %w", err)
		}
		logger.Infof("engine started (auto_start=true)")
	}
	defer a.engine.Stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.admin.Start(ctx); err != nil {
			return fmt.Errorf("admin http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		a.runLogPruner(ctx)
		return nil
	})
	return group.Wait()
}

// Engine exposes the engine instance (for testing and replay harnesses).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// applyLinkSet re-seeds the ledger from a reloaded link set file and pushes
// the refreshed accounts into the running engine.
func (a *App) applyLinkSet(snap linkset.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := linkset.Seed(ctx, a.ledger, snap); err != nil {
		logger.Errorf("link set reload: seed failed: %v", err)
		return
	}
	for _, spec := range snap.Accounts {
		account, err := a.ledger.GetAccountByName(ctx, spec.Name)
		if err != nil {
			logger.Warnf("link set reload: account %s not found after seed: %v", spec.Name, err)
			continue
		}
		if err := a.engine.RegisterAccount(ctx, account); err != nil {
			logger.Warnf("link set reload: re-register account %s failed: %v", spec.Name, err)
		}
	}
	logger.Infof("link set reloaded: %d accounts, %d links", len(snap.Accounts), len(snap.Links))
}

func (a *App) runLogPruner(ctx context.Context) {
	interval := a.cfg.Store.PruneInterval()
	retention := a.cfg.Store.LogRetention()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
			n, err := a.ledger.PruneSystemLogs(pruneCtx, retention)
			cancel()
			if err != nil {
				logger.Warnf("system log prune failed: %v", err)
				continue
			}
			if n > 0 {
				logger.Debugf("pruned %d system log rows older than %s", n, retention)
			}
		}
	}
}
