// Package engine supervises the per-master monitors: lifecycle, runtime
// account registration and status reporting.
package engine

import (
	"context"
	"fmt"
	"sync"

	"copytrade/internal/engine/monitor"
	"copytrade/internal/engine/replicate"
	"copytrade/internal/gateway/exchange"
	"copytrade/internal/logger"
	"copytrade/internal/store"
)

// State is the supervisor lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Status is the control surface's view of the engine.
type Status struct {
	State         string `json:"state"`
	Running       bool   `json:"running"`
	MasterCount   int    `json:"master_count"`
	FollowerCount int    `json:"follower_count"`
	MonitorCount  int    `json:"monitor_count"`
}

// Options carries the tuning for the monitors and the replicator.
type Options struct {
	Monitor   monitor.Options
	Replicate replicate.Options
}

type monitorHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine owns one monitor goroutine per running master. All public methods
// are safe for concurrent use; the HTTP control surface calls them directly.
type Engine struct {
	gateway    exchange.Gateway
	ledger     store.Ledger
	replicator *replicate.Replicator
	opts       Options

	mu       sync.Mutex
	state    State
	runCtx   context.Context
	cancel   context.CancelFunc
	monitors map[int64]*monitorHandle
}

func New(gateway exchange.Gateway, ledger store.Ledger, opts Options) *Engine {
	return &Engine{
		gateway:    gateway,
		ledger:     ledger,
		replicator: replicate.New(gateway, ledger, opts.Replicate),
		opts:       opts,
		monitors:   make(map[int64]*monitorHandle),
	}
}

// Start registers every active account's credentials and spawns a monitor
// per active master. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running {
		logger.Infof("[engine] start requested but already running")
		return nil
	}
	if e.state == Stopping {
		return fmt.Errorf("engine is stopping, retry after it has stopped")
	}

	accounts, err := e.ledger.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	masters, err := e.ledger.ListActiveMasters(ctx)
	if err != nil {
		return fmt.Errorf("list active masters: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.runCtx = runCtx
	e.cancel = cancel
	e.state = Running

	registered := make(map[int64]bool, len(accounts))
	for i := range accounts {
		acct := &accounts[i]
		if !acct.IsActive {
			continue
		}
		if err := e.gateway.RegisterAccount(acct.ID, acct.APIKey, acct.SecretKey); err != nil {
			logger.Errorf("[engine] account %d (%s) registration failed: %v", acct.ID, acct.Name, err)
			continue
		}
		registered[acct.ID] = true
	}
	started := 0
	for _, master := range masters {
		if !registered[master.ID] {
			continue
		}
		e.startMonitorLocked(runCtx, master.ID)
		started++
	}
	logger.Infof("[engine] started with %d master monitors", started)
	return nil
}

// Stop cancels every monitor and waits for them to exit. Stopping a stopped
// engine is a no-op. No tick is still executing when Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != Running {
		e.mu.Unlock()
		logger.Infof("[engine] stop requested but not running")
		return
	}
	e.state = Stopping
	cancel := e.cancel
	e.cancel = nil
	e.runCtx = nil
	handles := e.monitors
	e.monitors = make(map[int64]*monitorHandle)
	e.mu.Unlock()

	cancel()
	for id, handle := range handles {
		<-handle.done
		logger.Debugf("[engine] monitor for master %d exited", id)
	}

	e.mu.Lock()
	e.state = Stopped
	e.mu.Unlock()
	logger.Infof("[engine] stopped")
}

// RegisterAccount adds or updates an account at runtime. A new active
// master on a running engine gets a monitor immediately; other masters'
// monitors are unaffected.
func (e *Engine) RegisterAccount(ctx context.Context, account *store.Account) error {
	if err := e.ledger.UpsertAccount(ctx, account); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		return nil
	}
	if !account.IsActive {
		e.stopMonitorLocked(account.ID)
		e.gateway.DeregisterAccount(account.ID)
		return nil
	}
	if err := e.gateway.RegisterAccount(account.ID, account.APIKey, account.SecretKey); err != nil {
		return err
	}
	if account.IsMaster {
		if _, exists := e.monitors[account.ID]; !exists && e.runCtx != nil {
			e.startMonitorLocked(e.runCtx, account.ID)
		}
	}
	return nil
}

// DeregisterAccount stops the account's monitor (if any) and drops its
// exchange credentials. The ledger row is kept; history remains queryable.
func (e *Engine) DeregisterAccount(accountID int64) {
	e.mu.Lock()
	e.stopMonitorLocked(accountID)
	e.mu.Unlock()
	e.gateway.DeregisterAccount(accountID)
	logger.Infof("[engine] account %d deregistered", accountID)
}

// Status reports the lifecycle state and account counts.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	state := e.state
	monitorCount := len(e.monitors)
	e.mu.Unlock()

	status := Status{
		State:        state.String(),
		Running:      state == Running,
		MonitorCount: monitorCount,
	}
	accounts, err := e.ledger.ListAccounts(ctx)
	if err != nil {
		logger.Warnf("[engine] status account listing failed: %v", err)
		return status
	}
	for _, acct := range accounts {
		if !acct.IsActive {
			continue
		}
		if acct.IsMaster {
			status.MasterCount++
		} else {
			status.FollowerCount++
		}
	}
	return status
}

func (e *Engine) startMonitorLocked(ctx context.Context, masterID int64) {
	monCtx, cancel := context.WithCancel(ctx)
	m := monitor.New(masterID, e.gateway, e.replicator, e.opts.Monitor)
	handle := &monitorHandle{cancel: cancel, done: make(chan struct{})}
	e.monitors[masterID] = handle
	go func() {
		defer close(handle.done)
		m.Run(monCtx)
	}()
}

func (e *Engine) stopMonitorLocked(masterID int64) {
	handle, ok := e.monitors[masterID]
	if !ok {
		return
	}
	delete(e.monitors, masterID)
	handle.cancel()
	<-handle.done
}
