package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"copytrade/internal/engine/monitor"
	"copytrade/internal/gateway/exchange"
	"copytrade/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLedger embeds the interface so only the methods the supervisor touches
// need implementations; anything else panics loudly.
type stubLedger struct {
	store.Ledger

	mu       sync.Mutex
	accounts map[int64]store.Account
}

func newStubLedger() *stubLedger {
	return &stubLedger{accounts: make(map[int64]store.Account)}
}

func (l *stubLedger) put(a store.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[a.ID] = a
}

func (l *stubLedger) UpsertAccount(_ context.Context, account *store.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if account.ID == 0 {
		account.ID = int64(len(l.accounts) + 1)
	}
	l.accounts[account.ID] = *account
	return nil
}

func (l *stubLedger) ListAccounts(_ context.Context) ([]store.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (l *stubLedger) ListActiveMasters(_ context.Context) ([]store.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.Account
	for _, a := range l.accounts {
		if a.IsMaster && a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubGateway struct {
	exchange.Gateway

	mu         sync.Mutex
	registered map[int64]bool
}

func newStubGateway() *stubGateway {
	return &stubGateway{registered: make(map[int64]bool)}
}

func (g *stubGateway) RegisterAccount(accountID int64, _, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registered[accountID] = true
	return nil
}

func (g *stubGateway) DeregisterAccount(accountID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.registered, accountID)
}

func (g *stubGateway) GetOpenOrders(context.Context, int64) ([]exchange.OrderSummary, error) {
	return nil, nil
}

func (g *stubGateway) isRegistered(accountID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registered[accountID]
}

func newTestEngine(gw *stubGateway, ledger *stubLedger) *Engine {
	// A long poll interval keeps monitor goroutines idle during the test.
	return New(gw, ledger, Options{Monitor: monitor.Options{Interval: time.Hour}})
}

func TestEngine_Lifecycle(t *testing.T) {
	gw := newStubGateway()
	ledger := newStubLedger()
	ledger.put(store.Account{ID: 1, Name: "master", IsMaster: true, IsActive: true})
	ledger.put(store.Account{ID: 2, Name: "follower", IsActive: true})
	ledger.put(store.Account{ID: 3, Name: "retired", IsMaster: true, IsActive: false})
	e := newTestEngine(gw, ledger)

	ctx := context.Background()
	st := e.Status(ctx)
	assert.Equal(t, "stopped", st.State)
	assert.False(t, st.Running)

	require.NoError(t, e.Start(ctx))
	st = e.Status(ctx)
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.MonitorCount, "inactive masters must not get monitors")
	assert.Equal(t, 1, st.MasterCount)
	assert.Equal(t, 1, st.FollowerCount)
	assert.True(t, gw.isRegistered(1))
	assert.True(t, gw.isRegistered(2))
	assert.False(t, gw.isRegistered(3))

	// Idempotent start.
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, 1, e.Status(ctx).MonitorCount)

	e.Stop()
	st = e.Status(ctx)
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, 0, st.MonitorCount)

	// Idempotent stop, then a clean restart.
	e.Stop()
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, 1, e.Status(ctx).MonitorCount)
	e.Stop()
}

func TestEngine_RuntimeRegistration(t *testing.T) {
	gw := newStubGateway()
	ledger := newStubLedger()
	ledger.put(store.Account{ID: 1, Name: "master", IsMaster: true, IsActive: true})
	e := newTestEngine(gw, ledger)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()
	assert.Equal(t, 1, e.Status(ctx).MonitorCount)

	// A new active master gets a monitor immediately.
	second := &store.Account{Name: "master-2", IsMaster: true, IsActive: true}
	require.NoError(t, e.RegisterAccount(ctx, second))
	assert.Equal(t, 2, e.Status(ctx).MonitorCount)
	assert.True(t, gw.isRegistered(second.ID))

	// Flipping it inactive tears the monitor down again.
	second.IsActive = false
	require.NoError(t, e.RegisterAccount(ctx, second))
	assert.Equal(t, 1, e.Status(ctx).MonitorCount)
	assert.False(t, gw.isRegistered(second.ID))
}

func TestEngine_RegisterWhileStoppedOnlyPersists(t *testing.T) {
	gw := newStubGateway()
	ledger := newStubLedger()
	e := newTestEngine(gw, ledger)

	account := &store.Account{Name: "master", IsMaster: true, IsActive: true}
	require.NoError(t, e.RegisterAccount(context.Background(), account))
	assert.NotZero(t, account.ID)
	assert.Equal(t, 0, e.Status(context.Background()).MonitorCount)
	assert.False(t, gw.isRegistered(account.ID))
}
