package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"copytrade/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := &store.Account{Name: "master-1", APIKey: "k", SecretKey: "s", IsMaster: true, IsActive: true, Leverage: 20}
	require.NoError(t, s.UpsertAccount(ctx, account))
	require.NotZero(t, account.ID)
	firstID := account.ID

	// Upserting the same name updates in place and backfills the same ID.
	update := &store.Account{Name: "master-1", APIKey: "k2", SecretKey: "s2", IsMaster: true, IsActive: false, Leverage: 50}
	require.NoError(t, s.UpsertAccount(ctx, update))
	assert.Equal(t, firstID, update.ID)

	got, err := s.GetAccountByName(ctx, "master-1")
	require.NoError(t, err)
	assert.Equal(t, "k2", got.APIKey)
	assert.Equal(t, 50, got.Leverage)
	assert.False(t, got.IsActive)

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	_, err = s.GetAccount(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestActiveMastersAndLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	master := &store.Account{Name: "m", APIKey: "k", SecretKey: "s", IsMaster: true, IsActive: true}
	follower := &store.Account{Name: "f", APIKey: "k", SecretKey: "s", IsActive: true}
	retired := &store.Account{Name: "r", APIKey: "k", SecretKey: "s", IsMaster: true, IsActive: false}
	for _, a := range []*store.Account{master, follower, retired} {
		require.NoError(t, s.UpsertAccount(ctx, a))
	}

	masters, err := s.ListActiveMasters(ctx)
	require.NoError(t, err)
	require.Len(t, masters, 1)
	assert.Equal(t, "m", masters[0].Name)

	link := &store.CopyLink{MasterAccountID: master.ID, FollowerAccountID: follower.ID, IsActive: true, CopyPercentage: 100, RiskMultiplier: 1}
	require.NoError(t, s.UpsertLink(ctx, link))
	require.NotZero(t, link.ID)

	// Same pair upserts in place.
	again := &store.CopyLink{MasterAccountID: master.ID, FollowerAccountID: follower.ID, IsActive: true, CopyPercentage: 25, RiskMultiplier: 1}
	require.NoError(t, s.UpsertLink(ctx, again))
	assert.Equal(t, link.ID, again.ID)

	links, err := s.ListActiveLinksForMaster(ctx, master.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 25.0, links[0].CopyPercentage)
}

func TestRecordMasterTrade_AtMostOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := &store.Trade{
		AccountID: 1, Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET",
		Quantity: 1, Price: 50000, Status: store.TradeStatusFilled,
		ExchangeOrderID: "1001", RawPayload: []byte(`{"orderId":1001}`),
	}
	created, err := s.RecordMasterTrade(ctx, trade)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotZero(t, trade.ID)

	dup := &store.Trade{AccountID: 1, Symbol: "BTCUSDT", Side: "BUY", Quantity: 1, ExchangeOrderID: "1001"}
	created, err = s.RecordMasterTrade(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, trade.ID, dup.ID, "duplicate must backfill the existing row's id")

	// Same order id on another account is a distinct trade.
	other := &store.Trade{AccountID: 2, Symbol: "BTCUSDT", Side: "BUY", Quantity: 1, ExchangeOrderID: "1001"}
	created, err = s.RecordMasterTrade(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestTradeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	master := &store.Trade{
		AccountID: 1, Symbol: "BTCUSDT", Side: "BUY", OrderType: "LIMIT",
		Quantity: 1, Price: 50000, Status: store.TradeStatusPending, ExchangeOrderID: "2001",
	}
	_, err := s.RecordMasterTrade(ctx, master)
	require.NoError(t, err)

	follower := &store.Trade{
		AccountID: 2, Symbol: "BTCUSDT", Side: "BUY", OrderType: "LIMIT",
		Quantity: 0.1, Price: 50000, Status: store.TradeStatusPending,
		ExchangeOrderID: "9001", CopiedFromMaster: true, MasterTradeID: &master.ID,
	}
	require.NoError(t, s.CreateTrade(ctx, follower))

	has, err := s.HasFollowerTrade(ctx, master.ID, 2)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.HasFollowerTrade(ctx, master.ID, 3)
	require.NoError(t, err)
	assert.False(t, has)

	open, err := s.ListOpenFollowerTrades(ctx, master.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, s.UpdateTradeFill(ctx, follower.ID, store.TradeStatusFilled, 0.1, 50100))
	got, err := s.GetTrade(ctx, follower.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TradeStatusFilled, got.Status)
	assert.Equal(t, 50100.0, got.Price)

	open, err = s.ListOpenFollowerTrades(ctx, master.ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	byOrder, err := s.GetTradeByExchangeOrderID(ctx, 2, "9001")
	require.NoError(t, err)
	assert.Equal(t, follower.ID, byOrder.ID)
	_, err = s.GetTradeByExchangeOrderID(ctx, 2, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTradeQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	mk := func(id string, createdAt time.Time) *store.Trade {
		return &store.Trade{
			AccountID: 1, Symbol: "ETHUSDT", Side: "BUY", OrderType: "MARKET",
			Quantity: 1, Status: store.TradeStatusFilled, ExchangeOrderID: id,
			CreatedAt: createdAt,
		}
	}
	for _, tr := range []*store.Trade{
		mk("1", now.Add(-3*time.Hour)),
		mk("2", now.Add(-10*time.Minute)),
		mk("3", now.Add(-8*time.Hour)),
	} {
		require.NoError(t, s.CreateTrade(ctx, tr))
	}

	history, err := s.ListTradeHistory(ctx, 1, "ETHUSDT", now.Add(-6*time.Hour), 50)
	require.NoError(t, err)
	require.Len(t, history, 2, "trades older than the lookback are excluded")
	assert.Equal(t, "2", history[0].ExchangeOrderID, "newest first")

	recent, err := s.ListRecentTrades(ctx, 1, "ETHUSDT", "BUY", now.Add(-30*time.Minute), now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "2", recent[0].ExchangeOrderID)

	all, err := s.ListTrades(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSystemLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accountID := int64(7)
	require.NoError(t, s.AddSystemLog(ctx, "INFO", "engine started", &accountID, nil))
	require.NoError(t, s.AddSystemLog(ctx, "ERROR", "copy failed", &accountID, nil))

	logs, err := s.ListSystemLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.NotNil(t, logs[0].AccountID)
	assert.Equal(t, accountID, *logs[0].AccountID)

	// Fresh rows survive pruning.
	n, err := s.PruneSystemLogs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	logs, err = s.ListSystemLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}
