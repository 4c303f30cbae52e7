package classify

import (
	"testing"
	"time"

	"copytrade/internal/gateway/exchange"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDecide_ReduceOnly(t *testing.T) {
	res := Decide(Input{
		Symbol:     "BTCUSDT",
		Side:       exchange.SideSell,
		Quantity:   1,
		ReduceOnly: true,
		Now:        now,
	})
	assert.Equal(t, Close, res.Kind)
}

func TestDecide_PositionRules(t *testing.T) {
	long := &exchange.PositionSummary{Symbol: "BTCUSDT", Side: exchange.PositionLong, Size: 1}

	t.Run("follower opposite position wins", func(t *testing.T) {
		res := Decide(Input{
			Side:              exchange.SideSell,
			Quantity:          1,
			FollowerPositions: []*exchange.PositionSummary{nil, long},
			Now:               now,
		})
		assert.Equal(t, Close, res.Kind)
		assert.Contains(t, res.Reason, "follower")
	})

	t.Run("master opposite position", func(t *testing.T) {
		res := Decide(Input{
			Side:           exchange.SideSell,
			Quantity:       1,
			MasterPosition: long,
			Now:            now,
		})
		assert.Equal(t, Close, res.Kind)
		assert.Contains(t, res.Reason, "master")
	})

	t.Run("same side position is an entry", func(t *testing.T) {
		res := Decide(Input{
			Side:           exchange.SideBuy,
			Quantity:       1,
			MasterPosition: long,
			Now:            now,
		})
		assert.Equal(t, Entry, res.Kind)
	})
}

func TestDecide_HistorySignal(t *testing.T) {
	t.Run("signed history opposite the order", func(t *testing.T) {
		res := Decide(Input{
			Side:     exchange.SideSell,
			Quantity: 2,
			History: []HistoryTrade{
				{Side: exchange.SideBuy, Quantity: 1, CreatedAt: now.Add(-2 * time.Hour)},
				{Side: exchange.SideBuy, Quantity: 1, CreatedAt: now.Add(-3 * time.Hour)},
			},
			Now: now,
		})
		assert.Equal(t, Close, res.Kind)
	})

	t.Run("matching size within the race window", func(t *testing.T) {
		// Signed history is flat (buy then sell elsewhere cancel out), but
		// the newest opposite trade matches within 5%.
		res := Decide(Input{
			Side:     exchange.SideSell,
			Quantity: 1.02,
			History: []HistoryTrade{
				{Side: exchange.SideBuy, Quantity: 1, CreatedAt: now.Add(-2 * time.Minute)},
				{Side: exchange.SideSell, Quantity: 1, CreatedAt: now.Add(-4 * time.Hour)},
			},
			Now: now,
		})
		assert.Equal(t, Close, res.Kind)
	})

	t.Run("near full size needs the wider gap", func(t *testing.T) {
		history := []HistoryTrade{
			{Side: exchange.SideBuy, Quantity: 1, CreatedAt: now.Add(-2 * time.Minute)},
			{Side: exchange.SideSell, Quantity: 1, CreatedAt: now.Add(-4 * time.Hour)},
		}
		// 92% of the opposite size but only 2 minutes old: entry.
		res := Decide(Input{Side: exchange.SideSell, Quantity: 0.92, History: history, Now: now})
		assert.Equal(t, Entry, res.Kind)

		// Same size difference at a 6 minute gap: close.
		history[0].CreatedAt = now.Add(-6 * time.Minute)
		res = Decide(Input{Side: exchange.SideSell, Quantity: 0.92, History: history, Now: now})
		assert.Equal(t, Close, res.Kind)
	})

	t.Run("opposite trade outside the window is ignored", func(t *testing.T) {
		res := Decide(Input{
			Side:     exchange.SideSell,
			Quantity: 1,
			History: []HistoryTrade{
				{Side: exchange.SideBuy, Quantity: 1, CreatedAt: now.Add(-30 * time.Minute)},
				{Side: exchange.SideSell, Quantity: 1, CreatedAt: now.Add(-4 * time.Hour)},
			},
			Now: now,
		})
		assert.Equal(t, Entry, res.Kind)
	})
}

func TestDecide_DefaultsToEntry(t *testing.T) {
	res := Decide(Input{
		Symbol:   "ETHUSDT",
		Side:     exchange.SideBuy,
		Quantity: 1,
		Now:      now,
	})
	assert.Equal(t, Entry, res.Kind)
	assert.Equal(t, "no close signal", res.Reason)
}
