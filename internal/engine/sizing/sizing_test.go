package sizing

import (
	"testing"

	"copytrade/internal/gateway/exchange"

	"github.com/stretchr/testify/assert"
)

func btcFilters() exchange.SymbolFilters {
	return exchange.SymbolFilters{
		StepSize:    0.001,
		MinQty:      0.001,
		MaxQty:      1000,
		MinNotional: 5,
	}
}

func TestCompute_BalanceRatio(t *testing.T) {
	t.Run("proportional to equity ratio", func(t *testing.T) {
		res := Compute(Input{
			MasterQuantity:   1.0,
			MasterPrice:      50000,
			MarkPrice:        50000,
			MasterEquity:     100000,
			FollowerEquity:   10000,
			FollowerLeverage: 100,
			Filters:          btcFilters(),
		})
		assert.False(t, res.Skipped, res.Reason)
		assert.Equal(t, MethodBalanceRatio, res.Method)
		assert.InDelta(t, 0.1, res.Quantity, 1e-9)
	})

	t.Run("copy percentage scales the base", func(t *testing.T) {
		res := Compute(Input{
			MasterQuantity:   1.0,
			MasterPrice:      50000,
			MarkPrice:        50000,
			MasterEquity:     100000,
			FollowerEquity:   10000,
			FollowerLeverage: 100,
			CopyPercentage:   50,
			Filters:          btcFilters(),
		})
		assert.False(t, res.Skipped)
		assert.InDelta(t, 0.05, res.Quantity, 1e-9)
	})

	t.Run("risk multiplier scales the base", func(t *testing.T) {
		res := Compute(Input{
			MasterQuantity:   1.0,
			MasterPrice:      50000,
			MarkPrice:        50000,
			MasterEquity:     100000,
			FollowerEquity:   10000,
			FollowerLeverage: 100,
			RiskMultiplier:   2.0,
			Filters:          btcFilters(),
		})
		assert.False(t, res.Skipped)
		assert.InDelta(t, 0.2, res.Quantity, 1e-9)
	})
}

func TestCompute_Fallbacks(t *testing.T) {
	t.Run("risk based when master equity unknown", func(t *testing.T) {
		res := Compute(Input{
			MasterQuantity:   1.0,
			MarkPrice:        50000,
			FollowerEquity:   10000,
			FollowerLeverage: 10,
			FollowerRiskPct:  10,
			Filters:          btcFilters(),
		})
		assert.False(t, res.Skipped, res.Reason)
		assert.Equal(t, MethodRiskBased, res.Method)
		// 10000 * 10% * 10x / 50000 = 0.2
		assert.InDelta(t, 0.2, res.Quantity, 1e-9)
	})

	t.Run("conservative when no risk settings", func(t *testing.T) {
		res := Compute(Input{
			MasterQuantity: 1.0,
			MarkPrice:      50000,
			FollowerEquity: 100000,
			Filters:        btcFilters(),
		})
		assert.False(t, res.Skipped, res.Reason)
		assert.Equal(t, MethodConservative, res.Method)
		// 100000 * 0.019 / 50000 = 0.038
		assert.InDelta(t, 0.038, res.Quantity, 1e-9)
	})
}

func TestCompute_SkipConditions(t *testing.T) {
	base := Input{
		MasterQuantity: 1.0,
		MarkPrice:      50000,
		MasterEquity:   100000,
		FollowerEquity: 10000,
		Filters:        btcFilters(),
	}

	t.Run("no mark price", func(t *testing.T) {
		in := base
		in.MarkPrice = 0
		res := Compute(in)
		assert.True(t, res.Skipped)
	})

	t.Run("no follower equity", func(t *testing.T) {
		in := base
		in.FollowerEquity = 0
		res := Compute(in)
		assert.True(t, res.Skipped)
	})

	t.Run("zero master quantity", func(t *testing.T) {
		in := base
		in.MasterQuantity = 0
		res := Compute(in)
		assert.True(t, res.Skipped)
	})
}

func TestCompute_SafetyClamps(t *testing.T) {
	t.Run("margin ratio clamp shrinks oversized copies", func(t *testing.T) {
		// Balance ratio alone would produce 10 BTC on 1000 equity. The
		// margin budget caps the copy at half the equity: with 10x
		// leverage that is 1000*0.5*10/50000 = 0.1 BTC.
		res := Compute(Input{
			MasterQuantity:   10,
			MasterPrice:      50000,
			MarkPrice:        50000,
			MasterEquity:     1000,
			FollowerEquity:   1000,
			FollowerLeverage: 10,
			Filters:          btcFilters(),
		})
		assert.False(t, res.Skipped, res.Reason)
		assert.InDelta(t, 0.1, res.Quantity, 1e-9)
	})

	t.Run("leverage safety clamp caps effective leverage", func(t *testing.T) {
		// TargetMarginRatio 1.0 relaxes the margin clamp so the 90%
		// leverage cap binds: 1000 * (10*0.9) / 50000 = 0.18 BTC.
		res := Compute(Input{
			MasterQuantity:    10,
			MasterPrice:       50000,
			MarkPrice:         50000,
			MasterEquity:      1000,
			FollowerEquity:    1000,
			FollowerLeverage:  10,
			TargetMarginRatio: 1.0,
			Filters:           btcFilters(),
		})
		assert.False(t, res.Skipped, res.Reason)
		assert.InDelta(t, 0.18, res.Quantity, 1e-9)
	})

	t.Run("max risk percentage clamp", func(t *testing.T) {
		// 1% of 10000 equity at 50000 = 0.002 BTC.
		res := Compute(Input{
			MasterQuantity:    1,
			MasterPrice:       50000,
			MarkPrice:         50000,
			MasterEquity:      10000,
			FollowerEquity:    10000,
			FollowerLeverage:  100,
			MaxRiskPercentage: 1,
			Filters:           btcFilters(),
		})
		assert.False(t, res.Skipped, res.Reason)
		assert.InDelta(t, 0.002, res.Quantity, 1e-9)
	})

	t.Run("clamps never grow the quantity", func(t *testing.T) {
		res := Compute(Input{
			MasterQuantity:    0.01,
			MasterPrice:       50000,
			MarkPrice:         50000,
			MasterEquity:      10000,
			FollowerEquity:    10000,
			FollowerLeverage:  100,
			MaxRiskPercentage: 500,
			Filters:           btcFilters(),
		})
		assert.False(t, res.Skipped, res.Reason)
		assert.InDelta(t, 0.01, res.Quantity, 1e-9)
	})
}

func TestCompute_Quantization(t *testing.T) {
	res := Compute(Input{
		MasterQuantity:   1.0,
		MasterPrice:      50000,
		MarkPrice:        50000,
		MasterEquity:     97531,
		FollowerEquity:   10000,
		FollowerLeverage: 100,
		Filters:          btcFilters(),
	})
	assert.False(t, res.Skipped, res.Reason)
	// 10000/97531 = 0.102531... BTC, floored to the 0.001 step.
	assert.InDelta(t, 0.102, res.Quantity, 1e-9)
}

func TestCompute_MinNotional(t *testing.T) {
	filters := exchange.SymbolFilters{
		StepSize:    0.1,
		MinQty:      0.1,
		MaxQty:      10000,
		MinNotional: 5,
	}

	t.Run("small master gets the bare floor", func(t *testing.T) {
		// Master notional 10*1.2 = 12, ratio 2.4 > 1.5, so the lift is
		// proportional: (5/1.2) * 2.4 * 0.7 = 7.0 units, ceil to step.
		res := Compute(Input{
			MasterQuantity:   10,
			MasterPrice:      1.2,
			MarkPrice:        1.2,
			MasterEquity:     1000000,
			FollowerEquity:   1000,
			FollowerLeverage: 20,
			Filters:          filters,
		})
		assert.False(t, res.Skipped, res.Reason)
		assert.InDelta(t, 7.0, res.Quantity, 1e-9)
	})

	t.Run("master near the floor lifts to the floor only", func(t *testing.T) {
		// Master notional 5*1.2 = 6, ratio 1.2 <= 1.5: bare floor
		// 5/1.2 = 4.1667, ceil to 4.2 units.
		res := Compute(Input{
			MasterQuantity:   5,
			MasterPrice:      1.2,
			MarkPrice:        1.2,
			MasterEquity:     1000000,
			FollowerEquity:   1000,
			FollowerLeverage: 20,
			Filters:          filters,
		})
		assert.False(t, res.Skipped, res.Reason)
		assert.InDelta(t, 4.2, res.Quantity, 1e-9)
	})

	t.Run("skip when the floor cannot be met", func(t *testing.T) {
		tight := filters
		tight.MaxQty = 2
		res := Compute(Input{
			MasterQuantity:   5,
			MasterPrice:      1.2,
			MarkPrice:        1.2,
			MasterEquity:     1000000,
			FollowerEquity:   1000,
			FollowerLeverage: 20,
			Filters:          tight,
		})
		assert.True(t, res.Skipped)
	})
}
