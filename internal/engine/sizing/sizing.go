// Package sizing computes the follower quantity for one master trade. It is
// a pure function over explicit inputs so it can be tested with synthetic
// balances and filters.
package sizing

import (
	"fmt"

	"copytrade/internal/gateway/exchange"

	"github.com/shopspring/decimal"
)

// Sizing methods, in preference order.
const (
	MethodBalanceRatio = "balance-ratio"
	MethodRiskBased    = "risk-based"
	MethodConservative = "conservative"
)

const (
	// conservativeRiskFraction backs the final fallback when neither
	// balances nor a risk percentage are usable.
	conservativeRiskFraction = 0.019

	// leverageSafetyFactor caps effective leverage at 90% of the
	// follower's configured setting.
	leverageSafetyFactor = 0.9

	// defaultTargetMarginRatio caps the margin consumed by a single copy
	// at half the follower's equity.
	defaultTargetMarginRatio = 0.5

	// minNotionalScaleFactor damps the proportional scale-up applied when
	// the computed quantity lands below the exchange minimum.
	minNotionalScaleFactor = 0.7

	// minNotionalScaleThreshold is the master-notional-to-minimum ratio
	// above which the scale-up is proportional rather than the bare floor.
	minNotionalScaleThreshold = 1.5
)

// Input carries everything the computation needs; no I/O happens here.
type Input struct {
	MasterQuantity float64
	MasterPrice    float64 // master's order price, 0 when unknown
	MarkPrice      float64

	MasterEquity   float64 // 0 when unavailable
	FollowerEquity float64

	FollowerLeverage int
	FollowerRiskPct  float64

	CopyPercentage    float64
	RiskMultiplier    float64
	MaxRiskPercentage float64

	// TargetMarginRatio overrides defaultTargetMarginRatio when > 0.
	TargetMarginRatio float64

	Filters exchange.SymbolFilters
}

// Result is the computed quantity or a skip with its reason.
type Result struct {
	Quantity float64
	Method   string
	Skipped  bool
	Reason   string
}

func skip(reason string) Result {
	return Result{Skipped: true, Reason: reason}
}

// Compute derives the follower quantity: base sizing, link scaling,
// shrink-only safety clamps, lot quantization and the minimum-notional
// adjustment, in that order.
func Compute(in Input) Result {
	if in.MarkPrice <= 0 {
		return skip("mark price unavailable")
	}
	if in.FollowerEquity <= 0 {
		return skip("follower equity unavailable")
	}
	if in.MasterQuantity <= 0 {
		return skip("master quantity is zero")
	}

	quantity, method := baseQuantity(in)
	if quantity <= 0 {
		return skip(fmt.Sprintf("%s sizing produced no quantity", method))
	}

	if in.CopyPercentage > 0 {
		quantity *= in.CopyPercentage / 100.0
	}
	if in.RiskMultiplier > 0 {
		quantity *= in.RiskMultiplier
	}

	price := in.MasterPrice
	if price <= 0 {
		price = in.MarkPrice
	}
	quantity = applyClamps(in, quantity, price)
	if quantity <= 0 {
		return skip("quantity eliminated by safety clamps")
	}

	quantity = quantizeDown(quantity, in.Filters.StepSize)
	if in.Filters.MaxQty > 0 && quantity > in.Filters.MaxQty {
		quantity = quantizeDown(in.Filters.MaxQty, in.Filters.StepSize)
	}
	if quantity < in.Filters.MinQty {
		quantity = in.Filters.MinQty
	}
	if quantity <= 0 {
		return skip("quantity below lot step")
	}

	if in.Filters.MinNotional > 0 && quantity*price < in.Filters.MinNotional {
		adjusted, ok := scaleToMinNotional(in, price)
		if !ok {
			return skip(fmt.Sprintf("cannot meet minimum notional %.2f", in.Filters.MinNotional))
		}
		quantity = adjusted
	}

	return Result{Quantity: quantity, Method: method}
}

func baseQuantity(in Input) (float64, string) {
	if in.MasterEquity > 0 && in.FollowerEquity > 0 {
		// Scale the master's notional by the equity ratio; the mark price
		// cancels, preserving relative risk exactly.
		return in.MasterQuantity * (in.FollowerEquity / in.MasterEquity), MethodBalanceRatio
	}
	if in.FollowerRiskPct > 0 && in.FollowerLeverage > 0 {
		riskAmount := in.FollowerEquity * (in.FollowerRiskPct / 100.0)
		return riskAmount * float64(in.FollowerLeverage) / in.MarkPrice, MethodRiskBased
	}
	return in.FollowerEquity * conservativeRiskFraction / in.MarkPrice, MethodConservative
}

// applyClamps applies the three safety caps in order. Each only ever
// shrinks the quantity and each recomputes exposure after the previous one.
func applyClamps(in Input, quantity, price float64) float64 {
	equity := in.FollowerEquity
	leverage := float64(in.FollowerLeverage)
	if leverage <= 0 {
		leverage = 1
	}

	targetMargin := in.TargetMarginRatio
	if targetMargin <= 0 {
		targetMargin = defaultTargetMarginRatio
	}
	marginUsed := quantity * price / leverage
	if budget := equity * targetMargin; marginUsed > budget {
		quantity = budget * leverage / price
	}

	maxLeverage := leverage * leverageSafetyFactor
	if effective := quantity * price / equity; effective > maxLeverage {
		quantity = equity * maxLeverage / price
	}

	if in.MaxRiskPercentage > 0 {
		maxQuantity := equity * (in.MaxRiskPercentage / 100.0) / price
		if quantity > maxQuantity {
			quantity = maxQuantity
		}
	}
	return quantity
}

// scaleToMinNotional lifts a below-minimum quantity while preserving the
// master's relative sizing: a master well above the exchange floor pulls the
// follower proportionally above it too, a small master gets the bare floor.
func scaleToMinNotional(in Input, price float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	baseMin := in.Filters.MinNotional / price
	needed := baseMin
	masterNotional := in.MasterQuantity * price
	if ratio := masterNotional / in.Filters.MinNotional; ratio > minNotionalScaleThreshold {
		needed = baseMin * ratio * minNotionalScaleFactor
	}
	needed = quantizeUp(needed, in.Filters.StepSize)
	if needed < in.Filters.MinQty {
		needed = quantizeUp(in.Filters.MinQty, in.Filters.StepSize)
	}
	if in.Filters.MaxQty > 0 && needed > in.Filters.MaxQty {
		return 0, false
	}
	if needed*price < in.Filters.MinNotional {
		return 0, false
	}
	return needed, true
}

func quantizeDown(quantity, step float64) float64 {
	return quantize(quantity, step, false)
}

func quantizeUp(quantity, step float64) float64 {
	return quantize(quantity, step, true)
}

// quantize snaps quantity to a multiple of step, avoiding the float drift a
// plain math.Floor(q/step)*step accumulates on small steps.
func quantize(quantity, step float64, roundUp bool) float64 {
	if step <= 0 {
		return quantity
	}
	q := decimal.NewFromFloat(quantity)
	s := decimal.NewFromFloat(step)
	steps := q.Div(s)
	if roundUp {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	out, _ := steps.Mul(s).Float64()
	return out
}
