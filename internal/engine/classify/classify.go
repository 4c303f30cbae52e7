// Package classify decides whether an observed master order opens a new
// position or closes an existing one. The decision is a pure function over
// explicit snapshots and bounded history so it can be driven with synthetic
// inputs in tests.
package classify

import (
	"math"
	"time"

	"copytrade/internal/gateway/exchange"
)

// Kind is the classification outcome.
type Kind int

const (
	Entry Kind = iota
	Close
)

func (k Kind) String() string {
	if k == Close {
		return "close"
	}
	return "entry"
}

const (
	// raceWindow is how far back the delayed-detection heuristics look for
	// an opposite-side trade.
	raceWindow = 15 * time.Minute

	// raceGapFloor is the lower bound of the wider-gap heuristic.
	raceGapFloor = 5 * time.Minute

	quantityTolerance = 0.05
	quantityNearFull  = 0.90
)

// HistoryTrade is one prior master trade used in the signed-history scan.
type HistoryTrade struct {
	Side      string
	Quantity  float64
	CreatedAt time.Time
}

// Input bundles everything a single classification needs.
type Input struct {
	Symbol     string
	Side       string // BUY or SELL
	Quantity   float64
	ReduceOnly bool

	// FollowerPositions holds the linked followers' positions in Symbol,
	// nil entries allowed for flat followers.
	FollowerPositions []*exchange.PositionSummary

	// MasterPosition is the master's current position in Symbol, nil when
	// flat.
	MasterPosition *exchange.PositionSummary

	// History is the master's recent trades in Symbol, newest first,
	// excluding the order being classified.
	History []HistoryTrade

	Now time.Time
}

// Result is the tagged outcome with the rule that produced it.
type Result struct {
	Kind   Kind
	Reason string
}

// Decide runs the rules in order, first match wins. Ambiguity resolves to
// Entry so a misread never drops a trade.
func Decide(in Input) Result {
	if in.ReduceOnly {
		return Result{Kind: Close, Reason: "order is reduce-only"}
	}

	// Followers are checked before the master: polling latency means the
	// master's own position may already be flat by the time we look.
	for _, pos := range in.FollowerPositions {
		if pos.Closes(in.Side) {
			return Result{Kind: Close, Reason: "a follower holds an opposite position"}
		}
	}

	if in.MasterPosition.Closes(in.Side) {
		return Result{Kind: Close, Reason: "master holds an opposite position"}
	}

	if res, ok := historySignal(in); ok {
		return res
	}

	return Result{Kind: Entry, Reason: "no close signal"}
}

func historySignal(in Input) (Result, bool) {
	if len(in.History) == 0 {
		return Result{}, false
	}

	var running float64
	for _, trade := range in.History {
		switch trade.Side {
		case exchange.SideBuy:
			running += trade.Quantity
		case exchange.SideSell:
			running -= trade.Quantity
		}
	}
	if (running > 0 && in.Side == exchange.SideSell) ||
		(running < 0 && in.Side == exchange.SideBuy) {
		return Result{Kind: Close, Reason: "signed history is opposite the order side"}, true
	}

	// Delayed-detection race: the opposite leg may already sit in history
	// while both position snapshots read flat.
	opposite := exchange.OppositeSide(in.Side)
	for _, trade := range in.History {
		if trade.Side != opposite {
			continue
		}
		gap := in.Now.Sub(trade.CreatedAt)
		if gap < 0 || gap > raceWindow {
			break
		}
		if trade.Quantity > 0 {
			diff := math.Abs(trade.Quantity-in.Quantity) / trade.Quantity
			if diff <= quantityTolerance {
				return Result{Kind: Close, Reason: "recent opposite trade of matching size"}, true
			}
			if in.Quantity >= trade.Quantity*quantityNearFull && gap >= raceGapFloor {
				return Result{Kind: Close, Reason: "recent opposite trade of near-matching size"}, true
			}
		}
		break
	}
	return Result{}, false
}
