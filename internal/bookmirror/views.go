package bookmirror

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/krakenfeed/sdk/internal/numeric"
)

// Spread returns best_ask - best_bid; ok is false if either side is empty.
func (snap Snapshot) Spread() (numeric.Price, bool) {
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return numeric.Zero, false
	}
	return snap.Asks[0].Price.Sub(snap.Bids[0].Price), true
}

// Mid returns (best_bid + best_ask) / 2.
func (snap Snapshot) Mid() (numeric.Price, bool) {
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return numeric.Zero, false
	}
	return numeric.Mid(snap.Bids[0].Price, snap.Asks[0].Price), true
}

// SpreadBps returns spread / mid * 10000.
func (snap Snapshot) SpreadBps() (numeric.Price, bool) {
	spread, ok := snap.Spread()
	if !ok {
		return numeric.Zero, false
	}
	mid, ok := snap.Mid()
	if !ok || mid.IsZero() {
		return numeric.Zero, false
	}
	return numeric.BasisPoints(spread.Div(mid)), true
}

// TopNDepth truncates each side to its first n levels.
func (snap Snapshot) TopNDepth(n int) Snapshot {
	out := snap
	if n < len(snap.Bids) {
		out.Bids = snap.Bids[:n]
	}
	if n < len(snap.Asks) {
		out.Asks = snap.Asks[:n]
	}
	return out
}

// Bucket is one aggregated tick-size bucket: summed volume and order count.
type Bucket struct {
	Price  numeric.Price
	Volume numeric.Volume
	Orders int
}

// AggregateByTick groups each side into buckets of floor(price/tick)*tick,
// summing volumes and counting orders; bids come back sorted descending,
// asks ascending.
func (snap Snapshot) AggregateByTick(tick numeric.Price) (bids, asks []Bucket) {
	return aggregateSide(snap.Bids, tick, true), aggregateSide(snap.Asks, tick, false)
}

func aggregateSide(levels []Level, tick numeric.Price, desc bool) []Bucket {
	if tick.IsZero() {
		return nil
	}
	buckets := make(map[string]*Bucket)
	for _, lvl := range levels {
		bucketPrice := lvl.Price.Div(tick).Floor().Mul(tick)
		k := bucketPrice.String()
		b, ok := buckets[k]
		if !ok {
			b = &Bucket{Price: bucketPrice, Volume: numeric.Zero}
			buckets[k] = b
		}
		b.Volume = b.Volume.Add(lvl.Volume)
		b.Orders++
	}
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price.Cmp(out[j].Price) > 0
		}
		return out[i].Price.Cmp(out[j].Price) < 0
	})
	return out
}

// LadderRung is one enriched depth-ladder level.
type LadderRung struct {
	Level              Level
	CumulativeVolume   numeric.Volume
	VolumePercent      numeric.Price
	CumulativePercent  numeric.Price
	DistanceFromMid    numeric.Price
	DistanceFromMidBps numeric.Price
}

// DepthLadder computes the enriched top-D ladder for both sides. The last
// rung's CumulativeVolume equals the side total and CumulativePercent
// equals 100, by construction (the round-trip law spec §8 requires).
func (snap Snapshot) DepthLadder(depth int) (bids, asks []LadderRung) {
	mid, hasMid := snap.Mid()
	return ladderSide(snap.Bids, depth, mid, hasMid), ladderSide(snap.Asks, depth, mid, hasMid)
}

func ladderSide(levels []Level, depth int, mid numeric.Price, hasMid bool) []LadderRung {
	if depth < len(levels) {
		levels = levels[:depth]
	}
	total := numeric.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Volume)
	}

	rungs := make([]LadderRung, 0, len(levels))
	cumulative := numeric.Zero
	for _, lvl := range levels {
		cumulative = cumulative.Add(lvl.Volume)
		rung := LadderRung{Level: lvl, CumulativeVolume: cumulative}
		if !total.IsZero() {
			rung.VolumePercent = numeric.Percent(lvl.Volume.Div(total))
			rung.CumulativePercent = numeric.Percent(cumulative.Div(total))
		}
		if hasMid {
			dist := lvl.Price.Sub(mid)
			rung.DistanceFromMid = dist
			if !mid.IsZero() {
				rung.DistanceFromMidBps = numeric.BasisPoints(dist.Div(mid))
			}
		}
		rungs = append(rungs, rung)
	}
	return rungs
}

// Imbalance is the signed bid/ask volume ratio over a depth, with VWAPs.
type Imbalance struct {
	Ratio   numeric.Price // in [-1, 1]
	BidVWAP numeric.Price
	AskVWAP numeric.Price
}

// ImbalanceRatio computes (bid_vol - ask_vol) / (bid_vol + ask_vol) over the
// top-D levels of each side, plus volume-weighted average prices. When one
// side is empty the ratio saturates to +/-1.
func (snap Snapshot) ImbalanceRatio(depth int) Imbalance {
	bids := snap.Bids
	if depth < len(bids) {
		bids = bids[:depth]
	}
	asks := snap.Asks
	if depth < len(asks) {
		asks = asks[:depth]
	}

	bidVol, bidVWAP := vwap(bids)
	askVol, askVWAP := vwap(asks)

	denom := bidVol.Add(askVol)
	var ratio numeric.Price
	switch {
	case denom.IsZero():
		ratio = numeric.Zero
	case askVol.IsZero():
		ratio = decimal.NewFromInt(1)
	case bidVol.IsZero():
		ratio = decimal.NewFromInt(-1)
	default:
		ratio = bidVol.Sub(askVol).Div(denom)
	}

	return Imbalance{Ratio: ratio, BidVWAP: bidVWAP, AskVWAP: askVWAP}
}

func vwap(levels []Level) (totalVol, vwapPrice numeric.Price) {
	totalVol = numeric.Zero
	weighted := numeric.Zero
	for _, lvl := range levels {
		totalVol = totalVol.Add(lvl.Volume)
		weighted = weighted.Add(lvl.Price.Mul(lvl.Volume))
	}
	if totalVol.IsZero() {
		return totalVol, numeric.Zero
	}
	return totalVol, weighted.Div(totalVol)
}

// PressureSignal classifies book pressure from the imbalance ratio.
type PressureSignal string

const (
	PressureStrongBuy  PressureSignal = "strong_buy"
	PressureWeakBuy    PressureSignal = "weak_buy"
	PressureNeutral    PressureSignal = "neutral"
	PressureWeakSell   PressureSignal = "weak_sell"
	PressureStrongSell PressureSignal = "strong_sell"
)

// Pressure is the tiered book-pressure reading over a depth.
type Pressure struct {
	Signal     PressureSignal
	Imbalance  Imbalance
	Confidence numeric.Price // saturates to 1 as total volume grows
}

// BookPressure tiers the imbalance ratio: |r| < 0.2 is Neutral, 0.2-0.5 is
// Weak, >= 0.5 is Strong, signed by the ratio. Confidence is
// total_vol / (total_vol + 100), saturating toward 1.
func (snap Snapshot) BookPressure(depth int) Pressure {
	imb := snap.ImbalanceRatio(depth)
	abs := imb.Ratio.Abs()

	var signal PressureSignal
	switch {
	case abs.LessThan(decimal.NewFromFloat(0.2)):
		signal = PressureNeutral
	case abs.LessThan(decimal.NewFromFloat(0.5)):
		if imb.Ratio.IsNegative() {
			signal = PressureWeakSell
		} else {
			signal = PressureWeakBuy
		}
	default:
		if imb.Ratio.IsNegative() {
			signal = PressureStrongSell
		} else {
			signal = PressureStrongBuy
		}
	}

	total := numeric.Zero
	for _, lvl := range truncate(snap.Bids, depth) {
		total = total.Add(lvl.Volume)
	}
	for _, lvl := range truncate(snap.Asks, depth) {
		total = total.Add(lvl.Volume)
	}
	confidence := total.Div(total.Add(decimal.NewFromInt(100)))

	return Pressure{Signal: signal, Imbalance: imb, Confidence: confidence}
}

func truncate(levels []Level, n int) []Level {
	if n < len(levels) {
		return levels[:n]
	}
	return levels
}

// FilterByMidPercent retains only levels within [mid*(1-p/100), mid*(1+p/100)].
func (snap Snapshot) FilterByMidPercent(p numeric.Price) Snapshot {
	mid, ok := snap.Mid()
	if !ok {
		return snap
	}
	ratio := p.Div(decimal.NewFromInt(100))
	lower := mid.Mul(decimal.NewFromInt(1).Sub(ratio))
	upper := mid.Mul(decimal.NewFromInt(1).Add(ratio))

	out := snap
	out.Bids = filterRange(snap.Bids, lower, upper)
	out.Asks = filterRange(snap.Asks, lower, upper)
	return out
}

func filterRange(levels []Level, lower, upper numeric.Price) []Level {
	filtered := make([]Level, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Price.Cmp(lower) >= 0 && lvl.Price.Cmp(upper) <= 0 {
			filtered = append(filtered, lvl)
		}
	}
	return filtered
}
