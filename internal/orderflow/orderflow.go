// Package orderflow diffs successive order-book snapshots and emits
// FlowEvents describing what changed: large orders appearing or vanishing,
// size changes, level churn, and best-bid/ask moves. Package whale, spoof,
// and heatmap build further analytics on top of this diff stream, mirroring
// the reference implementation's separate source files for each detector.
package orderflow

import (
	"sync"
	"time"

	"github.com/krakenfeed/sdk/internal/bookmirror"
	"github.com/krakenfeed/sdk/internal/config"
	"github.com/krakenfeed/sdk/internal/numeric"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// Side identifies which book side a FlowEvent concerns.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Kind is the closed set of flow event kinds.
type Kind string

const (
	LargeOrderAppeared    Kind = "large_order_appeared"
	LargeOrderDisappeared Kind = "large_order_disappeared"
	SizeIncreased         Kind = "size_increased"
	SizeDecreased         Kind = "size_decreased"
	LevelAdded            Kind = "level_added"
	LevelRemoved          Kind = "level_removed"
	BestBidChanged        Kind = "best_bid_changed"
	BestAskChanged        Kind = "best_ask_changed"
)

// FlowEvent is one detected change between two successive book snapshots.
type FlowEvent struct {
	Symbol     symbol.Symbol
	Price      numeric.Price
	Side       Side
	Kind       Kind
	CurrentVol numeric.Volume
	PrevVol    numeric.Volume
	Delta      numeric.Volume
	OldPrice   numeric.Price
	NewPrice   numeric.Price
	Timestamp  time.Time
	Sequence   uint64
}

type sideSnapshot struct {
	levels  map[string]bookmirror.Level
	best    numeric.Price
	hasBest bool
}

type symbolState struct {
	bids sideSnapshot
	asks sideSnapshot
}

// Detector diffs each book update against the previous top-track_depth
// snapshot of each side, per symbol.
type Detector struct {
	cfg config.FlowSettings

	mu   sync.Mutex
	prev map[symbol.Symbol]*symbolState
	seq  uint64

	now func() time.Time
}

// New constructs a Detector from the configured thresholds.
func New(cfg config.FlowSettings) *Detector {
	return &Detector{
		cfg:  cfg,
		prev: make(map[symbol.Symbol]*symbolState),
		now:  time.Now,
	}
}

// Diff compares snap against the previously stored snapshot for its symbol
// and returns the FlowEvents for everything that changed, then stores snap
// as the new baseline.
func (d *Detector) Diff(snap bookmirror.Snapshot) []FlowEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, existed := d.prev[snap.Symbol]
	if !existed {
		prev = &symbolState{}
	}

	currBids := toSideSnapshot(snap.Bids, d.cfg.TrackDepth)
	currAsks := toSideSnapshot(snap.Asks, d.cfg.TrackDepth)

	var events []FlowEvent
	if existed {
		events = append(events, d.diffSide(snap.Symbol, SideBid, prev.bids, currBids)...)
		events = append(events, d.diffSide(snap.Symbol, SideAsk, prev.asks, currAsks)...)
		events = append(events, d.diffBest(snap.Symbol, prev, currBids, currAsks)...)
	}

	d.prev[snap.Symbol] = &symbolState{bids: currBids, asks: currAsks}
	return events
}

func toSideSnapshot(levels []bookmirror.Level, depth int) sideSnapshot {
	if depth < len(levels) {
		levels = levels[:depth]
	}
	s := sideSnapshot{levels: make(map[string]bookmirror.Level, len(levels))}
	for _, lvl := range levels {
		s.levels[lvl.Price.String()] = lvl
	}
	if len(levels) > 0 {
		s.best = levels[0].Price
		s.hasBest = true
	}
	return s
}

func (d *Detector) diffSide(sym symbol.Symbol, side Side, prev, curr sideSnapshot) []FlowEvent {
	var events []FlowEvent
	large := d.cfg.LargeOrderThreshold
	minChange := d.cfg.MinSizeChange

	for priceKey, currLvl := range curr.levels {
		prevLvl, existed := prev.levels[priceKey]
		if !existed {
			kind := LevelAdded
			if currLvl.Volume.GreaterThanOrEqual(large) {
				kind = LargeOrderAppeared
			}
			events = append(events, d.newEvent(sym, side, kind, currLvl.Price, currLvl.Volume, numeric.Zero, numeric.Zero))
			continue
		}
		delta := currLvl.Volume.Sub(prevLvl.Volume)
		if delta.Abs().LessThan(minChange) {
			continue
		}
		switch {
		case currLvl.Volume.GreaterThanOrEqual(large) && prevLvl.Volume.LessThan(large):
			events = append(events, d.newEvent(sym, side, LargeOrderAppeared, currLvl.Price, currLvl.Volume, prevLvl.Volume, numeric.Zero))
		case prevLvl.Volume.GreaterThanOrEqual(large) && currLvl.Volume.LessThan(large):
			events = append(events, d.newEvent(sym, side, LargeOrderDisappeared, currLvl.Price, currLvl.Volume, prevLvl.Volume, numeric.Zero))
		case delta.IsPositive():
			events = append(events, d.newEvent(sym, side, SizeIncreased, currLvl.Price, currLvl.Volume, prevLvl.Volume, delta))
		default:
			events = append(events, d.newEvent(sym, side, SizeDecreased, currLvl.Price, currLvl.Volume, prevLvl.Volume, delta.Abs()))
		}
	}

	for priceKey, prevLvl := range prev.levels {
		if _, stillPresent := curr.levels[priceKey]; stillPresent {
			continue
		}
		kind := LevelRemoved
		if prevLvl.Volume.GreaterThanOrEqual(large) {
			kind = LargeOrderDisappeared
		}
		events = append(events, d.newEvent(sym, side, kind, prevLvl.Price, numeric.Zero, prevLvl.Volume, numeric.Zero))
	}

	return events
}

func (d *Detector) diffBest(sym symbol.Symbol, prev *symbolState, currBids, currAsks sideSnapshot) []FlowEvent {
	var events []FlowEvent
	if prev.bids.hasBest && currBids.hasBest && !prev.bids.best.Equal(currBids.best) {
		events = append(events, FlowEvent{
			Symbol: sym, Side: SideBid, Kind: BestBidChanged,
			OldPrice: prev.bids.best, NewPrice: currBids.best,
			Timestamp: d.now(), Sequence: d.nextSeq(),
		})
	}
	if prev.asks.hasBest && currAsks.hasBest && !prev.asks.best.Equal(currAsks.best) {
		events = append(events, FlowEvent{
			Symbol: sym, Side: SideAsk, Kind: BestAskChanged,
			OldPrice: prev.asks.best, NewPrice: currAsks.best,
			Timestamp: d.now(), Sequence: d.nextSeq(),
		})
	}
	return events
}

func (d *Detector) newEvent(sym symbol.Symbol, side Side, kind Kind, price, currentVol, prevVol, delta numeric.Volume) FlowEvent {
	return FlowEvent{
		Symbol:     sym,
		Price:      price,
		Side:       side,
		Kind:       kind,
		CurrentVol: currentVol,
		PrevVol:    prevVol,
		Delta:      delta,
		Timestamp:  d.now(),
		Sequence:   d.nextSeq(),
	}
}

// nextSeq returns the detector-scoped monotonically increasing sequence
// number. Caller holds d.mu.
func (d *Detector) nextSeq() uint64 {
	d.seq++
	return d.seq
}
