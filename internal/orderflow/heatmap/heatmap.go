// Package heatmap tracks how long liquidity persists at each order-book
// level, accumulating "heat" for stable or growing levels and decaying it
// for levels whose volume shrinks, mirroring the reference implementation's
// liquidity heatmap module.
package heatmap

import (
	"sync"
	"time"

	"github.com/krakenfeed/sdk/internal/bookmirror"
	"github.com/krakenfeed/sdk/internal/config"
	"github.com/krakenfeed/sdk/internal/numeric"
	"github.com/krakenfeed/sdk/internal/orderflow"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// Entry reports one tracked level's accumulated heat.
type Entry struct {
	Symbol    symbol.Symbol
	Side      orderflow.Side
	Price     numeric.Price
	Volume    numeric.Volume
	FirstSeen time.Time
	LastSeen  time.Time
	Heat      float64
	HeatScore float64 // heat / MaxHeatSeconds, capped at 1
}

type trackedLevel struct {
	price     numeric.Price
	volume    numeric.Volume
	firstSeen time.Time
	lastSeen  time.Time
	heat      float64
}

type symbolHeat struct {
	bids       map[string]*trackedLevel
	asks       map[string]*trackedLevel
	lastUpdate time.Time
	hasUpdate  bool
}

// Tracker accumulates per-level heat for every tracked symbol.
type Tracker struct {
	cfg config.HeatmapSettings

	mu      sync.Mutex
	symbols map[symbol.Symbol]*symbolHeat

	now func() time.Time
}

// New constructs a Tracker from the configured decay/heat policy.
func New(cfg config.HeatmapSettings) *Tracker {
	return &Tracker{
		cfg:     cfg,
		symbols: make(map[symbol.Symbol]*symbolHeat),
		now:     time.Now,
	}
}

// Observe updates heat for every level in the top-TrackDepth of both sides,
// evicts levels that fell out of that window, and returns the current
// entries for the symbol.
func (tr *Tracker) Observe(snap bookmirror.Snapshot) []Entry {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	sh, ok := tr.symbols[snap.Symbol]
	if !ok {
		sh = &symbolHeat{bids: make(map[string]*trackedLevel), asks: make(map[string]*trackedLevel)}
		tr.symbols[snap.Symbol] = sh
	}

	now := tr.now()
	var deltaSecs float64
	if sh.hasUpdate {
		deltaSecs = now.Sub(sh.lastUpdate).Seconds()
	}

	bidEntries := tr.observeSide(snap.Symbol, orderflow.SideBid, snap.Bids, sh.bids, now, deltaSecs)
	askEntries := tr.observeSide(snap.Symbol, orderflow.SideAsk, snap.Asks, sh.asks, now, deltaSecs)

	sh.lastUpdate = now
	sh.hasUpdate = true

	return append(bidEntries, askEntries...)
}

func (tr *Tracker) observeSide(sym symbol.Symbol, side orderflow.Side, levels []bookmirror.Level, tracked map[string]*trackedLevel, now time.Time, deltaSecs float64) []Entry {
	depth := tr.cfg.TrackDepth
	if depth < len(levels) {
		levels = levels[:depth]
	}

	seen := make(map[string]bool, len(levels))
	for _, lvl := range levels {
		key := lvl.Price.String()
		seen[key] = true

		t, ok := tracked[key]
		if !ok {
			tracked[key] = &trackedLevel{
				price:     lvl.Price,
				volume:    lvl.Volume,
				firstSeen: now,
				lastSeen:  now,
				heat:      0,
			}
			continue
		}

		if tr.isShrinking(t.volume, lvl.Volume) {
			t.heat *= 1 - tr.cfg.DecayRate
		} else {
			t.heat += deltaSecs
		}
		t.volume = lvl.Volume
		t.lastSeen = now
	}

	for key := range tracked {
		if !seen[key] {
			delete(tracked, key)
		}
	}

	entries := make([]Entry, 0, len(levels))
	for _, lvl := range levels {
		t := tracked[lvl.Price.String()]
		entries = append(entries, Entry{
			Symbol:    sym,
			Side:      side,
			Price:     t.price,
			Volume:    t.volume,
			FirstSeen: t.firstSeen,
			LastSeen:  t.lastSeen,
			Heat:      t.heat,
			HeatScore: tr.heatScore(t.heat),
		})
	}
	return entries
}

// isShrinking reports whether curr/prev fell below VolumeChangeThreshold,
// the signal to decay rather than accumulate heat.
func (tr *Tracker) isShrinking(prev, curr numeric.Volume) bool {
	if prev.IsZero() {
		return false
	}
	ratio, _ := curr.Div(prev).Float64()
	return ratio < tr.cfg.VolumeChangeThreshold
}

func (tr *Tracker) heatScore(heat float64) float64 {
	if tr.cfg.MaxHeatSeconds <= 0 {
		return 0
	}
	score := heat / tr.cfg.MaxHeatSeconds
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
