// Package spoof correlates large orders that appear and then vanish in a
// short window, a pattern characteristic of spoofing, mirroring the
// reference implementation's spoofing_detection module.
package spoof

import (
	"sync"
	"time"

	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/config"
	"github.com/krakenfeed/sdk/internal/numeric"
	"github.com/krakenfeed/sdk/internal/orderflow"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// Alert reports one correlated appear/disappear pair judged likely to be
// spoofing.
type Alert struct {
	Symbol          symbol.Symbol
	Side            orderflow.Side
	Price           numeric.Price
	Volume          numeric.Volume
	Lifetime        time.Duration
	HadTrades       bool
	SuspicionScore  float64
	DisappearedTime time.Time
}

type pendingAppearance struct {
	volume     numeric.Volume
	appearedAt time.Time
	hadTrade   bool
}

type levelKey struct {
	symbol symbol.Symbol
	side   orderflow.Side
	price  string
}

// Detector correlates LargeOrderAppeared/LargeOrderDisappeared flow events
// and trade prints into spoofing alerts.
type Detector struct {
	cfg config.SpoofSettings

	mu      sync.Mutex
	pending map[levelKey]*pendingAppearance
	order   map[symbol.Symbol][]levelKey // insertion order, for bounding per symbol

	now func() time.Time
}

// New constructs a Detector from the configured thresholds.
func New(cfg config.SpoofSettings) *Detector {
	return &Detector{
		cfg:     cfg,
		pending: make(map[levelKey]*pendingAppearance),
		order:   make(map[symbol.Symbol][]levelKey),
		now:     time.Now,
	}
}

// ObserveTrade marks that a trade printed at sym/price, so a currently
// pending appearance at that level is not "no trades" when it later
// disappears.
func (d *Detector) ObserveTrade(trade codec.TradeData) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, side := range [...]orderflow.Side{orderflow.SideBid, orderflow.SideAsk} {
		key := levelKey{symbol: trade.Symbol, side: side, price: trade.Price.String()}
		if p, ok := d.pending[key]; ok {
			p.hadTrade = true
		}
	}
}

// ObserveFlow processes one flow event, registering new large-order
// appearances and correlating disappearances against them. It also expires
// pending appearances older than PendingExpiry.
func (d *Detector) ObserveFlow(event orderflow.FlowEvent) *Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expireLocked(event.Symbol)

	key := levelKey{symbol: event.Symbol, side: event.Side, price: event.Price.String()}

	switch event.Kind {
	case orderflow.LargeOrderAppeared:
		d.registerLocked(key, event)
		return nil
	case orderflow.LargeOrderDisappeared:
		return d.resolveLocked(key, event)
	default:
		return nil
	}
}

func (d *Detector) registerLocked(key levelKey, event orderflow.FlowEvent) {
	if _, exists := d.pending[key]; exists {
		return
	}

	keys := d.order[event.Symbol]
	if len(keys) >= d.cfg.MaxPendingPerSymbol {
		return
	}
	d.order[event.Symbol] = append(keys, key)

	d.pending[key] = &pendingAppearance{
		volume:     event.CurrentVol,
		appearedAt: event.Timestamp,
	}
}

func (d *Detector) resolveLocked(key levelKey, event orderflow.FlowEvent) *Alert {
	p, ok := d.pending[key]
	if !ok {
		return nil
	}
	delete(d.pending, key)
	d.removeOrderLocked(event.Symbol, key)

	lifetime := event.Timestamp.Sub(p.appearedAt)
	if lifetime > d.cfg.MaxLifetime {
		return nil
	}
	if d.cfg.RequireNoTrades && p.hadTrade {
		return nil
	}

	return &Alert{
		Symbol:          event.Symbol,
		Side:            event.Side,
		Price:           event.Price,
		Volume:          p.volume,
		Lifetime:        lifetime,
		HadTrades:       p.hadTrade,
		SuspicionScore:  d.suspicionScore(lifetime, p.volume, p.hadTrade),
		DisappearedTime: event.Timestamp,
	}
}

func (d *Detector) suspicionScore(lifetime time.Duration, volume numeric.Volume, hadTrade bool) float64 {
	timeFactor := 1 - float64(lifetime)/float64(d.cfg.MaxLifetime)
	if timeFactor < 0 {
		timeFactor = 0
	}
	if timeFactor > 1 {
		timeFactor = 1
	}

	thresholdF, _ := d.cfg.MinSizeThreshold.Float64()
	volF, _ := volume.Float64()
	var sizeFactor float64
	if thresholdF > 0 {
		sizeFactor = volF / thresholdF
	}
	if sizeFactor > 2 {
		sizeFactor = 2
	}
	sizeFactor /= 2

	tradeFactor := 0.5
	if !hadTrade {
		tradeFactor = 1
	}

	return 0.5*timeFactor + 0.3*sizeFactor + 0.2*tradeFactor
}

func (d *Detector) expireLocked(sym symbol.Symbol) {
	keys := d.order[sym]
	if len(keys) == 0 {
		return
	}
	now := d.now()
	kept := keys[:0]
	for _, key := range keys {
		p, ok := d.pending[key]
		if !ok {
			continue
		}
		if now.Sub(p.appearedAt) > d.cfg.PendingExpiry {
			delete(d.pending, key)
			continue
		}
		kept = append(kept, key)
	}
	d.order[sym] = kept
}

func (d *Detector) removeOrderLocked(sym symbol.Symbol, key levelKey) {
	keys := d.order[sym]
	for i, k := range keys {
		if k == key {
			d.order[sym] = append(keys[:i], keys[i+1:]...)
			return
		}
	}
}
