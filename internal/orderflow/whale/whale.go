// Package whale flags unusually large book levels using a rolling z-score
// over observed volumes, mirroring the reference implementation's
// whale_detection module.
package whale

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/krakenfeed/sdk/internal/bookmirror"
	"github.com/krakenfeed/sdk/internal/config"
	"github.com/krakenfeed/sdk/internal/numeric"
	"github.com/krakenfeed/sdk/internal/orderflow"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// minObservations is the warm-up count before z-scores are trusted; below
// this the rolling mean/stddev are too noisy to classify an outlier.
const minObservations = 10

// Detection reports one level whose volume is a statistical outlier.
type Detection struct {
	Symbol    symbol.Symbol
	Side      orderflow.Side
	Price     numeric.Price
	Volume    numeric.Volume
	ZScore    float64
	Timestamp time.Time
}

// rollingStats accumulates a capped window of observations with O(1)
// mean/stddev maintenance via running sum and sum-of-squares.
type rollingStats struct {
	observations []float64
	sum          float64
	sumSq        float64
	capacity     int
}

func newRollingStats(capacity int) *rollingStats {
	return &rollingStats{capacity: capacity}
}

func (r *rollingStats) push(v float64) {
	r.observations = append(r.observations, v)
	r.sum += v
	r.sumSq += v * v
	if len(r.observations) > r.capacity {
		evicted := r.observations[0]
		r.observations = r.observations[1:]
		r.sum -= evicted
		r.sumSq -= evicted * evicted
	}
}

func (r *rollingStats) count() int { return len(r.observations) }

func (r *rollingStats) mean() float64 {
	if len(r.observations) == 0 {
		return 0
	}
	return r.sum / float64(len(r.observations))
}

func (r *rollingStats) stddev() float64 {
	n := float64(len(r.observations))
	if n == 0 {
		return 0
	}
	mean := r.sum / n
	variance := r.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Detector maintains one rolling-stats accumulator per symbol, fed by both
// book sides in sequence (bids then asks).
type Detector struct {
	cfg config.WhaleSettings

	mu    sync.Mutex
	stats map[symbol.Symbol]*rollingStats

	now func() time.Time
}

// New constructs a Detector from the configured window/threshold policy.
func New(cfg config.WhaleSettings) *Detector {
	return &Detector{
		cfg:   cfg,
		stats: make(map[symbol.Symbol]*rollingStats),
		now:   time.Now,
	}
}

// Observe pushes each top-AnalyzeDepth level's volume (bid side then ask
// side) into the symbol's rolling stats and returns any outliers detected
// among this update's levels, sorted by z-score descending.
func (d *Detector) Observe(snap bookmirror.Snapshot) []Detection {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats, ok := d.stats[snap.Symbol]
	if !ok {
		stats = newRollingStats(d.cfg.WindowSize)
		d.stats[snap.Symbol] = stats
	}

	var detections []Detection
	detections = append(detections, d.observeSide(snap.Symbol, orderflow.SideBid, snap.Bids, stats)...)
	detections = append(detections, d.observeSide(snap.Symbol, orderflow.SideAsk, snap.Asks, stats)...)

	sort.Slice(detections, func(i, j int) bool { return detections[i].ZScore > detections[j].ZScore })
	return detections
}

func (d *Detector) observeSide(sym symbol.Symbol, side orderflow.Side, levels []bookmirror.Level, stats *rollingStats) []Detection {
	depth := d.cfg.AnalyzeDepth
	if depth < len(levels) {
		levels = levels[:depth]
	}

	var detections []Detection
	for _, lvl := range levels {
		v, _ := lvl.Volume.Float64()
		if stats.count() >= minObservations {
			mean := stats.mean()
			stddev := stats.stddev()
			var z float64
			switch {
			case stddev > 0:
				z = (v - mean) / stddev
			case v > mean:
				// a constant history has no spread, so any larger volume
				// is an unbounded outlier.
				z = math.Inf(1)
			}
			if z >= d.cfg.OutlierThreshold && lvl.Volume.GreaterThanOrEqual(d.cfg.MinAbsoluteSize) {
				detections = append(detections, Detection{
					Symbol:    sym,
					Side:      side,
					Price:     lvl.Price,
					Volume:    lvl.Volume,
					ZScore:    z,
					Timestamp: d.now(),
				})
			}
		}
		stats.push(v)
	}
	return detections
}
