// Package latency tracks per-frame network/processing/total latency with
// rolling percentiles, a fixed-width histogram, and threshold alerting.
package latency

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/krakenfeed/sdk/internal/config"
)

// Kind selects which of the three latency series an operation applies to.
type Kind int

const (
	Network Kind = iota
	Processing
	Total
)

// Sample is one frame's measured latencies, as durations.
type Sample struct {
	Network    time.Duration
	Processing time.Duration
	Total      time.Duration
}

// Thresholds configure alert firing per series.
type Thresholds struct {
	Network    time.Duration
	Processing time.Duration
	Total      time.Duration
}

// AlertEvent reports a sample exceeding its configured threshold.
type AlertEvent struct {
	Kind      Kind
	Value     time.Duration
	Threshold time.Duration
}

// Percentiles is an immutable snapshot over a latency series.
type Percentiles struct {
	P50, P75, P90, P95, P99, P999 time.Duration
	Min, Max, Mean, StdDev        time.Duration
}

// Histogram is a fixed-width latency distribution with an overflow bucket
// for samples past the last bucket boundary.
type Histogram struct {
	BucketWidth time.Duration
	Buckets     []uint64
	Overflow    uint64
}

// Tracker accumulates latency samples in three bounded deques and exposes
// on-demand percentile and histogram views.
type Tracker struct {
	cfg        config.LatencySettings
	thresholds Thresholds
	onAlert    func(AlertEvent)

	mu         sync.Mutex
	network    []time.Duration
	processing []time.Duration
	total      []time.Duration
	histogram  []uint64
	overflow   uint64
	rateWindow []time.Time

	now func() time.Time
}

// New constructs a Tracker from the configured sample/bucket sizes.
func New(cfg config.LatencySettings, thresholds Thresholds, onAlert func(AlertEvent)) *Tracker {
	return &Tracker{
		cfg:        cfg,
		thresholds: thresholds,
		onAlert:    onAlert,
		histogram:  make([]uint64, cfg.HistogramBuckets),
		now:        time.Now,
	}
}

// Record computes network/processing/total latency for one frame and
// stores it, evicting the oldest sample if the deque is at capacity. It
// fires the alert callback for any series exceeding its threshold.
func (t *Tracker) Record(exchangeTS, receiveTS, processEndTS time.Time) Sample {
	sample := Sample{
		Network:    receiveTS.Sub(exchangeTS),
		Processing: processEndTS.Sub(receiveTS),
	}
	sample.Total = sample.Network + sample.Processing

	t.mu.Lock()
	t.network = pushBounded(t.network, sample.Network, t.cfg.MaxSamples)
	t.processing = pushBounded(t.processing, sample.Processing, t.cfg.MaxSamples)
	t.total = pushBounded(t.total, sample.Total, t.cfg.MaxSamples)
	t.recordHistogramLocked(sample.Total)
	t.rateWindow = append(t.rateWindow, t.now())
	t.evictRateWindowLocked()
	t.mu.Unlock()

	t.maybeAlert(Network, sample.Network)
	t.maybeAlert(Processing, sample.Processing)
	t.maybeAlert(Total, sample.Total)

	return sample
}

func (t *Tracker) maybeAlert(kind Kind, value time.Duration) {
	if t.onAlert == nil {
		return
	}
	threshold := t.thresholdFor(kind)
	if threshold > 0 && value > threshold {
		t.onAlert(AlertEvent{Kind: kind, Value: value, Threshold: threshold})
	}
}

func (t *Tracker) thresholdFor(kind Kind) time.Duration {
	switch kind {
	case Network:
		return t.thresholds.Network
	case Processing:
		return t.thresholds.Processing
	default:
		return t.thresholds.Total
	}
}

func pushBounded(deque []time.Duration, v time.Duration, capacity int) []time.Duration {
	deque = append(deque, v)
	if len(deque) > capacity {
		deque = deque[len(deque)-capacity:]
	}
	return deque
}

func (t *Tracker) recordHistogramLocked(total time.Duration) {
	if t.cfg.HistogramBucket <= 0 || len(t.histogram) == 0 {
		return
	}
	idx := int(total / t.cfg.HistogramBucket)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(t.histogram) {
		t.overflow++
		return
	}
	t.histogram[idx]++
}

func (t *Tracker) evictRateWindowLocked() {
	cutoff := t.now().Add(-t.cfg.RateWindow)
	i := 0
	for i < len(t.rateWindow) && t.rateWindow[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		t.rateWindow = t.rateWindow[i:]
	}
}

// Percentiles computes the percentile summary for one series by sorting a
// copy of its current samples; the deque itself is left untouched.
func (t *Tracker) Percentiles(kind Kind) Percentiles {
	t.mu.Lock()
	var src []time.Duration
	switch kind {
	case Network:
		src = append([]time.Duration(nil), t.network...)
	case Processing:
		src = append([]time.Duration(nil), t.processing...)
	default:
		src = append([]time.Duration(nil), t.total...)
	}
	t.mu.Unlock()

	if len(src) == 0 {
		return Percentiles{}
	}
	sort.Slice(src, func(i, j int) bool { return src[i] < src[j] })

	mean, stddev := meanStdDev(src)
	return Percentiles{
		P50:    percentileOf(src, 0.50),
		P75:    percentileOf(src, 0.75),
		P90:    percentileOf(src, 0.90),
		P95:    percentileOf(src, 0.95),
		P99:    percentileOf(src, 0.99),
		P999:   percentileOf(src, 0.999),
		Min:    src[0],
		Max:    src[len(src)-1],
		Mean:   mean,
		StdDev: stddev,
	}
}

// percentileOf returns the value at the given fraction of a sorted series,
// using nearest-rank interpolation.
func percentileOf(sorted []time.Duration, fraction float64) time.Duration {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(math.Ceil(fraction*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanStdDev(sorted []time.Duration) (time.Duration, time.Duration) {
	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	mean := sum / float64(len(sorted))

	var sumSq float64
	for _, v := range sorted {
		d := float64(v) - mean
		sumSq += d * d
	}
	variance := sumSq / float64(len(sorted))
	return time.Duration(mean), time.Duration(math.Sqrt(variance))
}

// Histogram returns the fixed-width distribution accumulated so far.
func (t *Tracker) Histogram() Histogram {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Histogram{
		BucketWidth: t.cfg.HistogramBucket,
		Buckets:     append([]uint64(nil), t.histogram...),
		Overflow:    t.overflow,
	}
}

// RatePerSecond returns the sliding-window frame rate.
func (t *Tracker) RatePerSecond() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictRateWindowLocked()
	windowSecs := t.cfg.RateWindow.Seconds()
	if windowSecs <= 0 {
		return 0
	}
	return float64(len(t.rateWindow)) / windowSecs
}
