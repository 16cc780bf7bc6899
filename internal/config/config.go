// Package config centralizes the runtime-tunable settings for every feed
// component. It follows the functional-options Apply pattern: Default
// returns the baseline Settings, Apply layers Options onto a clone, and
// Validate is called once at client construction time so bad configuration
// fails fast instead of surfacing as a confusing runtime error later.
package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krakenfeed/sdk/errs"
)

// DropPolicy selects how the backpressure governor sheds load when the
// inbound rate exceeds what downstream consumers can absorb.
type DropPolicy string

const (
	DropOldest DropPolicy = "oldest"
	DropLatest DropPolicy = "latest"
	DropRandom DropPolicy = "random"
	DropBlock  DropPolicy = "block"
)

// ReconnectSettings configures the transport's exponential backoff policy.
type ReconnectSettings struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// BackpressureSettings configures the inbound rate governor.
type BackpressureSettings struct {
	MaxPerSec       int
	MaxBuffer       int
	DropPolicy      DropPolicy
	CoalesceUpdates bool
	BurstAllowance  int
	RateWindow      time.Duration
}

// SequenceSettings configures per-channel gap detection and resync.
type SequenceSettings struct {
	MaxGapSize     uint64
	MaxPending     int
	PendingTimeout time.Duration
	AutoResync     bool
}

// LatencySettings configures the rolling latency tracker.
type LatencySettings struct {
	MaxSamples       int
	HistogramBucket  time.Duration
	HistogramBuckets int
	RateWindow       time.Duration
}

// FlowSettings configures order-flow event detection.
type FlowSettings struct {
	LargeOrderThreshold decimal.Decimal
	MinSizeChange       decimal.Decimal
	TrackDepth          int
	MaxHistory          int
	TrackSizeChanges    bool
}

// WhaleSettings configures the rolling z-score whale detector.
type WhaleSettings struct {
	WindowSize       int
	OutlierThreshold float64
	MinAbsoluteSize  decimal.Decimal
	AnalyzeDepth     int
}

// HeatmapSettings configures liquidity heatmap accumulation and decay.
type HeatmapSettings struct {
	MaxHeatSeconds        float64
	DecayRate             float64
	TrackDepth            int
	VolumeChangeThreshold float64
}

// SpoofSettings configures spoofing-pattern detection.
type SpoofSettings struct {
	MinSizeThreshold    decimal.Decimal
	MaxLifetime         time.Duration
	RequireNoTrades     bool
	MaxPendingPerSymbol int
	PendingExpiry       time.Duration
}

// Settings is the full runtime configuration for a feed client.
type Settings struct {
	Endpoint     string
	Timeout      time.Duration
	BufferSize   int
	Reconnect    ReconnectSettings
	Backpressure BackpressureSettings
	Sequence     SequenceSettings
	Latency      LatencySettings
	Flow         FlowSettings
	Whale        WhaleSettings
	Heatmap      HeatmapSettings
	Spoof        SpoofSettings
}

// Default returns the production-tuned baseline, grounded on the original
// SDK's documented defaults.
func Default() Settings {
	return Settings{
		Endpoint:   "wss://ws.kraken.com",
		Timeout:    10 * time.Second,
		BufferSize: 1024,
		Reconnect: ReconnectSettings{
			MaxAttempts:       0,
			InitialDelay:      500 * time.Millisecond,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Backpressure: BackpressureSettings{
			MaxPerSec:       0,
			MaxBuffer:       4096,
			DropPolicy:      DropOldest,
			CoalesceUpdates: true,
			BurstAllowance:  0,
			RateWindow:      time.Second,
		},
		Sequence: SequenceSettings{
			MaxGapSize:     10,
			MaxPending:     100,
			PendingTimeout: 60 * time.Second,
			AutoResync:     true,
		},
		Latency: LatencySettings{
			MaxSamples:       1000,
			HistogramBucket:  time.Millisecond,
			HistogramBuckets: 1000,
			RateWindow:       60 * time.Second,
		},
		Flow: FlowSettings{
			LargeOrderThreshold: decimal.NewFromInt(10),
			MinSizeChange:       decimal.NewFromFloat(0.01),
			TrackDepth:          10,
			MaxHistory:          1000,
			TrackSizeChanges:    true,
		},
		Whale: WhaleSettings{
			WindowSize:       100,
			OutlierThreshold: 3.0,
			MinAbsoluteSize:  decimal.NewFromInt(1),
			AnalyzeDepth:     10,
		},
		Heatmap: HeatmapSettings{
			MaxHeatSeconds:        300.0,
			DecayRate:             0.1,
			TrackDepth:            20,
			VolumeChangeThreshold: 0.5,
		},
		Spoof: SpoofSettings{
			MinSizeThreshold:    decimal.NewFromInt(5),
			MaxLifetime:         5 * time.Second,
			RequireNoTrades:     true,
			MaxPendingPerSymbol: 100,
			PendingExpiry:       60 * time.Second,
		},
	}
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies opts to a clone of base, leaving base untouched.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEndpoint overrides the websocket endpoint.
func WithEndpoint(endpoint string) Option {
	endpoint = strings.TrimSpace(endpoint)
	return func(s *Settings) {
		if endpoint != "" {
			s.Endpoint = endpoint
		}
	}
}

// WithTimeout overrides the dial/handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Settings) {
		if d > 0 {
			s.Timeout = d
		}
	}
}

// WithBufferSize overrides the per-subscriber dispatch channel capacity.
func WithBufferSize(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.BufferSize = n
		}
	}
}

// WithReconnect overrides the reconnect policy wholesale.
func WithReconnect(r ReconnectSettings) Option {
	return func(s *Settings) {
		s.Reconnect = r
	}
}

// WithBackpressure overrides the backpressure policy wholesale.
func WithBackpressure(b BackpressureSettings) Option {
	return func(s *Settings) {
		s.Backpressure = b
	}
}

// WithSequence overrides the sequencing policy wholesale.
func WithSequence(seq SequenceSettings) Option {
	return func(s *Settings) {
		s.Sequence = seq
	}
}

// WithLatency overrides the latency tracker policy wholesale.
func WithLatency(l LatencySettings) Option {
	return func(s *Settings) {
		s.Latency = l
	}
}

// WithFlow overrides the order-flow detection policy wholesale.
func WithFlow(f FlowSettings) Option {
	return func(s *Settings) {
		s.Flow = f
	}
}

// WithWhale overrides the whale detection policy wholesale.
func WithWhale(w WhaleSettings) Option {
	return func(s *Settings) {
		s.Whale = w
	}
}

// WithHeatmap overrides the liquidity heatmap policy wholesale.
func WithHeatmap(h HeatmapSettings) Option {
	return func(s *Settings) {
		s.Heatmap = h
	}
}

// WithSpoof overrides the spoofing detection policy wholesale.
func WithSpoof(sp SpoofSettings) Option {
	return func(s *Settings) {
		s.Spoof = sp
	}
}

// Validate eagerly checks every field, returning the first violation found
// as a *errs.E with CodeConfiguration so construction fails fast rather than
// surfacing as a confusing runtime error later.
func (s Settings) Validate() error {
	if !strings.HasPrefix(s.Endpoint, "ws://") && !strings.HasPrefix(s.Endpoint, "wss://") {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("endpoint"),
			errs.WithMessage("endpoint must start with ws:// or wss://"))
	}
	if s.Timeout <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("timeout"),
			errs.WithMessage("timeout must be positive"))
	}
	if s.BufferSize <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("buffer_size"),
			errs.WithMessage("buffer_size must be positive"))
	}
	if err := s.Reconnect.validate(); err != nil {
		return err
	}
	if err := s.Backpressure.validate(); err != nil {
		return err
	}
	if err := s.Sequence.validate(); err != nil {
		return err
	}
	if err := s.Latency.validate(); err != nil {
		return err
	}
	if err := s.Flow.validate(); err != nil {
		return err
	}
	if err := s.Whale.validate(); err != nil {
		return err
	}
	if err := s.Heatmap.validate(); err != nil {
		return err
	}
	if err := s.Spoof.validate(); err != nil {
		return err
	}
	return nil
}

func (r ReconnectSettings) validate() error {
	if r.MaxAttempts < 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("reconnect.max_attempts"),
			errs.WithMessage("max_attempts must be non-negative; 0 means unlimited"))
	}
	if r.InitialDelay <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("reconnect.initial_delay"),
			errs.WithMessage("initial_delay must be positive"))
	}
	if r.MaxDelay < r.InitialDelay {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("reconnect.max_delay"),
			errs.WithMessage("max_delay must be at least initial_delay"))
	}
	if r.BackoffMultiplier <= 1.0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("reconnect.backoff_multiplier"),
			errs.WithMessage("backoff_multiplier must be greater than 1.0"))
	}
	return nil
}

func (b BackpressureSettings) validate() error {
	if b.MaxPerSec < 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("backpressure.max_per_sec"),
			errs.WithMessage("max_per_sec must be non-negative; 0 means unlimited"))
	}
	if b.MaxBuffer <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("backpressure.max_buffer"),
			errs.WithMessage("max_buffer must be positive"))
	}
	switch b.DropPolicy {
	case DropOldest, DropLatest, DropRandom, DropBlock:
	default:
		return errs.New(errs.CodeConfiguration,
			errs.WithField("backpressure.drop_policy"),
			errs.WithMessage("drop_policy must be one of oldest, latest, random, block"))
	}
	if b.BurstAllowance < 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("backpressure.burst_allowance"),
			errs.WithMessage("burst_allowance must be non-negative"))
	}
	if b.RateWindow <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("backpressure.rate_window"),
			errs.WithMessage("rate_window must be positive"))
	}
	return nil
}

func (seq SequenceSettings) validate() error {
	if seq.MaxGapSize == 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("sequence.max_gap_size"),
			errs.WithMessage("max_gap_size must be positive"))
	}
	if seq.MaxPending <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("sequence.max_pending"),
			errs.WithMessage("max_pending must be positive"))
	}
	if seq.PendingTimeout <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("sequence.pending_timeout"),
			errs.WithMessage("pending_timeout must be positive"))
	}
	return nil
}

func (l LatencySettings) validate() error {
	if l.MaxSamples <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("latency.max_samples"),
			errs.WithMessage("max_samples must be positive"))
	}
	if l.HistogramBucket <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("latency.histogram_bucket"),
			errs.WithMessage("histogram_bucket must be positive"))
	}
	if l.HistogramBuckets <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("latency.histogram_buckets"),
			errs.WithMessage("histogram_buckets must be positive"))
	}
	if l.RateWindow <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("latency.rate_window"),
			errs.WithMessage("rate_window must be positive"))
	}
	return nil
}

func (f FlowSettings) validate() error {
	if f.LargeOrderThreshold.IsNegative() {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("flow.large_order_threshold"),
			errs.WithMessage("large_order_threshold must be non-negative"))
	}
	if f.MinSizeChange.IsNegative() {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("flow.min_size_change"),
			errs.WithMessage("min_size_change must be non-negative"))
	}
	if f.TrackDepth <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("flow.track_depth"),
			errs.WithMessage("track_depth must be positive"))
	}
	if f.MaxHistory <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("flow.max_history"),
			errs.WithMessage("max_history must be positive"))
	}
	return nil
}

func (w WhaleSettings) validate() error {
	if w.WindowSize <= 1 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("whale.window_size"),
			errs.WithMessage("window_size must be greater than 1 for stddev to be defined"))
	}
	if w.OutlierThreshold <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("whale.outlier_threshold"),
			errs.WithMessage("outlier_threshold must be positive"))
	}
	if w.MinAbsoluteSize.IsNegative() {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("whale.min_absolute_size"),
			errs.WithMessage("min_absolute_size must be non-negative"))
	}
	if w.AnalyzeDepth <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("whale.analyze_depth"),
			errs.WithMessage("analyze_depth must be positive"))
	}
	return nil
}

func (h HeatmapSettings) validate() error {
	if h.MaxHeatSeconds <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("heatmap.max_heat_seconds"),
			errs.WithMessage("max_heat_seconds must be positive"))
	}
	if h.DecayRate <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("heatmap.decay_rate"),
			errs.WithMessage("decay_rate must be positive"))
	}
	if h.TrackDepth <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("heatmap.track_depth"),
			errs.WithMessage("track_depth must be positive"))
	}
	if h.VolumeChangeThreshold <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("heatmap.volume_change_threshold"),
			errs.WithMessage("volume_change_threshold must be positive"))
	}
	return nil
}

func (sp SpoofSettings) validate() error {
	if sp.MinSizeThreshold.IsNegative() {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("spoof.min_size_threshold"),
			errs.WithMessage("min_size_threshold must be non-negative"))
	}
	if sp.MaxLifetime <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("spoof.max_lifetime"),
			errs.WithMessage("max_lifetime must be positive"))
	}
	if sp.MaxPendingPerSymbol <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("spoof.max_pending_per_symbol"),
			errs.WithMessage("max_pending_per_symbol must be positive"))
	}
	if sp.PendingExpiry <= 0 {
		return errs.New(errs.CodeConfiguration,
			errs.WithField("spoof.pending_expiry"),
			errs.WithMessage("pending_expiry must be positive"))
	}
	return nil
}
