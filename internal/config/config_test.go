package config

import (
	"testing"
	"time"

	"github.com/krakenfeed/sdk/errs"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() must validate clean, got %v", err)
	}
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := Default()
	_ = Apply(base, WithEndpoint("wss://other.example"))
	if base.Endpoint != "wss://ws.kraken.com" {
		t.Fatalf("Apply mutated base endpoint: %q", base.Endpoint)
	}
}

func TestWithEndpointOverride(t *testing.T) {
	cfg := Apply(Default(), WithEndpoint("  wss://custom.example  "))
	if cfg.Endpoint != "wss://custom.example" {
		t.Fatalf("expected trimmed override, got %q", cfg.Endpoint)
	}
}

func TestValidateRejectsBadEndpointScheme(t *testing.T) {
	cfg := Apply(Default(), WithEndpoint("http://ws.kraken.com"))
	err := asConfigErr(t, cfg.Validate())
	if err.Field != "endpoint" {
		t.Fatalf("expected endpoint field, got %q", err.Field)
	}
}

func TestValidateFieldChecks(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*Settings)
		wantField string
	}{
		{"zero timeout", func(s *Settings) { s.Timeout = 0 }, "timeout"},
		{"zero buffer", func(s *Settings) { s.BufferSize = 0 }, "buffer_size"},
		{"negative max attempts", func(s *Settings) { s.Reconnect.MaxAttempts = -1 }, "reconnect.max_attempts"},
		{"zero initial delay", func(s *Settings) { s.Reconnect.InitialDelay = 0 }, "reconnect.initial_delay"},
		{"max delay below initial", func(s *Settings) { s.Reconnect.MaxDelay = 1 * time.Millisecond }, "reconnect.max_delay"},
		{"multiplier too small", func(s *Settings) { s.Reconnect.BackoffMultiplier = 1.0 }, "reconnect.backoff_multiplier"},
		{"negative max per sec", func(s *Settings) { s.Backpressure.MaxPerSec = -1 }, "backpressure.max_per_sec"},
		{"zero max buffer", func(s *Settings) { s.Backpressure.MaxBuffer = 0 }, "backpressure.max_buffer"},
		{"bad drop policy", func(s *Settings) { s.Backpressure.DropPolicy = "explode" }, "backpressure.drop_policy"},
		{"zero rate window", func(s *Settings) { s.Backpressure.RateWindow = 0 }, "backpressure.rate_window"},
		{"zero max gap", func(s *Settings) { s.Sequence.MaxGapSize = 0 }, "sequence.max_gap_size"},
		{"zero max pending", func(s *Settings) { s.Sequence.MaxPending = 0 }, "sequence.max_pending"},
		{"zero pending timeout", func(s *Settings) { s.Sequence.PendingTimeout = 0 }, "sequence.pending_timeout"},
		{"zero max samples", func(s *Settings) { s.Latency.MaxSamples = 0 }, "latency.max_samples"},
		{"zero histogram bucket", func(s *Settings) { s.Latency.HistogramBucket = 0 }, "latency.histogram_bucket"},
		{"zero histogram buckets", func(s *Settings) { s.Latency.HistogramBuckets = 0 }, "latency.histogram_buckets"},
		{"zero track depth", func(s *Settings) { s.Flow.TrackDepth = 0 }, "flow.track_depth"},
		{"zero max history", func(s *Settings) { s.Flow.MaxHistory = 0 }, "flow.max_history"},
		{"window size too small", func(s *Settings) { s.Whale.WindowSize = 1 }, "whale.window_size"},
		{"zero outlier threshold", func(s *Settings) { s.Whale.OutlierThreshold = 0 }, "whale.outlier_threshold"},
		{"zero analyze depth", func(s *Settings) { s.Whale.AnalyzeDepth = 0 }, "whale.analyze_depth"},
		{"zero max heat seconds", func(s *Settings) { s.Heatmap.MaxHeatSeconds = 0 }, "heatmap.max_heat_seconds"},
		{"zero decay rate", func(s *Settings) { s.Heatmap.DecayRate = 0 }, "heatmap.decay_rate"},
		{"zero max lifetime", func(s *Settings) { s.Spoof.MaxLifetime = 0 }, "spoof.max_lifetime"},
		{"zero max pending per symbol", func(s *Settings) { s.Spoof.MaxPendingPerSymbol = 0 }, "spoof.max_pending_per_symbol"},
		{"zero pending expiry", func(s *Settings) { s.Spoof.PendingExpiry = 0 }, "spoof.pending_expiry"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := asConfigErr(t, cfg.Validate())
			if err.Field != tc.wantField {
				t.Fatalf("expected field %q, got %q", tc.wantField, err.Field)
			}
			if err.Code != errs.CodeConfiguration {
				t.Fatalf("expected CodeConfiguration, got %q", err.Code)
			}
		})
	}
}

func asConfigErr(t *testing.T, err error) *errs.E {
	t.Helper()
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	e, ok := err.(*errs.E)
	if !ok {
		t.Fatalf("expected *errs.E, got %T", err)
	}
	return e
}
