package whale

import (
	"testing"

	"github.com/krakenfeed/sdk/internal/bookmirror"
	"github.com/krakenfeed/sdk/internal/config"
	"github.com/krakenfeed/sdk/internal/numeric"
)

func lvl(t *testing.T, price, volume string) bookmirror.Level {
	t.Helper()
	p, err := numeric.ParsePrice(price)
	if err != nil {
		t.Fatalf("parse price: %v", err)
	}
	v, err := numeric.ParseVolume(volume)
	if err != nil {
		t.Fatalf("parse volume: %v", err)
	}
	return bookmirror.Level{Price: p, Volume: v}
}

func TestNoDetectionBelowMinObservations(t *testing.T) {
	cfg := config.Default().Whale
	d := New(cfg)

	for i := 0; i < minObservations-1; i++ {
		snap := bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}}
		if got := d.Observe(snap); len(got) != 0 {
			t.Fatalf("expected no detections before warm-up, got %v", got)
		}
	}
}

func TestOutlierDetectedAfterWarmup(t *testing.T) {
	cfg := config.Default().Whale
	cfg.OutlierThreshold = 2.0
	cfg.MinAbsoluteSize = numeric.Zero
	d := New(cfg)

	for i := 0; i < minObservations; i++ {
		snap := bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}}
		d.Observe(snap)
	}

	snap := bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1000")}}
	detections := d.Observe(snap)
	if len(detections) != 1 {
		t.Fatalf("expected one outlier detection, got %v", detections)
	}
	if detections[0].Volume.String() != "1000" {
		t.Fatalf("unexpected detection: %+v", detections[0])
	}
}

func TestDetectionsSortedByZScoreDescending(t *testing.T) {
	cfg := config.Default().Whale
	cfg.OutlierThreshold = 2.0
	cfg.MinAbsoluteSize = numeric.Zero
	d := New(cfg)

	for i := 0; i < minObservations; i++ {
		snap := bookmirror.Snapshot{
			Symbol: "BTC/USD",
			Bids:   []bookmirror.Level{lvl(t, "100", "1")},
			Asks:   []bookmirror.Level{lvl(t, "101", "1")},
		}
		d.Observe(snap)
	}

	snap := bookmirror.Snapshot{
		Symbol: "BTC/USD",
		Bids:   []bookmirror.Level{lvl(t, "100", "50")},
		Asks:   []bookmirror.Level{lvl(t, "101", "500")},
	}
	detections := d.Observe(snap)
	if len(detections) != 2 {
		t.Fatalf("expected two detections, got %v", detections)
	}
	if detections[0].ZScore < detections[1].ZScore {
		t.Fatalf("detections not sorted descending by z-score: %+v", detections)
	}
}

func TestMinAbsoluteSizeSuppressesSmallOutlier(t *testing.T) {
	cfg := config.Default().Whale
	cfg.OutlierThreshold = 2.0
	cfg.MinAbsoluteSize, _ = numeric.ParseVolume("500")
	d := New(cfg)

	for i := 0; i < minObservations; i++ {
		snap := bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}}
		d.Observe(snap)
	}

	snap := bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "10")}}
	detections := d.Observe(snap)
	if len(detections) != 0 {
		t.Fatalf("expected detection suppressed by min_absolute_size, got %v", detections)
	}
}
