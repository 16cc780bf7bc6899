package heatmap

import (
	"testing"
	"time"

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

func TestNewLevelStartsAtZeroHeat(t *testing.T) {
	tr := New(config.Default().Heatmap)
	entries := tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}})
	if len(entries) != 1 || entries[0].Heat != 0 {
		t.Fatalf("expected new level with heat=0, got %+v", entries)
	}
}

func TestStableLevelAccumulatesHeat(t *testing.T) {
	tr := New(config.Default().Heatmap)
	clock := time.Unix(0, 0)
	tr.now = func() time.Time { return clock }

	tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}})
	clock = clock.Add(5 * time.Second)
	entries := tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}})

	if len(entries) != 1 || entries[0].Heat != 5 {
		t.Fatalf("expected heat accumulated to 5s, got %+v", entries)
	}
}

func TestShrinkingLevelDecaysHeat(t *testing.T) {
	cfg := config.Default().Heatmap
	cfg.VolumeChangeThreshold = 0.5
	cfg.DecayRate = 0.5
	tr := New(cfg)
	clock := time.Unix(0, 0)
	tr.now = func() time.Time { return clock }

	tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "10")}})
	clock = clock.Add(10 * time.Second)
	tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "10")}})
	clock = clock.Add(1 * time.Second)
	// volume collapses to 10% of previous, well below the 0.5 threshold
	entries := tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}})

	if entries[0].Heat != 5 {
		t.Fatalf("expected heat decayed from 10 to 5, got %+v", entries[0])
	}
}

func TestEvictedLevelIsNotReturned(t *testing.T) {
	tr := New(config.Default().Heatmap)
	tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1"), lvl(t, "99", "1")}})
	entries := tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "99", "1")}})

	for _, e := range entries {
		if e.Price.String() == "100" {
			t.Fatalf("expected level 100 to be evicted, got %+v", entries)
		}
	}
}

func TestHeatScoreCapsAtOne(t *testing.T) {
	cfg := config.Default().Heatmap
	cfg.MaxHeatSeconds = 10
	tr := New(cfg)
	clock := time.Unix(0, 0)
	tr.now = func() time.Time { return clock }

	tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}})
	clock = clock.Add(1000 * time.Second)
	entries := tr.Observe(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}})

	if entries[0].HeatScore != 1 {
		t.Fatalf("expected heat score capped at 1, got %f", entries[0].HeatScore)
	}
}
