package orderflow

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

func TestFirstSnapshotEmitsNoEvents(t *testing.T) {
	d := New(config.Default().Flow)
	snap := bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}}
	events := d.Diff(snap)
	if len(events) != 0 {
		t.Fatalf("expected no events on first snapshot, got %v", events)
	}
}

func TestLargeOrderAppearedOnNewLevel(t *testing.T) {
	cfg := config.Default().Flow
	d := New(cfg)
	d.Diff(bookmirror.Snapshot{Symbol: "BTC/USD"})

	events := d.Diff(bookmirror.Snapshot{
		Symbol: "BTC/USD",
		Bids:   []bookmirror.Level{lvl(t, "100", "20")},
	})

	found := false
	for _, e := range events {
		if e.Kind == LargeOrderAppeared && e.Side == SideBid {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected LargeOrderAppeared, got %+v", events)
	}
}

func TestSizeIncreaseBelowThresholdIsSizeIncreased(t *testing.T) {
	d := New(config.Default().Flow)
	d.Diff(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}})
	events := d.Diff(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "2")}})

	if len(events) != 1 || events[0].Kind != SizeIncreased {
		t.Fatalf("expected a single SizeIncreased event, got %+v", events)
	}
	if events[0].Delta.String() != "1" {
		t.Fatalf("expected delta=1, got %s", events[0].Delta)
	}
}

func TestBestBidChangeEmitsDedicatedEvent(t *testing.T) {
	d := New(config.Default().Flow)
	d.Diff(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}})
	events := d.Diff(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "101", "1")}})

	var sawBestBidChanged bool
	for _, e := range events {
		if e.Kind == BestBidChanged {
			sawBestBidChanged = true
			if e.OldPrice.String() != "100" || e.NewPrice.String() != "101" {
				t.Fatalf("unexpected old/new prices: %+v", e)
			}
		}
	}
	if !sawBestBidChanged {
		t.Fatalf("expected BestBidChanged event, got %+v", events)
	}
}

func TestSequenceNumbersAreMonotonicPerDetector(t *testing.T) {
	d := New(config.Default().Flow)
	d.Diff(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "1")}})
	events := d.Diff(bookmirror.Snapshot{Symbol: "BTC/USD", Bids: []bookmirror.Level{lvl(t, "100", "20")}})

	if len(events) == 0 {
		t.Fatalf("expected at least one event")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Sequence <= events[i-1].Sequence {
			t.Fatalf("sequence numbers not monotonic: %+v", events)
		}
	}
}
