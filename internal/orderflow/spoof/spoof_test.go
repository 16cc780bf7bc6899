package spoof

import (
	"testing"
	"time"

	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/config"
	"github.com/krakenfeed/sdk/internal/numeric"
	"github.com/krakenfeed/sdk/internal/orderflow"
)

func price(t *testing.T, s string) numeric.Price {
	t.Helper()
	p, err := numeric.ParsePrice(s)
	if err != nil {
		t.Fatalf("parse price: %v", err)
	}
	return p
}

func volume(t *testing.T, s string) numeric.Volume {
	t.Helper()
	v, err := numeric.ParseVolume(s)
	if err != nil {
		t.Fatalf("parse volume: %v", err)
	}
	return v
}

// TestSuspicionScoreNearNinetyPercent reproduces a short-lived, no-trade,
// oversized appearance and checks the suspicion score lands close to 0.9.
func TestSuspicionScoreNearNinetyPercent(t *testing.T) {
	cfg := config.SpoofSettings{
		MinSizeThreshold:    volume(t, "10"),
		MaxLifetime:         5 * time.Second,
		RequireNoTrades:     true,
		MaxPendingPerSymbol: 100,
		PendingExpiry:       60 * time.Second,
	}
	d := New(cfg)

	appearedAt := time.Unix(0, 0)
	// pin the detector clock to the event timeline so pending expiry is
	// measured against it rather than the wall clock.
	d.now = func() time.Time { return appearedAt }
	alert := d.ObserveFlow(orderflow.FlowEvent{
		Symbol:     "BTC/USD",
		Side:       orderflow.SideBid,
		Price:      price(t, "100"),
		Kind:       orderflow.LargeOrderAppeared,
		CurrentVol: volume(t, "20"),
		Timestamp:  appearedAt,
	})
	if alert != nil {
		t.Fatalf("expected no alert on appearance, got %+v", alert)
	}

	disappearedAt := appearedAt.Add(500 * time.Millisecond)
	alert = d.ObserveFlow(orderflow.FlowEvent{
		Symbol:    "BTC/USD",
		Side:      orderflow.SideBid,
		Price:     price(t, "100"),
		Kind:      orderflow.LargeOrderDisappeared,
		PrevVol:   volume(t, "20"),
		Timestamp: disappearedAt,
	})
	if alert == nil {
		t.Fatalf("expected a spoofing alert")
	}
	if alert.SuspicionScore < 0.85 || alert.SuspicionScore > 1.0 {
		t.Fatalf("expected suspicion score near 0.9, got %f", alert.SuspicionScore)
	}
}

func TestLongLivedAppearanceIsNotFlagged(t *testing.T) {
	cfg := config.Default().Spoof
	d := New(cfg)

	appearedAt := time.Unix(0, 0)
	d.ObserveFlow(orderflow.FlowEvent{
		Symbol: "BTC/USD", Side: orderflow.SideBid, Price: price(t, "100"),
		Kind: orderflow.LargeOrderAppeared, CurrentVol: volume(t, "5"), Timestamp: appearedAt,
	})

	alert := d.ObserveFlow(orderflow.FlowEvent{
		Symbol: "BTC/USD", Side: orderflow.SideBid, Price: price(t, "100"),
		Kind: orderflow.LargeOrderDisappeared, Timestamp: appearedAt.Add(time.Hour),
	})
	if alert != nil {
		t.Fatalf("expected no alert for a long-lived level, got %+v", alert)
	}
}

func TestTradeAtLevelSuppressesAlertWhenRequireNoTrades(t *testing.T) {
	cfg := config.Default().Spoof
	cfg.RequireNoTrades = true
	cfg.MaxLifetime = time.Minute
	d := New(cfg)

	appearedAt := time.Unix(0, 0)
	d.now = func() time.Time { return appearedAt }
	d.ObserveFlow(orderflow.FlowEvent{
		Symbol: "BTC/USD", Side: orderflow.SideBid, Price: price(t, "100"),
		Kind: orderflow.LargeOrderAppeared, CurrentVol: volume(t, "5"), Timestamp: appearedAt,
	})
	d.ObserveTrade(codec.TradeData{Symbol: "BTC/USD", Price: price(t, "100")})

	alert := d.ObserveFlow(orderflow.FlowEvent{
		Symbol: "BTC/USD", Side: orderflow.SideBid, Price: price(t, "100"),
		Kind: orderflow.LargeOrderDisappeared, Timestamp: appearedAt.Add(time.Second),
	})
	if alert != nil {
		t.Fatalf("expected trade at level to suppress the alert, got %+v", alert)
	}
}

func TestMaxPendingPerSymbolRejectsWhenFull(t *testing.T) {
	cfg := config.Default().Spoof
	cfg.MaxPendingPerSymbol = 1
	cfg.MaxLifetime = time.Minute
	d := New(cfg)

	t0 := time.Unix(0, 0)
	d.now = func() time.Time { return t0 }
	d.ObserveFlow(orderflow.FlowEvent{
		Symbol: "BTC/USD", Side: orderflow.SideBid, Price: price(t, "100"),
		Kind: orderflow.LargeOrderAppeared, CurrentVol: volume(t, "5"), Timestamp: t0,
	})
	// the pending map for BTC/USD is already at MaxPendingPerSymbol, so this
	// second appearance is rejected rather than evicting the first.
	d.ObserveFlow(orderflow.FlowEvent{
		Symbol: "BTC/USD", Side: orderflow.SideBid, Price: price(t, "101"),
		Kind: orderflow.LargeOrderAppeared, CurrentVol: volume(t, "5"), Timestamp: t0,
	})

	// the first pending appearance (price 100) was recorded and still alerts.
	alert := d.ObserveFlow(orderflow.FlowEvent{
		Symbol: "BTC/USD", Side: orderflow.SideBid, Price: price(t, "100"),
		Kind: orderflow.LargeOrderDisappeared, Timestamp: t0.Add(time.Second),
	})
	if alert == nil {
		t.Fatalf("expected the first pending appearance to still produce an alert")
	}

	// the second appearance (price 101) was never recorded, so its
	// disappearance produces no alert.
	alert = d.ObserveFlow(orderflow.FlowEvent{
		Symbol: "BTC/USD", Side: orderflow.SideBid, Price: price(t, "101"),
		Kind: orderflow.LargeOrderDisappeared, Timestamp: t0.Add(time.Second),
	})
	if alert != nil {
		t.Fatalf("expected the rejected pending appearance to produce no alert, got %+v", alert)
	}
}
