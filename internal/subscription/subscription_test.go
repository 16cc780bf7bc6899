package subscription

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/symbol"
)

func syms(ss ...string) []symbol.Symbol {
	out := make([]symbol.Symbol, len(ss))
	for i, s := range ss {
		sym, ok := symbol.Normalize(s)
		if !ok {
			panic("bad test symbol: " + s)
		}
		out[i] = sym
	}
	return out
}

func TestRequestValidateRejectsUnknownChannel(t *testing.T) {
	req := Request{Channel: "trades", Symbols: syms("BTC/USD")}
	if err := req.Validate(); err == nil {
		t.Fatalf("expected an error for an unrecognized channel")
	}
}

func TestRequestValidateRejectsBadOhlcInterval(t *testing.T) {
	req := Request{Channel: "ohlc", Symbols: syms("BTC/USD"), Interval: 7}
	if err := req.Validate(); err == nil {
		t.Fatalf("expected an error for an unsupported ohlc interval")
	}
}

func TestBuildSubscribeFramesGroupsByChannel(t *testing.T) {
	m := New()
	reqs := []Request{
		{Channel: "ticker", Symbols: syms("BTC/USD", "ETH/USD")},
	}
	frames, err := m.BuildSubscribeFrames(reqs)
	if err != nil {
		t.Fatalf("build subscribe frames: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one frame for one channel group, got %d", len(frames))
	}

	var decoded struct {
		Event        string   `json:"event"`
		Pair         []string `json:"pair"`
		Subscription struct {
			Name string `json:"name"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(frames[0], &decoded); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if decoded.Event != "subscribe" {
		t.Fatalf("expected event=subscribe, got %q", decoded.Event)
	}
	if decoded.Subscription.Name != "ticker" {
		t.Fatalf("expected subscription.name=ticker, got %q", decoded.Subscription.Name)
	}
	if len(decoded.Pair) != 2 {
		t.Fatalf("expected 2 pairs, got %v", decoded.Pair)
	}

	key := Key{Name: "ticker", Symbol: "BTC/USD"}
	st, ok := m.StateOf(key)
	if !ok || st != StatePending {
		t.Fatalf("expected key %v to be Pending, got %v (tracked=%v)", key, st, ok)
	}
}

func TestHandleStatusMovesKeyToActive(t *testing.T) {
	m := New()
	reqs := []Request{{Channel: "ticker", Symbols: syms("BTC/USD")}}
	if _, err := m.BuildSubscribeFrames(reqs); err != nil {
		t.Fatalf("build subscribe frames: %v", err)
	}

	cf := codec.ControlFrame{
		Event:  "subscriptionStatus",
		Status: "subscribed",
		Pair:   "XBT/USD",
	}
	cf.Subscription.Name = "ticker"

	if err := m.HandleStatus(cf); err != nil {
		t.Fatalf("handle status: %v", err)
	}
	if !m.Active(reqs) {
		t.Fatalf("expected all requested keys to be active after confirmation")
	}
}

func TestHandleStatusErrorSurfacesSubscriptionFailed(t *testing.T) {
	m := New()
	cf := codec.ControlFrame{
		Event:        "subscriptionStatus",
		Status:       "error",
		ErrorMessage: "Subscription depth not supported",
	}
	cf.Subscription.Name = "book"

	err := m.HandleStatus(cf)
	if err == nil {
		t.Fatalf("expected a SubscriptionFailed error")
	}
	if !strings.Contains(err.Error(), "Subscription depth not supported") {
		t.Fatalf("expected the exchange message in the error, got %v", err)
	}
}
