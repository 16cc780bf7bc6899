package codec

import (
	"testing"

	"github.com/krakenfeed/sdk/errs"
)

func TestDecodeTickerInOrder(t *testing.T) {
	raw := []byte(`[0,{"a":["50001","1","1.000"],"b":["50000","2","2.000"],"c":["50000.5","0.1"],"v":["100","200"]},"ticker","XBT/USD"]`)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	data, ok := frame.(DataFrame)
	if !ok {
		t.Fatalf("expected DataFrame, got %T", frame)
	}
	if data.Ticker == nil {
		t.Fatalf("expected ticker payload")
	}
	if data.Key.Symbol != "BTC/USD" {
		t.Fatalf("expected normalized symbol BTC/USD, got %q", data.Key.Symbol)
	}
	if data.Ticker.Bid.StringFixed(0) != "50000" || data.Ticker.Ask.StringFixed(0) != "50001" {
		t.Fatalf("unexpected bid/ask: bid=%s ask=%s", data.Ticker.Bid, data.Ticker.Ask)
	}
	if data.Ticker.Last.String() != "50000.5" {
		t.Fatalf("unexpected last price: %s", data.Ticker.Last)
	}
	if data.Ticker.Volume.String() != "100" {
		t.Fatalf("unexpected volume: %s", data.Ticker.Volume)
	}
}

func TestDecodeTickerMissingFieldFailsParse(t *testing.T) {
	raw := []byte(`[0,{"a":[],"b":["50000","2","2.000"],"c":["50000.5","0.1"],"v":["100","200"]},"ticker","XBT/USD"]`)

	_, err := Decode(raw)
	e := asParseErr(t, err)
	if e.Canonical != errs.CanonicalMissingField {
		t.Fatalf("expected missing field canonical, got %q", e.Canonical)
	}
	if e.Field != "a" {
		t.Fatalf("expected field a, got %q", e.Field)
	}
}

func TestDecodeTradesIteratesEveryRow(t *testing.T) {
	raw := []byte(`[1,[["50000","1","1690000000.1","b","l",""],["50001","2","1690000001.2","s","m",""]],"trade","BTC/USD"]`)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	data := frame.(DataFrame)
	if len(data.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(data.Trades))
	}
	if data.Trades[0].ID == "" || data.Trades[1].ID == "" {
		t.Fatalf("expected synthesized trade ids")
	}
	if data.Trades[0].ID == data.Trades[1].ID {
		t.Fatalf("expected distinct synthesized ids")
	}
	if data.Trades[0].Side != TradeSideBuy || data.Trades[1].Side != TradeSideSell {
		t.Fatalf("unexpected trade sides: %v %v", data.Trades[0].Side, data.Trades[1].Side)
	}
}

func TestDecodeOrderBookPreservesZeroVolumeTombstone(t *testing.T) {
	raw := []byte(`[2,{"b":[["50000","0","1690000000.1"]],"a":[["50001","1.5","1690000000.2"]]},"book-25","BTC/USD"]`)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	data := frame.(DataFrame)
	if data.Key.Channel != "book" || data.Key.Interval != 25 {
		t.Fatalf("expected channel=book interval=25, got %q %d", data.Key.Channel, data.Key.Interval)
	}
	if len(data.OrderBook.Bids) != 1 || !data.OrderBook.Bids[0].Volume.IsZero() {
		t.Fatalf("expected zero-volume bid tombstone preserved")
	}
}

func TestDecodeControlFrame(t *testing.T) {
	raw := []byte(`{"event":"subscriptionStatus","status":"subscribed","pair":"XBT/USD","subscription":{"name":"ticker"}}`)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ctrl, ok := frame.(ControlFrame)
	if !ok {
		t.Fatalf("expected ControlFrame, got %T", frame)
	}
	if ctrl.Status != "subscribed" || ctrl.Subscription.Name != "ticker" {
		t.Fatalf("unexpected control frame: %+v", ctrl)
	}
}

func TestDecodeMalformedFrameNeitherObjectNorArray(t *testing.T) {
	_, err := Decode([]byte(`"just a string"`))
	e := asParseErr(t, err)
	if e.Canonical != errs.CanonicalMalformed {
		t.Fatalf("expected malformed canonical, got %q", e.Canonical)
	}
}

func TestDecodeUnknownPairFailsParse(t *testing.T) {
	raw := []byte(`[0,{"a":["1","1","1"],"b":["1","1","1"],"c":["1","1"],"v":["1","1"]},"ticker","BTCUSD"]`)
	_, err := Decode(raw)
	e := asParseErr(t, err)
	if e.Field != "pair" {
		t.Fatalf("expected pair field, got %q", e.Field)
	}
}

func asParseErr(t *testing.T, err error) *errs.E {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	e, ok := err.(*errs.E)
	if !ok {
		t.Fatalf("expected *errs.E, got %T", err)
	}
	if e.Code != errs.CodeParse {
		t.Fatalf("expected CodeParse, got %q", e.Code)
	}
	return e
}
