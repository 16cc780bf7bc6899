// Package codec parses the exchange's JSON wire frames into typed domain
// records and normalizes symbols on ingress. It never panics: malformed
// input always comes back as a *errs.E with Code CodeParse.
package codec

import (
	"time"

	"github.com/krakenfeed/sdk/internal/numeric"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// TradeSide distinguishes the aggressor side of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// ChannelKey identifies a sequencing/backpressure unit: a channel scoped to
// a symbol and, for channels like ohlc, an interval.
type ChannelKey struct {
	Channel  string
	Symbol   symbol.Symbol
	Interval int
}

// TickerData is the normalized ticker snapshot for one symbol.
type TickerData struct {
	Symbol symbol.Symbol
	Bid    numeric.Price
	Ask    numeric.Price
	Last   numeric.Price
	Volume numeric.Volume
}

// TradeData is one normalized trade print.
type TradeData struct {
	ID        string
	Symbol    symbol.Symbol
	Price     numeric.Price
	Volume    numeric.Volume
	Time      time.Time
	Side      TradeSide
	OrderType string
	Misc      string
}

// PriceLevelUpdate is one row of an order-book delta. A zero Volume marks
// the level as deleted.
type PriceLevelUpdate struct {
	Price  numeric.Price
	Volume numeric.Volume
	Time   time.Time
}

// OrderBookUpdate is a normalized order-book delta frame. Zero-volume rows
// are deletion tombstones and are preserved here; the book mirror decides
// what to do with them.
type OrderBookUpdate struct {
	Symbol   symbol.Symbol
	Bids     []PriceLevelUpdate
	Asks     []PriceLevelUpdate
	Checksum string
}

// OhlcData is one normalized candle.
type OhlcData struct {
	Symbol symbol.Symbol
	Begin  time.Time
	End    time.Time
	Open   numeric.Price
	High   numeric.Price
	Low    numeric.Price
	Close  numeric.Price
	Vwap   numeric.Price
	Volume numeric.Volume
	Count  int
}

// SubscriptionAck is the "subscription" sub-object of a subscriptionStatus
// control frame.
type SubscriptionAck struct {
	Name     string
	Interval int
}

// ControlFrame represents a non-data frame: systemStatus, heartbeat,
// subscriptionStatus, or error.
type ControlFrame struct {
	Event        string
	Status       string
	Subscription SubscriptionAck
	Pair         string
	ErrorMessage string
}

func (ControlFrame) isFrame() {}

// DataFrame is a decoded [channelID, payload, channelName, pair] frame. At
// most one of the payload fields is populated, matching the channel it came
// from.
type DataFrame struct {
	ChannelID int
	Key       ChannelKey
	Ticker    *TickerData
	Trades    []TradeData
	OrderBook *OrderBookUpdate
	Ohlc      *OhlcData
}

func (DataFrame) isFrame() {}

// Frame is the sealed result of decoding one wire message: either a
// ControlFrame or a DataFrame.
type Frame interface {
	isFrame()
}
