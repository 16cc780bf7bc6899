package dispatch

import (
	"time"

	"github.com/krakenfeed/sdk/internal/bookmirror"
	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/connstate"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// DataType is the closed set of event kinds the facade routes callbacks by,
// replacing a multi-method "EventCallback.on_ticker/on_trade/..." interface
// with a single tagged Event per the spec's polymorphic-event-handling
// design note.
type DataType int

const (
	DataTicker DataType = iota
	DataTrade
	DataOrderBook
	DataOhlc
	DataState
	DataError
)

func (d DataType) String() string {
	switch d {
	case DataTicker:
		return "ticker"
	case DataTrade:
		return "trade"
	case DataOrderBook:
		return "order_book"
	case DataOhlc:
		return "ohlc"
	case DataState:
		return "state"
	case DataError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the sole outbound type the dispatcher emits. Callbacks and
// stream subscribers alike receive only this interface, never a handle
// back to the client — breaking the cyclic-reference candidate the spec's
// design notes call out.
type Event interface {
	isEvent()
	Type() DataType
}

// TickerEvent carries one normalized ticker snapshot.
type TickerEvent struct {
	Ticker codec.TickerData
}

func (TickerEvent) isEvent()       {}
func (TickerEvent) Type() DataType { return DataTicker }

// TradeEvent carries one normalized trade print.
type TradeEvent struct {
	Trade codec.TradeData
}

func (TradeEvent) isEvent()       {}
func (TradeEvent) Type() DataType { return DataTrade }

// OrderBookEvent carries the book snapshot after an update was applied.
type OrderBookEvent struct {
	Symbol   symbol.Symbol
	Snapshot bookmirror.Snapshot
}

func (OrderBookEvent) isEvent()       {}
func (OrderBookEvent) Type() DataType { return DataOrderBook }

// OhlcEvent carries one normalized candle.
type OhlcEvent struct {
	Ohlc codec.OhlcData
}

func (OhlcEvent) isEvent()       {}
func (OhlcEvent) Type() DataType { return DataOhlc }

// StateEvent reports a connection state-machine transition.
type StateEvent struct {
	State     connstate.State
	Timestamp time.Time
}

func (StateEvent) isEvent()       {}
func (StateEvent) Type() DataType { return DataState }

// ErrorEvent surfaces a non-Parse error (or a re-raised callback panic) to
// consumers, per §7: "every non-Parse error surfaces through the event
// stream as Event::Error."
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) isEvent()       {}
func (ErrorEvent) Type() DataType { return DataError }
