package codec

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/krakenfeed/sdk/errs"
	"github.com/krakenfeed/sdk/internal/numeric"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// envelope sniffs whether a frame is a control object or a data array
// before committing to either decode path.
type envelope struct {
	Event string `json:"event"`
}

// Decode parses one raw WebSocket text frame into a Frame. It never panics;
// any failure comes back as a *errs.E with Code CodeParse.
func Decode(raw []byte) (Frame, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalMalformed),
			errs.WithMessage("empty frame"))
	}

	switch trimmed[0] {
	case '{':
		return decodeControlFrame(raw)
	case '[':
		return decodeDataFrame(raw)
	default:
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalMalformed),
			errs.WithMessage("frame is neither a JSON object nor an array"),
			errs.WithContext(map[string]string{"leading_byte": string(trimmed[0])}))
	}
}

func decodeControlFrame(raw []byte) (Frame, error) {
	var env struct {
		Event        string `json:"event"`
		Status       string `json:"status"`
		Pair         string `json:"pair"`
		ErrorMessage string `json:"errorMessage"`
		Subscription struct {
			Name     string `json:"name"`
			Interval int    `json:"interval"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidJSON),
			errs.WithMessage("invalid control frame json"),
			errs.WithCause(err))
	}
	if env.Event == "" {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalMissingField),
			errs.WithField("event"),
			errs.WithMessage("control frame missing event field"))
	}
	return ControlFrame{
		Event:  env.Event,
		Status: env.Status,
		Subscription: SubscriptionAck{
			Name:     env.Subscription.Name,
			Interval: env.Subscription.Interval,
		},
		Pair:         env.Pair,
		ErrorMessage: env.ErrorMessage,
	}, nil
}

func decodeDataFrame(raw []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidJSON),
			errs.WithMessage("invalid data frame json"),
			errs.WithCause(err))
	}
	if len(parts) != 4 {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalMalformed),
			errs.WithMessage("data frame must have exactly 4 elements"),
			errs.WithContext(map[string]string{"length": strconv.Itoa(len(parts))}))
	}

	var channelID int
	if err := json.Unmarshal(parts[0], &channelID); err != nil {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidDataType),
			errs.WithField("channel_id"),
			errs.WithMessage("channel id must be an integer"),
			errs.WithCause(err))
	}

	var rawChannelName string
	if err := json.Unmarshal(parts[2], &rawChannelName); err != nil {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidDataType),
			errs.WithField("channel_name"),
			errs.WithMessage("channel name must be a string"),
			errs.WithCause(err))
	}

	var rawPair string
	if err := json.Unmarshal(parts[3], &rawPair); err != nil {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidDataType),
			errs.WithField("pair"),
			errs.WithMessage("pair must be a string"),
			errs.WithCause(err))
	}

	sym, ok := symbol.Normalize(rawPair)
	if !ok {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalMalformed),
			errs.WithField("pair"),
			errs.WithMessage("pair is not a valid BASE/QUOTE symbol"),
			errs.WithContext(map[string]string{"pair": rawPair}))
	}

	channel, interval := splitChannelName(rawChannelName)
	key := ChannelKey{Channel: channel, Symbol: sym, Interval: interval}

	switch channel {
	case "ticker":
		ticker, err := parseTicker(parts[1], sym)
		if err != nil {
			return nil, err
		}
		return DataFrame{ChannelID: channelID, Key: key, Ticker: ticker}, nil
	case "trade":
		trades, err := parseTrades(parts[1], sym)
		if err != nil {
			return nil, err
		}
		return DataFrame{ChannelID: channelID, Key: key, Trades: trades}, nil
	case "book":
		update, err := parseOrderBook(parts[1], sym)
		if err != nil {
			return nil, err
		}
		return DataFrame{ChannelID: channelID, Key: key, OrderBook: update}, nil
	case "ohlc":
		ohlc, err := parseOhlc(parts[1], sym)
		if err != nil {
			return nil, err
		}
		return DataFrame{ChannelID: channelID, Key: key, Ohlc: ohlc}, nil
	default:
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalMalformed),
			errs.WithField("channel_name"),
			errs.WithMessage("unrecognized channel"),
			errs.WithContext(map[string]string{"channel": channel}))
	}
}

// splitChannelName splits a wire channel name like "book-25" or "ohlc-5"
// into its base channel and optional numeric interval/depth suffix.
func splitChannelName(raw string) (string, int) {
	idx := strings.LastIndex(raw, "-")
	if idx < 0 {
		return raw, 0
	}
	suffix := raw[idx+1:]
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return raw, 0
	}
	return raw[:idx], n
}

type tickerWire struct {
	A []json.RawMessage `json:"a"`
	B []json.RawMessage `json:"b"`
	C []json.RawMessage `json:"c"`
	V []json.RawMessage `json:"v"`
}

// parseTicker extracts best bid/ask/last/volume from the ticker payload's
// positional sub-arrays. Per spec §9's resolved Open Question, a missing
// required sub-array is a hard Parse{MissingField} error rather than a
// silently defaulted zero.
func parseTicker(payload json.RawMessage, sym symbol.Symbol) (*TickerData, error) {
	var wire tickerWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidJSON),
			errs.WithMessage("invalid ticker payload json"),
			errs.WithCause(err))
	}

	ask, err := firstDecimal(wire.A, "a")
	if err != nil {
		return nil, err
	}
	bid, err := firstDecimal(wire.B, "b")
	if err != nil {
		return nil, err
	}
	last, err := firstDecimal(wire.C, "c")
	if err != nil {
		return nil, err
	}
	volume, err := firstDecimal(wire.V, "v")
	if err != nil {
		return nil, err
	}

	return &TickerData{
		Symbol: sym,
		Bid:    bid,
		Ask:    ask,
		Last:   last,
		Volume: volume,
	}, nil
}

func firstDecimal(field []json.RawMessage, name string) (numeric.Price, error) {
	if len(field) == 0 {
		return numeric.Zero, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalMissingField),
			errs.WithField(name),
			errs.WithMessage("ticker sub-array missing or empty"))
	}
	// Sub-array elements arrive as quoted decimals or as bare JSON numbers
	// (the whole-lot volumes); both are accepted.
	var text string
	if err := json.Unmarshal(field[0], &text); err != nil {
		text = string(field[0])
	}
	v, err := numeric.ParsePrice(text)
	if err != nil {
		return numeric.Zero, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidDataType),
			errs.WithField(name),
			errs.WithMessage("ticker sub-array value is not a decimal"),
			errs.WithCause(err))
	}
	return v, nil
}

// parseTrades iterates every element of the trade payload array, unlike the
// original source which only inspected the first element.
func parseTrades(payload json.RawMessage, sym symbol.Symbol) ([]TradeData, error) {
	var rows [][]string
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidJSON),
			errs.WithMessage("invalid trade payload json"),
			errs.WithCause(err))
	}

	trades := make([]TradeData, 0, len(rows))
	for i, row := range rows {
		if len(row) < 4 {
			return nil, errs.New(errs.CodeParse,
				errs.WithCanonical(errs.CanonicalMalformed),
				errs.WithMessage("trade row has fewer than 4 fields"),
				errs.WithContext(map[string]string{"index": strconv.Itoa(i)}))
		}

		price, err := numeric.ParsePrice(row[0])
		if err != nil {
			return nil, errs.New(errs.CodeParse,
				errs.WithCanonical(errs.CanonicalInvalidDataType),
				errs.WithField("price"),
				errs.WithMessage("trade price is not a decimal"),
				errs.WithCause(err))
		}
		volume, err := numeric.ParseVolume(row[1])
		if err != nil {
			return nil, errs.New(errs.CodeParse,
				errs.WithCanonical(errs.CanonicalInvalidDataType),
				errs.WithField("volume"),
				errs.WithMessage("trade volume is not a decimal"),
				errs.WithCause(err))
		}
		ts, err := parseEpochSeconds(row[2])
		if err != nil {
			return nil, errs.New(errs.CodeParse,
				errs.WithCanonical(errs.CanonicalInvalidDataType),
				errs.WithField("time"),
				errs.WithMessage("trade time is not a fractional epoch"),
				errs.WithCause(err))
		}

		side := TradeSideBuy
		if row[3] == "s" {
			side = TradeSideSell
		}

		var orderType, misc string
		if len(row) > 4 {
			orderType = row[4]
		}
		if len(row) > 5 {
			misc = row[5]
		}

		trades = append(trades, TradeData{
			ID:        uuid.NewString(),
			Symbol:    sym,
			Price:     price,
			Volume:    volume,
			Time:      ts,
			Side:      side,
			OrderType: orderType,
			Misc:      misc,
		})
	}
	return trades, nil
}

type bookRow []string

type bookWire struct {
	Bids []bookRow `json:"b"`
	Asks []bookRow `json:"a"`
	// Initial snapshot frames use "bs"/"as"; accepted as an alias so a
	// snapshot and a subsequent update share one decode path.
	BidsSnapshot []bookRow `json:"bs"`
	AsksSnapshot []bookRow `json:"as"`
	Checksum     string    `json:"c"`
}

func parseOrderBook(payload json.RawMessage, sym symbol.Symbol) (*OrderBookUpdate, error) {
	var wire bookWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidJSON),
			errs.WithMessage("invalid order book payload json"),
			errs.WithCause(err))
	}

	bidRows := wire.Bids
	if len(bidRows) == 0 {
		bidRows = wire.BidsSnapshot
	}
	askRows := wire.Asks
	if len(askRows) == 0 {
		askRows = wire.AsksSnapshot
	}

	bids, err := parseLevelRows(bidRows, "b")
	if err != nil {
		return nil, err
	}
	asks, err := parseLevelRows(askRows, "a")
	if err != nil {
		return nil, err
	}

	return &OrderBookUpdate{
		Symbol:   sym,
		Bids:     bids,
		Asks:     asks,
		Checksum: wire.Checksum,
	}, nil
}

func parseLevelRows(rows []bookRow, side string) ([]PriceLevelUpdate, error) {
	levels := make([]PriceLevelUpdate, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, errs.New(errs.CodeParse,
				errs.WithCanonical(errs.CanonicalMalformed),
				errs.WithField(side),
				errs.WithMessage("order book row has fewer than 3 fields"),
				errs.WithContext(map[string]string{"index": strconv.Itoa(i)}))
		}
		price, err := numeric.ParsePrice(row[0])
		if err != nil {
			return nil, errs.New(errs.CodeParse,
				errs.WithCanonical(errs.CanonicalInvalidDataType),
				errs.WithField(side),
				errs.WithMessage("order book price is not a decimal"),
				errs.WithCause(err))
		}
		volume, err := numeric.ParseVolume(row[1])
		if err != nil {
			return nil, errs.New(errs.CodeParse,
				errs.WithCanonical(errs.CanonicalInvalidDataType),
				errs.WithField(side),
				errs.WithMessage("order book volume is not a decimal"),
				errs.WithCause(err))
		}
		ts, err := parseEpochSeconds(row[2])
		if err != nil {
			return nil, errs.New(errs.CodeParse,
				errs.WithCanonical(errs.CanonicalInvalidDataType),
				errs.WithField(side),
				errs.WithMessage("order book row time is not a fractional epoch"),
				errs.WithCause(err))
		}
		levels = append(levels, PriceLevelUpdate{Price: price, Volume: volume, Time: ts})
	}
	return levels, nil
}

func parseOhlc(payload json.RawMessage, sym symbol.Symbol) (*OhlcData, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalInvalidJSON),
			errs.WithMessage("invalid ohlc payload json"),
			errs.WithCause(err))
	}
	// Fields are quoted decimals except the trade count, a bare JSON number.
	row := make([]string, len(fields))
	for i, f := range fields {
		if err := json.Unmarshal(f, &row[i]); err != nil {
			row[i] = string(f)
		}
	}
	if len(row) < 9 {
		return nil, errs.New(errs.CodeParse,
			errs.WithCanonical(errs.CanonicalMalformed),
			errs.WithMessage("ohlc row has fewer than 9 fields"),
			errs.WithContext(map[string]string{"length": strconv.Itoa(len(row))}))
	}

	begin, err := parseEpochSeconds(row[0])
	if err != nil {
		return nil, fieldParseErr("begin", err)
	}
	end, err := parseEpochSeconds(row[1])
	if err != nil {
		return nil, fieldParseErr("end", err)
	}
	open, err := numeric.ParsePrice(row[2])
	if err != nil {
		return nil, fieldParseErr("open", err)
	}
	high, err := numeric.ParsePrice(row[3])
	if err != nil {
		return nil, fieldParseErr("high", err)
	}
	low, err := numeric.ParsePrice(row[4])
	if err != nil {
		return nil, fieldParseErr("low", err)
	}
	closePrice, err := numeric.ParsePrice(row[5])
	if err != nil {
		return nil, fieldParseErr("close", err)
	}
	vwap, err := numeric.ParsePrice(row[6])
	if err != nil {
		return nil, fieldParseErr("vwap", err)
	}
	volume, err := numeric.ParseVolume(row[7])
	if err != nil {
		return nil, fieldParseErr("volume", err)
	}
	count, err := strconv.Atoi(row[8])
	if err != nil {
		return nil, fieldParseErr("count", err)
	}

	return &OhlcData{
		Symbol: sym,
		Begin:  begin,
		End:    end,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Vwap:   vwap,
		Volume: volume,
		Count:  count,
	}, nil
}

func fieldParseErr(field string, cause error) error {
	return errs.New(errs.CodeParse,
		errs.WithCanonical(errs.CanonicalInvalidDataType),
		errs.WithField(field),
		errs.WithMessage("ohlc field is not well-formed"),
		errs.WithCause(cause))
}

// parseEpochSeconds parses a fractional-seconds epoch string, the wire
// format the feed uses for every timestamp field.
func parseEpochSeconds(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	secs := int64(f)
	nanos := int64((f - float64(secs)) * float64(time.Second))
	return time.Unix(secs, nanos).UTC(), nil
}
