package krakenfeed

import (
	"log"
	"time"

	"github.com/krakenfeed/sdk/errs"
	"github.com/krakenfeed/sdk/internal/backpressure"
	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/connstate"
	"github.com/krakenfeed/sdk/internal/dispatch"
	"github.com/krakenfeed/sdk/internal/orderflow"
	"github.com/krakenfeed/sdk/internal/orderflow/heatmap"
	"github.com/krakenfeed/sdk/internal/orderflow/spoof"
	"github.com/krakenfeed/sdk/internal/orderflow/whale"
	"github.com/krakenfeed/sdk/internal/sequencer"
	"github.com/krakenfeed/sdk/internal/subscription"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// handleFrame is the transport's per-message handler: decode, route to the
// control or data path. For a data frame it synthesizes a sequence number,
// runs C2 validation and admits every in-order entry to its C3 gate; the
// flush loop later decodes what the gates release, updates C5, runs the C6
// detectors, dispatches via C10 and records the C4 latency sample. Parse
// failures are logged and dropped without affecting the connection.
func (c *Client) handleFrame(raw []byte) error {
	receiveTS := time.Now()

	frame, err := codec.Decode(raw)
	if err != nil {
		log.Printf("krakenfeed: dropping unparseable frame: %v", err)
		return nil // Parse errors are per-frame and do not propagate to transport.
	}

	switch f := frame.(type) {
	case codec.ControlFrame:
		return c.handleControlFrame(f)
	case codec.DataFrame:
		c.handleDataFrame(f, raw, receiveTS)
		return nil
	}
	return nil
}

func (c *Client) handleControlFrame(cf codec.ControlFrame) error {
	switch cf.Event {
	case "subscriptionStatus":
		if err := c.subs.HandleStatus(cf); err != nil {
			if _, fireErr := c.connState.Fire(connstate.TriggerSubscriptionFailed, connstate.ReasonSubscriptionFailed); fireErr == nil {
				c.emitState()
			}
			c.emitError(err)
			return nil
		}
		c.checkSubscriptionsConfirmed()
	case "error":
		c.emitError(errs.New(errs.CodeNetwork, errs.WithMessage(cf.ErrorMessage)))
	}
	return nil
}

// checkSubscriptionsConfirmed fires SubscriptionsConfirmed the first time
// every stashed request has reached Active state, moving C7 from
// Subscribing to Subscribed.
func (c *Client) checkSubscriptionsConfirmed() {
	c.pendingMu.Lock()
	reqs := append([]subscription.Request(nil), c.pending...)
	c.pendingMu.Unlock()

	if len(reqs) == 0 || !c.subs.Active(reqs) {
		return
	}
	if c.connState.Current().Kind != connstate.KindSubscribing {
		return
	}
	if _, err := c.connState.Fire(connstate.TriggerSubscriptionsConfirmed, ""); err == nil {
		c.emitState()
	}
}

// handleDataFrame synthesizes a per-ChannelKey monotonic sequence number —
// Kraken's data frames carry no explicit sequence field, unlike e.g. the
// teacher's Binance adapter which tracks exchange-assigned update IDs — then
// runs the frame through the sequencer, admitting every in-order entry (the
// frame itself plus any pending arrivals the gap fill unblocks) to its
// channel's backpressure gate in delivery order.
func (c *Client) handleDataFrame(f codec.DataFrame, raw []byte, receiveTS time.Time) {
	seq := c.nextSeq(f.Key)

	entries, gapEvent, resyncEvent := c.sequencer.Validate(f.Key, seq, raw)

	if gapEvent != nil {
		if _, err := c.connState.Fire(connstate.TriggerSequenceGap, ""); err == nil {
			c.emitState()
		}
	}

	for _, entry := range entries {
		c.admitEntry(f.Key, entry.Frame, entry.Seq, receiveTS)
	}

	if resyncEvent != nil {
		c.handleResync(*resyncEvent)
	}
}

// handleResync drives C7 through Resyncing -> Subscribed for one sequencer
// resync. It is shared by the live read path, where the accompanying
// GapEvent already fired SequenceGap and put C7 into Resyncing, and by the
// periodic pending-timeout sweep in checkSequenceTimeouts, which has no
// GapEvent of its own and so fires SequenceGap itself first.
func (c *Client) handleResync(_ sequencer.ResyncEvent) {
	if c.connState.Current().Kind == connstate.KindSubscribed {
		if _, err := c.connState.Fire(connstate.TriggerSequenceGap, ""); err == nil {
			c.emitState()
		}
	}
	if c.connState.Current().Kind == connstate.KindResyncing {
		if _, err := c.connState.Fire(connstate.TriggerResyncComplete, ""); err == nil {
			c.emitState()
		}
	}
}

// checkSequenceTimeouts resyncs any channel whose oldest pending frame has
// sat longer than sequence.pending_timeout_secs without being filled,
// implementing §4.2's timeout-triggers-resync rule.
func (c *Client) checkSequenceTimeouts() {
	for _, ev := range c.sequencer.CheckTimeouts() {
		c.handleResync(ev)
	}
}

func (c *Client) nextSeq(key codec.ChannelKey) uint64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seqCounter[key]++
	return c.seqCounter[key]
}

func (c *Client) gateFor(key codec.ChannelKey) *backpressure.Gate {
	c.gatesMu.Lock()
	defer c.gatesMu.Unlock()
	gate, ok := c.gates[key]
	if !ok {
		gate = backpressure.New(c.cfg.Backpressure)
		c.gates[key] = gate
	}
	return gate
}

// admitEntry pushes one in-order raw frame through the backpressure gate
// for its channel. Gate bookkeeping (rate window, drop policy, coalescing)
// happens here; actual decode and delivery are deferred to the flush loop
// so that a coalesced replacement genuinely suppresses the superseded
// frame instead of both reaching the consumer (spec §4.3/§8 scenario S5).
func (c *Client) admitEntry(key codec.ChannelKey, raw []byte, seq uint64, receiveTS time.Time) {
	gate := c.gateFor(key)
	gate.Admit(backpressure.Message{
		Symbol:    string(key.Symbol),
		Seq:       seq,
		Payload:   raw,
		ReceiveTS: receiveTS,
	})
}

// flushLoop periodically drains every channel's backpressure gate and
// delivers whatever survived rate limiting, drop policy, and coalescing,
// and on a coarser cadence sweeps the sequencer for pending frames that
// timed out waiting for a gap fill. It runs for the Client's whole lifetime
// (started in New, not Connect) so that a directly-driven read loop in
// tests observes delivery without a live transport.
func (c *Client) flushLoop() {
	flushTicker := time.NewTicker(flushInterval)
	defer flushTicker.Stop()
	timeoutTicker := time.NewTicker(sequenceTimeoutCheckInterval)
	defer timeoutTicker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-flushTicker.C:
			c.flushGates()
		case <-timeoutTicker.C:
			c.checkSequenceTimeouts()
		}
	}
}

// flushInterval bounds how long a coalesced update can sit in the gate
// before reaching the consumer. Short enough that coalescing over a busy
// millisecond is still effective while ordinary delivery feels immediate.
const flushInterval = 5 * time.Millisecond

// sequenceTimeoutCheckInterval bounds how long a pending frame can sit past
// sequence.pending_timeout_secs before the sweep notices it. A coarser
// cadence than flushInterval, since the shortest documented pending_timeout
// is seconds, not milliseconds.
const sequenceTimeoutCheckInterval = time.Second

func (c *Client) flushGates() {
	c.gatesMu.Lock()
	gates := make([]*backpressure.Gate, 0, len(c.gates))
	for _, g := range c.gates {
		gates = append(gates, g)
	}
	c.gatesMu.Unlock()

	for _, gate := range gates {
		for _, msg := range gate.Drain() {
			c.deliverMessage(msg)
		}
	}
}

// deliverMessage decodes one gate-admitted message and runs it through
// book/flow/latency processing and dispatch.
func (c *Client) deliverMessage(msg backpressure.Message) {
	decoded, err := codec.Decode(msg.Payload)
	if err != nil {
		return
	}
	df, ok := decoded.(codec.DataFrame)
	if !ok {
		return
	}
	c.processEntry(df, msg.Seq, msg.ReceiveTS)
}

// processEntry runs one decoded, already-admitted data frame through
// book/flow/latency processing and dispatches it to consumers.
func (c *Client) processEntry(df codec.DataFrame, seq uint64, receiveTS time.Time) {
	exchangeTS := exchangeTimestamp(df, receiveTS)

	switch {
	case df.Ticker != nil:
		c.dispatch.Dispatch(dispatch.TickerEvent{Ticker: *df.Ticker})
	case df.Trades != nil:
		for _, trade := range df.Trades {
			c.spoofDet.ObserveTrade(trade)
			c.dispatch.Dispatch(dispatch.TradeEvent{Trade: trade})
		}
	case df.OrderBook != nil:
		c.processOrderBook(df.Key.Symbol, *df.OrderBook)
	case df.Ohlc != nil:
		c.dispatch.Dispatch(dispatch.OhlcEvent{Ohlc: *df.Ohlc})
	}

	processEndTS := time.Now()
	c.lat.Record(exchangeTS, receiveTS, processEndTS)
}

func (c *Client) processOrderBook(sym symbol.Symbol, update codec.OrderBookUpdate) {
	snap := c.books.ApplyUpdate(update)
	c.dispatch.Dispatch(dispatch.OrderBookEvent{Symbol: sym, Snapshot: snap})

	flowEvents := c.flow.Diff(snap)
	whaleDetections := c.whaleDet.Observe(snap)
	heatEntries := c.heatDet.Observe(snap)

	var spoofAlerts []spoof.Alert
	for _, ev := range flowEvents {
		if alert := c.spoofDet.ObserveFlow(ev); alert != nil {
			spoofAlerts = append(spoofAlerts, *alert)
		}
	}

	c.recordAnalytics(sym, flowEvents, whaleDetections, spoofAlerts, heatEntries)
}

func (c *Client) recordAnalytics(sym symbol.Symbol, flow []orderflow.FlowEvent, wh []whale.Detection, sp []spoof.Alert, heat []heatmap.Entry) {
	c.analyticsMu.Lock()
	defer c.analyticsMu.Unlock()

	a, ok := c.analytics[sym]
	if !ok {
		a = &symbolAnalytics{}
		c.analytics[sym] = a
	}
	a.flow = appendBounded(a.flow, flow, analyticsHistoryLimit)
	a.whale = appendBounded(a.whale, wh, analyticsHistoryLimit)
	a.spoof = appendBounded(a.spoof, sp, analyticsHistoryLimit)
	a.heat = appendBounded(a.heat, heat, analyticsHistoryLimit)
}

func appendBounded[T any](dst, src []T, limit int) []T {
	dst = append(dst, src...)
	if len(dst) > limit {
		dst = dst[len(dst)-limit:]
	}
	return dst
}

// exchangeTimestamp derives the wall-clock time the exchange produced the
// frame. Trade and order-book frames carry per-row epoch timestamps; OHLC
// frames use the candle's End boundary, the closest available proxy. Ticker
// payloads carry no timestamp, so they fall back to receiveTS, yielding a
// zero measured network latency for that channel — documented rather than
// fabricated.
func exchangeTimestamp(df codec.DataFrame, receiveTS time.Time) time.Time {
	switch {
	case len(df.Trades) > 0:
		return df.Trades[0].Time
	case df.OrderBook != nil:
		return latestRowTime(*df.OrderBook, receiveTS)
	case df.Ohlc != nil:
		return df.Ohlc.End
	default:
		return receiveTS
	}
}

func latestRowTime(update codec.OrderBookUpdate, fallback time.Time) time.Time {
	var latest time.Time
	for _, row := range update.Bids {
		if row.Time.After(latest) {
			latest = row.Time
		}
	}
	for _, row := range update.Asks {
		if row.Time.After(latest) {
			latest = row.Time
		}
	}
	if latest.IsZero() {
		return fallback
	}
	return latest
}
