// Package krakenfeed is the public entry point for the market-data runtime:
// a single Client composes the codec, sequencer, backpressure gate, book
// mirror, flow detectors, latency tracker, connection state machine,
// transport, subscription manager, and event dispatcher into one cohesive
// feed. Modeled on the teacher's cmd/gateway composition root, adapted from
// a long-running server process into an embeddable client library.
package krakenfeed

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/krakenfeed/sdk/errs"
	"github.com/krakenfeed/sdk/internal/backpressure"
	"github.com/krakenfeed/sdk/internal/bookmirror"
	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/config"
	"github.com/krakenfeed/sdk/internal/connstate"
	"github.com/krakenfeed/sdk/internal/dispatch"
	"github.com/krakenfeed/sdk/internal/latency"
	"github.com/krakenfeed/sdk/internal/orderflow"
	"github.com/krakenfeed/sdk/internal/orderflow/heatmap"
	"github.com/krakenfeed/sdk/internal/orderflow/spoof"
	"github.com/krakenfeed/sdk/internal/orderflow/whale"
	"github.com/krakenfeed/sdk/internal/sequencer"
	"github.com/krakenfeed/sdk/internal/subscription"
	"github.com/krakenfeed/sdk/internal/symbol"
	"github.com/krakenfeed/sdk/internal/transport"
)

// Client is the single entry point composing every feed subsystem. Its zero
// value is not usable; construct one with New.
type Client struct {
	cfg config.Settings

	connState *connstate.Machine
	transport *transport.Manager
	subs      *subscription.Manager
	sequencer *sequencer.Sequencer
	books     *bookmirror.Manager
	flow      *orderflow.Detector
	whaleDet  *whale.Detector
	spoofDet  *spoof.Detector
	heatDet   *heatmap.Tracker
	lat       *latency.Tracker
	dispatch  *dispatch.Dispatcher

	gatesMu sync.Mutex
	gates   map[codec.ChannelKey]*backpressure.Gate

	seqMu      sync.Mutex
	seqCounter map[codec.ChannelKey]uint64

	analyticsMu sync.Mutex
	analytics   map[symbol.Symbol]*symbolAnalytics

	pendingMu sync.Mutex
	pending   []subscription.Request

	wg        conc.WaitGroup
	sendCh    chan []byte
	errCh     chan error
	closeOnce sync.Once
	closed    chan struct{}
}

// symbolAnalytics holds bounded recent output from the flow/whale/spoof/
// heatmap detectors for one symbol, exposed through the analytics getters
// below. These detectors do not produce SdkEvent variants (the dispatcher's
// closed set is Ticker/Trade/OrderBook/Ohlc/State/Error), so their output is
// polled rather than streamed.
type symbolAnalytics struct {
	flow  []orderflow.FlowEvent
	whale []whale.Detection
	spoof []spoof.Alert
	heat  []heatmap.Entry
}

const analyticsHistoryLimit = 200

// New constructs a Client from the functional-options configuration,
// validating eagerly so bad configuration fails fast rather than surfacing
// as a confusing runtime error later.
func New(opts ...config.Option) (*Client, error) {
	cfg := config.Apply(config.Default(), opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		connState:  connstate.New(policyFromReconnect(cfg.Reconnect)),
		subs:       subscription.New(),
		sequencer:  sequencer.New(cfg.Sequence),
		books:      bookmirror.NewManager(),
		flow:       orderflow.New(cfg.Flow),
		whaleDet:   whale.New(cfg.Whale),
		spoofDet:   spoof.New(cfg.Spoof),
		heatDet:    heatmap.New(cfg.Heatmap),
		dispatch:   dispatch.New(0),
		gates:      make(map[codec.ChannelKey]*backpressure.Gate),
		seqCounter: make(map[codec.ChannelKey]uint64),
		analytics:  make(map[symbol.Symbol]*symbolAnalytics),
		sendCh:     make(chan []byte, 64),
		errCh:      make(chan error, 16),
		closed:     make(chan struct{}),
	}
	c.lat = latency.New(cfg.Latency, latency.Thresholds{}, c.onLatencyAlert)
	c.wg.Go(c.flushLoop)

	return c, nil
}

func policyFromReconnect(r config.ReconnectSettings) connstate.Policy {
	p := connstate.DefaultPolicy()
	p.InitialDelay = r.InitialDelay
	p.MaxDelay = r.MaxDelay
	p.BackoffMultiplier = r.BackoffMultiplier
	p.MaxRetries = r.MaxAttempts
	return p
}

// Connect transitions the connection state machine and starts the
// transport's read loop and the client's send loop. It blocks until the
// first connection succeeds or the dial times out.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.connState.Fire(connstate.TriggerUserConnect, ""); err != nil {
		return err
	}

	tcfg := transport.DefaultConfig(c.cfg.Endpoint)
	tcfg.DialTimeout = c.cfg.Timeout
	tcfg.InitialBackoff = c.cfg.Reconnect.InitialDelay
	tcfg.MaxReconnectBackoff = c.cfg.Reconnect.MaxDelay
	tcfg.BackoffMultiplier = c.cfg.Reconnect.BackoffMultiplier
	c.transport = transport.New(ctx, tcfg, c.handleFrame, c.errCh)
	c.transport.OnConnected = c.onConnected
	c.transport.OnDisconnected = c.onDisconnected
	c.transport.OnBeforeRetry = c.onBeforeRetry

	if err := c.transport.Start(); err != nil {
		return err
	}

	c.wg.Go(c.sendLoop)
	c.wg.Go(c.errorLoop)
	return nil
}

func (c *Client) onConnected() {
	if _, err := c.connState.Fire(connstate.TriggerConnectionEstablished, ""); err != nil {
		c.emitError(err)
		return
	}
	c.emitState()

	c.pendingMu.Lock()
	reqs := append([]subscription.Request(nil), c.pending...)
	c.pendingMu.Unlock()
	if len(reqs) > 0 {
		if err := c.sendSubscribe(reqs); err != nil {
			c.emitError(err)
		}
	}
}

func (c *Client) onDisconnected(err error) {
	state := c.connState.Current()
	if state.Kind == connstate.KindClosed {
		return
	}

	// A lost dial (never reached a live connection) only has ConnectionFailed
	// legal from Connecting; a drop after a live connection was established
	// uses ServerDisconnect from the {Authenticating,Subscribing,Subscribed,
	// Resyncing} states.
	trigger := connstate.TriggerServerDisconnect
	if state.Kind == connstate.KindConnecting {
		trigger = connstate.TriggerConnectionFailed
	}
	if _, fireErr := c.connState.Fire(trigger, ""); fireErr == nil {
		c.emitState()
	}
	if err != nil {
		c.emitError(errs.New(errs.CodeNetwork, errs.WithMessage("transport disconnected"), errs.WithCause(err)))
	}
}

// onBeforeRetry is the transport's about-to-retry hook: it drives C7's
// Degraded -> Connecting transition (or Degraded -> Closed once the
// configured retry cap is hit) before the transport redials, so the
// client's own reconnect.max_attempts policy bounds the transport's
// independent backoff loop instead of being ignored by it.
func (c *Client) onBeforeRetry() bool {
	if c.connState.Current().Kind != connstate.KindDegraded {
		return true
	}
	if _, _, err := c.connState.NextRetry(); err != nil {
		return true
	}
	if _, err := c.connState.Fire(connstate.TriggerRetryAttempt, ""); err != nil {
		if _, fireErr := c.connState.Fire(connstate.TriggerMaxRetriesExceeded, ""); fireErr == nil {
			c.emitState()
		}
		return false
	}
	c.emitState()
	return true
}

// Subscribe validates requests, stashes them, and sends the wire frame on
// the current (or next) connection.
func (c *Client) Subscribe(reqs ...subscription.Request) error {
	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			return err
		}
	}

	c.pendingMu.Lock()
	c.pending = append(c.pending, reqs...)
	c.pendingMu.Unlock()

	if c.transport == nil {
		return nil
	}
	return c.sendSubscribe(reqs)
}

func (c *Client) sendSubscribe(reqs []subscription.Request) error {
	frames, err := c.subs.BuildSubscribeFrames(reqs)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		select {
		case c.sendCh <- frame:
		case <-c.closed:
			return errs.New(errs.CodeConnection, errs.WithMessage("client closed"))
		}
	}
	return nil
}

// Unsubscribe validates requests and sends the unsubscribe wire frame.
func (c *Client) Unsubscribe(reqs ...subscription.Request) error {
	frames, err := c.subs.BuildUnsubscribeFrames(reqs)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		select {
		case c.sendCh <- frame:
		case <-c.closed:
			return errs.New(errs.CodeConnection, errs.WithMessage("client closed"))
		}
	}
	return nil
}

// Events returns a new stream subscriber. Close it when done to release its
// buffering goroutine.
func (c *Client) Events() *dispatch.Receiver {
	return c.dispatch.Subscribe()
}

// RegisterCallback registers cb for dataType events, returning an id usable
// with UnregisterCallback.
func (c *Client) RegisterCallback(dataType dispatch.DataType, cb dispatch.Callback) dispatch.CallbackID {
	return c.dispatch.RegisterCallback(dataType, cb)
}

// UnregisterCallback removes a previously registered callback.
func (c *Client) UnregisterCallback(dataType dispatch.DataType, id dispatch.CallbackID) {
	c.dispatch.UnregisterCallback(dataType, id)
}

// GetOrderBook returns the current book snapshot for sym, if one exists.
func (c *Client) GetOrderBook(sym symbol.Symbol) (bookmirror.Snapshot, bool) {
	return c.books.Get(sym)
}

// GetBestBidAsk returns the top-of-book for sym; ok is false when no book
// exists or either side of it is empty.
func (c *Client) GetBestBidAsk(sym symbol.Symbol) (bid, ask bookmirror.Level, ok bool) {
	return c.books.BestBidAsk(sym)
}

// FlowEvents returns the most recently detected order-flow events for sym.
func (c *Client) FlowEvents(sym symbol.Symbol) []orderflow.FlowEvent {
	c.analyticsMu.Lock()
	defer c.analyticsMu.Unlock()
	a, ok := c.analytics[sym]
	if !ok {
		return nil
	}
	return append([]orderflow.FlowEvent(nil), a.flow...)
}

// WhaleDetections returns the most recently flagged whale-sized levels for sym.
func (c *Client) WhaleDetections(sym symbol.Symbol) []whale.Detection {
	c.analyticsMu.Lock()
	defer c.analyticsMu.Unlock()
	a, ok := c.analytics[sym]
	if !ok {
		return nil
	}
	return append([]whale.Detection(nil), a.whale...)
}

// SpoofAlerts returns the most recently raised spoofing alerts for sym.
func (c *Client) SpoofAlerts(sym symbol.Symbol) []spoof.Alert {
	c.analyticsMu.Lock()
	defer c.analyticsMu.Unlock()
	a, ok := c.analytics[sym]
	if !ok {
		return nil
	}
	return append([]spoof.Alert(nil), a.spoof...)
}

// HeatmapEntries returns the most recently observed liquidity heat for sym.
func (c *Client) HeatmapEntries(sym symbol.Symbol) []heatmap.Entry {
	c.analyticsMu.Lock()
	defer c.analyticsMu.Unlock()
	a, ok := c.analytics[sym]
	if !ok {
		return nil
	}
	return append([]heatmap.Entry(nil), a.heat...)
}

// LatencyPercentiles returns the rolling percentile view for kind.
func (c *Client) LatencyPercentiles(kind latency.Kind) latency.Percentiles {
	return c.lat.Percentiles(kind)
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() connstate.State {
	return c.connState.Current()
}

// Close transitions the connection state machine to Closed and stops the
// transport and the client's background loops. Close is cooperative:
// in-flight reads are dropped, and stream subscribers observe a final
// State(Closed) event. Close does not close subscriber channels; each
// Receiver stays open until its own Close is called.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_, fireErr := c.connState.Fire(connstate.TriggerUserClose, "")
		if fireErr != nil {
			err = fireErr
		}
		c.emitState()

		close(c.closed)
		if c.transport != nil {
			c.transport.Stop()
		}
		c.wg.Wait()
	})
	return err
}

func (c *Client) sendLoop() {
	for {
		select {
		case <-c.closed:
			return
		case frame, ok := <-c.sendCh:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
			err := c.transport.Send(ctx, frame)
			cancel()
			if err != nil {
				c.emitError(err)
			}
		}
	}
}

func (c *Client) errorLoop() {
	for {
		select {
		case <-c.closed:
			return
		case err, ok := <-c.errCh:
			if !ok {
				return
			}
			c.emitError(err)
		}
	}
}

func (c *Client) emitError(err error) {
	if err == nil {
		return
	}
	c.dispatch.Dispatch(dispatch.ErrorEvent{Err: err})
}

func (c *Client) emitState() {
	c.dispatch.Dispatch(dispatch.StateEvent{State: c.connState.Current(), Timestamp: time.Now()})
}

func (c *Client) onLatencyAlert(ev latency.AlertEvent) {
	c.emitError(errs.New(errs.CodeNetwork,
		errs.WithMessage("latency threshold exceeded"),
		errs.WithContext(map[string]string{
			"kind":      latencyKindString(ev.Kind),
			"value_ms":  ev.Value.String(),
			"threshold": ev.Threshold.String(),
		})))
}

func latencyKindString(k latency.Kind) string {
	switch k {
	case latency.Network:
		return "network"
	case latency.Processing:
		return "processing"
	default:
		return "total"
	}
}
