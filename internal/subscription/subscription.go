// Package subscription implements the exchange's channel subscribe/
// unsubscribe protocol: channel and interval validation, outbound frame
// construction grouped by channel name, and confirmation tracking against
// subscriptionStatus control frames. Modeled on the teacher's Binance
// streamManager subscribe/unsubscribe bookkeeping
// (internal/infra/adapters/binance/websocket_manager.go), generalized from
// Binance's per-stream SUBSCRIBE/UNSUBSCRIBE request/response protocol to
// Kraken's event/subscription framing.
package subscription

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/krakenfeed/sdk/errs"
	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// validChannels is the closed set of subscribable channel names.
var validChannels = map[string]bool{
	"ticker": true,
	"ohlc":   true,
	"trade":  true,
	"book":   true,
	"spread": true,
}

// validOhlcIntervals is the closed set of candle intervals, in minutes.
var validOhlcIntervals = map[int]bool{
	1: true, 5: true, 15: true, 30: true, 60: true,
	240: true, 1440: true, 10080: true, 21600: true,
}

// Request is one caller-declared subscription: a channel name, the symbols
// to subscribe it for, and (for ohlc only) the candle interval.
type Request struct {
	Channel  string
	Symbols  []symbol.Symbol
	Interval int
}

// Validate checks Channel and Interval against the closed sets §4.9
// defines, returning a Subscription-coded error naming the offending field.
func (r Request) Validate() error {
	if !validChannels[r.Channel] {
		return errs.New(errs.CodeSubscription,
			errs.WithCanonical(errs.CanonicalInvalidChannel),
			errs.WithField("channel"),
			errs.WithMessage("unrecognized channel name"),
			errs.WithContext(map[string]string{"channel": r.Channel}))
	}
	if len(r.Symbols) == 0 {
		return errs.New(errs.CodeSubscription,
			errs.WithCanonical(errs.CanonicalInvalidChannel),
			errs.WithField("symbols"),
			errs.WithMessage("at least one symbol is required"))
	}
	if r.Channel == "ohlc" && !validOhlcIntervals[r.Interval] {
		return errs.New(errs.CodeSubscription,
			errs.WithCanonical(errs.CanonicalInvalidChannel),
			errs.WithField("interval"),
			errs.WithMessage("ohlc interval must be one of the supported candle widths"),
			errs.WithContext(map[string]string{"interval": strconv.Itoa(r.Interval)}))
	}
	return nil
}

// Key identifies one tracked subscription: "name:symbol:interval".
type Key struct {
	Name     string
	Symbol   symbol.Symbol
	Interval int
}

func (k Key) String() string {
	if k.Interval == 0 {
		return k.Name + ":" + string(k.Symbol)
	}
	return k.Name + ":" + string(k.Symbol) + ":" + strconv.Itoa(k.Interval)
}

// State is the lifecycle of one tracked subscription key.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
)

// wireFrame is the outbound {"event":..., "pair":[...], "subscription":{...}}
// frame shape §6 specifies.
type wireFrame struct {
	Event        string           `json:"event"`
	Pair         []string         `json:"pair"`
	Subscription wireSubscription `json:"subscription"`
}

type wireSubscription struct {
	Name     string `json:"name"`
	Interval int    `json:"interval,omitempty"`
}

// Manager validates subscription requests, builds outbound frames, and
// tracks each key's Pending/Active confirmation state.
type Manager struct {
	mu    sync.Mutex
	state map[Key]State
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{state: make(map[Key]State)}
}

// BuildSubscribeFrames validates every request, marks its keys Pending, and
// returns one outbound JSON frame per (channel, interval) group — the wire
// protocol subscribes a whole pair list in one frame per subscription name.
func (m *Manager) BuildSubscribeFrames(requests []Request) ([][]byte, error) {
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	for _, req := range requests {
		for _, sym := range req.Symbols {
			m.state[Key{Name: req.Channel, Symbol: sym, Interval: req.Interval}] = StatePending
		}
	}
	m.mu.Unlock()

	return buildFrames("subscribe", requests)
}

// BuildUnsubscribeFrames mirrors BuildSubscribeFrames for the unsubscribe
// event, removing the keys from tracked state immediately — the exchange
// does not send a confirmation for unsubscribe in the same way it does for
// subscribe, so there is nothing to keep Pending.
func (m *Manager) BuildUnsubscribeFrames(requests []Request) ([][]byte, error) {
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	for _, req := range requests {
		for _, sym := range req.Symbols {
			delete(m.state, Key{Name: req.Channel, Symbol: sym, Interval: req.Interval})
		}
	}
	m.mu.Unlock()

	return buildFrames("unsubscribe", requests)
}

// buildFrames groups requests by (channel, interval) — matching the wire
// protocol's one-frame-per-subscription-name shape — and marshals each
// group's pair list into an outbound frame.
func buildFrames(event string, requests []Request) ([][]byte, error) {
	type groupKey struct {
		channel  string
		interval int
	}
	groups := make(map[groupKey][]string)
	var order []groupKey

	for _, req := range requests {
		gk := groupKey{channel: req.Channel, interval: req.Interval}
		if _, seen := groups[gk]; !seen {
			order = append(order, gk)
		}
		for _, sym := range req.Symbols {
			groups[gk] = append(groups[gk], sym.Wire())
		}
	}

	frames := make([][]byte, 0, len(order))
	for _, gk := range order {
		pairs := dedupeStrings(groups[gk])
		frame := wireFrame{
			Event: event,
			Pair:  pairs,
			Subscription: wireSubscription{
				Name:     gk.channel,
				Interval: gk.interval,
			},
		}
		data, err := json.Marshal(frame)
		if err != nil {
			return nil, errs.New(errs.CodeSubscription,
				errs.WithMessage("marshal subscription frame"),
				errs.WithCause(err))
		}
		frames = append(frames, data)
	}
	return frames, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// HandleStatus applies one subscriptionStatus control frame: on
// status=="subscribed" it moves the matching key(s) Pending -> Active; on
// status=="error" it returns a Subscription::SubscriptionFailed error
// naming the exchange's message. Any other status (e.g. "unsubscribed") is
// a no-op.
func (m *Manager) HandleStatus(cf codec.ControlFrame) error {
	if cf.Status == "error" {
		return errs.New(errs.CodeSubscription,
			errs.WithCanonical(errs.CanonicalSubscriptionFailed),
			errs.WithField(cf.Subscription.Name),
			errs.WithMessage(strings.TrimSpace(cf.ErrorMessage)))
	}
	if cf.Status != "subscribed" {
		return nil
	}

	sym, ok := symbol.Normalize(cf.Pair)
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key{Name: cf.Subscription.Name, Symbol: sym, Interval: cf.Subscription.Interval}
	if _, tracked := m.state[key]; tracked {
		m.state[key] = StateActive
	}
	return nil
}

// StateOf returns the tracked state for one key, if tracked.
func (m *Manager) StateOf(key Key) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[key]
	return st, ok
}

// Active reports whether every key for the given requests has reached
// StateActive.
func (m *Manager) Active(requests []Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range requests {
		for _, sym := range req.Symbols {
			key := Key{Name: req.Channel, Symbol: sym, Interval: req.Interval}
			if m.state[key] != StateActive {
				return false
			}
		}
	}
	return true
}
