// Package backpressure governs how many in-flight messages a channel is
// allowed to hold: a sliding-window rate check, a bounded FIFO buffer with a
// configurable drop policy, and optional per-symbol coalescing.
package backpressure

import (
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/krakenfeed/sdk/internal/config"
)

// Message is one unit of work admitted through the gate.
type Message struct {
	Symbol    string
	Seq       uint64
	Payload   []byte
	ReceiveTS time.Time
}

// DropEvent reports a message shed by the drop policy.
type DropEvent struct {
	Symbol string
	Policy config.DropPolicy
	Reason string
}

// CoalesceEvent reports an in-flight replacement of a pending message.
type CoalesceEvent struct {
	Symbol string
	OldSeq uint64
	NewSeq uint64
}

// RateLimitEvent reports that the sliding-window rate exceeded the
// configured threshold, independent of whether a message was ultimately
// dropped or merely throttled by the steady-state limiter.
type RateLimitEvent struct {
	Symbol      string
	CurrentRate float64
}

// Outcome is the resolution of one Admit call.
type Outcome struct {
	Accepted       bool
	Coalesced      bool
	Dropped        bool
	Blocked        bool
	DropEvent      *DropEvent
	CoalesceEvent  *CoalesceEvent
	RateLimitEvent *RateLimitEvent
}

// Stats are the cumulative counters the §4.3 accounting invariant is
// checked against: TotalReceived == TotalAccepted + TotalDropped.
type Stats struct {
	TotalReceived  uint64
	TotalAccepted  uint64
	TotalDropped   uint64
	TotalCoalesced uint64
	PeakQueueDepth int
}

// Gate is a per-ChannelKey backpressure governor. One Gate instance exists
// per (channel, symbol) unit of sequencing, matching the sequencer's
// per-channel independence.
type Gate struct {
	cfg config.BackpressureSettings

	mu         sync.Mutex
	timestamps []time.Time
	buffer     []*Message
	coalesce   map[string]*Message
	stats      Stats
	limiter    *rate.Limiter
	now        func() time.Time
	randIntn   func(int) int
}

// New constructs a Gate from the configured backpressure policy. When
// MaxPerSec is 0 the rate check is disabled and only the buffer-depth check
// applies.
func New(cfg config.BackpressureSettings) *Gate {
	var limiter *rate.Limiter
	if cfg.MaxPerSec > 0 {
		burst := cfg.MaxPerSec + cfg.BurstAllowance
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSec), burst)
	}
	return &Gate{
		cfg:      cfg,
		coalesce: make(map[string]*Message),
		limiter:  limiter,
		now:      time.Now,
		randIntn: rand.Intn,
	}
}

// Admit applies the §4.3 contract to one incoming message in order: sliding
// window rate check, buffer-depth check, drop policy, then coalescing.
func (g *Gate) Admit(msg Message) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.pushTimestamp(now)
	currentRate := g.currentRateLocked()

	var rateEvent *RateLimitEvent
	rateExceeded := g.cfg.MaxPerSec > 0 && currentRate >= float64(g.cfg.MaxPerSec+g.cfg.BurstAllowance)
	if rateExceeded {
		rateEvent = &RateLimitEvent{Symbol: msg.Symbol, CurrentRate: currentRate}
	}
	if g.limiter != nil && !g.limiter.AllowN(now, 1) {
		rateExceeded = true
		if rateEvent == nil {
			rateEvent = &RateLimitEvent{Symbol: msg.Symbol, CurrentRate: currentRate}
		}
	}

	bufferFull := len(g.buffer) >= g.cfg.MaxBuffer

	if rateExceeded || bufferFull {
		outcome := g.applyDropPolicy(msg)
		outcome.RateLimitEvent = rateEvent
		return outcome
	}

	return g.accept(msg, rateEvent)
}

func (g *Gate) applyDropPolicy(msg Message) Outcome {
	switch g.cfg.DropPolicy {
	case config.DropOldest:
		if len(g.buffer) > 0 {
			g.removeAt(0)
		}
		return g.accept(msg, nil)

	case config.DropLatest:
		g.stats.TotalReceived++
		g.stats.TotalDropped++
		return Outcome{
			Dropped: true,
			DropEvent: &DropEvent{
				Symbol: msg.Symbol,
				Policy: config.DropLatest,
				Reason: "rejected newest message under pressure",
			},
		}

	case config.DropRandom:
		if len(g.buffer) > 0 {
			g.removeAt(g.randIntn(len(g.buffer)))
		}
		return g.accept(msg, nil)

	case config.DropBlock:
		return Outcome{Blocked: true}

	default:
		return Outcome{Blocked: true}
	}
}

// accept admits msg, applying coalescing if configured, and updates the
// accounting counters. A coalesced message is counted as both accepted and
// coalesced per the §4.3 documented (and preserved) accounting quirk.
func (g *Gate) accept(msg Message, rateEvent *RateLimitEvent) Outcome {
	g.stats.TotalReceived++

	if g.cfg.CoalesceUpdates {
		if existing, ok := g.coalesce[msg.Symbol]; ok {
			oldSeq := existing.Seq
			*existing = msg
			g.stats.TotalAccepted++
			g.stats.TotalCoalesced++
			return Outcome{
				Accepted:       true,
				Coalesced:      true,
				CoalesceEvent:  &CoalesceEvent{Symbol: msg.Symbol, OldSeq: oldSeq, NewSeq: msg.Seq},
				RateLimitEvent: rateEvent,
			}
		}
	}

	stored := msg
	g.buffer = append(g.buffer, &stored)
	if g.cfg.CoalesceUpdates {
		g.coalesce[msg.Symbol] = &stored
	}
	g.stats.TotalAccepted++
	if len(g.buffer) > g.stats.PeakQueueDepth {
		g.stats.PeakQueueDepth = len(g.buffer)
	}
	return Outcome{Accepted: true, RateLimitEvent: rateEvent}
}

// removeAt drops the buffered message at idx, counting it dropped and
// clearing any coalesce-map reference it held. Caller holds g.mu.
func (g *Gate) removeAt(idx int) {
	victim := g.buffer[idx]
	g.buffer = append(g.buffer[:idx], g.buffer[idx+1:]...)
	if g.cfg.CoalesceUpdates {
		if cur, ok := g.coalesce[victim.Symbol]; ok && cur == victim {
			delete(g.coalesce, victim.Symbol)
		}
	}
	g.stats.TotalReceived++
	g.stats.TotalDropped++
}

func (g *Gate) pushTimestamp(now time.Time) {
	g.timestamps = append(g.timestamps, now)
	cutoff := now.Add(-g.cfg.RateWindow)
	i := 0
	for i < len(g.timestamps) && g.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		g.timestamps = g.timestamps[i:]
	}
}

func (g *Gate) currentRateLocked() float64 {
	windowSecs := g.cfg.RateWindow.Seconds()
	if windowSecs <= 0 {
		return 0
	}
	return float64(len(g.timestamps)) / windowSecs
}

// Drain removes and returns every currently buffered message in FIFO order,
// clearing the coalesce map. Used by the facade to flush the gate into the
// dispatcher.
func (g *Gate) Drain() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Message, 0, len(g.buffer))
	for _, m := range g.buffer {
		out = append(out, *m)
	}
	g.buffer = g.buffer[:0]
	g.coalesce = make(map[string]*Message)
	return out
}

// Stats returns a snapshot of the cumulative counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// ResetStats zeroes the cumulative counters, including the otherwise
// session-monotonic peak queue depth.
func (g *Gate) ResetStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats = Stats{}
}
