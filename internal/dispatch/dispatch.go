// Package dispatch is the sole component that emits Event outward: it
// fans out each event to the two concurrent consumer modes the facade
// supports — per-DataType callback registries and unbounded per-subscriber
// stream channels. Grounded on the teacher's pkg/dispatcher Fanout (panic
// recovery per subscriber, sourcegraph/conc bounded concurrency) and the
// registrar.go pattern of id-keyed registration/unregistration.
package dispatch

import (
	"sync"

	"github.com/google/uuid"
	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/metric"

	"github.com/krakenfeed/sdk/errs"
	"github.com/krakenfeed/sdk/internal/telemetry"
)

// CallbackID identifies a registered callback for later Unregister.
type CallbackID string

// Callback receives one Event. It must not block; consumers needing
// blocking work should use the stream API instead (documented facade
// contract — callbacks run on the read-loop goroutine).
type Callback func(Event)

// Dispatcher fans out events to registered callbacks and live streams. It
// never re-enters itself: a panic recovered while invoking a callback is
// turned into a Network error delivered through the error-callback chain
// directly, not by recursively calling Dispatch.
type Dispatcher struct {
	maxFanout int

	mu        sync.RWMutex
	callbacks map[DataType]map[CallbackID]Callback
	streams   map[string]*stream

	metrics *metrics
}

type metrics struct {
	dispatched metric.Int64Counter
	panics     metric.Int64Counter
	streamDrop metric.Int64Counter
}

func newMetrics() *metrics {
	meter := telemetry.Meter()
	m := &metrics{}
	m.dispatched, _ = meter.Int64Counter("krakenfeed.dispatch.events",
		metric.WithDescription("Events fanned out to callbacks and streams"),
		metric.WithUnit("{event}"))
	m.panics, _ = meter.Int64Counter("krakenfeed.dispatch.callback_panics",
		metric.WithDescription("Callback invocations that panicked and were recovered"),
		metric.WithUnit("{panic}"))
	m.streamDrop, _ = meter.Int64Counter("krakenfeed.dispatch.stream_removed",
		metric.WithDescription("Stream subscribers removed after a failed send"),
		metric.WithUnit("{subscriber}"))
	return m
}

// New constructs a Dispatcher. maxFanout bounds how many events
// DispatchFanout delivers concurrently; <= 0 runs one goroutine per event.
// Dispatch itself delivers synchronously and does not use it.
func New(maxFanout int) *Dispatcher {
	return &Dispatcher{
		maxFanout: maxFanout,
		callbacks: make(map[DataType]map[CallbackID]Callback),
		streams:   make(map[string]*stream),
		metrics:   newMetrics(),
	}
}

// RegisterCallback adds cb to the registry for dataType and returns an id
// that Unregister uses to remove it later.
func (d *Dispatcher) RegisterCallback(dataType DataType, cb Callback) CallbackID {
	id := CallbackID(uuid.NewString())

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.callbacks[dataType] == nil {
		d.callbacks[dataType] = make(map[CallbackID]Callback)
	}
	d.callbacks[dataType][id] = cb
	return id
}

// UnregisterCallback removes the callback registered under id for dataType.
func (d *Dispatcher) UnregisterCallback(dataType DataType, id CallbackID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.callbacks[dataType], id)
}

// Dispatch delivers event to every callback registered for its DataType and
// to every live stream subscriber. Callback panics are recovered and turned
// into ErrorEvents delivered only to DataError callbacks — Dispatch is
// never called again from within this call.
func (d *Dispatcher) Dispatch(event Event) {
	d.mu.RLock()
	cbs := make([]Callback, 0, len(d.callbacks[event.Type()]))
	for _, cb := range d.callbacks[event.Type()] {
		cbs = append(cbs, cb)
	}
	streams := make([]*stream, 0, len(d.streams))
	for _, s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.RUnlock()

	if d.metrics.dispatched != nil {
		attrs := telemetry.ResultAttributes(event.Type().String())
		d.metrics.dispatched.Add(telemetry.EnsureContext(nil), 1, metric.WithAttributes(attrs...))
	}

	for _, cb := range cbs {
		d.invokeSafely(event, cb)
	}
	for _, s := range streams {
		s.send(event)
	}

	var deadIDs []string
	for _, s := range streams {
		if s.dead.Load() {
			deadIDs = append(deadIDs, s.id)
		}
	}
	if len(deadIDs) > 0 {
		d.mu.Lock()
		for _, id := range deadIDs {
			delete(d.streams, id)
		}
		d.mu.Unlock()
		if d.metrics.streamDrop != nil {
			d.metrics.streamDrop.Add(telemetry.EnsureContext(nil), int64(len(deadIDs)))
		}
	}
}

// invokeSafely runs cb against event, recovering any panic and re-raising
// it as an ErrorEvent delivered directly to DataError callbacks — never by
// recursing into Dispatch, per the "never re-enters itself" contract.
func (d *Dispatcher) invokeSafely(event Event, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			if d.metrics.panics != nil {
				d.metrics.panics.Add(telemetry.EnsureContext(nil), 1)
			}
			netErr := errs.New(errs.CodeNetwork,
				errs.WithMessage("callback panic recovered"),
				errs.WithContext(map[string]string{"recovered": toString(r)}))
			d.deliverErrorDirectly(ErrorEvent{Err: netErr})
		}
	}()
	cb(event)
}

func (d *Dispatcher) deliverErrorDirectly(ev ErrorEvent) {
	d.mu.RLock()
	cbs := make([]Callback, 0, len(d.callbacks[DataError]))
	for _, cb := range d.callbacks[DataError] {
		cbs = append(cbs, cb)
	}
	d.mu.RUnlock()
	for _, cb := range cbs {
		func() {
			defer func() { recover() }()
			cb(ev)
		}()
	}
}

// DispatchFanout delivers event using bounded goroutine concurrency for
// callback and stream fan-out, for call sites that prefer not to block the
// read loop on slow subscriber sets. Ordinary Dispatch is synchronous and
// is what the facade's read loop uses to preserve per-channel ordering;
// DispatchFanout is offered for batch replays where order across symbols
// does not matter.
func (d *Dispatcher) DispatchFanout(events []Event) {
	if len(events) == 0 {
		return
	}
	limit := d.maxFanout
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}
	p := concpool.New().WithMaxGoroutines(limit)
	for _, ev := range events {
		event := ev
		p.Go(func() { d.Dispatch(event) })
	}
	p.Wait()
}

func toString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "panic"
}

// Subscribe creates a new stream subscriber with an effectively unbounded
// inbox (an internal goroutine buffers sends into a growable queue so
// Dispatch's send to it never suspends, per §5's suspension-point
// inventory). The returned Receiver yields events until Close is called or
// the dispatcher drops the subscriber after a permanently failed delivery
// (it does not: stream sends never fail except on explicit Close).
func (d *Dispatcher) Subscribe() *Receiver {
	s := newStream()

	d.mu.Lock()
	d.streams[s.id] = s
	d.mu.Unlock()

	return &Receiver{ch: s.out, closeFn: func() {
		d.mu.Lock()
		delete(d.streams, s.id)
		d.mu.Unlock()
		s.close()
	}}
}

// Receiver is a consumer-facing handle on one stream subscription.
type Receiver struct {
	ch      <-chan Event
	closeFn func()
	once    sync.Once
}

// Events returns the channel of delivered events.
func (r *Receiver) Events() <-chan Event { return r.ch }

// Close unregisters the subscriber and releases its buffering goroutine.
func (r *Receiver) Close() {
	r.once.Do(r.closeFn)
}
