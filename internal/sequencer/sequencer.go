// Package sequencer enforces per-channel monotonic frame ordering: gap
// detection, a bounded pending buffer for out-of-order arrivals, and resync
// triggers when a gap or backlog grows past the configured limits.
package sequencer

import (
	"sync"
	"time"

	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/config"
)

// ResyncReason is a closed set of triggers for a channel resync, mirroring
// the original's explicit reason enum rather than a bare string.
type ResyncReason interface {
	isResyncReason()
}

type GapTooLarge struct{ Size uint64 }
type TooManyPending struct{ Count int }
type ResyncTimeout struct{ Secs float64 }
type ManualRequest struct{}
type ConnectionReset struct{}

func (GapTooLarge) isResyncReason()     {}
func (TooManyPending) isResyncReason()  {}
func (ResyncTimeout) isResyncReason()   {}
func (ManualRequest) isResyncReason()   {}
func (ConnectionReset) isResyncReason() {}

// GapEvent reports a detected gap before it is known whether it will be
// filled or trigger a resync.
type GapEvent struct {
	Key      codec.ChannelKey
	Expected uint64
	Received uint64
	GapSize  uint64
}

// ResyncEvent reports that a channel's sequence state was reset.
type ResyncEvent struct {
	Key    codec.ChannelKey
	Reason ResyncReason
}

// Entry is one frame released from the sequencer in delivery order,
// whether accepted immediately or drained from the pending buffer.
type Entry struct {
	Seq   uint64
	Frame []byte
}

type channelState struct {
	initialized       bool
	lastSeq           uint64
	pending           map[uint64][]byte
	pendingSince      map[uint64]time.Time
	gapDetected       bool
	totalGaps         int
	messagesProcessed uint64
}

func newChannelState() *channelState {
	return &channelState{
		pending:      make(map[uint64][]byte),
		pendingSince: make(map[uint64]time.Time),
	}
}

// Sequencer validates and orders frames per ChannelKey. Each channel's
// state is independent: a gap on one channel never stalls another.
type Sequencer struct {
	cfg config.SequenceSettings

	mu       sync.Mutex
	channels map[codec.ChannelKey]*channelState

	now func() time.Time
}

// New constructs a Sequencer from the configured gap/pending/timeout policy.
func New(cfg config.SequenceSettings) *Sequencer {
	return &Sequencer{
		cfg:      cfg,
		channels: make(map[codec.ChannelKey]*channelState),
		now:      time.Now,
	}
}

// Validate applies the §4.2 contract for one incoming (key, seq, frame).
// It returns the frames now ready for delivery in order (possibly more than
// one, if this arrival fills a pending chain), an optional GapEvent, and an
// optional ResyncEvent. Duplicate/old frames yield no entries and no error.
func (s *Sequencer) Validate(key codec.ChannelKey, seq uint64, frame []byte) ([]Entry, *GapEvent, *ResyncEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.channels[key]
	if !ok {
		st = newChannelState()
		s.channels[key] = st
	}

	switch {
	case !st.initialized || seq == st.lastSeq+1:
		st.initialized = true
		st.lastSeq = seq
		st.messagesProcessed++
		entries := []Entry{{Seq: seq, Frame: frame}}
		entries = append(entries, st.drainPending()...)
		return entries, nil, nil

	case seq > st.lastSeq+1:
		gapSize := seq - st.lastSeq - 1
		gap := &GapEvent{Key: key, Expected: st.lastSeq + 1, Received: seq, GapSize: gapSize}
		st.gapDetected = true
		st.totalGaps++

		if gapSize > s.cfg.MaxGapSize || len(st.pending) > s.cfg.MaxPending {
			reason := ResyncReason(GapTooLarge{Size: gapSize})
			if len(st.pending) > s.cfg.MaxPending {
				reason = TooManyPending{Count: len(st.pending)}
			}
			s.channels[key] = newChannelState()
			return nil, gap, &ResyncEvent{Key: key, Reason: reason}
		}

		st.pending[seq] = frame
		st.pendingSince[seq] = s.now()
		return nil, gap, nil

	default: // seq <= lastSeq: duplicate or stale
		return nil, nil, nil
	}
}

// drainPending releases the contiguous chain of buffered frames starting at
// lastSeq+1, advancing lastSeq as it goes. Caller holds s.mu.
func (st *channelState) drainPending() []Entry {
	var entries []Entry
	for {
		next := st.lastSeq + 1
		frame, ok := st.pending[next]
		if !ok {
			return entries
		}
		delete(st.pending, next)
		delete(st.pendingSince, next)
		st.lastSeq = next
		st.messagesProcessed++
		entries = append(entries, Entry{Seq: next, Frame: frame})
	}
}

// CheckTimeouts scans every channel's pending buffer for entries older than
// PendingTimeout and resyncs any channel that has one.
func (s *Sequencer) CheckTimeouts() []ResyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var events []ResyncEvent
	for key, st := range s.channels {
		for seq, since := range st.pendingSince {
			if now.Sub(since) > s.cfg.PendingTimeout {
				events = append(events, ResyncEvent{
					Key:    key,
					Reason: ResyncTimeout{Secs: s.cfg.PendingTimeout.Seconds()},
				})
				s.channels[key] = newChannelState()
				_ = seq
				break
			}
		}
	}
	return events
}

// Resync manually resets a channel's state, as if a ManualRequest or
// ConnectionReset triggered it.
func (s *Sequencer) Resync(key codec.ChannelKey, reason ResyncReason) ResyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[key] = newChannelState()
	return ResyncEvent{Key: key, Reason: reason}
}

// Stats exposes the per-channel counters used by observability and tests.
type Stats struct {
	Initialized       bool
	LastSeq           uint64
	PendingCount      int
	GapDetected       bool
	TotalGaps         int
	MessagesProcessed uint64
}

// StatsFor returns a snapshot of one channel's counters.
func (s *Sequencer) StatsFor(key codec.ChannelKey) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[key]
	if !ok {
		return Stats{}
	}
	return Stats{
		Initialized:       st.initialized,
		LastSeq:           st.lastSeq,
		PendingCount:      len(st.pending),
		GapDetected:       st.gapDetected,
		TotalGaps:         st.totalGaps,
		MessagesProcessed: st.messagesProcessed,
	}
}
