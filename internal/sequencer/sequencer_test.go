package sequencer

import (
	"testing"

	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/config"
)

func testKey() codec.ChannelKey {
	return codec.ChannelKey{Channel: "ticker", Symbol: "BTC/USD"}
}

func TestGapThenFillDeliversInOrder(t *testing.T) {
	s := New(config.Default().Sequence)
	key := testKey()

	var delivered []uint64

	accept := func(entries []Entry) {
		for _, e := range entries {
			delivered = append(delivered, e.Seq)
		}
	}

	entries, gap, resync := s.Validate(key, 1, []byte("1"))
	accept(entries)
	if gap != nil || resync != nil {
		t.Fatalf("seq 1 should be a clean accept, got gap=%v resync=%v", gap, resync)
	}

	entries, gap, resync = s.Validate(key, 2, []byte("2"))
	accept(entries)
	if gap != nil || resync != nil {
		t.Fatalf("seq 2 should be a clean accept, got gap=%v resync=%v", gap, resync)
	}

	entries, gap, resync = s.Validate(key, 4, []byte("4"))
	accept(entries)
	if resync != nil {
		t.Fatalf("expected no resync for a fillable gap, got %v", resync)
	}
	if gap == nil || gap.Expected != 3 || gap.Received != 4 || gap.GapSize != 1 {
		t.Fatalf("expected GapEvent{expected:3 received:4 gap_size:1}, got %+v", gap)
	}
	if len(entries) != 0 {
		t.Fatalf("seq 4 should not be delivered yet, got %v", entries)
	}

	entries, gap, resync = s.Validate(key, 3, []byte("3"))
	accept(entries)
	if gap != nil || resync != nil {
		t.Fatalf("seq 3 fill should not gap/resync, got gap=%v resync=%v", gap, resync)
	}

	want := []uint64{1, 2, 3, 4}
	if len(delivered) != 4 {
		t.Fatalf("expected 4 delivered frames, got %v", delivered)
	}
	for i, w := range want {
		if delivered[i] != w {
			t.Fatalf("delivered[%d] = %d, want %d (full: %v)", i, delivered[i], w, delivered)
		}
	}

	stats := s.StatsFor(key)
	if stats.LastSeq != 4 {
		t.Fatalf("expected last_seq=4 after fill, got %d", stats.LastSeq)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected pending drained, got %d entries", stats.PendingCount)
	}
}

func TestLargeGapTriggersResync(t *testing.T) {
	cfg := config.Default().Sequence
	cfg.MaxGapSize = 5
	s := New(cfg)
	key := testKey()

	s.Validate(key, 1, []byte("1"))
	_, gap, resync := s.Validate(key, 100, []byte("100"))

	if gap == nil || gap.GapSize != 98 {
		t.Fatalf("expected gap_size=98, got %+v", gap)
	}
	if resync == nil {
		t.Fatalf("expected a resync for a gap exceeding max_gap_size")
	}
	reason, ok := resync.Reason.(GapTooLarge)
	if !ok || reason.Size != 98 {
		t.Fatalf("expected GapTooLarge{98}, got %+v", resync.Reason)
	}

	stats := s.StatsFor(key)
	if stats.PendingCount != 0 {
		t.Fatalf("expected pending cleared after resync, got %d", stats.PendingCount)
	}
	if stats.Initialized {
		t.Fatalf("expected sequence state reset after resync")
	}
}

func TestDuplicateSequenceIsDiscarded(t *testing.T) {
	s := New(config.Default().Sequence)
	key := testKey()

	s.Validate(key, 1, []byte("1"))
	s.Validate(key, 2, []byte("2"))
	entries, gap, resync := s.Validate(key, 1, []byte("dup"))

	if len(entries) != 0 || gap != nil || resync != nil {
		t.Fatalf("expected duplicate to be silently discarded, got entries=%v gap=%v resync=%v", entries, gap, resync)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	s := New(config.Default().Sequence)
	ticker := codec.ChannelKey{Channel: "ticker", Symbol: "BTC/USD"}
	trade := codec.ChannelKey{Channel: "trade", Symbol: "ETH/USD"}

	s.Validate(ticker, 1, []byte("1"))
	_, gap, resync := s.Validate(ticker, 5, []byte("5"))
	if gap == nil {
		t.Fatalf("expected gap on ticker channel")
	}
	_ = resync

	entries, gap2, resync2 := s.Validate(trade, 1, []byte("1"))
	if gap2 != nil || resync2 != nil || len(entries) != 1 {
		t.Fatalf("gap on ticker channel must not affect trade channel, got entries=%v gap=%v resync=%v", entries, gap2, resync2)
	}
}

func TestZeroIsNotAnUninitializedSentinel(t *testing.T) {
	s := New(config.Default().Sequence)
	key := testKey()

	entries, gap, resync := s.Validate(key, 0, []byte("0"))
	if gap != nil || resync != nil || len(entries) != 1 {
		t.Fatalf("expected seq 0 to be a clean first accept, got entries=%v gap=%v resync=%v", entries, gap, resync)
	}

	entries, gap, resync = s.Validate(key, 1, []byte("1"))
	if gap != nil || resync != nil || len(entries) != 1 {
		t.Fatalf("expected seq 1 to follow seq 0 without a spurious gap, got entries=%v gap=%v resync=%v", entries, gap, resync)
	}
}
