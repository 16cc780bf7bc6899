package bookmirror

import (
	"log"
	"sync"
	"time"

	"github.com/krakenfeed/sdk/internal/codec"
	"github.com/krakenfeed/sdk/internal/symbol"
)

// OrderBook is one symbol's live limit-order-book mirror. Mutation and
// derivation are serialized per symbol via mu; a Snapshot clone is handed
// to observers so they never race a concurrent ApplyUpdate.
type OrderBook struct {
	mu         sync.Mutex
	symbol     symbol.Symbol
	bids       *side
	asks       *side
	lastUpdate time.Time
	checksum   string
}

// NewOrderBook creates an empty book for sym, lazily — the book manager
// calls this only on first update for a symbol.
func NewOrderBook(sym symbol.Symbol) *OrderBook {
	return &OrderBook{
		symbol: sym,
		bids:   newSide(true),
		asks:   newSide(false),
	}
}

// Snapshot is an immutable value-object view of a book at one instant.
type Snapshot struct {
	Symbol     symbol.Symbol
	Bids       []Level // best-first, descending
	Asks       []Level // best-first, ascending
	LastUpdate time.Time
	Checksum   string
}

// ApplyUpdate applies a codec.OrderBookUpdate: zero-volume rows erase the
// key, others upsert it. It then checks the ordering invariant on both
// sides; a crossed book (best bid >= best ask) is tolerated with a warning,
// never rejected, matching §4.5's documented transient-cross behavior.
func (b *OrderBook) ApplyUpdate(update codec.OrderBookUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, row := range update.Bids {
		b.applyRow(b.bids, row)
	}
	for _, row := range update.Asks {
		b.applyRow(b.asks, row)
	}
	b.lastUpdate = time.Now()
	if update.Checksum != "" {
		b.checksum = update.Checksum
	}

	if !b.bids.strictlyOrdered() || !b.asks.strictlyOrdered() {
		log.Printf("bookmirror: ordering invariant violated for %s", b.symbol)
	}
	if bestBid, ok := b.bids.best(); ok {
		if bestAsk, ok2 := b.asks.best(); ok2 && bestBid.Price.Cmp(bestAsk.Price) >= 0 {
			log.Printf("bookmirror: crossed book for %s: bid=%s ask=%s", b.symbol, bestBid.Price, bestAsk.Price)
		}
	}
}

func (b *OrderBook) applyRow(s *side, row codec.PriceLevelUpdate) {
	if row.Volume.IsZero() {
		s.remove(row.Price)
		return
	}
	s.upsert(Level{Price: row.Price, Volume: row.Volume, Timestamp: row.Time})
}

// Snapshot returns an immutable clone of the book's current state.
func (b *OrderBook) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Symbol:     b.symbol,
		Bids:       b.bids.ordered(),
		Asks:       b.asks.ordered(),
		LastUpdate: b.lastUpdate,
		Checksum:   b.checksum,
	}
}

// BestBidAsk returns the best level on each side, if present.
func (b *OrderBook) BestBidAsk() (bid, ask Level, bidOK, askOK bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid, bidOK = b.bids.best()
	ask, askOK = b.asks.best()
	return
}

// Checksum recomputes a best-effort diagnostic hash of the top 10 levels
// per side. Per spec §9's resolved Open Question, this is never a resync
// trigger — the original Kraken CRC32 checksum algorithm is not
// implemented, only a comparison aid for observability.
func (b *OrderBook) Checksum() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bids.len() == 0 && b.asks.len() == 0 {
		return 0, false
	}
	var h uint32 = 2166136261
	for _, lvl := range b.bids.topN(10) {
		h = fnv1a(h, lvl.Price.String()+":"+lvl.Volume.String())
	}
	for _, lvl := range b.asks.topN(10) {
		h = fnv1a(h, lvl.Price.String()+":"+lvl.Volume.String())
	}
	return h, true
}

func fnv1a(h uint32, s string) uint32 {
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Manager owns the symbol → OrderBook map and creates books lazily on
// first update.
type Manager struct {
	mu    sync.Mutex
	books map[symbol.Symbol]*OrderBook
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{books: make(map[symbol.Symbol]*OrderBook)}
}

// ApplyUpdate routes update to its symbol's book, creating it if this is
// the first update seen for that symbol.
func (m *Manager) ApplyUpdate(update codec.OrderBookUpdate) Snapshot {
	book := m.bookFor(update.Symbol)
	book.ApplyUpdate(update)
	return book.Snapshot()
}

func (m *Manager) bookFor(sym symbol.Symbol) *OrderBook {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[sym]
	if !ok {
		book = NewOrderBook(sym)
		m.books[sym] = book
	}
	return book
}

// Get returns the current snapshot for sym, if a book exists.
func (m *Manager) Get(sym symbol.Symbol) (Snapshot, bool) {
	m.mu.Lock()
	book, ok := m.books[sym]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return book.Snapshot(), true
}

// BestBidAsk returns the top-of-book for sym; ok is false when no book
// exists or either side of it is empty.
func (m *Manager) BestBidAsk(sym symbol.Symbol) (bid, ask Level, ok bool) {
	m.mu.Lock()
	book, exists := m.books[sym]
	m.mu.Unlock()
	if !exists {
		return Level{}, Level{}, false
	}
	bidL, askL, bidOK, askOK := book.BestBidAsk()
	return bidL, askL, bidOK && askOK
}

// Clear removes sym's book entirely, e.g. on resync or disconnect.
func (m *Manager) Clear(sym symbol.Symbol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, sym)
}
