package bookmirror

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krakenfeed/sdk/internal/numeric"
)

// Level is one price/volume pair in an order book side.
type Level struct {
	Price     numeric.Price
	Volume    numeric.Volume
	Timestamp time.Time
}

// side is a price-ordered set of levels. There is no ordered-map library
// anywhere in the reference corpus (see DESIGN.md); a plain map keyed by
// the price's canonical string plus a separately maintained ascending
// price index, kept sorted via sort.Search, gives ordered iteration without
// one: a price's position is found in O(log n), inserting or removing it
// shifts the index in O(n), and iteration walks it in O(n). Bids iterate the index in reverse (best-first,
// descending); asks iterate it forwards (best-first, ascending).
type side struct {
	levels map[string]*Level
	index  []numeric.Price // always ascending
	desc   bool
}

func newSide(desc bool) *side {
	return &side{
		levels: make(map[string]*Level),
		desc:   desc,
	}
}

func key(p numeric.Price) string {
	return p.String()
}

// upsert inserts or replaces a level. volume == 0 is rejected by the caller
// before reaching here (apply_update routes it to remove instead).
func (s *side) upsert(level Level) {
	k := key(level.Price)
	if existing, ok := s.levels[k]; ok {
		*existing = level
		return
	}
	stored := level
	s.levels[k] = &stored
	s.insertIndex(level.Price)
}

// remove deletes the level at price, if present.
func (s *side) remove(price numeric.Price) {
	k := key(price)
	if _, ok := s.levels[k]; !ok {
		return
	}
	delete(s.levels, k)
	s.removeIndex(price)
}

func (s *side) insertIndex(p numeric.Price) {
	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].Cmp(p) >= 0 })
	s.index = append(s.index, decimal.Zero)
	copy(s.index[i+1:], s.index[i:])
	s.index[i] = p
}

func (s *side) removeIndex(p numeric.Price) {
	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].Cmp(p) >= 0 })
	if i >= len(s.index) || !s.index[i].Equal(p) {
		return
	}
	s.index = append(s.index[:i], s.index[i+1:]...)
}

// ordered returns levels best-first: descending for bids, ascending for asks.
func (s *side) ordered() []Level {
	out := make([]Level, 0, len(s.index))
	if s.desc {
		for i := len(s.index) - 1; i >= 0; i-- {
			out = append(out, *s.levels[key(s.index[i])])
		}
	} else {
		for i := 0; i < len(s.index); i++ {
			out = append(out, *s.levels[key(s.index[i])])
		}
	}
	return out
}

func (s *side) best() (Level, bool) {
	if len(s.index) == 0 {
		return Level{}, false
	}
	if s.desc {
		return *s.levels[key(s.index[len(s.index)-1])], true
	}
	return *s.levels[key(s.index[0])], true
}

func (s *side) topN(n int) []Level {
	all := s.ordered()
	if n >= 0 && n < len(all) {
		return all[:n]
	}
	return all
}

func (s *side) total() numeric.Volume {
	sum := numeric.Zero
	for _, lvl := range s.levels {
		sum = sum.Add(lvl.Volume)
	}
	return sum
}

func (s *side) len() int { return len(s.index) }

// strictlyOrdered reports whether the index is strictly increasing, i.e.
// no two levels share a price — always true by construction given upsert
// replaces rather than duplicates; OrderBook.ApplyUpdate runs it as a
// self-check after every update.
func (s *side) strictlyOrdered() bool {
	for i := 1; i < len(s.index); i++ {
		if s.index[i-1].Cmp(s.index[i]) >= 0 {
			return false
		}
	}
	return true
}
