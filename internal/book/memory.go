package book

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"feedhandler/internal/ferr"
	"feedhandler/pkg/types"
)

// side is an ordered, ascending-by-price slice of levels. Ascending order is
// the canonical internal representation for both BID and ASK; callers that
// want descending bids reverse a copy on the way out.
type side []types.PriceLevel

// find returns the index of price in s and whether it was found, using
// binary search over the ascending-sorted slice. Equality is by decimal
// value (Cmp), not by string or exponent, so "0.10" and "0.1" collide.
func (s side) find(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].Price.Cmp(price) >= 0 })
	if i < len(s) && s[i].Price.Equal(price) {
		return i, true
	}
	return i, false
}

func (s side) insertAt(i int, lvl types.PriceLevel) side {
	s = append(s, types.PriceLevel{})
	copy(s[i+1:], s[i:])
	s[i] = lvl
	return s
}

func (s side) removeAt(i int) side {
	return append(s[:i], s[i+1:]...)
}

// pairBook holds both sides of one pair's book, guarded by a single mutex:
// one mutex per pair covers both sides since no operation ever needs to
// cross pairs.
type pairBook struct {
	mu   sync.Mutex
	bids side
	asks side
}

func (pb *pairBook) sideRef(s types.Side) *side {
	if s == types.BID {
		return &pb.bids
	}
	return &pb.asks
}

// Memory is the in-process order-book store backend.
type Memory struct {
	mu    sync.RWMutex
	pairs map[string]*pairBook
}

// NewMemory constructs an empty in-process store.
func NewMemory() *Memory {
	return &Memory{pairs: make(map[string]*pairBook)}
}

func (m *Memory) pairBookFor(pair string) *pairBook {
	m.mu.RLock()
	pb, ok := m.pairs[pair]
	m.mu.RUnlock()
	if ok {
		return pb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pb, ok = m.pairs[pair]; ok {
		return pb
	}
	pb = &pairBook{}
	m.pairs[pair] = pb
	return pb
}

func (m *Memory) Get(_ context.Context, pair string, s types.Side, price decimal.Decimal) (decimal.Decimal, bool, error) {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	lvls := *pb.sideRef(s)
	if i, ok := lvls.find(price); ok {
		return lvls[i].Size, true, nil
	}
	return decimal.Zero, false, nil
}

func (m *Memory) Set(_ context.Context, pair string, s types.Side, price, size decimal.Decimal) error {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	ref := pb.sideRef(s)
	lvls := *ref
	if i, ok := lvls.find(price); ok {
		lvls[i].Size = size
	} else {
		*ref = lvls.insertAt(i, types.PriceLevel{Price: price, Size: size})
	}
	return nil
}

func (m *Memory) GetPairSide(_ context.Context, pair string, s types.Side) (types.BookSide, error) {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return orderedCopy(*pb.sideRef(s), s), nil
}

// orderedCopy returns a copy of the ascending-sorted slice in the side's
// externally-visible order: descending for BID, ascending for ASK.
func orderedCopy(lvls side, sd types.Side) types.BookSide {
	out := make(types.BookSide, len(lvls))
	copy(out, lvls)
	if sd == types.BID {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (m *Memory) GetPairBook(ctx context.Context, pair string) (types.Book, error) {
	bids, err := m.GetPairSide(ctx, pair, types.BID)
	if err != nil {
		return types.Book{}, err
	}
	asks, err := m.GetPairSide(ctx, pair, types.ASK)
	if err != nil {
		return types.Book{}, err
	}
	return types.Book{Bids: bids, Asks: asks}, nil
}

func (m *Memory) SetPairBook(_ context.Context, pair string, book types.Book) error {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()

	bids := make(side, len(book.Bids))
	copy(bids, book.Bids)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.Cmp(bids[j].Price) < 0 })

	asks := make(side, len(book.Asks))
	copy(asks, book.Asks)
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.Cmp(asks[j].Price) < 0 })

	pb.bids = bids
	pb.asks = asks
	return nil
}

func (m *Memory) DeletePair(_ context.Context, pair string) error {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.bids = nil
	pb.asks = nil
	return nil
}

func (m *Memory) PriceExists(_ context.Context, pair string, s types.Side, price decimal.Decimal) (bool, error) {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	_, ok := pb.sideRef(s).find(price)
	return ok, nil
}

func (m *Memory) Increment(_ context.Context, pair string, s types.Side, price, delta decimal.Decimal) error {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	ref := pb.sideRef(s)
	lvls := *ref
	if i, ok := lvls.find(price); ok {
		lvls[i].Size = lvls[i].Size.Add(delta)
	} else {
		*ref = lvls.insertAt(i, types.PriceLevel{Price: price, Size: delta})
	}
	return nil
}

func (m *Memory) IncrementIfExists(_ context.Context, pair string, s types.Side, price, delta decimal.Decimal) (bool, error) {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	lvls := *pb.sideRef(s)
	i, ok := lvls.find(price)
	if !ok {
		return false, nil
	}
	lvls[i].Size = lvls[i].Size.Add(delta)
	return true, nil
}

func (m *Memory) IncrementIfExistsElseSetAbs(_ context.Context, pair string, s types.Side, price, size decimal.Decimal) (bool, error) {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	ref := pb.sideRef(s)
	lvls := *ref
	i, existed := lvls.find(price)
	if existed {
		lvls[i].Size = lvls[i].Size.Add(size)
		return true, nil
	}
	*ref = lvls.insertAt(i, types.PriceLevel{Price: price, Size: size.Abs()})
	return false, nil
}

func (m *Memory) DecrementAndRemoveIfZero(_ context.Context, pair string, s types.Side, price, size decimal.Decimal) (bool, error) {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	ref := pb.sideRef(s)
	lvls := *ref
	i, ok := lvls.find(price)
	if !ok {
		return false, fmt.Errorf("decrement_and_remove_if_zero %s %s %s: %w", pair, s, price, ferr.ErrNotFound)
	}
	lvls[i].Size = lvls[i].Size.Sub(size)
	if lvls[i].Size.IsZero() {
		*ref = lvls.removeAt(i)
		return true, nil
	}
	return false, nil
}

func (m *Memory) Remove(_ context.Context, pair string, s types.Side, price decimal.Decimal) error {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	ref := pb.sideRef(s)
	lvls := *ref
	i, ok := lvls.find(price)
	if !ok {
		return fmt.Errorf("remove %s %s %s: %w", pair, s, price, ferr.ErrNotFound)
	}
	*ref = lvls.removeAt(i)
	return nil
}

func (m *Memory) RemoveIfExists(_ context.Context, pair string, s types.Side, price decimal.Decimal) (bool, error) {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	ref := pb.sideRef(s)
	lvls := *ref
	i, ok := lvls.find(price)
	if !ok {
		return false, nil
	}
	*ref = lvls.removeAt(i)
	return true, nil
}

func (m *Memory) RemoveIfZeroSize(_ context.Context, pair string, s types.Side, price decimal.Decimal) (bool, error) {
	pb := m.pairBookFor(pair)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	ref := pb.sideRef(s)
	lvls := *ref
	i, ok := lvls.find(price)
	if !ok || !lvls[i].Size.IsZero() {
		return false, nil
	}
	*ref = lvls.removeAt(i)
	return true, nil
}

func (m *Memory) SortedBidsForPair(ctx context.Context, pair string) ([]decimal.Decimal, error) {
	bids, err := m.GetPairSide(ctx, pair, types.BID)
	if err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, len(bids))
	for i, lvl := range bids {
		out[i] = lvl.Price
	}
	return out, nil
}

func (m *Memory) SortedAsksForPair(ctx context.Context, pair string) ([]decimal.Decimal, error) {
	asks, err := m.GetPairSide(ctx, pair, types.ASK)
	if err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, len(asks))
	for i, lvl := range asks {
		out[i] = lvl.Price
	}
	return out, nil
}

func (m *Memory) GetPairs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pairs))
	for pair := range m.pairs {
		out = append(out, pair)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) GetExchangeBook(ctx context.Context) (map[string]types.Book, error) {
	pairs, err := m.GetPairs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.Book, len(pairs))
	for _, pair := range pairs {
		b, err := m.GetPairBook(ctx, pair)
		if err != nil {
			return nil, err
		}
		out[pair] = b
	}
	return out, nil
}
