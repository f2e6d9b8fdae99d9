// Package book implements the order-book store (component C1): an ordered
// price->size map per (pair, side) with mutation primitives that are atomic
// with respect to concurrent observers. Two backends satisfy the same Store
// interface: an in-process ordered map (memory.go) and a Redis-backed
// remote map (redis.go), following the same interchangeable-backend pattern
// as a single-market book but generalized to a full multi-level book.
package book

import (
	"context"

	"github.com/shopspring/decimal"

	"feedhandler/pkg/types"
)

// Store is the order-book store contract. Every method takes a
// context first, since a remote backend implementation may suspend on
// network I/O. All operations are atomic with respect to other operations
// addressing the same (pair, side, price) key.
type Store interface {
	Get(ctx context.Context, pair string, side types.Side, price decimal.Decimal) (decimal.Decimal, bool, error)
	Set(ctx context.Context, pair string, side types.Side, price, size decimal.Decimal) error
	GetPairSide(ctx context.Context, pair string, side types.Side) (types.BookSide, error)
	GetPairBook(ctx context.Context, pair string) (types.Book, error)
	SetPairBook(ctx context.Context, pair string, book types.Book) error
	DeletePair(ctx context.Context, pair string) error
	PriceExists(ctx context.Context, pair string, side types.Side, price decimal.Decimal) (bool, error)

	Increment(ctx context.Context, pair string, side types.Side, price, delta decimal.Decimal) error
	IncrementIfExists(ctx context.Context, pair string, side types.Side, price, delta decimal.Decimal) (bool, error)
	IncrementIfExistsElseSetAbs(ctx context.Context, pair string, side types.Side, price, size decimal.Decimal) (bool, error)
	DecrementAndRemoveIfZero(ctx context.Context, pair string, side types.Side, price, size decimal.Decimal) (bool, error)

	Remove(ctx context.Context, pair string, side types.Side, price decimal.Decimal) error
	RemoveIfExists(ctx context.Context, pair string, side types.Side, price decimal.Decimal) (bool, error)
	RemoveIfZeroSize(ctx context.Context, pair string, side types.Side, price decimal.Decimal) (bool, error)

	SortedBidsForPair(ctx context.Context, pair string) ([]decimal.Decimal, error)
	SortedAsksForPair(ctx context.Context, pair string) ([]decimal.Decimal, error)

	GetPairs(ctx context.Context) ([]string, error)
	GetExchangeBook(ctx context.Context) (map[string]types.Book, error)
}
