package book

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"feedhandler/internal/ferr"
	"feedhandler/pkg/types"
)

// Redis is the remote order-book store backend. Key layout and script
// semantics:
//
//	{exchange}:{pair}:{side}          -> hash of canonical-price -> size
//	{exchange}:{pair}:{side}:prices   -> zset, score=float64(price), member=canonical price
//
// Compound mutations are Lua scripts so the read-modify-write is one atomic
// step from Redis's perspective, backed by a pool of pre-loaded script
// hashes — go-redis's Script.Run does the EVALSHA-then-EVAL-on-NOSCRIPT
// dance for us.
type Redis struct {
	client   redis.UniversalClient
	exchange string

	deleteIfZeroSize       *redis.Script
	incrIfExists           *redis.Script
	incrIfExistsElseSetAbs *redis.Script
	decrAndRemoveIfZero    *redis.Script
}

// NewRedis constructs a remote store backend bound to one exchange
// namespace (so the same Redis instance can host several venues' books
// without key collisions).
func NewRedis(client redis.UniversalClient, exchange string) *Redis {
	return &Redis{
		client:   client,
		exchange: exchange,

		// delete_if_zero_size.lua
		deleteIfZeroSize: redis.NewScript(`
			local size = redis.call('HGET', KEYS[1], ARGV[1])
			if size and tonumber(size) == 0 then
				redis.call('HDEL', KEYS[1], ARGV[1])
				return 1
			end
			return 0
		`),

		// incr_if_exists.lua
		incrIfExists: redis.NewScript(`
			local exists = redis.call('HEXISTS', KEYS[1], ARGV[1])
			if exists == 1 then
				redis.call('HINCRBYFLOAT', KEYS[1], ARGV[1], ARGV[2])
				return 1
			end
			return 0
		`),

		// incr_if_exists_else_set_abs.lua
		incrIfExistsElseSetAbs: redis.NewScript(`
			local exists = redis.call('HEXISTS', KEYS[1], ARGV[1])
			if exists == 1 then
				redis.call('HINCRBYFLOAT', KEYS[1], ARGV[1], ARGV[2])
			else
				local abs = tonumber(ARGV[2])
				if abs < 0 then abs = -abs end
				redis.call('HSET', KEYS[1], ARGV[1], tostring(abs))
				redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
			end
			return exists
		`),

		// decr_and_remove_if_zero.lua
		decrAndRemoveIfZero: redis.NewScript(`
			local cur = redis.call('HGET', KEYS[1], ARGV[1])
			if not cur then
				return redis.error_reply('not found')
			end
			local new = tonumber(cur) - tonumber(ARGV[2])
			if new == 0 then
				redis.call('HDEL', KEYS[1], ARGV[1])
				redis.call('ZREM', KEYS[2], ARGV[1])
				return 1
			end
			redis.call('HSET', KEYS[1], ARGV[1], tostring(new))
			return 0
		`),
	}
}

func (r *Redis) hashKey(pair string, s types.Side) string {
	return fmt.Sprintf("%s:%s:%s", r.exchange, pair, sideKey(s))
}

func (r *Redis) pricesKey(pair string, s types.Side) string {
	return fmt.Sprintf("%s:%s:%s:prices", r.exchange, pair, sideKey(s))
}

func sideKey(s types.Side) string {
	if s == types.BID {
		return "bid"
	}
	return "ask"
}

// canonicalPrice strips trailing zeros from the decimal's coefficient so
// that "0.10" and "0.1" produce the same hash field / zset member:
// comparisons must be trailing-zero-insensitive.
func canonicalPrice(d decimal.Decimal) string {
	coef := new(big.Int).Set(d.Coefficient())
	exp := d.Exponent()
	if coef.Sign() == 0 {
		return "0"
	}
	ten := big.NewInt(10)
	rem := new(big.Int)
	for {
		q, m := new(big.Int).QuoRem(coef, ten, rem)
		if m.Sign() != 0 {
			break
		}
		coef = q
		exp++
	}
	return decimal.NewFromBigInt(coef, exp).String()
}

func (r *Redis) Get(ctx context.Context, pair string, s types.Side, price decimal.Decimal) (decimal.Decimal, bool, error) {
	val, err := r.client.HGet(ctx, r.hashKey(pair, s), canonicalPrice(price)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("book.Redis.Get: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("book.Redis.Get: parse size %q: %w", val, err)
	}
	return d, true, nil
}

func (r *Redis) Set(ctx context.Context, pair string, s types.Side, price, size decimal.Decimal) error {
	cp := canonicalPrice(price)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.hashKey(pair, s), cp, size.String())
	pipe.ZAdd(ctx, r.pricesKey(pair, s), redis.Z{Score: price.InexactFloat64(), Member: cp})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("book.Redis.Set: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Redis) GetPairSide(ctx context.Context, pair string, s types.Side) (types.BookSide, error) {
	raw, err := r.client.HGetAll(ctx, r.hashKey(pair, s)).Result()
	if err != nil {
		return nil, fmt.Errorf("book.Redis.GetPairSide: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	out := make(types.BookSide, 0, len(raw))
	for priceStr, sizeStr := range raw {
		p, perr := decimal.NewFromString(priceStr)
		sz, serr := decimal.NewFromString(sizeStr)
		if perr != nil || serr != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: p, Size: sz})
	}
	if s == types.BID {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.Cmp(out[j].Price) > 0 })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.Cmp(out[j].Price) < 0 })
	}
	return out, nil
}

func (r *Redis) GetPairBook(ctx context.Context, pair string) (types.Book, error) {
	bids, err := r.GetPairSide(ctx, pair, types.BID)
	if err != nil {
		return types.Book{}, err
	}
	asks, err := r.GetPairSide(ctx, pair, types.ASK)
	if err != nil {
		return types.Book{}, err
	}
	return types.Book{Bids: bids, Asks: asks}, nil
}

func (r *Redis) SetPairBook(ctx context.Context, pair string, book types.Book) error {
	bidKey, bidPricesKey := r.hashKey(pair, types.BID), r.pricesKey(pair, types.BID)
	askKey, askPricesKey := r.hashKey(pair, types.ASK), r.pricesKey(pair, types.ASK)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, bidKey, askKey, bidPricesKey, askPricesKey)
	for _, lvl := range book.Bids {
		cp := canonicalPrice(lvl.Price)
		pipe.HSet(ctx, bidKey, cp, lvl.Size.String())
		pipe.ZAdd(ctx, bidPricesKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: cp})
	}
	for _, lvl := range book.Asks {
		cp := canonicalPrice(lvl.Price)
		pipe.HSet(ctx, askKey, cp, lvl.Size.String())
		pipe.ZAdd(ctx, askPricesKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: cp})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("book.Redis.SetPairBook: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Redis) DeletePair(ctx context.Context, pair string) error {
	keys := []string{
		r.hashKey(pair, types.BID), r.hashKey(pair, types.ASK),
		r.pricesKey(pair, types.BID), r.pricesKey(pair, types.ASK),
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("book.Redis.DeletePair: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Redis) PriceExists(ctx context.Context, pair string, s types.Side, price decimal.Decimal) (bool, error) {
	ok, err := r.client.HExists(ctx, r.hashKey(pair, s), canonicalPrice(price)).Result()
	if err != nil {
		return false, fmt.Errorf("book.Redis.PriceExists: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return ok, nil
}

func (r *Redis) Increment(ctx context.Context, pair string, s types.Side, price, delta decimal.Decimal) error {
	cp := canonicalPrice(price)
	pipe := r.client.TxPipeline()
	pipe.HIncrByFloat(ctx, r.hashKey(pair, s), cp, delta.InexactFloat64())
	pipe.ZAdd(ctx, r.pricesKey(pair, s), redis.Z{Score: price.InexactFloat64(), Member: cp})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("book.Redis.Increment: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Redis) IncrementIfExists(ctx context.Context, pair string, s types.Side, price, delta decimal.Decimal) (bool, error) {
	res, err := r.incrIfExists.Run(ctx, r.client, []string{r.hashKey(pair, s)}, canonicalPrice(price), delta.InexactFloat64()).Int64()
	if err != nil {
		return false, fmt.Errorf("book.Redis.IncrementIfExists: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return res == 1, nil
}

func (r *Redis) IncrementIfExistsElseSetAbs(ctx context.Context, pair string, s types.Side, price, size decimal.Decimal) (bool, error) {
	cp := canonicalPrice(price)
	res, err := r.incrIfExistsElseSetAbs.Run(ctx, r.client,
		[]string{r.hashKey(pair, s), r.pricesKey(pair, s)},
		cp, size.InexactFloat64(), price.InexactFloat64(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("book.Redis.IncrementIfExistsElseSetAbs: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return res == 1, nil
}

func (r *Redis) DecrementAndRemoveIfZero(ctx context.Context, pair string, s types.Side, price, size decimal.Decimal) (bool, error) {
	cp := canonicalPrice(price)
	res, err := r.decrAndRemoveIfZero.Run(ctx, r.client,
		[]string{r.hashKey(pair, s), r.pricesKey(pair, s)},
		cp, size.InexactFloat64(),
	).Int64()
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return false, fmt.Errorf("book.Redis.DecrementAndRemoveIfZero %s %s %s: %w", pair, s, price, ferr.ErrNotFound)
		}
		return false, fmt.Errorf("book.Redis.DecrementAndRemoveIfZero: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return res == 1, nil
}

func (r *Redis) Remove(ctx context.Context, pair string, s types.Side, price decimal.Decimal) error {
	cp := canonicalPrice(price)
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, r.hashKey(pair, s), cp)
	pipe.ZRem(ctx, r.pricesKey(pair, s), cp)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("book.Redis.Remove: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Redis) RemoveIfExists(ctx context.Context, pair string, s types.Side, price decimal.Decimal) (bool, error) {
	cp := canonicalPrice(price)
	pipe := r.client.TxPipeline()
	removed := pipe.HDel(ctx, r.hashKey(pair, s), cp)
	pipe.ZRem(ctx, r.pricesKey(pair, s), cp)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("book.Redis.RemoveIfExists: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	return removed.Val() == 1, nil
}

func (r *Redis) RemoveIfZeroSize(ctx context.Context, pair string, s types.Side, price decimal.Decimal) (bool, error) {
	res, err := r.deleteIfZeroSize.Run(ctx, r.client, []string{r.hashKey(pair, s)}, canonicalPrice(price)).Int64()
	if err != nil {
		return false, fmt.Errorf("book.Redis.RemoveIfZeroSize: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	if res == 1 {
		_ = r.client.ZRem(ctx, r.pricesKey(pair, s), canonicalPrice(price)).Err()
		return true, nil
	}
	return false, nil
}

func (r *Redis) SortedBidsForPair(ctx context.Context, pair string) ([]decimal.Decimal, error) {
	return r.sortedPrices(ctx, pair, types.BID)
}

func (r *Redis) SortedAsksForPair(ctx context.Context, pair string) ([]decimal.Decimal, error) {
	return r.sortedPrices(ctx, pair, types.ASK)
}

func (r *Redis) sortedPrices(ctx context.Context, pair string, s types.Side) ([]decimal.Decimal, error) {
	key := r.pricesKey(pair, s)
	var members []string
	var err error
	if s == types.BID {
		members, err = r.client.ZRevRange(ctx, key, 0, -1).Result()
	} else {
		members, err = r.client.ZRange(ctx, key, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("book.Redis.sortedPrices: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	out := make([]decimal.Decimal, 0, len(members))
	for _, m := range members {
		d, derr := decimal.NewFromString(m)
		if derr != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *Redis) GetPairs(ctx context.Context) ([]string, error) {
	pattern := fmt.Sprintf("%s:*:bid", r.exchange)
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	seen := map[string]bool{}
	var out []string
	for iter.Next(ctx) {
		parts := strings.Split(iter.Val(), ":")
		if len(parts) < 2 {
			continue
		}
		pair := parts[1]
		if !seen[pair] {
			seen[pair] = true
			out = append(out, pair)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("book.Redis.GetPairs: %w: %v", ferr.ErrBackendUnavailable, err)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Redis) GetExchangeBook(ctx context.Context) (map[string]types.Book, error) {
	pairs, err := r.GetPairs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.Book, len(pairs))
	for _, pair := range pairs {
		b, err := r.GetPairBook(ctx, pair)
		if err != nil {
			return nil, err
		}
		out[pair] = b
	}
	return out, nil
}
