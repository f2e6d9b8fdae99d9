// Package restfetch implements the REST snapshot-refetch client: a
// resty-based client used to fetch a full L3 order-book snapshot from a
// venue's REST endpoint when a sequenced adapter (Venue C) detects a gap,
// and to drive any feed's optional periodic snapshot refresh.
//
// Built on a resty client (SetBaseURL/SetTimeout/SetRetryCount) paired
// with a token bucket, repurposed from CLOB order management to
// order-book reads.
package restfetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"feedhandler/internal/book"
	"feedhandler/internal/feed"
	"feedhandler/internal/ferr"
	"feedhandler/pkg/types"
)

// Client fetches full order-book snapshots over REST, rate-limited by a
// single token bucket (one venue's snapshot endpoint has one limit to
// respect).
type Client struct {
	http *resty.Client
	rl   *TokenBucket
}

// New builds a restfetch client against baseURL.
func New(baseURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http: httpClient,
		rl:   NewTokenBucket(15, 15),
	}
}

// gdaxBookResponse matches the GDAX/Coinbase full order-book REST shape:
// level-3 rows are [price, size, order_id].
type gdaxBookResponse struct {
	Sequence int64      `json:"sequence"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

// FetchL3Snapshot implements feed.SnapshotFetcher against a GDAX-shaped
// REST order-book endpoint (GET /products/{pair}/book?level=3).
func (c *Client) FetchL3Snapshot(ctx context.Context, pair string) (feed.L3Snapshot, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return feed.L3Snapshot{}, err
	}

	var result gdaxBookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("pair", pair).
		SetQueryParam("level", "3").
		SetResult(&result).
		Get("/products/{pair}/book")
	if err != nil {
		return feed.L3Snapshot{}, fmt.Errorf("%w: %v", ferr.ErrBackendUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return feed.L3Snapshot{}, fmt.Errorf("%w: status %d", ferr.ErrBackendUnavailable, resp.StatusCode())
	}

	snap := feed.L3Snapshot{Sequence: result.Sequence}
	snap.Bids, err = decodeLevels(result.Bids)
	if err != nil {
		return feed.L3Snapshot{}, err
	}
	snap.Asks, err = decodeLevels(result.Asks)
	if err != nil {
		return feed.L3Snapshot{}, err
	}
	return snap, nil
}

// ApplySnapshot fetches a full L3 snapshot for pair and writes it into
// store, aggregating per-order rows into price levels the same way a
// sequenced adapter does after a gap. It is the fetch callback a Poller
// drives for a feed's configured Intervals entry.
func (c *Client) ApplySnapshot(ctx context.Context, store book.Store, pair string) error {
	snap, err := c.FetchL3Snapshot(ctx, pair)
	if err != nil {
		return fmt.Errorf("restfetch apply snapshot: %w", err)
	}

	bidLevels := map[string]decimal.Decimal{}
	for _, o := range snap.Bids {
		bidLevels[o.Price.String()] = bidLevels[o.Price.String()].Add(o.Size)
	}
	askLevels := map[string]decimal.Decimal{}
	for _, o := range snap.Asks {
		askLevels[o.Price.String()] = askLevels[o.Price.String()].Add(o.Size)
	}

	var bk types.Book
	for p, sz := range bidLevels {
		d, err := decimal.NewFromString(p)
		if err != nil {
			continue
		}
		bk.Bids = append(bk.Bids, types.PriceLevel{Price: d, Size: sz})
	}
	for p, sz := range askLevels {
		d, err := decimal.NewFromString(p)
		if err != nil {
			continue
		}
		bk.Asks = append(bk.Asks, types.PriceLevel{Price: d, Size: sz})
	}
	if err := store.SetPairBook(ctx, pair, bk); err != nil {
		return fmt.Errorf("restfetch apply snapshot set book: %w", err)
	}
	return nil
}

func decodeLevels(rows [][]string) ([]feed.L3SnapshotLevel, error) {
	levels := make([]feed.L3SnapshotLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("%w: short snapshot row", ferr.ErrProtocolMalformed)
		}
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: bad price %q", ferr.ErrProtocolMalformed, row[0])
		}
		size, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad size %q", ferr.ErrProtocolMalformed, row[1])
		}
		levels = append(levels, feed.L3SnapshotLevel{OrderID: row[2], Price: price, Size: size})
	}
	return levels, nil
}
