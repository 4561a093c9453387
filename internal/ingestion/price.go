package ingestion

import (
	fpmath "PerpMetrics/internal/math"
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/snapshot"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ErrInvalidPriceUpdate marks a feed message that cannot be applied.
var ErrInvalidPriceUpdate = errors.New("invalid price update")

// PriceUpdate is one index price observation.
type PriceUpdate struct {
	Token     string
	Price     *big.Int // USD scale
	Timestamp time.Time
	Source    string
}

// ParsePriceUpdates decodes a feed message. A message is either one update
// object or {"prices": [...]}. Each update carries "token", a timestamp in
// "timestamp_ms", and either "price" (USD-scaled integer string) or
// "price_usd" (decimal string such as "2000.15").
func ParsePriceUpdates(data []byte) ([]PriceUpdate, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPriceUpdate)
	}

	root := gjson.ParseBytes(data)
	if batch := root.Get("prices"); batch.Exists() {
		if !batch.IsArray() {
			return nil, fmt.Errorf("%w: prices is not an array", ErrInvalidPriceUpdate)
		}
		items := batch.Array()
		updates := make([]PriceUpdate, 0, len(items))
		for i, item := range items {
			u, err := parsePriceUpdate(item)
			if err != nil {
				return nil, fmt.Errorf("prices[%d]: %w", i, err)
			}
			updates = append(updates, u)
		}
		return updates, nil
	}

	u, err := parsePriceUpdate(root)
	if err != nil {
		return nil, err
	}
	return []PriceUpdate{u}, nil
}

func parsePriceUpdate(r gjson.Result) (PriceUpdate, error) {
	var u PriceUpdate

	u.Token = strings.TrimSpace(r.Get("token").String())
	if u.Token == "" {
		return u, fmt.Errorf("%w: missing token", ErrInvalidPriceUpdate)
	}

	ts := r.Get("timestamp_ms")
	if !ts.Exists() || ts.Int() <= 0 {
		return u, fmt.Errorf("%w: %s: missing timestamp_ms", ErrInvalidPriceUpdate, u.Token)
	}
	u.Timestamp = time.UnixMilli(ts.Int()).UTC()
	u.Source = r.Get("source").String()

	switch raw, human := r.Get("price"), r.Get("price_usd"); {
	case raw.Exists():
		v, err := snapshot.ParseUint256(raw.String())
		if err != nil {
			return u, fmt.Errorf("%w: %s: %v", ErrInvalidPriceUpdate, u.Token, err)
		}
		u.Price = v
	case human.Exists():
		d, err := decimal.NewFromString(human.String())
		if err != nil {
			return u, fmt.Errorf("%w: %s: %v", ErrInvalidPriceUpdate, u.Token, err)
		}
		u.Price = d.Shift(fpmath.USDDecimals).BigInt()
	default:
		return u, fmt.Errorf("%w: %s: missing price", ErrInvalidPriceUpdate, u.Token)
	}

	if u.Price.Sign() <= 0 {
		return u, fmt.Errorf("%w: %s: price must be positive", ErrInvalidPriceUpdate, u.Token)
	}
	return u, nil
}

type priceEntry struct {
	price     *big.Int
	timestamp time.Time
}

// PriceBook holds the latest index price per token. It is safe for
// concurrent use and serves as the service's PriceFeed.
type PriceBook struct {
	mu      sync.RWMutex
	prices  map[string]priceEntry
	maxAge  time.Duration
	now     func() time.Time
	metrics *observability.Metrics
}

// NewPriceBook returns an empty book. Prices older than maxAge are not
// served; maxAge <= 0 disables the check.
func NewPriceBook(maxAge time.Duration, metrics *observability.Metrics) *PriceBook {
	return &PriceBook{
		prices:  make(map[string]priceEntry),
		maxAge:  maxAge,
		now:     time.Now,
		metrics: metrics,
	}
}

// Apply stores u unless the book already holds a newer observation for the
// token. Tokens are keyed by lowercase address. It reports whether u was
// stored.
func (b *PriceBook) Apply(u PriceUpdate) bool {
	key := strings.ToLower(u.Token)

	b.mu.Lock()
	cur, ok := b.prices[key]
	applied := !ok || !u.Timestamp.Before(cur.timestamp)
	if applied {
		b.prices[key] = priceEntry{price: fpmath.Clone(u.Price), timestamp: u.Timestamp}
	}
	size := len(b.prices)
	b.mu.Unlock()

	if b.metrics != nil {
		status := "applied"
		if !applied {
			status = "stale"
		}
		b.metrics.PriceUpdates.WithLabelValues(status).Inc()
		b.metrics.PriceBookSize.Set(float64(size))
	}
	return applied
}

// IndexPrices returns a copy of every price still within maxAge.
func (b *PriceBook) IndexPrices(ctx context.Context) (map[string]*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	now := b.now()
	out := make(map[string]*big.Int, len(b.prices))
	for tok, e := range b.prices {
		if b.maxAge > 0 && now.Sub(e.timestamp) > b.maxAge {
			continue
		}
		out[tok] = fpmath.Clone(e.price)
	}
	return out, nil
}

// Len returns the number of tokens with a stored price, fresh or not.
func (b *PriceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.prices)
}
