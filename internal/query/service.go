package query

import (
	"PerpMetrics/internal/core"
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/position"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidRequest marks caller input that cannot be served.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound marks a lookup with no matching position.
	ErrNotFound = errors.New("not found")
)

const DefaultRequestTimeout = 5 * time.Second

// LedgerSource supplies the ledger half of a snapshot. Balances in
// AccountState must be aligned with TokenState.Tokens.
type LedgerSource interface {
	TokenState(ctx context.Context) (*core.TokenState, error)
	AccountState(ctx context.Context, account string) (*core.AccountState, error)
}

// PriceFeed supplies the latest index prices keyed by token address.
type PriceFeed interface {
	IndexPrices(ctx context.Context) (map[string]*big.Int, error)
}

// QueryService serves valuations computed on demand. Every request reads
// a fresh snapshot; nothing is cached between requests.
type QueryService struct {
	ledger         LedgerSource
	prices         PriceFeed
	pipeline       *core.Pipeline
	marginFeeBps   int64
	requestTimeout time.Duration
	metrics        *observability.Metrics
	logger         zerolog.Logger
}

// Options configures a QueryService. Zero values take defaults.
type Options struct {
	MarginFeeBps   int64
	RequestTimeout time.Duration
	Metrics        *observability.Metrics
	Logger         zerolog.Logger
}

func NewQueryService(ledger LedgerSource, prices PriceFeed, pipeline *core.Pipeline, opts Options) *QueryService {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MarginFeeBps == 0 {
		opts.MarginFeeBps = position.DefaultMarginFeeBps
	}
	return &QueryService{
		ledger:         ledger,
		prices:         prices,
		pipeline:       pipeline,
		marginFeeBps:   opts.MarginFeeBps,
		requestTimeout: opts.RequestTimeout,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
	}
}

// GetTokens returns the normalized token map, sorted by address.
func (qs *QueryService) GetTokens(ctx context.Context) (resp *TokensResponse, err error) {
	defer qs.observe("tokens", time.Now(), &err)

	in, err := qs.load(ctx, "")
	if err != nil {
		return nil, err
	}
	res, err := qs.pipeline.Run(in, position.Options{})
	if err != nil {
		return nil, err
	}

	resp = &TokensResponse{
		AsOf:   time.Now().UTC(),
		Stats:  res.Stats,
		Tokens: make([]TokenResponse, 0, len(res.Tokens)),
	}
	for _, info := range res.Tokens {
		resp.Tokens = append(resp.Tokens, NewTokenResponse(info))
	}
	sort.Slice(resp.Tokens, func(i, j int) bool {
		return resp.Tokens[i].Address < resp.Tokens[j].Address
	})
	return resp, nil
}

// GetPositions values every position of account.
func (qs *QueryService) GetPositions(ctx context.Context, account string, opts position.Options) (resp *PositionsResponse, err error) {
	defer qs.observe("positions", time.Now(), &err)

	book, err := qs.valuate(ctx, account, opts)
	if err != nil {
		return nil, err
	}

	resp = &PositionsResponse{
		Account:   account,
		AsOf:      time.Now().UTC(),
		Positions: make([]PositionResponse, 0, len(book.Positions)),
	}
	for i := range book.Positions {
		resp.Positions = append(resp.Positions, NewPositionResponse(&book.Positions[i]))
	}
	resp.Summary = Summarize(book)
	return resp, nil
}

// GetPosition returns one valuation by its adapter-qualified key.
func (qs *QueryService) GetPosition(ctx context.Context, account, key string, opts position.Options) (resp *PositionResponse, err error) {
	defer qs.observe("position", time.Now(), &err)

	book, err := qs.valuate(ctx, account, opts)
	if err != nil {
		return nil, err
	}
	v, ok := book.ByKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, key)
	}
	r := NewPositionResponse(v)
	return &r, nil
}

// PreviewLeverage computes the leverage a position would have after the
// requested change. It reads no ledger state.
func (qs *QueryService) PreviewLeverage(ctx context.Context, req LeverageRequest) (resp *LeverageResponse, err error) {
	defer qs.observe("leverage", time.Now(), &err)

	params, err := req.params(qs.marginFeeBps)
	if err != nil {
		return nil, err
	}
	lev, err := position.Leverage(params)
	if err != nil {
		return nil, err
	}
	return NewLeverageResponse(lev), nil
}

func (qs *QueryService) valuate(ctx context.Context, account string, opts position.Options) (*position.Book, error) {
	if err := ValidateAccount(account); err != nil {
		return nil, err
	}
	in, err := qs.load(ctx, account)
	if err != nil {
		return nil, err
	}
	res, err := qs.pipeline.Run(in, opts)
	if err != nil {
		return nil, err
	}
	return res.Book, nil
}

// load fetches ledger state and index prices concurrently. A failing price
// feed degrades to contract prices instead of failing the request.
func (qs *QueryService) load(ctx context.Context, account string) (*core.Inputs, error) {
	ctx, cancel := context.WithTimeout(ctx, qs.requestTimeout)
	defer cancel()

	in := &core.Inputs{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ts, err := qs.ledger.TokenState(gctx)
		if err != nil {
			return fmt.Errorf("token state: %w", err)
		}
		in.Tokens = ts
		return nil
	})

	if account != "" {
		g.Go(func() error {
			as, err := qs.ledger.AccountState(gctx, account)
			if err != nil {
				return fmt.Errorf("account state: %w", err)
			}
			in.Account = as
			return nil
		})
	}

	if qs.prices != nil {
		g.Go(func() error {
			prices, err := qs.prices.IndexPrices(gctx)
			if err != nil {
				qs.logger.Warn().Err(err).Msg("index prices unavailable, using contract prices")
				if qs.metrics != nil {
					qs.metrics.PriceFallbacks.WithLabelValues("query").Inc()
				}
				return nil
			}
			in.IndexPrices = prices
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func (qs *QueryService) observe(endpoint string, start time.Time, errp *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *errp != nil {
		status = "error"
		qs.metrics.QueryErrors.WithLabelValues(endpoint, ErrorCode(*errp)).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// ValidateAccount checks for a 0x-prefixed 20-byte hex address.
func ValidateAccount(account string) error {
	raw, ok := strings.CutPrefix(account, "0x")
	if !ok || len(raw) != 40 {
		return fmt.Errorf("%w: account %q is not an address", ErrInvalidRequest, account)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return fmt.Errorf("%w: account %q is not an address", ErrInvalidRequest, account)
	}
	return nil
}
