// Package tracker revalues a fixed set of accounts on an interval and fans
// changed books out to persistence and NATS.
package tracker

import (
	"PerpMetrics/internal/core"
	"PerpMetrics/internal/ingestion"
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/persistence"
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/query"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Offerer accepts valuation messages without blocking.
type Offerer interface {
	Offer(msg ingestion.ValuationMessage) bool
}

// Config wires a Tracker.
type Config struct {
	Accounts []string
	Interval time.Duration
	Options  position.Options

	Ledger   query.LedgerSource
	Prices   query.PriceFeed
	Pipeline *core.Pipeline
	Changes  *core.ChangeTracker

	// PersistOut receives one account's rows per change. Sends block, so a
	// slow writer slows the cycle instead of losing rows.
	PersistOut chan<- []persistence.ValuationRow
	Publisher  Offerer

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

type Tracker struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) (*Tracker, error) {
	if cfg.Ledger == nil || cfg.Pipeline == nil || cfg.Changes == nil {
		return nil, errors.New("tracker: ledger, pipeline and change tracker are required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("tracker: interval %s must be positive", cfg.Interval)
	}
	for _, a := range cfg.Accounts {
		if err := query.ValidateAccount(a); err != nil {
			return nil, fmt.Errorf("tracker: %w", err)
		}
	}
	return &Tracker{cfg: cfg, now: time.Now}, nil
}

// Prime seeds the change tracker with digests already stored, so a restart
// does not rewrite unchanged books.
func (t *Tracker) Prime(digests map[string][32]byte) {
	for account, d := range digests {
		t.cfg.Changes.Changed(account, d)
	}
}

// Run revalues every tracked account once immediately and then on every
// tick until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		changed, err := t.RunOnce(ctx)
		if err != nil {
			t.cfg.Logger.Warn().Err(err).Msg("tracker cycle had errors")
		}
		t.cfg.Logger.Debug().Int("changed", changed).Int("accounts", len(t.cfg.Accounts)).Msg("tracker cycle complete")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce revalues every tracked account and emits the books whose digest
// changed. It returns the number of changed accounts; per-account failures
// are joined into the error and do not stop the cycle.
func (t *Tracker) RunOnce(ctx context.Context) (int, error) {
	if len(t.cfg.Accounts) == 0 {
		return 0, nil
	}

	ts, err := t.cfg.Ledger.TokenState(ctx)
	if err != nil {
		return 0, fmt.Errorf("token state: %w", err)
	}

	var prices map[string]*big.Int
	if t.cfg.Prices != nil {
		prices, err = t.cfg.Prices.IndexPrices(ctx)
		if err != nil {
			t.cfg.Logger.Warn().Err(err).Msg("index prices unavailable, using contract prices")
			if t.cfg.Metrics != nil {
				t.cfg.Metrics.PriceFallbacks.WithLabelValues("tracker").Inc()
			}
			prices = nil
		}
	}

	var (
		changed int
		errs    []error
	)
	for _, account := range t.cfg.Accounts {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		ok, err := t.valuate(ctx, account, ts, prices)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", account, err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

func (t *Tracker) valuate(ctx context.Context, account string, ts *core.TokenState, prices map[string]*big.Int) (bool, error) {
	as, err := t.cfg.Ledger.AccountState(ctx, account)
	if err != nil {
		return false, fmt.Errorf("account state: %w", err)
	}

	res, err := t.cfg.Pipeline.Run(&core.Inputs{Tokens: ts, Account: as, IndexPrices: prices}, t.cfg.Options)
	if err != nil {
		return false, err
	}

	digest, err := core.Digest(res.Book)
	if err != nil {
		return false, err
	}
	if !t.cfg.Changes.Changed(account, digest) {
		return false, nil
	}

	runID, err := uuid.Parse(res.RunID)
	if err != nil {
		runID = uuid.New()
	}
	at := t.now().UTC()

	if t.cfg.PersistOut != nil {
		rows, err := persistence.NewValuationRows(runID, account, digest, at, res.Book)
		if err != nil {
			return false, err
		}
		select {
		case t.cfg.PersistOut <- rows:
		case <-ctx.Done():
			// Not persisted; let the next run retry
			t.cfg.Changes.Forget(account)
			return false, ctx.Err()
		}
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.SetChannelMetrics("persist", len(t.cfg.PersistOut), cap(t.cfg.PersistOut))
		}
	}

	if t.cfg.Publisher != nil {
		t.cfg.Publisher.Offer(ingestion.ValuationMessage{
			RunID:     runID.String(),
			Account:   account,
			Digest:    hex.EncodeToString(digest[:]),
			Positions: res.Book.Positions,
			Timestamp: at,
		})
	}

	t.cfg.Logger.Info().
		Str("account", account).
		Str("run_id", res.RunID).
		Int("positions", len(res.Book.Positions)).
		Msg("valuation changed")
	return true, nil
}
