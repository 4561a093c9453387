package persistence

import (
	"PerpMetrics/internal/position"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValuationRow represents a row in metrics.position_valuations.
type ValuationRow struct {
	ID               uuid.UUID
	RunID            uuid.UUID
	Account          string
	PositionKey      string
	Digest           []byte
	IsLong           bool
	Size             *big.Int
	Collateral       *big.Int
	NetValue         *big.Int
	Leverage         *big.Int
	LiquidationPrice *big.Int
	HasLowCollateral *bool
	Payload          []byte // JSON-encoded valuation
	ValuedAt         time.Time
}

const valuationColumns = 14

// NewValuationRows flattens a book into rows sharing runID and digest.
func NewValuationRows(runID uuid.UUID, account string, digest [32]byte, valuedAt time.Time, book *position.Book) ([]ValuationRow, error) {
	rows := make([]ValuationRow, 0, len(book.Positions))
	for i := range book.Positions {
		v := &book.Positions[i]
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal valuation %s: %w", v.AdapterKey, err)
		}
		rows = append(rows, ValuationRow{
			ID:               uuid.New(),
			RunID:            runID,
			Account:          account,
			PositionKey:      v.AdapterKey,
			Digest:           digest[:],
			IsLong:           v.Position.IsLong,
			Size:             v.Position.Size,
			Collateral:       v.Position.Collateral,
			NetValue:         v.NetValue,
			Leverage:         v.Leverage,
			LiquidationPrice: v.LiquidationPrice,
			HasLowCollateral: v.HasLowCollateral,
			Payload:          payload,
			ValuedAt:         valuedAt,
		})
	}
	return rows, nil
}

// ValuationWriter writes valuation rows to Postgres using batch inserts.
// This implementation uses multi-row INSERT; a row already stored for the
// same account, key and digest is skipped.
type ValuationWriter struct {
	db *sql.DB
}

func NewValuationWriter(db *sql.DB) *ValuationWriter {
	return &ValuationWriter{db: db}
}

// WriteBatch writes rows in one transaction and returns the number of rows
// actually inserted.
func (w *ValuationWriter) WriteBatch(ctx context.Context, rows []ValuationRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &writeError{stage: "tx_begin", err: err}
	}
	defer tx.Rollback()

	query, args := buildValuationInsert(rows)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &writeError{stage: "write_valuations", err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &writeError{stage: "tx_commit", err: err}
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// LatestDigests returns the digest most recently stored per account, used
// to avoid rewriting unchanged books after a restart.
func (w *ValuationWriter) LatestDigests(ctx context.Context) (map[string][32]byte, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT DISTINCT ON (account) account, digest
		FROM metrics.position_valuations
		ORDER BY account, valued_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][32]byte)
	for rows.Next() {
		var account string
		var raw []byte
		if err := rows.Scan(&account, &raw); err != nil {
			return nil, err
		}
		var d [32]byte
		copy(d[:], raw)
		out[account] = d
	}
	return out, rows.Err()
}

func buildValuationInsert(rows []ValuationRow) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO metrics.position_valuations
		(id, run_id, account, position_key, digest, is_long, size, collateral,
		 net_value, leverage, liquidation_price, has_low_collateral, payload, valued_at)
		VALUES `)

	args := make([]interface{}, 0, len(rows)*valuationColumns)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 1; c <= valuationColumns; c++ {
			if c > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*valuationColumns+c)
		}
		b.WriteByte(')')

		args = append(args,
			r.ID, r.RunID, r.Account, r.PositionKey, r.Digest, r.IsLong,
			numeric(r.Size), numeric(r.Collateral), numeric(r.NetValue),
			numeric(r.Leverage), numeric(r.LiquidationPrice),
			nullBool(r.HasLowCollateral), r.Payload, r.ValuedAt,
		)
	}
	b.WriteString(" ON CONFLICT (account, position_key, digest) DO NOTHING")
	return b.String(), args
}

// numeric renders v for a NUMERIC column; nil becomes NULL.
func numeric(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

// writeError tags a failure with the stage it happened in, for metrics.
type writeError struct {
	stage string
	err   error
}

func (e *writeError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }
