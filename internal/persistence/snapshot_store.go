package persistence

import (
	"PerpMetrics/internal/core"
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/snapshot"
	"PerpMetrics/internal/token"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"
)

// ErrNoVaultSnapshot is returned when no vault snapshot has been captured.
var ErrNoVaultSnapshot = errors.New("no vault snapshot")

// SnapshotStore reads the latest captured ledger state from Postgres. The
// indexer writes raw reader words; decoding happens here so a bad capture
// surfaces as ErrMalformedSnapshot on read.
type SnapshotStore struct {
	db            *sql.DB
	defaultStride int
	metrics       *observability.Metrics
}

func NewSnapshotStore(db *sql.DB, defaultStride int, metrics *observability.Metrics) *SnapshotStore {
	if defaultStride <= 0 {
		defaultStride = snapshot.DefaultVaultStride
	}
	return &SnapshotStore{db: db, defaultStride: defaultStride, metrics: metrics}
}

// TokenState loads the token list and the latest vault snapshot.
func (s *SnapshotStore) TokenState(ctx context.Context) (ts *core.TokenState, err error) {
	defer s.observe("vault", time.Now(), &err)

	tokens, whitelisted, err := s.loadTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}

	var (
		stride      int
		vaultRaw    []byte
		fundingRaw  []byte
		blockNumber int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT block_number, vault_stride, vault_words, funding_words
		FROM metrics.vault_snapshots
		ORDER BY block_number DESC, id DESC
		LIMIT 1
	`).Scan(&blockNumber, &stride, &vaultRaw, &fundingRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoVaultSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load vault snapshot: %w", err)
	}
	if stride == 0 {
		stride = s.defaultStride
	}

	vaultWords, err := snapshot.DecodeWords(vaultRaw)
	if err != nil {
		return nil, fmt.Errorf("vault snapshot at block %d: %w", blockNumber, err)
	}
	vault, err := snapshot.DecodeVault(vaultWords, len(whitelisted), stride)
	if err != nil {
		return nil, fmt.Errorf("vault snapshot at block %d: %w", blockNumber, err)
	}

	ts = &core.TokenState{Tokens: tokens, WhitelistedTokens: whitelisted, Vault: vault}

	if len(fundingRaw) > 0 {
		fundingWords, err := snapshot.DecodeWords(fundingRaw)
		if err != nil {
			return nil, fmt.Errorf("funding snapshot at block %d: %w", blockNumber, err)
		}
		ts.Funding, err = snapshot.DecodeFunding(fundingWords, len(whitelisted))
		if err != nil {
			return nil, fmt.Errorf("funding snapshot at block %d: %w", blockNumber, err)
		}
	}

	return ts, nil
}

// AccountState loads the latest capture for account. An account never
// captured has no balances and no positions.
func (s *SnapshotStore) AccountState(ctx context.Context, account string) (as *core.AccountState, err error) {
	defer s.observe("account", time.Now(), &err)

	var (
		balanceRaw  []byte
		queriesRaw  []byte
		positionRaw []byte
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT balance_words, position_queries, position_words
		FROM metrics.account_snapshots
		WHERE lower(account) = lower($1)
		ORDER BY block_number DESC
		LIMIT 1
	`, account).Scan(&balanceRaw, &queriesRaw, &positionRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.AccountState{Account: account}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account snapshot: %w", err)
	}

	as = &core.AccountState{Account: account}
	if err := json.Unmarshal(queriesRaw, &as.Queries); err != nil {
		return nil, fmt.Errorf("%w: position queries: %v", snapshot.ErrMalformedSnapshot, err)
	}

	if len(balanceRaw) > 0 {
		if as.Balances, err = snapshot.DecodeWords(balanceRaw); err != nil {
			return nil, fmt.Errorf("balances: %w", err)
		}
	}

	positionWords, err := snapshot.DecodeWords(positionRaw)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if as.Records, err = snapshot.DecodePositions(positionWords, len(as.Queries)); err != nil {
		return nil, err
	}
	return as, nil
}

// SaveTokens replaces the tracked token list. whitelisted must be a subset
// of tokens; its order becomes the vault order.
func (s *SnapshotStore) SaveTokens(ctx context.Context, tokens, whitelisted []token.Token) error {
	vaultIndex := make(map[string]int, len(whitelisted))
	for i, t := range whitelisted {
		vaultIndex[t.Address] = i
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM metrics.tokens`); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}

	for i, t := range tokens {
		var vi sql.NullInt32
		if idx, ok := vaultIndex[t.Address]; ok {
			vi = sql.NullInt32{Int32: int32(idx), Valid: true}
			delete(vaultIndex, t.Address)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metrics.tokens (list_index, address, symbol, decimals, is_stable, is_native, vault_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, i, t.Address, t.Symbol, t.Decimals, t.IsStable, t.IsNative, vi); err != nil {
			return fmt.Errorf("insert token %s: %w", t.Symbol, err)
		}
	}

	if len(vaultIndex) > 0 {
		return fmt.Errorf("%d whitelisted tokens are not in the token list", len(vaultIndex))
	}
	return tx.Commit()
}

// SaveVaultSnapshot records one vault reader capture.
func (s *SnapshotStore) SaveVaultSnapshot(ctx context.Context, blockNumber int64, stride int, vaultWords, fundingWords []*big.Int) error {
	vaultRaw, err := snapshot.EncodeWords(vaultWords)
	if err != nil {
		return fmt.Errorf("vault words: %w", err)
	}
	var fundingRaw []byte
	if len(fundingWords) > 0 {
		if fundingRaw, err = snapshot.EncodeWords(fundingWords); err != nil {
			return fmt.Errorf("funding words: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metrics.vault_snapshots (block_number, vault_stride, vault_words, funding_words)
		VALUES ($1, $2, $3, $4)
	`, blockNumber, stride, vaultRaw, fundingRaw)
	return err
}

// SaveAccountSnapshot records one account capture, replacing any capture
// at the same block.
func (s *SnapshotStore) SaveAccountSnapshot(ctx context.Context, blockNumber int64, as *core.AccountState, positionWords []*big.Int) error {
	queries, err := json.Marshal(as.Queries)
	if err != nil {
		return fmt.Errorf("position queries: %w", err)
	}
	if as.Queries == nil {
		queries = []byte("[]")
	}

	var balanceRaw []byte
	if len(as.Balances) > 0 {
		if balanceRaw, err = snapshot.EncodeWords(as.Balances); err != nil {
			return fmt.Errorf("balances: %w", err)
		}
	}
	positionRaw, err := snapshot.EncodeWords(positionWords)
	if err != nil {
		return fmt.Errorf("position words: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metrics.account_snapshots (account, block_number, balance_words, position_queries, position_words)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account, block_number) DO UPDATE
		SET balance_words = EXCLUDED.balance_words,
		    position_queries = EXCLUDED.position_queries,
		    position_words = EXCLUDED.position_words,
		    captured_at = NOW()
	`, as.Account, blockNumber, balanceRaw, queries, positionRaw)
	return err
}

func (s *SnapshotStore) loadTokens(ctx context.Context) (tokens, whitelisted []token.Token, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, symbol, decimals, is_stable, is_native, vault_index
		FROM metrics.tokens
		ORDER BY list_index
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	type indexed struct {
		idx int32
		t   token.Token
	}
	var wl []indexed

	for rows.Next() {
		var t token.Token
		var vi sql.NullInt32
		if err := rows.Scan(&t.Address, &t.Symbol, &t.Decimals, &t.IsStable, &t.IsNative, &vi); err != nil {
			return nil, nil, err
		}
		tokens = append(tokens, t)
		if vi.Valid {
			wl = append(wl, indexed{idx: vi.Int32, t: t})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(wl, func(i, j int) bool { return wl[i].idx < wl[j].idx })
	whitelisted = make([]token.Token, len(wl))
	for i, x := range wl {
		whitelisted[i] = x.t
	}
	return tokens, whitelisted, nil
}

func (s *SnapshotStore) observe(source string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.SnapshotFetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if *errp != nil {
		s.metrics.SnapshotFetchErrors.WithLabelValues(source).Inc()
	}
}
