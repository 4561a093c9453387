package persistence

import (
	"PerpMetrics/internal/observability"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	batches  [][]ValuationRow
	failures int
}

func (f *fakeWriter) WriteBatch(_ context.Context, rows []ValuationRow) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, &writeError{stage: "write_valuations", err: errors.New("connection reset")}
	}
	f.batches = append(f.batches, append([]ValuationRow(nil), rows...))
	return int64(len(rows)), nil
}

func (f *fakeWriter) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakeWriter) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func rowsFor(account string, n int) []ValuationRow {
	rows := make([]ValuationRow, n)
	for i := range rows {
		rows[i] = ValuationRow{ID: uuid.New(), Account: account}
	}
	return rows
}

func startWorker(t *testing.T, w BatchWriter, in chan []ValuationRow, batchSize int, flush time.Duration, metrics *observability.Metrics) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	worker := NewPersistenceWorker(w, in, batchSize, flush, metrics, zerolog.Nop())
	go func() { done <- worker.Run(ctx) }()
	return cancel, done
}

func TestPersistenceWorker_FlushesFullBatch(t *testing.T) {
	w := &fakeWriter{}
	in := make(chan []ValuationRow, 4)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cancel, done := startWorker(t, w, in, 3, time.Hour, metrics)

	in <- rowsFor("a", 2)
	in <- rowsFor("b", 2)

	require.Eventually(t, func() bool { return w.batchCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, w.rowCount())
	assert.Equal(t, 4.0, promtest.ToFloat64(metrics.PersistRowsWritten))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPersistenceWorker_FlushesOnTimeout(t *testing.T) {
	w := &fakeWriter{}
	in := make(chan []ValuationRow, 4)
	cancel, done := startWorker(t, w, in, 100, 20*time.Millisecond, nil)
	defer func() {
		cancel()
		<-done
	}()

	in <- rowsFor("a", 1)
	require.Eventually(t, func() bool { return w.rowCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPersistenceWorker_RetriesFailedWrites(t *testing.T) {
	w := &fakeWriter{failures: 2}
	in := make(chan []ValuationRow, 1)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cancel, done := startWorker(t, w, in, 1, time.Hour, metrics)
	defer func() {
		cancel()
		<-done
	}()

	in <- rowsFor("a", 1)
	require.Eventually(t, func() bool { return w.rowCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PersistErrors.WithLabelValues("write_valuations")))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PersistRetry))
}

func TestPersistenceWorker_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	in := make(chan []ValuationRow, 2)
	_, done := startWorker(t, w, in, 100, time.Hour, nil)

	in <- rowsFor("a", 2)
	close(in)

	require.NoError(t, <-done)
	assert.Equal(t, 2, w.rowCount())
}

func TestPersistenceWorker_FlushesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	in := make(chan []ValuationRow, 2)
	cancel, done := startWorker(t, w, in, 100, time.Hour, nil)

	in <- rowsFor("a", 3)
	require.Eventually(t, func() bool { return len(in) == 0 }, time.Second, 5*time.Millisecond)
	// Let the worker append the received rows before cancelling
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 3, w.rowCount())
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, nextBackoff(initialBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(20*time.Second))
	assert.Equal(t, maxBackoff, nextBackoff(maxBackoff))
}
