package ingestion

import (
	"PerpMetrics/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return &jetstream.PubAck{}, nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestValuationPublisher_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	vp := NewValuationPublisher(pub, 4, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- vp.Run(ctx) }()

	require.True(t, vp.Offer(ValuationMessage{RunID: "r1", Account: "0xabc", Digest: "d1"}))
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "perp.metrics.positions.0xabc", pub.msgs[0].subject)

	var msg ValuationMessage
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &msg))
	assert.Equal(t, "r1", msg.RunID)
	assert.Equal(t, "d1", msg.Digest)
}

func TestValuationPublisher_DropsWhenFull(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	vp := NewValuationPublisher(&fakePublisher{}, 1, metrics, zerolog.Nop())

	assert.True(t, vp.Offer(ValuationMessage{Account: "a"}))
	assert.False(t, vp.Offer(ValuationMessage{Account: "b"}))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.PublishDrops))
}

func TestValuationPublisher_ErrorsAreNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	vp := NewValuationPublisher(pub, 2, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- vp.Run(ctx) }()

	vp.Offer(ValuationMessage{Account: "a"})
	vp.Offer(ValuationMessage{Account: "b"})
	require.Eventually(t, func() bool { return len(vp.queue) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
