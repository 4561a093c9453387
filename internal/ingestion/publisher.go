package ingestion

import (
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/position"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// ValuationSubjectPrefix is the subject root of published valuations.
// Subjects follow the pattern: perp.metrics.positions.{account}
const ValuationSubjectPrefix = "perp.metrics.positions"

// ValuationMessage is one account's book, published after each change.
type ValuationMessage struct {
	RunID     string               `json:"run_id"`
	Account   string               `json:"account"`
	Digest    string               `json:"digest"`
	Positions []position.Valuation `json:"positions"`
	Timestamp time.Time            `json:"timestamp"`
}

// Publisher is the subset of jetstream.JetStream the publisher needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ValuationPublisher pushes valuations to NATS for downstream consumers.
// Publishing is best-effort: a full queue drops the message, and the next
// change for the account supersedes it anyway.
type ValuationPublisher struct {
	pub     Publisher
	queue   chan ValuationMessage
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewValuationPublisher(pub Publisher, queueSize int, metrics *observability.Metrics, logger zerolog.Logger) *ValuationPublisher {
	return &ValuationPublisher{
		pub:     pub,
		queue:   make(chan ValuationMessage, queueSize),
		metrics: metrics,
		logger:  logger,
	}
}

// Offer enqueues msg without blocking. It reports false if msg was dropped.
func (vp *ValuationPublisher) Offer(msg ValuationMessage) bool {
	select {
	case vp.queue <- msg:
		return true
	default:
		if vp.metrics != nil {
			vp.metrics.PublishDrops.Inc()
		}
		vp.logger.Warn().Str("account", msg.Account).Msg("publish queue full, dropping valuation")
		return false
	}
}

// Run drains the queue until ctx is cancelled.
func (vp *ValuationPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-vp.queue:
			if vp.metrics != nil {
				vp.metrics.SetChannelMetrics("publish", len(vp.queue), cap(vp.queue))
			}
			if err := vp.publish(ctx, msg); err != nil {
				// Non-fatal: consumers can query the API directly
				vp.logger.Warn().Err(err).Str("account", msg.Account).Msg("valuation publish failed")
			}
		}
	}
}

func (vp *ValuationPublisher) publish(ctx context.Context, msg ValuationMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal valuation: %w", err)
	}

	_, err = vp.pub.Publish(ctx, ValuationSubject(msg.Account), data, jetstream.WithMsgID(msg.Account+":"+msg.Digest))
	return err
}

// ValuationSubject returns the subject for account's valuations.
func ValuationSubject(account string) string {
	return ValuationSubjectPrefix + "." + account
}
