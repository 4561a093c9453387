package ingestion

import (
	"PerpMetrics/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// PriceSubscriberConfig names the JetStream source of index prices.
type PriceSubscriberConfig struct {
	StreamName   string
	Subject      string
	ConsumerName string
}

// PriceSubscriber consumes index price updates from JetStream into a
// PriceBook. Malformed messages are terminated rather than redelivered.
type PriceSubscriber struct {
	js       jetstream.JetStream
	book     *PriceBook
	metrics  *observability.Metrics
	logger   zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, book *PriceBook, metrics *observability.Metrics, logger zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		book:    book,
		metrics: metrics,
		logger:  logger,
	}
}

// Subscribe creates a durable consumer that starts from the latest price
// per subject, so a restart refills the book immediately.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ps *PriceSubscriber) Subscribe(ctx context.Context, cfg PriceSubscriberConfig) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
	}

	cc, err := consumer.Consume(ps.handle)
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
	}
	ps.consumer = cc

	ps.logger.Info().
		Str("subject", cfg.Subject).
		Str("consumer", cfg.ConsumerName).
		Msg("subscribed to index prices")
	return nil
}

func (ps *PriceSubscriber) handle(msg jetstream.Msg) {
	if ps.metrics != nil {
		if md, err := msg.Metadata(); err == nil {
			ps.metrics.NATSPullLatency.WithLabelValues(msg.Subject()).Observe(time.Since(md.Timestamp).Seconds())
		}
	}

	updates, err := ParsePriceUpdates(msg.Data())
	if err != nil {
		ps.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping price message")
		if ps.metrics != nil {
			ps.metrics.PriceUpdates.WithLabelValues("invalid").Inc()
		}
		msg.Term()
		return
	}

	for _, u := range updates {
		ps.book.Apply(u)
	}
	msg.Ack()
}

// Stop stops the consumer. Messages already delivered are still handled.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	ps.logger.Info().Msg("price subscriber stopped")
}

// EnsureStreams creates the price and valuation streams if they don't
// exist. Streams use FileStorage, retention=Limits.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, priceStream, priceSubject, valuationStream string) error {
	streams := []jetstream.StreamConfig{
		{
			Name:              priceStream,
			Subjects:          []string{priceSubject},
			Storage:           jetstream.FileStorage,
			Retention:         jetstream.LimitsPolicy,
			MaxAge:            24 * time.Hour,
			MaxMsgsPerSubject: 100,
			Replicas:          1,
		},
		{
			Name:      valuationStream,
			Subjects:  []string{ValuationSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("perpmetrics"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
