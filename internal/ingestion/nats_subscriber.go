package ingestion

import (
	"StableVault/internal/observability"
	"StableVault/internal/oracle"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// PriceStream is the JetStream stream carrying feed updates, one
	// subject per asset: vault.prices.<asset>.
	PriceStream   = "VAULT_PRICES"
	PriceSubjects = "vault.prices.>"
	priceConsumer = "vault-prices"
)

// PriceSubscriber consumes feed updates from JetStream and publishes them
// into the oracle's feed store. Malformed or out-of-order messages are
// acked and dropped; only delivery failures are redelivered.
type PriceSubscriber struct {
	js       jetstream.JetStream
	store    *oracle.FeedStore
	log      zerolog.Logger
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, store *oracle.FeedStore, log zerolog.Logger, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		store:   store,
		log:     log,
		metrics: metrics,
	}
}

// Subscribe creates the durable consumer and starts delivery. Explicit ACK,
// max_deliver=5, ack_wait=30s.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       priceConsumer,
		FilterSubject: PriceSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", priceConsumer, err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		ps.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", priceConsumer, err)
	}

	ps.consumer = consumerContext
	ps.log.Info().Str("subject", PriceSubjects).Str("consumer", priceConsumer).Msg("subscribed to price feed")
	return nil
}

func (ps *PriceSubscriber) handle(msg jetstream.Msg) {
	update, err := ParsePriceUpdate(msg.Data())
	if err != nil {
		// A malformed message never parses on redelivery either.
		ps.metrics.PriceRejections.WithLabelValues("parse").Inc()
		ps.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed price update")
		msg.Ack()
		return
	}

	if !ps.store.Publish(update.Asset, update.Price, update.Timestamp, update.Sequence) {
		ps.metrics.PriceRejections.WithLabelValues("sequence").Inc()
		ps.log.Debug().Str("asset", update.Asset).Int64("sequence", update.Sequence).
			Msg("dropping stale price update")
		msg.Ack()
		return
	}

	ps.metrics.PriceUpdates.WithLabelValues(update.Asset).Inc()
	ps.metrics.LastPrice.WithLabelValues(update.Asset).Set(float64(update.Price))
	msg.Ack()
}

// Stop gracefully stops the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	ps.log.Info().Msg("price subscriber stopped")
}

// EnsureStreams creates the price stream if it does not exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:      PriceStream,
		Subjects:  []string{PriceSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
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
