package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"broker-replicator/internal/replicator"

	"github.com/Shopify/sarama"
	"github.com/cenkalti/backoff/v4"
)

const _produceTimeout = 30 * time.Second

type ProducerOpts struct {
	Brokers []string
}

// Producer sends with strong delivery guarantees: acknowledgment from all
// replicas, idempotent semantics so internal retries cannot duplicate
// writes, and a single in-flight request to preserve per-partition ordering.
// Produce blocks until the broker acknowledges or the timeout elapses.
type Producer struct {
	producer sarama.SyncProducer
}

var _ replicator.ProducerCloser = (*Producer)(nil)

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.ClientID = "broker-replicator"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 1 * time.Second
	cfg.Producer.Timeout = _produceTimeout
	cfg.Producer.Compression = sarama.CompressionGZIP
	cfg.Producer.Flush.Bytes = 16384
	cfg.Producer.Flush.Frequency = 5 * time.Millisecond
	cfg.Producer.Return.Successes = true
	return cfg
}

func NewProducer(opts ProducerOpts) (*Producer, error) {
	var producer sarama.SyncProducer
	attempt := 0
	operation := func() error {
		attempt++
		slog.Info("kafka producer connection attempt",
			slog.Int("attempt", attempt),
			slog.Int("max", _connectAttempts))
		p, err := sarama.NewSyncProducer(opts.Brokers, producerConfig())
		if err != nil {
			slog.Error("creating kafka producer",
				slog.Any("brokers", opts.Brokers),
				slog.Any("error", err))
			return err
		}
		producer = p
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(_connectBackoff), _connectAttempts-1)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("connecting kafka producer after %d attempts: %w", _connectAttempts, err)
	}
	return &Producer{producer: producer}, nil
}

// Produce publishes one replicated message and waits for the broker
// acknowledgment. The destination topic comes from the route: TargetTopic on
// the mirror leg, the Kafka topic itself when replicating from the queue
// broker.
func (p *Producer) Produce(_ context.Context, route replicator.Route, msg replicator.Message) error {
	topic := route.TargetTopic
	if topic == "" {
		topic = route.KafkaTopic
	}

	pm := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(msg.Body),
		Headers: provenanceHeaders(msg),
	}
	if len(msg.Key) > 0 {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}

	partition, offset, err := p.producer.SendMessage(pm)
	if err != nil {
		return fmt.Errorf("sending to topic %q: %w", topic, err)
	}
	slog.Debug("message delivered",
		slog.String("topic", topic),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset))
	return nil
}

// provenanceHeaders carries the origin coordinates to the destination: the
// queue-broker coordinates when replicating from RabbitMQ, the original
// headers when mirroring between logs, plus the replication identifier.
func provenanceHeaders(msg replicator.Message) []sarama.RecordHeader {
	var headers []sarama.RecordHeader
	if msg.Origin.Queue != "" {
		headers = append(headers,
			recordHeader("rabbitmq_queue", []byte(msg.Origin.Queue)),
			recordHeader("rabbitmq_exchange", []byte(msg.Origin.Exchange)),
			recordHeader("rabbitmq_routing_key", []byte(msg.Origin.RoutingKey)),
		)
	} else {
		for _, h := range msg.Headers {
			headers = append(headers, recordHeader(h.Key, h.Value))
		}
	}
	return append(headers, recordHeader("replicator_id", []byte(msg.ReplicatorID)))
}

func recordHeader(key string, value []byte) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(key), Value: value}
}

// Close flushes buffered messages and releases the connection. Sarama bounds
// the flush by the producer timeout.
func (p *Producer) Close() error {
	return p.producer.Close()
}
