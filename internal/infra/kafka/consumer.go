package kafka

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"broker-replicator/internal/replicator"

	"github.com/Shopify/sarama"
	"github.com/cenkalti/backoff/v4"
)

const (
	_connectAttempts = 5
	_connectBackoff  = 5 * time.Second
	_batchLimit      = 500
	_channelBuffer   = 256
)

type ConsumerOpts struct {
	Brokers []string
	Topics  []string
}

// Consumer tails the configured topics without a consumer group: every
// partition is assigned manually from topic metadata and positioned at the
// newest offset, so messages published while the process was down are not
// replayed. No offset is ever committed back to the broker.
type Consumer struct {
	opts       ConsumerOpts
	client     sarama.Client
	consumer   sarama.Consumer
	partitions []*partitionState
	messages   chan replicator.Message
	closing    chan struct{}
	wg         sync.WaitGroup
}

type partitionState struct {
	topic     string
	partition int32
	pc        sarama.PartitionConsumer
	consumed  atomic.Int64 // last forwarded offset, -1 until the first message
}

func consumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.ClientID = "broker-replicator"
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Fetch.Min = 1
	cfg.Consumer.MaxWaitTime = 1 * time.Second
	cfg.Metadata.RefreshFrequency = 30 * time.Second
	return cfg
}

func NewConsumer(opts ConsumerOpts) (*Consumer, error) {
	consumer := &Consumer{opts: opts}
	if err := consumer.connect(); err != nil {
		return nil, err
	}
	return consumer, nil
}

func (c *Consumer) connect() error {
	attempt := 0
	operation := func() error {
		attempt++
		slog.Info("kafka consumer connection attempt",
			slog.Int("attempt", attempt),
			slog.Int("max", _connectAttempts))
		client, err := sarama.NewClient(c.opts.Brokers, consumerConfig())
		if err != nil {
			slog.Error("connecting to kafka brokers",
				slog.Any("brokers", c.opts.Brokers),
				slog.Any("error", err))
			return err
		}
		c.client = client
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(_connectBackoff), _connectAttempts-1)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("connecting to kafka after %d attempts: %w", _connectAttempts, err)
	}

	consumer, err := sarama.NewConsumerFromClient(c.client)
	if err != nil {
		c.client.Close()
		return fmt.Errorf("creating consumer: %w", err)
	}
	c.consumer = consumer

	if err := c.assignPartitions(); err != nil {
		consumer.Close()
		c.client.Close()
		return err
	}
	return nil
}

// assignPartitions discovers every partition of the configured topics and
// tails each from the newest offset.
func (c *Consumer) assignPartitions() error {
	c.messages = make(chan replicator.Message, _channelBuffer)
	c.closing = make(chan struct{})
	for _, topic := range c.opts.Topics {
		partitions, err := c.consumer.Partitions(topic)
		if err != nil {
			return fmt.Errorf("discovering partitions for topic %q: %w", topic, err)
		}
		for _, partition := range partitions {
			pc, err := c.consumer.ConsumePartition(topic, partition, sarama.OffsetNewest)
			if err != nil {
				return fmt.Errorf("assigning %s:%d: %w", topic, partition, err)
			}
			state := &partitionState{topic: topic, partition: partition, pc: pc}
			state.consumed.Store(-1)
			c.partitions = append(c.partitions, state)
			c.wg.Add(1)
			go c.forward(state, c.closing)
			slog.Info("partition assigned",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)))
		}
	}
	slog.Info("manual assignment complete", slog.Int("partitions", len(c.partitions)))
	return nil
}

func (c *Consumer) forward(state *partitionState, closing <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-closing:
			return
		case err, ok := <-state.pc.Errors():
			if !ok {
				return
			}
			slog.Error("partition consumer error",
				slog.String("topic", state.topic),
				slog.Int("partition", int(state.partition)),
				slog.Any("error", err))
		case m, ok := <-state.pc.Messages():
			if !ok {
				return
			}
			state.consumed.Store(m.Offset)
			select {
			case c.messages <- toMessage(m):
			case <-closing:
				return
			}
		}
	}
}

func toMessage(m *sarama.ConsumerMessage) replicator.Message {
	headers := make([]replicator.Header, 0, len(m.Headers))
	for _, h := range m.Headers {
		headers = append(headers, replicator.Header{Key: string(h.Key), Value: h.Value})
	}
	return replicator.Message{
		Key:     m.Key,
		Body:    m.Value,
		Headers: headers,
		Origin: replicator.Origin{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
		},
	}
}

// Poll returns a batch of received messages, waiting up to the timeout for
// the first one and then draining without blocking. An empty batch means the
// poll timed out.
func (c *Consumer) Poll(timeout time.Duration) []replicator.Message {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var batch []replicator.Message
	select {
	case msg := <-c.messages:
		batch = append(batch, msg)
	case <-timer.C:
		return nil
	}
	for len(batch) < _batchLimit {
		select {
		case msg := <-c.messages:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

// Lag estimates outstanding messages per assigned partition from the
// broker-reported high water mark. Used only for heartbeat reporting; the
// consumed offset is process-local and never committed.
func (c *Consumer) Lag() map[string]int64 {
	lags := make(map[string]int64, len(c.partitions))
	for _, state := range c.partitions {
		var lag int64
		if consumed := state.consumed.Load(); consumed >= 0 {
			lag = state.pc.HighWaterMarkOffset() - consumed - 1
			if lag < 0 {
				lag = 0
			}
		}
		lags[fmt.Sprintf("%s:%d", state.topic, state.partition)] = lag
	}
	return lags
}

// Healthy probes the assignment and broker metadata. A false return tells
// the supervisor to reconnect.
func (c *Consumer) Healthy() bool {
	if len(c.partitions) == 0 {
		slog.Warn("no partitions assigned")
		return false
	}
	if err := c.client.RefreshMetadata(c.opts.Topics...); err != nil {
		slog.Error("consumer health check failed", slog.Any("error", err))
		return false
	}
	return true
}

// Reconnect tears the consumer down and re-runs the full connect sequence,
// including partition assignment and the seek to the live tail.
func (c *Consumer) Reconnect() error {
	if err := c.Close(); err != nil {
		slog.Error("closing consumer before reconnect", slog.Any("error", err))
	}
	c.partitions = nil
	return c.connect()
}

func (c *Consumer) Close() error {
	if c.closing != nil {
		close(c.closing)
		c.closing = nil
	}
	for _, state := range c.partitions {
		state.pc.AsyncClose()
	}
	c.wg.Wait()

	var err error
	if c.consumer != nil {
		err = c.consumer.Close()
		c.consumer = nil
	}
	if c.client != nil && !c.client.Closed() {
		c.client.Close()
	}
	c.client = nil
	return err
}
