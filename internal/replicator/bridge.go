package replicator

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	_pollTimeout       = 5 * time.Second
	_consumeSlice      = 1 * time.Second
	_defaultHeartbeat  = 60 * time.Second
	_maxEmptyPollRun   = 100
	_errorPause        = 1 * time.Second
	_emptyPollLogEvery = 30
)

// KafkaSource is the consume capability of the log-broker adapter.
type KafkaSource interface {
	Poll(timeout time.Duration) []Message
	Lag() map[string]int64
	Healthy() bool
	Reconnect() error
	Close() error
}

// AMQPSource is the consume capability of the queue-broker adapter.
// Deliveries from all subscribed queues arrive merged on one channel; Closed
// signals connection loss, after which Reconnect re-runs the full dial,
// topology and subscription sequence and Deliveries must be re-read.
type AMQPSource interface {
	Deliveries() <-chan Message
	Closed() <-chan error
	Reconnect() error
	Close() error
}

// Bridge is the supervisor for one replication direction: it drives the
// source adapter, dispatches every message through the pipeline, emits the
// periodic heartbeat and coordinates graceful shutdown. Exactly one of the
// two sources is set, matching the direction.
type Bridge struct {
	direction     Direction
	pipeline      *Pipeline
	stats         *Stats
	kafkaSource   KafkaSource
	amqpSource    AMQPSource
	producer      ProducerCloser
	heartbeat     time.Duration
	lastHeartbeat time.Time
}

type BridgeOpts struct {
	Direction   Direction
	Routes      *Table
	Stats       *Stats
	KafkaSource KafkaSource
	AMQPSource  AMQPSource
	Producer    ProducerCloser
	Heartbeat   time.Duration
}

func NewBridge(opts BridgeOpts) *Bridge {
	heartbeat := opts.Heartbeat
	if heartbeat == 0 {
		heartbeat = _defaultHeartbeat
	}
	return &Bridge{
		direction:   opts.Direction,
		pipeline:    NewPipeline(opts.Direction, opts.Routes, NewWindow(), opts.Stats, opts.Producer),
		stats:       opts.Stats,
		kafkaSource: opts.KafkaSource,
		amqpSource:  opts.AMQPSource,
		producer:    opts.Producer,
		heartbeat:   heartbeat,
	}
}

// Run drives the replication loop until the context is cancelled. A nil
// return is a graceful shutdown; a non-nil return is a fatal loop failure
// the caller should exit non-zero on. Cancellation is cooperative: it is
// observed at iteration boundaries, and in-flight work finishes first.
func (b *Bridge) Run(ctx context.Context) error {
	slog.Info("replication started", slog.String("direction", string(b.direction)))
	b.lastHeartbeat = time.Now()

	var err error
	if b.kafkaSource != nil {
		err = b.runPollLoop(ctx)
	} else {
		err = b.runConsumeLoop(ctx)
	}

	b.shutdown()
	return err
}

func (b *Bridge) runPollLoop(ctx context.Context) error {
	slog.Info("listening for kafka messages")
	emptyPolls := 0
	for ctx.Err() == nil {
		b.maybeHeartbeat()
		if err := b.pollIteration(ctx, &emptyPolls); err != nil {
			return err
		}
	}
	return nil
}

// pollIteration runs one poll/dispatch cycle. Panics are contained here so
// a bad message can never take the loop down; only a failed reconnect after
// the consumer health probe is fatal.
func (b *Bridge) pollIteration(ctx context.Context, emptyPolls *int) (fatal error) {
	defer func() {
		if r := recover(); r != nil {
			b.stats.RecordError()
			slog.Error("recovered from panic in replication loop", slog.Any("panic", r))
			time.Sleep(_errorPause)
		}
	}()

	batch := b.kafkaSource.Poll(_pollTimeout)
	if len(batch) == 0 {
		*emptyPolls++
		if *emptyPolls <= 5 || *emptyPolls%_emptyPollLogEvery == 0 {
			slog.Debug("no messages in poll", slog.Int("streak", *emptyPolls))
		}
		if *emptyPolls > _maxEmptyPollRun {
			*emptyPolls = 0
			if !b.kafkaSource.Healthy() {
				slog.Warn("consumer unhealthy after empty poll streak, reconnecting")
				if err := b.kafkaSource.Reconnect(); err != nil {
					return fmt.Errorf("reconnecting consumer: %w", err)
				}
				slog.Info("consumer reconnected")
			}
		}
		return nil
	}

	*emptyPolls = 0
	slog.Info("received batch", slog.Int("count", len(batch)))
	processed := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if err := b.pipeline.Process(ctx, msg); err == nil {
			processed++
		}
	}
	if processed > 0 {
		slog.Info("batch processed", slog.Int("count", processed))
	}
	return nil
}

func (b *Bridge) runConsumeLoop(ctx context.Context) error {
	slog.Info("listening for rabbitmq messages")
	for ctx.Err() == nil {
		b.maybeHeartbeat()
		select {
		case <-ctx.Done():
		case err, ok := <-b.amqpSource.Closed():
			if !ok {
				// Our own shutdown closed the connection; the context
				// check at the top of the loop ends the run.
				time.Sleep(_errorPause)
				continue
			}
			b.stats.RecordError()
			slog.Error("rabbitmq connection lost", slog.Any("error", err))
			if rerr := b.amqpSource.Reconnect(); rerr != nil {
				return fmt.Errorf("reconnecting to rabbitmq: %w", rerr)
			}
			slog.Info("rabbitmq connection re-established")
		case msg := <-b.amqpSource.Deliveries():
			// Errors are counted and logged inside the pipeline; an
			// unacked delivery is redelivered by the broker.
			_ = b.pipeline.Process(ctx, msg)
		case <-time.After(_consumeSlice):
		}
	}
	return nil
}

func (b *Bridge) maybeHeartbeat() {
	if time.Since(b.lastHeartbeat) < b.heartbeat {
		return
	}
	b.lastHeartbeat = time.Now()

	snapshot := b.stats.Snapshot()
	attrs := []any{
		slog.Duration("uptime", snapshot.Uptime.Truncate(time.Second)),
		slog.Int64("messages", snapshot.Messages),
		slog.Int64("errors", snapshot.Errors),
	}
	if snapshot.LastMessage.IsZero() {
		attrs = append(attrs, slog.String("last_message", "never"))
	} else {
		attrs = append(attrs, slog.Duration("since_last_message",
			time.Since(snapshot.LastMessage).Truncate(time.Second)))
	}
	if snapshot.Messages > 0 && snapshot.Uptime > 0 {
		attrs = append(attrs, slog.Float64("rate_per_second",
			float64(snapshot.Messages)/snapshot.Uptime.Seconds()))
	}
	slog.Info("heartbeat", attrs...)

	if b.kafkaSource != nil {
		var total int64
		for partition, lag := range b.kafkaSource.Lag() {
			if lag > 0 {
				slog.Info("partition lag",
					slog.String("partition", partition),
					slog.Int64("lag", lag))
				total += lag
			}
		}
		if total > 0 {
			slog.Warn("total lag", slog.Int64("messages", total))
		}
	}
}

// shutdown flushes the produce side first so confirmed messages are not
// lost, then closes the consume side and reports the final counters.
func (b *Bridge) shutdown() {
	slog.Info("cleaning up resources")

	if b.producer != nil {
		slog.Info("flushing producer")
		if err := b.producer.Close(); err != nil {
			slog.Error("closing producer", slog.Any("error", err))
		}
	}
	if b.kafkaSource != nil {
		slog.Info("closing consumer")
		if err := b.kafkaSource.Close(); err != nil {
			slog.Error("closing consumer", slog.Any("error", err))
		}
	}
	if b.amqpSource != nil {
		slog.Info("closing rabbitmq connection")
		if err := b.amqpSource.Close(); err != nil {
			slog.Error("closing rabbitmq connection", slog.Any("error", err))
		}
	}

	snapshot := b.stats.Snapshot()
	slog.Info("replicator shutdown complete",
		slog.Int64("messages", snapshot.Messages),
		slog.Int64("errors", snapshot.Errors))
}
