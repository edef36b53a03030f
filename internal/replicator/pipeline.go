package replicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"
)

var ErrRouteNotFound = errors.New("no mapping found for source")

// Producer is the destination capability of a replication leg. The pipeline
// does not know which broker sits behind it.
type Producer interface {
	Produce(ctx context.Context, route Route, msg Message) error
}

// ProducerCloser extends Producer with the flush-and-close performed during
// shutdown.
type ProducerCloser interface {
	Producer
	Close() error
}

// Pipeline turns one received message into one confirmed cross-publish,
// exactly once per process-visible occurrence. It owns the deduplication
// window and is driven from a single supervisor goroutine.
type Pipeline struct {
	direction Direction
	routes    *Table
	window    *Window
	stats     *Stats
	producer  Producer
	resolve   func(*Table, string) (Route, bool)
}

func NewPipeline(direction Direction, routes *Table, window *Window, stats *Stats, producer Producer) *Pipeline {
	resolve := (*Table).ResolveTopic
	if direction == DirectionRabbitMQToKafka {
		resolve = (*Table).ResolveQueue
	}
	return &Pipeline{
		direction: direction,
		routes:    routes,
		window:    window,
		stats:     stats,
		producer:  producer,
		resolve:   resolve,
	}
}

// Process replicates a single message. Route misses and redeliveries are
// resolved locally and are not errors of the delivery path; a returned error
// means the destination produce (or the source acknowledgment) failed and
// the message was left for the source broker to redeliver where it can.
func (p *Pipeline) Process(ctx context.Context, msg Message) error {
	source := msg.Origin.SourceID()
	route, ok := p.resolve(p.routes, source)
	if !ok {
		slog.Warn("no mapping found for source", slog.String("source", source))
		if msg.Nack != nil {
			// Reject without requeue so an unroutable message cannot loop.
			if err := msg.Nack(false); err != nil {
				slog.Error("rejecting unroutable message",
					slog.String("origin", msg.Origin.Coordinates()),
					slog.Any("error", err))
			}
		}
		return ErrRouteNotFound
	}

	msg.ReplicatorID = fmt.Sprintf("%s:%s", p.direction, msg.Origin.Coordinates())
	if p.window.Contains(msg.ReplicatorID) {
		// Already delivered within the window: acknowledge and move on.
		if msg.Ack != nil {
			return msg.Ack()
		}
		return nil
	}

	count := p.stats.RecordMessage()
	if count <= 10 || count%100 == 0 {
		slog.Info("replicating message",
			slog.Int64("number", count),
			slog.String("origin", msg.Origin.Coordinates()),
			slog.String("destination", p.destinationLabel(route)))
	}
	slog.Debug("payload", slog.String("preview", preview(msg.Body)))

	if err := p.producer.Produce(ctx, route, msg); err != nil {
		p.stats.RecordError()
		slog.Error("destination produce failed",
			slog.String("source", source),
			slog.String("origin", msg.Origin.Coordinates()),
			slog.Any("error", err))
		return fmt.Errorf("producing to destination: %w", err)
	}

	if msg.Ack != nil {
		if err := msg.Ack(); err != nil {
			p.stats.RecordError()
			slog.Error("acknowledging source message",
				slog.String("origin", msg.Origin.Coordinates()),
				slog.Any("error", err))
			return fmt.Errorf("acknowledging source message: %w", err)
		}
	}
	p.window.Add(msg.ReplicatorID)

	return nil
}

func (p *Pipeline) destinationLabel(route Route) string {
	switch p.direction {
	case DirectionKafkaToRabbitMQ:
		return fmt.Sprintf("%s/%s", route.Exchange, route.Queue)
	case DirectionRabbitMQToKafka:
		return route.KafkaTopic
	default:
		if route.TargetTopic != "" {
			return route.TargetTopic
		}
		return route.KafkaTopic
	}
}

// preview renders the payload for logging. The raw bytes stay authoritative
// for the cross-publish; a failed decode is not an error.
func preview(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	return fmt.Sprintf("<%d bytes of non-UTF-8 data>", len(body))
}
