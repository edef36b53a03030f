package rabbitmq

import (
	"context"
	"fmt"

	"broker-replicator/internal/replicator"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the produce role of the queue-broker adapter. Messages are
// persistent and carry their log-broker origin as provenance headers.
type Publisher struct {
	client *Client
}

var _ replicator.ProducerCloser = (*Publisher)(nil)

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Produce publishes one replicated message. A route without an exchange
// publishes straight to the queue through the default exchange.
func (p *Publisher) Produce(ctx context.Context, route replicator.Route, msg replicator.Message) error {
	exchange := route.Exchange
	routingKey := route.RoutingKey
	if exchange == "" {
		routingKey = route.Queue
	}

	publishing := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"kafka_topic":     msg.Origin.Topic,
			"kafka_partition": msg.Origin.Partition,
			"kafka_offset":    msg.Origin.Offset,
			"kafka_key":       string(msg.Key),
			"replicator_id":   msg.ReplicatorID,
		},
		Body: msg.Body,
	}

	if err := p.client.channel.PublishWithContext(ctx, exchange, routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("publishing to exchange %q with routing key %q: %w", exchange, routingKey, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
