package rabbitmq

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"broker-replicator/internal/replicator"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	_connectAttempts = 5
	_connectBackoff  = 5 * time.Second
	_heartbeat       = 600 * time.Second
	_dialTimeout     = 30 * time.Second
	_prefetchCount   = 100
	_deliveryBuffer  = 256
)

type ClientOpts struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
}

func (o ClientOpts) uri() string {
	u := amqp.URI{
		Scheme:   "amqp",
		Host:     o.Host,
		Port:     o.Port,
		Username: o.Username,
		Password: o.Password,
		Vhost:    o.VHost,
	}
	return u.String()
}

// Client wraps one connection and channel to the queue broker. Reconnection
// always re-runs topology declaration and, for the consume role, the queue
// subscriptions, before the client is considered connected again.
type Client struct {
	opts     ClientOpts
	topology Topology

	conn    *amqp.Connection
	channel *amqp.Channel
	closed  chan error

	mu        sync.RWMutex
	consumers map[string]string // consumer tag -> queue
	queues    []string          // queues to resubscribe after reconnect

	deliveries chan replicator.Message
}

func Connect(opts ClientOpts, topology Topology) (*Client, error) {
	client := &Client{
		opts:      opts,
		topology:  topology,
		consumers: make(map[string]string),
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	attempt := 0
	operation := func() error {
		attempt++
		slog.Info("rabbitmq connection attempt",
			slog.Int("attempt", attempt),
			slog.Int("max", _connectAttempts))
		conn, err := amqp.DialConfig(c.opts.uri(), amqp.Config{
			Heartbeat: _heartbeat,
			Dial:      amqp.DefaultDial(_dialTimeout),
		})
		if err != nil {
			slog.Error("connecting to rabbitmq",
				slog.String("host", c.opts.Host),
				slog.Int("port", c.opts.Port),
				slog.Any("error", err))
			return err
		}
		c.conn = conn
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(_connectBackoff), _connectAttempts-1)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("connecting to rabbitmq after %d attempts: %w", _connectAttempts, err)
	}

	channel, err := c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}
	c.channel = channel

	c.watchConnection()
	c.declareTopology()
	return nil
}

// watchConnection forwards broker-side close and flow-control events. The
// closed channel receives exactly one error on abnormal loss and is closed
// silently when we shut the connection down ourselves.
func (c *Client) watchConnection() {
	closeNotify := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	c.closed = make(chan error, 1)
	go func(closed chan error) {
		err, ok := <-closeNotify
		if !ok {
			close(closed)
			return
		}
		closed <- err
	}(c.closed)

	blockNotify := c.conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	go func() {
		for blocking := range blockNotify {
			if blocking.Active {
				slog.Warn("rabbitmq connection blocked", slog.String("reason", blocking.Reason))
			} else {
				slog.Info("rabbitmq connection unblocked")
			}
		}
	}()
}

// declareTopology provisions exchanges, queues and bindings. Individual
// failures are logged and skipped rather than aborting startup; affected
// routes surface later as route misses. A failed declaration closes the
// channel, so it is reopened before moving on.
func (c *Client) declareTopology() {
	for exchange, kind := range c.topology.Exchanges {
		if err := c.channel.ExchangeDeclare(exchange, kind, true, false, false, false, nil); err != nil {
			slog.Error("declaring exchange",
				slog.String("exchange", exchange),
				slog.Any("error", err))
			c.reopenChannel()
			continue
		}
		slog.Info("exchange declared",
			slog.String("exchange", exchange),
			slog.String("kind", kind))
	}

	for _, binding := range c.topology.Queues {
		if _, err := c.channel.QueueDeclare(binding.Queue, true, false, false, false, nil); err != nil {
			slog.Error("declaring queue",
				slog.String("queue", binding.Queue),
				slog.Any("error", err))
			c.reopenChannel()
			continue
		}
		slog.Info("queue declared", slog.String("queue", binding.Queue))

		if binding.Exchange == "" || binding.RoutingKey == "" {
			continue
		}
		if err := c.channel.QueueBind(binding.Queue, binding.RoutingKey, binding.Exchange, false, nil); err != nil {
			slog.Error("binding queue",
				slog.String("queue", binding.Queue),
				slog.String("exchange", binding.Exchange),
				slog.Any("error", err))
			c.reopenChannel()
			continue
		}
		slog.Info("queue bound",
			slog.String("queue", binding.Queue),
			slog.String("exchange", binding.Exchange),
			slog.String("routing_key", binding.RoutingKey))
	}
}

func (c *Client) reopenChannel() {
	channel, err := c.conn.Channel()
	if err != nil {
		slog.Error("reopening channel", slog.Any("error", err))
		return
	}
	c.channel = channel
}

// Subscribe registers a manual-acknowledgment consumer on every queue and
// merges their deliveries into a single channel.
func (c *Client) Subscribe(queues []string) error {
	c.queues = queues
	c.deliveries = make(chan replicator.Message, _deliveryBuffer)
	if err := c.channel.Qos(_prefetchCount, 0, false); err != nil {
		return fmt.Errorf("setting channel prefetch: %w", err)
	}
	for _, queue := range queues {
		if err := c.subscribeQueue(queue); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) subscribeQueue(queue string) error {
	tag := fmt.Sprintf("replicator-%s-%s", queue, uuid.NewString())
	deliveries, err := c.channel.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming from queue %q: %w", queue, err)
	}

	c.mu.Lock()
	c.consumers[tag] = queue
	c.mu.Unlock()

	go c.forward(deliveries)
	slog.Info("consumer registered",
		slog.String("queue", queue),
		slog.String("consumer_tag", tag))
	return nil
}

func (c *Client) forward(deliveries <-chan amqp.Delivery) {
	out := c.deliveries
	for d := range deliveries {
		out <- c.toMessage(d)
	}
}

func (c *Client) toMessage(d amqp.Delivery) replicator.Message {
	return replicator.Message{
		Key:  keyFromHeaders(d.Headers),
		Body: d.Body,
		Origin: replicator.Origin{
			Queue:       c.resolveQueue(d),
			DeliveryTag: d.DeliveryTag,
			Exchange:    d.Exchange,
			RoutingKey:  d.RoutingKey,
		},
		Ack: func() error {
			return d.Ack(false)
		},
		Nack: func(requeue bool) error {
			return d.Nack(false, requeue)
		},
	}
}

// resolveQueue recovers the logical queue for a delivery. The broker only
// hands back routing metadata, so fall back through the tag table, the
// routing key on the default exchange, and finally the tag itself.
func (c *Client) resolveQueue(d amqp.Delivery) string {
	c.mu.RLock()
	queue, ok := c.consumers[d.ConsumerTag]
	c.mu.RUnlock()
	if ok {
		return queue
	}
	if d.Exchange == "" && d.RoutingKey != "" {
		return d.RoutingKey
	}
	slog.Warn("could not resolve queue for delivery",
		slog.String("consumer_tag", d.ConsumerTag))
	return d.ConsumerTag
}

// keyFromHeaders recovers the original record key when a previously
// replicated message carries one.
func keyFromHeaders(headers amqp.Table) []byte {
	switch v := headers["kafka_key"].(type) {
	case string:
		if v != "" {
			return []byte(v)
		}
	case []byte:
		return v
	}
	return nil
}

func (c *Client) Deliveries() <-chan replicator.Message {
	return c.deliveries
}

func (c *Client) Closed() <-chan error {
	return c.closed
}

// Reconnect tears down the old connection and re-runs the full connect
// sequence: dial with retry, topology, subscriptions. Delivery tags restart
// with the new channel, so pending unacked messages are redelivered.
func (c *Client) Reconnect() error {
	if err := c.Close(); err != nil {
		slog.Error("closing rabbitmq connection before reconnect", slog.Any("error", err))
	}
	c.mu.Lock()
	c.consumers = make(map[string]string)
	c.mu.Unlock()

	if err := c.connect(); err != nil {
		return err
	}
	if len(c.queues) > 0 {
		return c.Subscribe(c.queues)
	}
	return nil
}

func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
