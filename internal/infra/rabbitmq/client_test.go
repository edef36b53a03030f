package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptsURI(t *testing.T) {
	opts := ClientOpts{
		Host:     "rabbitmq",
		Port:     5673,
		Username: "replicator",
		Password: "secret", //pragma: allowlist secret
		VHost:    "/events",
	}

	parsed, err := amqp.ParseURI(opts.uri())
	require.NoError(t, err)
	assert.Equal(t, "rabbitmq", parsed.Host)
	assert.Equal(t, 5673, parsed.Port)
	assert.Equal(t, "replicator", parsed.Username)
	assert.Equal(t, "secret", parsed.Password)
	assert.Equal(t, "/events", parsed.Vhost)
}

func TestResolveQueue(t *testing.T) {
	client := &Client{consumers: map[string]string{"replicator-orders-q-abc": "orders-q"}}

	queue := client.resolveQueue(amqp.Delivery{ConsumerTag: "replicator-orders-q-abc"})
	assert.Equal(t, "orders-q", queue)

	queue = client.resolveQueue(amqp.Delivery{ConsumerTag: "ghost", RoutingKey: "audit-q"})
	assert.Equal(t, "audit-q", queue, "routing key on the default exchange names the queue")

	queue = client.resolveQueue(amqp.Delivery{ConsumerTag: "ghost", Exchange: "events", RoutingKey: "orders.created"})
	assert.Equal(t, "ghost", queue)
}

func TestKeyFromHeaders(t *testing.T) {
	assert.Equal(t, []byte("order-1"), keyFromHeaders(amqp.Table{"kafka_key": "order-1"}))
	assert.Equal(t, []byte{0x01, 0x02}, keyFromHeaders(amqp.Table{"kafka_key": []byte{0x01, 0x02}}))
	assert.Nil(t, keyFromHeaders(amqp.Table{"kafka_key": ""}))
	assert.Nil(t, keyFromHeaders(amqp.Table{}))
	assert.Nil(t, keyFromHeaders(nil))
}
