package rabbitmq

import (
	"testing"

	"broker-replicator/internal/replicator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTopologyProducerRole(t *testing.T) {
	routes := []replicator.Route{
		{KafkaTopic: "orders", Exchange: "events", ExchangeType: "topic", Queue: "orders-q", RoutingKey: "orders.created"},
		{KafkaTopic: "payments", Exchange: "events", ExchangeType: "topic", Queue: "payments-q", RoutingKey: "payments.created"},
		{KafkaTopic: "audit", Queue: "audit-q"},
	}

	topology := BuildTopology(routes, RoleProducer)

	assert.Equal(t, map[string]string{"events": "topic"}, topology.Exchanges)
	require.Len(t, topology.Queues, 3)
	assert.Equal(t, QueueBinding{Queue: "orders-q", Exchange: "events", RoutingKey: "orders.created"}, topology.Queues[0])
	assert.Equal(t, QueueBinding{Queue: "payments-q", Exchange: "events", RoutingKey: "payments.created"}, topology.Queues[1])
	assert.Equal(t, QueueBinding{Queue: "audit-q"}, topology.Queues[2])
}

func TestBuildTopologyConsumerRole(t *testing.T) {
	routes := []replicator.Route{
		{KafkaTopic: "orders", Exchange: "events", ExchangeType: "topic", Queue: "orders-q", RoutingKey: "orders.created"},
	}

	topology := BuildTopology(routes, RoleConsumer)

	assert.Empty(t, topology.Exchanges)
	require.Len(t, topology.Queues, 1)
	assert.Equal(t, QueueBinding{Queue: "orders-q"}, topology.Queues[0])
}

func TestBuildTopologyDeduplicatesQueues(t *testing.T) {
	routes := []replicator.Route{
		{KafkaTopic: "orders", Queue: "shared-q"},
		{KafkaTopic: "payments", Queue: "shared-q"},
		{KafkaTopic: "metrics-only"},
	}

	topology := BuildTopology(routes, RoleProducer)
	assert.Len(t, topology.Queues, 1)
}
