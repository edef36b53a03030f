package kafka

import (
	"testing"
	"time"

	"broker-replicator/internal/replicator"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerConfig(t *testing.T) {
	cfg := producerConfig()

	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.Equal(t, 30*time.Second, cfg.Producer.Timeout)
	assert.Equal(t, sarama.CompressionGZIP, cfg.Producer.Compression)
	assert.Equal(t, 16384, cfg.Producer.Flush.Bytes)
	assert.Equal(t, 5*time.Millisecond, cfg.Producer.Flush.Frequency)
	assert.True(t, cfg.Producer.Return.Successes)
	require.NoError(t, cfg.Validate())
}

func TestConsumerConfig(t *testing.T) {
	cfg := consumerConfig()

	assert.Equal(t, sarama.OffsetNewest, cfg.Consumer.Offsets.Initial)
	assert.True(t, cfg.Consumer.Return.Errors)
	assert.Equal(t, 1*time.Second, cfg.Consumer.MaxWaitTime)
	require.NoError(t, cfg.Validate())
}

func TestProvenanceHeadersFromRabbitMQ(t *testing.T) {
	headers := provenanceHeaders(replicator.Message{
		Origin: replicator.Origin{
			Queue:      "orders-q",
			Exchange:   "events",
			RoutingKey: "orders.created",
		},
		ReplicatorID: "r2k:orders-q:17",
	})

	require.Len(t, headers, 4)
	assert.Equal(t, []byte("rabbitmq_queue"), headers[0].Key)
	assert.Equal(t, []byte("orders-q"), headers[0].Value)
	assert.Equal(t, []byte("rabbitmq_exchange"), headers[1].Key)
	assert.Equal(t, []byte("events"), headers[1].Value)
	assert.Equal(t, []byte("rabbitmq_routing_key"), headers[2].Key)
	assert.Equal(t, []byte("orders.created"), headers[2].Value)
	assert.Equal(t, []byte("replicator_id"), headers[3].Key)
	assert.Equal(t, []byte("r2k:orders-q:17"), headers[3].Value)
}

func TestProvenanceHeadersFromMirror(t *testing.T) {
	headers := provenanceHeaders(replicator.Message{
		Headers: []replicator.Header{
			{Key: "trace_id", Value: []byte("abc")},
			{Key: "trace_id", Value: []byte("def")},
		},
		Origin:       replicator.Origin{Topic: "orders", Partition: 2, Offset: 9},
		ReplicatorID: "s2t:orders:2:9",
	})

	require.Len(t, headers, 3)
	assert.Equal(t, []byte("trace_id"), headers[0].Key)
	assert.Equal(t, []byte("abc"), headers[0].Value)
	assert.Equal(t, []byte("def"), headers[1].Value)
	assert.Equal(t, []byte("replicator_id"), headers[2].Key)
}
