package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("SOURCE_BOOTSTRAP_SERVERS", "source:9092")
	t.Setenv("RABBITMQ_HOST", "rabbit.internal")
	t.Setenv("RABBITMQ_PORT", "5673")
	t.Setenv("REPLICATION_MAPPINGS", `[{"kafkaTopic":"orders","rabbitmqQueue":"orders-q"}]`)
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadConfig()

	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, ":8080", cfg.General.HealthAddr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.BootstrapServers)
	assert.Equal(t, []string{"source:9092"}, cfg.Kafka.SourceServers)
	assert.Empty(t, cfg.Kafka.TargetServers)
	assert.Equal(t, "rabbit.internal", cfg.RabbitMQ.Host)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
	assert.Equal(t, "/", cfg.RabbitMQ.VHost)
	assert.Equal(t, `[{"kafkaTopic":"orders","rabbitmqQueue":"orders-q"}]`, cfg.Replication.MappingsJSON)
	assert.Equal(t, "{}", cfg.Replication.TopicMappingJSON)

	// The environment is read once; later calls return the same snapshot.
	t.Setenv("RABBITMQ_HOST", "other-host")
	assert.Equal(t, "rabbit.internal", LoadConfig().RabbitMQ.Host)
}

func TestSplitServers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitServers(" a:9092 ,b:9092, "))
	assert.Nil(t, splitServers(""))
}
