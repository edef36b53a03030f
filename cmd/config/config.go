package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

var loadConfigOnce sync.Once
var configInstance AppConfig

// LoadConfig reads the environment once into a validated struct. The env
// names match the deployment manifests, so no prefix is applied.
func LoadConfig() AppConfig {
	loadConfigOnce.Do(func() {
		viper.AutomaticEnv()
		viper.SetDefault("log_level", "info")
		viper.SetDefault("health_addr", ":8080")
		viper.SetDefault("kafka_bootstrap_servers", "kafka:9092")
		viper.SetDefault("rabbitmq_host", "rabbitmq")
		viper.SetDefault("rabbitmq_port", 5672)
		viper.SetDefault("rabbitmq_username", "user")
		viper.SetDefault("rabbitmq_password", "password")
		viper.SetDefault("rabbitmq_vhost", "/")
		viper.SetDefault("replication_mappings", "[]")
		viper.SetDefault("topic_mapping", "{}")

		configInstance = AppConfig{
			General: GeneralConfig{
				LogLevel:   viper.GetString("log_level"),
				HealthAddr: viper.GetString("health_addr"),
			},
			Kafka: KafkaConfig{
				BootstrapServers: splitServers(viper.GetString("kafka_bootstrap_servers")),
				SourceServers:    splitServers(viper.GetString("source_bootstrap_servers")),
				TargetServers:    splitServers(viper.GetString("target_bootstrap_servers")),
				ConsumerGroup:    viper.GetString("consumer_group"),
			},
			RabbitMQ: RabbitMQConfig{
				Host:     viper.GetString("rabbitmq_host"),
				Port:     viper.GetInt("rabbitmq_port"),
				Username: viper.GetString("rabbitmq_username"),
				Password: viper.GetString("rabbitmq_password"),
				VHost:    viper.GetString("rabbitmq_vhost"),
			},
			Replication: ReplicationConfig{
				MappingsJSON:     viper.GetString("replication_mappings"),
				TopicMappingJSON: viper.GetString("topic_mapping"),
			},
		}
	})

	return configInstance
}

type AppConfig struct {
	General     GeneralConfig
	Kafka       KafkaConfig
	RabbitMQ    RabbitMQConfig
	Replication ReplicationConfig
}

type GeneralConfig struct {
	LogLevel   string
	HealthAddr string
}

type KafkaConfig struct {
	BootstrapServers []string
	SourceServers    []string
	TargetServers    []string
	ConsumerGroup    string
}

type RabbitMQConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
}

type ReplicationConfig struct {
	MappingsJSON     string
	TopicMappingJSON string
}

func splitServers(raw string) []string {
	var servers []string
	for _, server := range strings.Split(raw, ",") {
		if server = strings.TrimSpace(server); server != "" {
			servers = append(servers, server)
		}
	}
	return servers
}
