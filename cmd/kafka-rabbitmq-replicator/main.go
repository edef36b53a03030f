package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"broker-replicator/cmd/config"
	"broker-replicator/internal/infra/httpserver"
	"broker-replicator/internal/infra/kafka"
	"broker-replicator/internal/infra/rabbitmq"
	"broker-replicator/internal/replicator"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
)

var logLevelMapping = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	directionFlag := flag.String("direction", string(replicator.DirectionKafkaToRabbitMQ),
		"replication direction: k2r (Kafka to RabbitMQ) or r2k (RabbitMQ to Kafka)")
	flag.Parse()

	cfg := config.LoadConfig()
	setupLogging(cfg.General.LogLevel, *directionFlag)

	direction, err := replicator.ParseDirection(*directionFlag)
	if err != nil || (direction != replicator.DirectionKafkaToRabbitMQ && direction != replicator.DirectionRabbitMQToKafka) {
		slog.Error("invalid direction", slog.String("direction", *directionFlag))
		os.Exit(1)
	}

	slog.Info("replicator starting", slog.String("direction", string(direction)))
	slog.Debug("config loaded", "data", cfg)

	registry := prometheus.NewRegistry()
	stats := replicator.NewStats(registry, direction)

	bridge, err := buildBridge(direction, cfg, stats)
	if err != nil {
		slog.Error("fatal startup error", slog.Any("error", err))
		os.Exit(1)
	}

	healthServer := httpserver.NewServer(cfg.General.HealthAddr, registry,
		replicator.NewHealthController(direction, stats))
	go healthServer.Run()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = bridge.Run(ctx)
	healthServer.Shutdown()
	if err != nil {
		slog.Error("fatal error in main loop", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("good bye")
}

func buildBridge(direction replicator.Direction, cfg config.AppConfig, stats *replicator.Stats) (*replicator.Bridge, error) {
	table, err := replicator.ParseMappings(cfg.Replication.MappingsJSON)
	if err != nil {
		return nil, err
	}
	slog.Info("replication mappings loaded", slog.Int("count", table.Len()))

	clientOpts := rabbitmq.ClientOpts{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		Username: cfg.RabbitMQ.Username,
		Password: cfg.RabbitMQ.Password, //pragma: allowlist secret
		VHost:    cfg.RabbitMQ.VHost,
	}

	switch direction {
	case replicator.DirectionKafkaToRabbitMQ:
		consumer, err := kafka.NewConsumer(kafka.ConsumerOpts{
			Brokers: cfg.Kafka.BootstrapServers,
			Topics:  table.Topics(),
		})
		if err != nil {
			return nil, err
		}
		client, err := rabbitmq.Connect(clientOpts,
			rabbitmq.BuildTopology(table.Routes(), rabbitmq.RoleProducer))
		if err != nil {
			consumer.Close()
			return nil, err
		}
		return replicator.NewBridge(replicator.BridgeOpts{
			Direction:   direction,
			Routes:      table,
			Stats:       stats,
			KafkaSource: consumer,
			Producer:    rabbitmq.NewPublisher(client),
		}), nil

	case replicator.DirectionRabbitMQToKafka:
		if group := cfg.Kafka.ConsumerGroup; group != "" {
			slog.Info("consumer group configured", slog.String("group", group))
		} else {
			slog.Info("no consumer group, using manual assignment")
		}
		producer, err := kafka.NewProducer(kafka.ProducerOpts{Brokers: cfg.Kafka.BootstrapServers})
		if err != nil {
			return nil, err
		}
		client, err := rabbitmq.Connect(clientOpts,
			rabbitmq.BuildTopology(table.Routes(), rabbitmq.RoleConsumer))
		if err != nil {
			producer.Close()
			return nil, err
		}
		if err := client.Subscribe(table.Queues()); err != nil {
			producer.Close()
			client.Close()
			return nil, err
		}
		return replicator.NewBridge(replicator.BridgeOpts{
			Direction:  direction,
			Routes:     table,
			Stats:      stats,
			AMQPSource: client,
			Producer:   producer,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported direction: %s", direction)
	}
}

func setupLogging(logLevel, direction string) {
	level := logLevelMapping[logLevel]
	baseHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: slogReplaceAttr,
	})
	handler := baseHandler.WithAttrs([]slog.Attr{slog.String("direction", direction)})
	slog.SetDefault(slog.New(handler))
}

func slogReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
		return slog.Any(a.Key, source)
	}
	return a
}
