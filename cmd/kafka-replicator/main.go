package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"broker-replicator/cmd/config"
	"broker-replicator/internal/infra/httpserver"
	"broker-replicator/internal/infra/kafka"
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
	directionFlag := flag.String("direction", string(replicator.DirectionSourceToTarget),
		"replication direction: s2t (source to target) or t2s (target to source)")
	flag.Parse()

	cfg := config.LoadConfig()
	setupLogging(cfg.General.LogLevel, *directionFlag)

	direction, err := replicator.ParseDirection(*directionFlag)
	if err != nil || (direction != replicator.DirectionSourceToTarget && direction != replicator.DirectionTargetToSource) {
		slog.Error("invalid direction", slog.String("direction", *directionFlag))
		os.Exit(1)
	}

	slog.Info("replicator starting", slog.String("direction", string(direction)))

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
	sourceServers := cfg.Kafka.SourceServers
	targetServers := cfg.Kafka.TargetServers
	if direction == replicator.DirectionTargetToSource {
		sourceServers, targetServers = targetServers, sourceServers
	}
	if len(sourceServers) == 0 || len(targetServers) == 0 {
		return nil, errors.New("missing SOURCE_BOOTSTRAP_SERVERS or TARGET_BOOTSTRAP_SERVERS")
	}

	table, err := replicator.ParseTopicMapping(cfg.Replication.TopicMappingJSON)
	if err != nil {
		return nil, err
	}
	slog.Info("topic mapping loaded",
		slog.Int("count", table.Len()),
		slog.Any("topics", table.Topics()))

	consumer, err := kafka.NewConsumer(kafka.ConsumerOpts{
		Brokers: sourceServers,
		Topics:  table.Topics(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating source consumer: %w", err)
	}
	producer, err := kafka.NewProducer(kafka.ProducerOpts{Brokers: targetServers})
	if err != nil {
		consumer.Close()
		return nil, fmt.Errorf("creating target producer: %w", err)
	}

	return replicator.NewBridge(replicator.BridgeOpts{
		Direction:   direction,
		Routes:      table,
		Stats:       stats,
		KafkaSource: consumer,
		Producer:    producer,
	}), nil
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
