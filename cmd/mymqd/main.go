package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poonai/mymq/internal/cluster"
	"github.com/poonai/mymq/internal/config"
	"github.com/poonai/mymq/internal/rebalance"
	"github.com/poonai/mymq/internal/shard"
	"github.com/poonai/mymq/internal/miot"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	log.Println("Starting mymqd...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Configuration loaded from %s", *configPath)
	log.Printf("Server will bind to %s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Shards: %d, max QoS: %d", cfg.Shards.NumShards, cfg.QoS.MaxQoS)

	clusterCfg := cluster.Config{
		NumShards: cfg.Shards.NumShards,
		Shard: shard.Config{
			InboundBatchSize: cfg.MQTT.PacketBatchSize,
			MsgBatchSize:     cfg.MQTT.PacketBatchSize,
			LocalAckEvery:    cfg.MQTT.LocalAckInterval,
		},
		Miot: miot.Config{
			BatchSize:   cfg.MQTT.PacketBatchSize,
			ReadTimeout: cfg.MQTT.ReadTimeout,
			PollEvery:   miot.DefaultConfig.PollEvery,
		},
		OutboundQueueCapacity: cluster.DefaultConfig.OutboundQueueCapacity,
		KeepAliveCheckEvery:   cluster.DefaultConfig.KeepAliveCheckEvery,
		FlushEvery:            cluster.DefaultConfig.FlushEvery,
	}

	c := cluster.New(clusterCfg, rebalance.SingleNode{})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := c.Start(addr); err != nil {
		log.Fatalf("Failed to start cluster: %v", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			http.Handle(cfg.Metrics.Path, promhttp.Handler())
			log.Printf("Metrics server starting on %s%s", metricsAddr, cfg.Metrics.Path)
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	log.Println("mymqd started successfully")
	log.Printf("  MQTT listening on %s", addr)
	if cfg.Metrics.Enabled {
		log.Printf("  Metrics available at http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path)
	}
	log.Printf("  Log level: %s", cfg.Logging.Level)
	log.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down mymqd...")
	if err := c.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	fmt.Println("mymqd stopped gracefully")
}
