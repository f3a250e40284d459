package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Shards  ShardsConfig  `yaml:"shards"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Limits  LimitsConfig  `yaml:"limits"`
	QoS     QoSConfig     `yaml:"qos"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig contains server binding and network settings
type ServerConfig struct {
	Host                string        `yaml:"host"`                  // Network interface to bind to
	Port                int           `yaml:"port"`                  // MQTT port (1883 standard)
	KeepAlive           time.Duration `yaml:"keep_alive"`            // Client keep-alive timeout
	CleanSessionDefault bool          `yaml:"clean_session_default"` // Default clean session behavior
}

// ShardsConfig controls the sharded event-loop layout.
type ShardsConfig struct {
	NumShards int `yaml:"num_shards"` // must be a power of two (internal/rebalance assumption)
}

// MQTTConfig holds the codec/socket/session layer's settings: batch sizes,
// socket timeouts, the wire's largest accepted packet, and the default
// flow-control window a CONNECT may omit. cmd/mymqd passes on only
// PacketBatchSize, ReadTimeout and LocalAckInterval; WriteTimeout,
// MaxPacketSize and DefaultReceiveMaximum are loaded and defaulted but not
// read by the broker.
type MQTTConfig struct {
	PacketBatchSize       int           `yaml:"packet_batch_size"`
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	MaxPacketSize         uint32        `yaml:"max_packet_size"`
	DefaultReceiveMaximum uint16        `yaml:"default_receive_maximum"`
	LocalAckInterval      time.Duration `yaml:"local_ack_interval"`
}

// LimitsConfig contains connection and message limits. They are loaded and
// defaulted but not passed on to the broker: no client or message-size limit
// is enforced from them, and every session's back_log cap is the
// session.BackLogHardCap constant, whatever BackLogHardCap says here.
type LimitsConfig struct {
	MaxClients     int   `yaml:"max_clients"`      // Maximum concurrent connections
	MaxMessageSize int64 `yaml:"max_message_size"` // Maximum message payload size in bytes
	BackLogHardCap int   `yaml:"back_log_hard_cap"` // Maximum queued outbound PUBLISHes before QuotaExceeded disconnect
}

// QoSConfig contains Quality of Service settings
type QoSConfig struct {
	MaxQoS byte `yaml:"max_qos"` // Maximum QoS level (1 or 2; 0 or unset becomes 2); only logged at startup
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // Log level: debug, info, warn, error
	Format string `yaml:"format"` // Log format: text, json
	Output string `yaml:"output"` // Output: stdout, stderr, or file path
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable metrics endpoint
	Port    int    `yaml:"port"`    // Metrics HTTP server port
	Path    string `yaml:"path"`    // Metrics endpoint path
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for missing configuration options
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 1883
	}
	if c.Server.KeepAlive == 0 {
		c.Server.KeepAlive = 60 * time.Second
	}

	if c.Shards.NumShards == 0 {
		c.Shards.NumShards = 4
	}

	if c.MQTT.PacketBatchSize == 0 {
		c.MQTT.PacketBatchSize = 32
	}
	if c.MQTT.ReadTimeout == 0 {
		c.MQTT.ReadTimeout = 90 * time.Second
	}
	if c.MQTT.WriteTimeout == 0 {
		c.MQTT.WriteTimeout = 10 * time.Second
	}
	if c.MQTT.MaxPacketSize == 0 {
		c.MQTT.MaxPacketSize = 256 * 1024 * 1024
	}
	if c.MQTT.DefaultReceiveMaximum == 0 {
		c.MQTT.DefaultReceiveMaximum = 65535
	}
	if c.MQTT.LocalAckInterval == 0 {
		c.MQTT.LocalAckInterval = 50 * time.Millisecond
	}

	if c.Limits.MaxClients == 0 {
		c.Limits.MaxClients = 1000
	}
	if c.Limits.MaxMessageSize == 0 {
		c.Limits.MaxMessageSize = 256 * 1024
	}
	if c.Limits.BackLogHardCap == 0 {
		c.Limits.BackLogHardCap = 4096
	}

	if c.QoS.MaxQoS == 0 {
		c.QoS.MaxQoS = 2
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Shards.NumShards <= 0 || c.Shards.NumShards&(c.Shards.NumShards-1) != 0 {
		return fmt.Errorf("invalid num_shards: %d (must be a power of two)", c.Shards.NumShards)
	}

	if c.MQTT.PacketBatchSize <= 0 {
		return fmt.Errorf("invalid packet_batch_size: %d (must be > 0)", c.MQTT.PacketBatchSize)
	}

	if c.QoS.MaxQoS > 2 {
		return fmt.Errorf("invalid max_qos: %d (must be 0, 1, or 2)", c.QoS.MaxQoS)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d (must be 1-65535)", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics port cannot be the same as server port")
		}
	}

	return nil
}
