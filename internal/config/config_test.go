package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 1883\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shards.NumShards != 4 {
		t.Fatalf("expected default num_shards=4, got %d", cfg.Shards.NumShards)
	}
	if cfg.MQTT.DefaultReceiveMaximum != 65535 {
		t.Fatalf("expected default receive_maximum=65535, got %d", cfg.MQTT.DefaultReceiveMaximum)
	}
	if cfg.Limits.BackLogHardCap != 4096 {
		t.Fatalf("expected default back_log_hard_cap=4096, got %d", cfg.Limits.BackLogHardCap)
	}
}

func TestValidateRejectsNonPowerOfTwoShards(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	cfg.Shards.NumShards = 3
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-power-of-two num_shards")
	}
}

func TestValidateRejectsBadQoS(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	cfg.QoS.MaxQoS = 3
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_qos > 2")
	}
}

func TestValidateRejectsClashingMetricsPort(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.Port
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when metrics port collides with server port")
	}
}
