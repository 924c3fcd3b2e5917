package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "overseer.yaml")
	data := `version: 1
listen: 127.0.0.1:7171
db_path: .overseer/overseer.db
gateway:
  addr: 127.0.0.1:7433
  token_env: OVERSEER_GATEWAY_TOKEN
  device_key_path: .overseer/device.json
executor:
  poll_interval_sec: 5
  agent_pool_size: 2
stream:
  heartbeat_sec: 10
`
	os.WriteFile(p, []byte(data), 0644)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != "127.0.0.1:7171" {
		t.Fatalf("listen = %s", cfg.Listen)
	}
	if cfg.Executor.PollInterval() != 5*time.Second {
		t.Fatalf("poll interval = %s", cfg.Executor.PollInterval())
	}
	if cfg.Executor.AgentPoolSize != 2 {
		t.Fatalf("pool size = %d", cfg.Executor.AgentPoolSize)
	}
	if cfg.Stream.Heartbeat() != 10*time.Second {
		t.Fatalf("heartbeat = %s", cfg.Stream.Heartbeat())
	}
}

func TestLoad_MissingListen(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "overseer.yaml")
	data := `version: 1
db_path: .overseer/overseer.db
gateway:
  addr: 127.0.0.1:7433
`
	os.WriteFile(p, []byte(data), 0644)

	if _, err := Load(p); err == nil {
		t.Fatal("expected validation error for missing listen address")
	}
}

func TestLoad_BadGatewayAddr(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "overseer.yaml")
	data := `version: 1
listen: 127.0.0.1:7171
db_path: db.sqlite
gateway:
  addr: not-an-addr
`
	os.WriteFile(p, []byte(data), 0644)

	if _, err := Load(p); err == nil {
		t.Fatal("expected validation error for malformed gateway addr")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/overseer.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	var e Executor
	if e.PollInterval() != 2*time.Second {
		t.Fatalf("default poll interval = %s", e.PollInterval())
	}
	var s Stream
	if s.Heartbeat() != 30*time.Second {
		t.Fatalf("default heartbeat = %s", s.Heartbeat())
	}
}

func TestEffectiveToken(t *testing.T) {
	g := Gateway{Token: "file-token", TokenEnv: "OVERSEER_TEST_TOKEN"}
	if got := g.EffectiveToken(); got != "file-token" {
		t.Fatalf("token = %q, want file fallback", got)
	}

	t.Setenv("OVERSEER_TEST_TOKEN", "env-token")
	if got := g.EffectiveToken(); got != "env-token" {
		t.Fatalf("token = %q, want env override", got)
	}
}

func TestSave_And_Reload(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "overseer.yaml")

	cfg := DefaultConfig()
	cfg.Executor.AgentPoolSize = 8

	if err := Save(p, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(p)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Gateway.DeviceKeyPath != cfg.Gateway.DeviceKeyPath {
		t.Fatal("device key path lost after round-trip")
	}
	if loaded.Executor.AgentPoolSize != 8 {
		t.Fatalf("pool size after round-trip = %d", loaded.Executor.AgentPoolSize)
	}
}
