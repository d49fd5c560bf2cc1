package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Transport != "serial" {
		t.Errorf("expected Transport=serial, got=%s", cfg.Transport)
	}
	if cfg.SerialBaudRate != 115200 {
		t.Errorf("expected SerialBaudRate=115200, got=%d", cfg.SerialBaudRate)
	}
	if cfg.Retries() != 3 {
		t.Errorf("expected 3 retries, got=%d", cfg.Retries())
	}
	if cfg.MeasurementTimeoutMs != 5000 {
		t.Errorf("expected measurement timeout 5000ms, got=%d", cfg.MeasurementTimeoutMs)
	}
}

func TestLoadMerge(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// Create a workspace config
	tmp := t.TempDir()
	dir := filepath.Join(tmp, ".cellcycle")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{
		"transport": "tcp",
		"address": "192.168.1.40:5025",
		"measurement_retries": 0
	}`), 0o644)

	cfg := Load(tmp)

	if cfg.Transport != "tcp" {
		t.Errorf("expected transport from workspace, got=%s", cfg.Transport)
	}
	if cfg.Address != "192.168.1.40:5025" {
		t.Errorf("expected address from workspace, got=%s", cfg.Address)
	}
	if cfg.Retries() != 0 {
		t.Errorf("expected explicit 0 retries to survive merge, got=%d", cfg.Retries())
	}
	// Baud rate should still be default since not overridden
	if cfg.SerialBaudRate != 115200 {
		t.Errorf("expected default baud rate, got=%d", cfg.SerialBaudRate)
	}
}

func TestGlobalThenWorkspace(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	global := Defaults()
	global.SerialPort = "/dev/ttyUSB0"
	global.ExportDir = "global-results"
	if err := Save(global, "", true); err != nil {
		t.Fatalf("Save global failed: %v", err)
	}

	ws := t.TempDir()
	if err := Save(Config{ExportDir: "ws-results"}, ws, false); err != nil {
		t.Fatalf("Save workspace failed: %v", err)
	}

	cfg := Load(ws)
	if cfg.SerialPort != "/dev/ttyUSB0" {
		t.Errorf("expected serial port from global, got=%s", cfg.SerialPort)
	}
	if cfg.ExportDir != "ws-results" {
		t.Errorf("expected workspace to win, got=%s", cfg.ExportDir)
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tmp := t.TempDir()
	cfg := Config{
		SerialPort:     "COM3",
		SerialBaudRate: 57600,
		SetupPolicy:    "fail-fast",
	}

	err := Save(cfg, tmp, false)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file exists
	path := filepath.Join(tmp, ".cellcycle", "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	// Load it back
	loaded := Load(tmp)
	if loaded.SerialPort != "COM3" {
		t.Errorf("expected SerialPort=COM3, got=%s", loaded.SerialPort)
	}
	if loaded.SerialBaudRate != 57600 {
		t.Errorf("expected SerialBaudRate=57600, got=%d", loaded.SerialBaudRate)
	}
	if loaded.SetupPolicy != "fail-fast" {
		t.Errorf("expected SetupPolicy=fail-fast, got=%s", loaded.SetupPolicy)
	}
}

func TestQueryOptions(t *testing.T) {
	retries := 1
	cfg := Defaults()
	cfg.MeasurementTimeoutMs = 750
	cfg.MeasurementRetries = &retries
	cfg.SettleDelayMs = 10

	opts := cfg.QueryOptions()
	if opts.Timeout != 750*time.Millisecond {
		t.Errorf("expected timeout 750ms, got=%s", opts.Timeout)
	}
	if opts.MaxRetries != 1 {
		t.Errorf("expected 1 retry, got=%d", opts.MaxRetries)
	}
	if opts.SettleDelay != 10*time.Millisecond {
		t.Errorf("expected settle 10ms, got=%s", opts.SettleDelay)
	}
	if opts.BackoffBase != 100*time.Millisecond {
		t.Errorf("expected default backoff, got=%s", opts.BackoffBase)
	}
}

func TestSetAndGet(t *testing.T) {
	cfg := Defaults()

	for _, f := range Fields {
		if _, err := cfg.Get(f.Key); err != nil {
			t.Errorf("Get(%s): %v", f.Key, err)
		}
	}

	if err := cfg.Set("measurement_retries", "0"); err != nil {
		t.Fatalf("Set retries: %v", err)
	}
	if cfg.Retries() != 0 {
		t.Errorf("expected 0 retries, got=%d", cfg.Retries())
	}
	if err := cfg.Set("setup_policy", "fail-fast"); err != nil {
		t.Fatalf("Set setup_policy: %v", err)
	}
	if v, _ := cfg.Get("setup_policy"); v != "fail-fast" {
		t.Errorf("expected fail-fast, got=%s", v)
	}
	if err := cfg.Set("serial_baud_rate", "9600"); err != nil {
		t.Fatalf("Set baud: %v", err)
	}
	if cfg.SerialBaudRate != 9600 {
		t.Errorf("expected 9600, got=%d", cfg.SerialBaudRate)
	}
}

func TestSetRejects(t *testing.T) {
	cfg := Defaults()
	bad := [][2]string{
		{"transport", "gpib"},
		{"serial_baud_rate", "fast"},
		{"measurement_retries", "-1"},
		{"measurement_timeout_ms", "0"},
		{"backoff_base_ms", "0"},
		{"settle_delay_ms", "0"},
		{"setup_policy", "sometimes"},
		{"default_board", "nrf52"},
	}
	for _, kv := range bad {
		if err := cfg.Set(kv[0], kv[1]); err == nil {
			t.Errorf("expected Set(%s, %s) to fail", kv[0], kv[1])
		}
	}
	def := Defaults()
	if cfg.BackoffBaseMs != def.BackoffBaseMs || cfg.SettleDelayMs != def.SettleDelayMs {
		t.Error("zero delays must be rejected, not stored")
	}
	if cfg.Transport != "serial" || cfg.Retries() != 3 {
		t.Error("rejected values must not change the config")
	}
}
