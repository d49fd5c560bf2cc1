package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/buckleypaul/cellcycle/internal/query"
)

const (
	DirName          = ".cellcycle"
	DefaultTransport = "serial"
	DefaultBaudRate  = 115200
	DefaultExportDir = "results"
)

// Config holds all cellcycle configuration.
type Config struct {
	Transport      string `json:"transport,omitempty"`
	SerialPort     string `json:"serial_port,omitempty"`
	SerialBaudRate int    `json:"serial_baud_rate,omitempty"`
	Address        string `json:"address,omitempty"`

	MeasurementTimeoutMs int `json:"measurement_timeout_ms,omitempty"`
	// MeasurementRetries is a pointer so an explicit 0 survives the merge.
	MeasurementRetries *int   `json:"measurement_retries,omitempty"`
	BackoffBaseMs      int    `json:"backoff_base_ms,omitempty"`
	SettleDelayMs      int    `json:"settle_delay_ms,omitempty"`
	SetupPolicy        string `json:"setup_policy,omitempty"`

	ExportDir   string `json:"export_dir,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	retries := query.DefaultMaxRetries
	return Config{
		Transport:            DefaultTransport,
		SerialBaudRate:       DefaultBaudRate,
		MeasurementTimeoutMs: int(query.DefaultTimeout / time.Millisecond),
		MeasurementRetries:   &retries,
		BackoffBaseMs:        int(query.DefaultBackoffBase / time.Millisecond),
		SettleDelayMs:        int(query.DefaultSettleDelay / time.Millisecond),
		SetupPolicy:          "proceed",
		ExportDir:            DefaultExportDir,
	}
}

// Retries returns the configured retry count.
func (c Config) Retries() int {
	if c.MeasurementRetries == nil {
		return query.DefaultMaxRetries
	}
	return *c.MeasurementRetries
}

// QueryOptions converts the measurement settings to querier options.
func (c Config) QueryOptions() query.Options {
	opts := query.DefaultOptions()
	if c.MeasurementTimeoutMs > 0 {
		opts.Timeout = time.Duration(c.MeasurementTimeoutMs) * time.Millisecond
	}
	opts.MaxRetries = c.Retries()
	if c.BackoffBaseMs > 0 {
		opts.BackoffBase = time.Duration(c.BackoffBaseMs) * time.Millisecond
	}
	if c.SettleDelayMs > 0 {
		opts.SettleDelay = time.Duration(c.SettleDelayMs) * time.Millisecond
	}
	return opts
}

// Load reads and merges global and workspace configs.
// Order: defaults → global (~/.config/cellcycle/config.json) → workspace (.cellcycle/config.json).
func Load(workspaceRoot string) Config {
	cfg := Defaults()

	// Global config
	if home, err := os.UserHomeDir(); err == nil {
		globalPath := filepath.Join(home, ".config", "cellcycle", "config.json")
		mergeFromFile(&cfg, globalPath)
	}

	// Workspace config
	if workspaceRoot != "" {
		wsPath := filepath.Join(workspaceRoot, DirName, "config.json")
		mergeFromFile(&cfg, wsPath)
	}

	return cfg
}

// LoadFile reads only the workspace or, with global, the user-wide config
// file. A missing file yields the zero Config.
func LoadFile(workspaceRoot string, global bool) Config {
	var cfg Config
	path := filepath.Join(workspaceRoot, DirName, "config.json")
	if global {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg
		}
		path = filepath.Join(home, ".config", "cellcycle", "config.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	_ = json.Unmarshal(data, &cfg)
	return cfg
}

// Save writes the config to the workspace .cellcycle/config.json by default,
// or to the global config if global is true.
func Save(cfg Config, workspaceRoot string, global bool) error {
	var dir string
	if global {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(home, ".config", "cellcycle")
	} else {
		dir = filepath.Join(workspaceRoot, DirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644)
}

func mergeFromFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return
	}

	if fileCfg.Transport != "" {
		cfg.Transport = fileCfg.Transport
	}
	if fileCfg.SerialPort != "" {
		cfg.SerialPort = fileCfg.SerialPort
	}
	if fileCfg.SerialBaudRate != 0 {
		cfg.SerialBaudRate = fileCfg.SerialBaudRate
	}
	if fileCfg.Address != "" {
		cfg.Address = fileCfg.Address
	}
	if fileCfg.MeasurementTimeoutMs != 0 {
		cfg.MeasurementTimeoutMs = fileCfg.MeasurementTimeoutMs
	}
	if fileCfg.MeasurementRetries != nil {
		cfg.MeasurementRetries = fileCfg.MeasurementRetries
	}
	if fileCfg.BackoffBaseMs != 0 {
		cfg.BackoffBaseMs = fileCfg.BackoffBaseMs
	}
	if fileCfg.SettleDelayMs != 0 {
		cfg.SettleDelayMs = fileCfg.SettleDelayMs
	}
	if fileCfg.SetupPolicy != "" {
		cfg.SetupPolicy = fileCfg.SetupPolicy
	}
	if fileCfg.ExportDir != "" {
		cfg.ExportDir = fileCfg.ExportDir
	}
	if fileCfg.MetricsAddr != "" {
		cfg.MetricsAddr = fileCfg.MetricsAddr
	}
}
