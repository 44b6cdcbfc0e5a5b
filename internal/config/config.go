package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const (
	DirName                  = ".certbench"
	DefaultLogBufferCapacity = 2000
	DefaultBaudRate          = 115200
	DefaultPluginDir         = "plugins"
	DefaultOutputDir         = "reports"
	DefaultLogcatFormat      = "threadtime"
	DefaultAuditLog          = "logcat.log"
	DefaultPollIntervalMS    = 1000
	DefaultBackoffMS         = 2000
)

// Config holds all certbench configuration.
type Config struct {
	AutoOpenLogStream bool   `json:"auto_open_log_stream"`
	LogBufferCapacity int    `json:"log_buffer_capacity,omitempty"`
	PluginDir         string `json:"plugin_dir,omitempty"`
	OutputDir         string `json:"output_dir,omitempty"`
	ADBPath           string `json:"adb_path,omitempty"`
	FastbootPath      string `json:"fastboot_path,omitempty"`
	DeviceSerial      string `json:"device_serial,omitempty"`
	LogcatFormat      string `json:"logcat_format,omitempty"`
	AuditLog          string `json:"audit_log,omitempty"`
	ResetAuditLog     bool   `json:"reset_audit_log"`
	PollIntervalMS    int    `json:"poll_interval_ms,omitempty"`
	BackoffMS         int    `json:"backoff_ms,omitempty"`
	UARTPort          string `json:"uart_port,omitempty"`
	UARTBaudRate      int    `json:"uart_baud_rate,omitempty"`
	APIAddr           string `json:"api_addr,omitempty"`
	WatchPlugins      bool   `json:"watch_plugins"`
	LogLevel          string `json:"log_level,omitempty"`
	TestTimeoutSec    int    `json:"test_timeout_sec,omitempty"`
	LastTest          string `json:"last_test,omitempty"`
}

// fileConfig mirrors Config for merging. Booleans are pointers so a file can
// switch a default-on setting off.
type fileConfig struct {
	Config
	AutoOpenLogStream *bool `json:"auto_open_log_stream"`
	ResetAuditLog     *bool `json:"reset_audit_log"`
	WatchPlugins      *bool `json:"watch_plugins"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		AutoOpenLogStream: true,
		LogBufferCapacity: DefaultLogBufferCapacity,
		PluginDir:         DefaultPluginDir,
		OutputDir:         DefaultOutputDir,
		LogcatFormat:      DefaultLogcatFormat,
		AuditLog:          DefaultAuditLog,
		ResetAuditLog:     true,
		PollIntervalMS:    DefaultPollIntervalMS,
		BackoffMS:         DefaultBackoffMS,
		UARTBaudRate:      DefaultBaudRate,
		LogLevel:          "info",
	}
}

// Load reads and merges global and workspace configs.
// Order: defaults → global (~/.config/certbench/config.json) → workspace (.certbench/config.json).
func Load(root string) Config {
	cfg := Defaults()

	if home, err := os.UserHomeDir(); err == nil {
		mergeFromFile(&cfg, filepath.Join(home, ".config", "certbench", "config.json"))
	}

	if root != "" {
		mergeFromFile(&cfg, filepath.Join(root, DirName, "config.json"))
	}

	return cfg
}

// Save writes the config to the workspace .certbench/config.json by default,
// or to the global config if global is true.
func Save(cfg Config, root string, global bool) error {
	var dir string
	if global {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(home, ".config", "certbench")
	} else {
		dir = filepath.Join(root, DirName)
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

// FindRoot walks up from startDir looking for a .certbench/ directory. When
// none exists the absolute startDir is the root.
func FindRoot(startDir string) (string, error) {
	start, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for dir := start; ; {
		if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start, nil
		}
		dir = parent
	}
}

// DataDir is where history, diagnostics and the plugin cache live.
func DataDir(root string) string {
	return filepath.Join(root, DirName)
}

// Resolve makes a configured path absolute relative to root.
func Resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// PollInterval is the supervisor's poll sleep.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// TestTimeout bounds each test lifecycle step; zero means unbounded.
func (c Config) TestTimeout() time.Duration {
	return time.Duration(c.TestTimeoutSec) * time.Second
}

// Backoff is the supervisor's wait after a lost connection.
func (c Config) Backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

func mergeFromFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return
	}

	if fc.AutoOpenLogStream != nil {
		cfg.AutoOpenLogStream = *fc.AutoOpenLogStream
	}
	if fc.ResetAuditLog != nil {
		cfg.ResetAuditLog = *fc.ResetAuditLog
	}
	if fc.WatchPlugins != nil {
		cfg.WatchPlugins = *fc.WatchPlugins
	}
	if fc.LogBufferCapacity > 0 {
		cfg.LogBufferCapacity = fc.LogBufferCapacity
	}
	if fc.PluginDir != "" {
		cfg.PluginDir = fc.PluginDir
	}
	if fc.OutputDir != "" {
		cfg.OutputDir = fc.OutputDir
	}
	if fc.ADBPath != "" {
		cfg.ADBPath = fc.ADBPath
	}
	if fc.FastbootPath != "" {
		cfg.FastbootPath = fc.FastbootPath
	}
	if fc.DeviceSerial != "" {
		cfg.DeviceSerial = fc.DeviceSerial
	}
	if fc.LogcatFormat != "" {
		cfg.LogcatFormat = fc.LogcatFormat
	}
	if fc.AuditLog != "" {
		cfg.AuditLog = fc.AuditLog
	}
	if fc.LastTest != "" {
		cfg.LastTest = fc.LastTest
	}
	if fc.TestTimeoutSec > 0 {
		cfg.TestTimeoutSec = fc.TestTimeoutSec
	}
	if fc.PollIntervalMS > 0 {
		cfg.PollIntervalMS = fc.PollIntervalMS
	}
	if fc.BackoffMS > 0 {
		cfg.BackoffMS = fc.BackoffMS
	}
	if fc.UARTPort != "" {
		cfg.UARTPort = fc.UARTPort
	}
	if fc.UARTBaudRate != 0 {
		cfg.UARTBaudRate = fc.UARTBaudRate
	}
	if fc.APIAddr != "" {
		cfg.APIAddr = fc.APIAddr
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
}
