package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradeease platform.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Kite    Kite          `yaml:"kite"`
	Logging Logging       `yaml:"logging"`
	Tracker TrackerConfig `yaml:"tracker"`
	Trading TradingConfig `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Kite holds credentials and endpoints for the Kite Connect broker API.
type Kite struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	AccessToken string `yaml:"access_token"`
	BaseURL     string `yaml:"base_url"`
	FeedURL     string `yaml:"feed_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TrackerConfig controls how aggressively the order tracker polls the broker
// and how long finished orders stay visible before eviction.
type TrackerConfig struct {
	PollTransitional Duration `yaml:"poll_transitional"`
	PollOpen         Duration `yaml:"poll_open"`
	PollRetry        Duration `yaml:"poll_retry"`
	ReconcileEvery   Duration `yaml:"reconcile_every"`
	EvictComplete    Duration `yaml:"evict_complete"`
	EvictTerminal    Duration `yaml:"evict_terminal"`
}

// TradingConfig defines execution parameters.
type TradingConfig struct {
	PaperMode     bool    `yaml:"paper_mode"`
	DefaultOffset float64 `yaml:"default_offset"`
	NiftyLotSize  int64   `yaml:"nifty_lot_size"`
	SensexLotSize int64   `yaml:"sensex_lot_size"`
}

// ---------------------------------------------------------------------------
// Duration
// ---------------------------------------------------------------------------

// Duration wraps time.Duration so interval settings can be written in YAML as
// "2s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults for unset fields, and then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills in zero-valued fields with working defaults so a
// minimal configuration file is enough to run.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Kite.BaseURL == "" {
		cfg.Kite.BaseURL = "https://api.kite.trade"
	}
	if cfg.Kite.FeedURL == "" {
		cfg.Kite.FeedURL = "wss://ws.kite.trade"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracker.PollTransitional == 0 {
		cfg.Tracker.PollTransitional = Duration(2 * time.Second)
	}
	if cfg.Tracker.PollOpen == 0 {
		cfg.Tracker.PollOpen = Duration(5 * time.Second)
	}
	if cfg.Tracker.PollRetry == 0 {
		cfg.Tracker.PollRetry = Duration(10 * time.Second)
	}
	if cfg.Tracker.ReconcileEvery == 0 {
		cfg.Tracker.ReconcileEvery = Duration(5 * time.Second)
	}
	if cfg.Tracker.EvictComplete == 0 {
		cfg.Tracker.EvictComplete = Duration(10 * time.Second)
	}
	if cfg.Tracker.EvictTerminal == 0 {
		cfg.Tracker.EvictTerminal = Duration(5 * time.Second)
	}

	if cfg.Trading.DefaultOffset == 0 {
		cfg.Trading.DefaultOffset = 1.5
	}
	if cfg.Trading.NiftyLotSize == 0 {
		cfg.Trading.NiftyLotSize = 75
	}
	if cfg.Trading.SensexLotSize == 0 {
		cfg.Trading.SensexLotSize = 30
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Kite.APISecret = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Kite.AccessToken = v
	}
	if v := os.Getenv("KITE_BASE_URL"); v != "" {
		cfg.Kite.BaseURL = v
	}
	if v := os.Getenv("KITE_FEED_URL"); v != "" {
		cfg.Kite.FeedURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
