package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// EnvPrefix prefixes environment overrides, e.g. DROPWATCH_BASE__WS_URL.
const EnvPrefix = "DROPWATCH_"

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides merges DROPWATCH_* variables over the file values.
// A double underscore separates nesting levels.
func applyEnvOverrides(cfg *AppConfig) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return fmt.Errorf("failed to load env overrides: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Base.ChainID == "" {
		cfg.Base.ChainID = domain.ChainIDBase
	}
	if cfg.Base.RatePerSec == 0 {
		cfg.Base.RatePerSec = 10
	}
	if cfg.Base.ProviderName == "" {
		cfg.Base.ProviderName = "base"
	}
	if cfg.Explorer.URL == "" {
		cfg.Explorer.URL = "https://api.etherscan.io/v2/api"
	}
	if cfg.Explorer.RatePerSec == 0 {
		cfg.Explorer.RatePerSec = 5
	}

	m := &cfg.Monitor
	if m.PollInterval == 0 {
		m.PollInterval = 30 * time.Second
	}
	if m.LookbackBlocks == 0 {
		m.LookbackBlocks = 50
	}
	if m.ActivityLookbackBlocks == 0 {
		m.ActivityLookbackBlocks = 100
	}
	if m.MaxBlockRange == 0 {
		m.MaxBlockRange = 100
	}
	if m.CallTimeout == 0 {
		m.CallTimeout = 8 * time.Second
	}
	if m.Concurrency == 0 {
		m.Concurrency = 8
	}
	if m.SignificanceUSD == 0 {
		m.SignificanceUSD = 100
	}
	if m.BackoffInitial == 0 {
		m.BackoffInitial = 2 * time.Second
	}
	if m.BackoffMax == 0 {
		m.BackoffMax = 5 * time.Minute
	}
	if m.BackoffMaxAttempts == 0 {
		m.BackoffMaxAttempts = 8
	}

	if cfg.Dedup.Window == 0 {
		cfg.Dedup.Window = time.Hour
	}
	if cfg.Dedup.MaxPerChannel == 0 {
		cfg.Dedup.MaxPerChannel = 1000
	}
	if cfg.Dedup.Backend == "" {
		cfg.Dedup.Backend = "memory"
	}

	if cfg.Notify.AppURL == "" {
		cfg.Notify.AppURL = "https://etherdrops-watcher.vercel.app"
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = 10 * time.Second
	}
	if cfg.Notify.RetryAttempts == 0 {
		cfg.Notify.RetryAttempts = 3
	}
	if cfg.Notify.SummaryInterval == 0 {
		cfg.Notify.SummaryInterval = 24 * time.Hour
	}

	if cfg.Budget.DailyQuota == 0 {
		cfg.Budget.DailyQuota = 100000
	}
}

// Validate rejects configurations the service cannot start with.
func (c *AppConfig) Validate() error {
	if len(c.Base.RPCURLs) == 0 && c.Explorer.APIKey == "" {
		return fmt.Errorf("no chain data source configured: set base.rpc_urls or explorer.api_key")
	}
	if c.Dedup.Backend != "memory" && c.Dedup.Backend != "redis" {
		return fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend)
	}
	if c.Dedup.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("dedup backend redis requires redis.url")
	}
	return nil
}
