package config

import (
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	redisclient "github.com/vietddude/dropwatch/internal/infra/redis"
	"github.com/vietddude/dropwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Base     BaseConfig         `yaml:"base"`
	Explorer ExplorerConfig     `yaml:"explorer"`
	Monitor  MonitorConfig      `yaml:"monitor"`
	Dedup    DedupConfig        `yaml:"dedup"`
	Notify   NotifyConfig       `yaml:"notify"`
	Budget   BudgetConfig       `yaml:"budget"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Kafka    KafkaConfig        `yaml:"kafka"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// BaseConfig holds the Base network endpoints.
type BaseConfig struct {
	ChainID      domain.ChainID `yaml:"chain_id"`
	RPCURLs      []string       `yaml:"rpc_urls"`
	WSURL        string         `yaml:"ws_url"`
	RatePerSec   float64        `yaml:"rate_per_second"`
	ProviderName string         `yaml:"provider_name"`
}

// ExplorerConfig holds the block explorer (Etherscan V2) settings.
type ExplorerConfig struct {
	URL        string  `yaml:"url"`
	APIKey     string  `yaml:"api_key"`
	RatePerSec float64 `yaml:"rate_per_second"`
}

// MonitorConfig tunes the polling scheduler.
type MonitorConfig struct {
	PollInterval           time.Duration `yaml:"poll_interval"`
	LookbackBlocks         uint64        `yaml:"lookback_blocks"`
	ActivityLookbackBlocks uint64        `yaml:"activity_lookback_blocks"`
	MaxBlockRange          uint64        `yaml:"max_block_range"`
	CallTimeout            time.Duration `yaml:"call_timeout"`
	Concurrency            int           `yaml:"concurrency"`
	SignificanceUSD        float64       `yaml:"significance_usd"`
	BackoffInitial         time.Duration `yaml:"backoff_initial"`
	BackoffMax             time.Duration `yaml:"backoff_max"`
	BackoffMaxAttempts     int           `yaml:"backoff_max_attempts"`
}

// DedupConfig bounds the deduplication ledger.
type DedupConfig struct {
	Window        time.Duration `yaml:"window"`
	MaxPerChannel int           `yaml:"max_per_channel"`
	Backend       string        `yaml:"backend"` // memory, redis
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	AppURL          string        `yaml:"app_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	SummaryInterval time.Duration `yaml:"summary_interval"`
}

// BudgetConfig holds the daily upstream call quota.
type BudgetConfig struct {
	DailyQuota int `yaml:"daily_quota"`
}

// KafkaConfig enables publishing dispatched notifications to Kafka.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether a Kafka sink is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}
