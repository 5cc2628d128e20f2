package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/engine"
	"github.com/m2rcus/hypemonitoring/internal/logging"
	"github.com/m2rcus/hypemonitoring/internal/stats"
	"github.com/m2rcus/hypemonitoring/internal/window"
)

const (
	envPrefix = "HYPEMON"

	// EnvFileVar names the .env file to load; defaults to ./.env.
	EnvFileVar = "HYPEMON_ENV_FILE"

	SourceHyperliquid = "hyperliquid"
	SourceChainlink   = "chainlink"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	redacted = "<redacted>"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Logging   logging.Config  `mapstructure:"logging" yaml:"logging"`
	Source    SourceConfig    `mapstructure:"source" yaml:"source"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting" yaml:"alerting"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Export    ExportConfig    `mapstructure:"export" yaml:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// SourceConfig selects and parameterises the price source.
type SourceConfig struct {
	Kind           string            `mapstructure:"kind" yaml:"kind"`
	Asset          string            `mapstructure:"asset" yaml:"asset"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout" yaml:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent" yaml:"user_agent"`
	Hyperliquid    HyperliquidConfig `mapstructure:"hyperliquid" yaml:"hyperliquid"`
	Chainlink      ChainlinkConfig   `mapstructure:"chainlink" yaml:"chainlink"`
}

// HyperliquidConfig covers the exchange info endpoint.
type HyperliquidConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// ChainlinkConfig covers on-chain price feed access.
type ChainlinkConfig struct {
	RPCURL       string        `mapstructure:"rpc_url" yaml:"rpc_url"`
	FeedAddress  string        `mapstructure:"feed_address" yaml:"feed_address"`
	MaxStaleness time.Duration `mapstructure:"max_staleness" yaml:"max_staleness"`
}

// MonitorConfig holds every threshold the decision engine compares against.
type MonitorConfig struct {
	TargetPrice              float64       `mapstructure:"target_price" yaml:"target_price"`
	StandardDeviations       float64       `mapstructure:"standard_deviations" yaml:"standard_deviations"`
	AlertThreshold           float64       `mapstructure:"alert_threshold" yaml:"alert_threshold"`
	CriticalPriceThreshold   float64       `mapstructure:"critical_price_threshold" yaml:"critical_price_threshold"`
	StrongDowntrendThreshold float64       `mapstructure:"strong_downtrend_threshold" yaml:"strong_downtrend_threshold"`
	RegularCooldown          time.Duration `mapstructure:"regular_cooldown" yaml:"regular_cooldown"`
	CriticalCooldown         time.Duration `mapstructure:"critical_cooldown" yaml:"critical_cooldown"`
	WindowSize               int           `mapstructure:"window_size" yaml:"window_size"`
	WindowMaxAge             time.Duration `mapstructure:"window_max_age" yaml:"window_max_age"`
	TrendEpsilon             float64       `mapstructure:"trend_epsilon" yaml:"trend_epsilon"`
	TrendScale               float64       `mapstructure:"trend_scale" yaml:"trend_scale"`
}

// EngineConfig converts the monitor section into the engine's configuration.
func (m MonitorConfig) EngineConfig() engine.Config {
	return engine.Config{
		Thresholds: classify.Thresholds{
			TargetPrice:        m.TargetPrice,
			StandardDeviations: m.StandardDeviations,
			AlertProbability:   m.AlertThreshold,
			CriticalPrice:      m.CriticalPriceThreshold,
			StrongDowntrend:    m.StrongDowntrendThreshold,
		},
		RegularCooldown:  m.RegularCooldown,
		CriticalCooldown: m.CriticalCooldown,
		Window:           window.Bound{MaxSamples: m.WindowSize, MaxAge: m.WindowMaxAge},
		Trend:            stats.TrendOptions{Epsilon: m.TrendEpsilon, Scale: m.TrendScale},
	}
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket" yaml:"align_to_bucket"`
	RunOnStart      bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key" yaml:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay" yaml:"startup_delay"`
}

// AlertingConfig defines which payloads are delivered and how.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled" yaml:"enabled"`
	TextAlerts     bool           `mapstructure:"text_alerts" yaml:"text_alerts"`
	VoiceAlerts    bool           `mapstructure:"voice_alerts" yaml:"voice_alerts"`
	StatusUpdates  bool           `mapstructure:"status_updates" yaml:"status_updates"`
	StatusInterval time.Duration  `mapstructure:"status_interval" yaml:"status_interval"`
	Telegram       TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	TTS            TTSConfig      `mapstructure:"tts" yaml:"tts"`
}

// TelegramConfig describes the Telegram bot transport.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	BotToken       string        `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID         string        `mapstructure:"chat_id" yaml:"chat_id"`
	APIBase        string        `mapstructure:"api_base" yaml:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Commands       bool          `mapstructure:"commands" yaml:"commands"`
}

// TTSConfig parameterises speech synthesis for voice alerts.
type TTSConfig struct {
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
	Language string        `mapstructure:"language" yaml:"language"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DatabaseConfig selects the persistence backend. An empty driver disables it.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Path            string        `mapstructure:"path" yaml:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// ServerConfig covers the read-only HTTP status API.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	Mode            string        `mapstructure:"mode" yaml:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points" yaml:"max_data_points"`
}

// Load builds configuration from the .env file, the config file, environment
// and defaults, in increasing order of precedence below explicit env vars.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	path := os.Getenv(EnvFileVar)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// bindAliases lets the conventional Telegram variables configure the bot.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"alerting.telegram.bot_token": {envPrefix + "_ALERTING_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
		"alerting.telegram.chat_id":   {envPrefix + "_ALERTING_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hypemonitor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("source.kind", SourceHyperliquid)
	v.SetDefault("source.asset", "HYPE")
	v.SetDefault("source.request_timeout", "10s")
	v.SetDefault("source.user_agent", "hypemonitor/1.0")
	v.SetDefault("source.hyperliquid.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("source.chainlink.rpc_url", "")
	v.SetDefault("source.chainlink.feed_address", "")
	v.SetDefault("source.chainlink.max_staleness", "1h")

	v.SetDefault("monitor.target_price", 41.0)
	v.SetDefault("monitor.standard_deviations", 2.0)
	v.SetDefault("monitor.alert_threshold", 0.7)
	v.SetDefault("monitor.critical_price_threshold", 41.5)
	v.SetDefault("monitor.strong_downtrend_threshold", 0.85)
	v.SetDefault("monitor.regular_cooldown", "5m")
	v.SetDefault("monitor.critical_cooldown", "1m")
	v.SetDefault("monitor.window_size", 100)
	v.SetDefault("monitor.window_max_age", "0s")
	v.SetDefault("monitor.trend_epsilon", 0.1)
	v.SetDefault("monitor.trend_scale", 3.0)

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x48595045))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.text_alerts", true)
	v.SetDefault("alerting.voice_alerts", true)
	v.SetDefault("alerting.status_updates", false)
	v.SetDefault("alerting.status_interval", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "30s")
	v.SetDefault("alerting.telegram.max_retries", 3)
	v.SetDefault("alerting.telegram.retry_delay", "1s")
	v.SetDefault("alerting.telegram.commands", true)
	v.SetDefault("alerting.tts.base_url", "https://translate.google.com")
	v.SetDefault("alerting.tts.language", "en")
	v.SetDefault("alerting.tts.timeout", "15s")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "./data/hypemonitor.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate rejects invalid values; nothing is clamped.
func (c *Config) Validate() error {
	if err := c.Monitor.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	switch strings.ToLower(c.Source.Kind) {
	case SourceHyperliquid:
	case SourceChainlink:
		if c.Source.Chainlink.RPCURL == "" {
			return fmt.Errorf("source.chainlink.rpc_url is required for the chainlink source")
		}
		if c.Source.Chainlink.FeedAddress == "" {
			return fmt.Errorf("source.chainlink.feed_address is required for the chainlink source")
		}
	default:
		return fmt.Errorf("source.kind %q is not one of %s, %s", c.Source.Kind, SourceHyperliquid, SourceChainlink)
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Alerting.StatusUpdates && c.Alerting.StatusInterval <= 0 {
		return fmt.Errorf("alerting.status_interval must be greater than zero")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "":
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not one of %s, %s", c.Database.Driver, DriverPostgres, DriverSQLite)
	}

	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	if out.Alerting.Telegram.BotToken != "" {
		out.Alerting.Telegram.BotToken = redacted
	}
	if out.Database.DSN != "" {
		out.Database.DSN = redacted
	}
	if out.Source.Chainlink.RPCURL != "" {
		out.Source.Chainlink.RPCURL = redacted
	}
	return out
}
