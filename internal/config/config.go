package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	Bybit    BybitConfig    `yaml:"bybit"`
	Strategy StrategyConfig `yaml:"strategy"`
	State    StateConfig    `yaml:"state"`
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type BybitConfig struct {
	PublicWSURL    string        `yaml:"public_ws_url"`
	TradeWSURL     string        `yaml:"trade_ws_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	RecvWindow     time.Duration `yaml:"recv_window"`
}

type StrategyConfig struct {
	Symbol              string        `yaml:"symbol"`
	Quantity            float64       `yaml:"quantity"`
	TargetProfitPercent float64       `yaml:"target_profit_percent"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	CloseTimeout        time.Duration `yaml:"close_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TelegramConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Token        string        `yaml:"token"`
	ChatID       string        `yaml:"chat_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	AllowedUsers []int64       `yaml:"allowed_user_ids"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type JournalConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Bybit.PublicWSURL == "" {
		cfg.Bybit.PublicWSURL = "wss://stream.bybit.com/v5/public/spot"
	}
	if cfg.Bybit.TradeWSURL == "" {
		cfg.Bybit.TradeWSURL = "wss://stream.bybit.com/v5/trade"
	}
	if cfg.Bybit.ReconnectDelay == 0 {
		cfg.Bybit.ReconnectDelay = 3 * time.Second
	}
	if cfg.Bybit.PingInterval == 0 {
		cfg.Bybit.PingInterval = 20 * time.Second
	}
	if cfg.Bybit.RecvWindow == 0 {
		cfg.Bybit.RecvWindow = 8 * time.Second
	}
	if cfg.Strategy.OpenTimeout == 0 {
		cfg.Strategy.OpenTimeout = 2 * time.Second
	}
	if cfg.Strategy.CloseTimeout == 0 {
		cfg.Strategy.CloseTimeout = 10 * time.Second
	}
	if cfg.Strategy.PollInterval == 0 {
		cfg.Strategy.PollInterval = 100 * time.Millisecond
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/trade-bot.db"
	}
	if cfg.Telegram.PollInterval == 0 {
		cfg.Telegram.PollInterval = 3 * time.Second
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Journal.Schema == "" {
		cfg.Journal.Schema = "public"
	}
	if cfg.Journal.QueueSize == 0 {
		cfg.Journal.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Strategy.Symbol == "" {
		return errors.New("strategy.symbol is required")
	}
	if cfg.Strategy.Quantity <= 0 {
		return errors.New("strategy.quantity must be > 0")
	}
	if cfg.Strategy.TargetProfitPercent <= 0 {
		return errors.New("strategy.target_profit_percent must be > 0")
	}
	if cfg.Strategy.CloseTimeout < cfg.Strategy.OpenTimeout {
		return errors.New("strategy.close_timeout must be >= strategy.open_timeout")
	}
	if cfg.Journal.Enabled && cfg.Journal.DSN == "" {
		return errors.New("journal.dsn is required when journal is enabled")
	}
	return nil
}
