package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Outcomes OutcomesConfig `mapstructure:"outcomes"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	APIKey       string        `mapstructure:"api_key"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	MaxIdle     int           `mapstructure:"max_idle"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

type GatewayConfig struct {
	URL       string        `mapstructure:"url"`
	ServerKey string        `mapstructure:"server_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type DispatchConfig struct {
	Workers         int           `mapstructure:"workers"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MaxBatchSize    int           `mapstructure:"max_batch_size"`
	MaxBatchLatency time.Duration `mapstructure:"max_batch_latency"`
	DedupWindow     time.Duration `mapstructure:"dedup_window"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	IntakeHighWater int           `mapstructure:"intake_high_water"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace"`
}

type OutcomesConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("pushbridge")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/pushbridge")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PUSHBRIDGE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.dial_timeout", 5*time.Second)
	viper.SetDefault("redis.max_idle", 10)
	viper.SetDefault("redis.key_prefix", "tokens:")

	viper.SetDefault("gateway.url", "https://fcm.googleapis.com/fcm/send")
	viper.SetDefault("gateway.timeout", 30*time.Second)

	viper.SetDefault("dispatch.workers", 8)
	viper.SetDefault("dispatch.max_attempts", 5)
	viper.SetDefault("dispatch.max_batch_size", 100)
	viper.SetDefault("dispatch.max_batch_latency", 200*time.Millisecond)
	viper.SetDefault("dispatch.dedup_window", 60*time.Second)
	viper.SetDefault("dispatch.cache_ttl", 5*time.Minute)
	viper.SetDefault("dispatch.backoff_base", 500*time.Millisecond)
	viper.SetDefault("dispatch.backoff_cap", time.Minute)
	viper.SetDefault("dispatch.intake_high_water", 1000)
	viper.SetDefault("dispatch.shutdown_grace", 10*time.Second)

	viper.SetDefault("outcomes.driver", "sqlite")
	viper.SetDefault("outcomes.sqlite.path", "./data/pushbridge.db")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
