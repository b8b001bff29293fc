package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Fees      FeeConfig       `yaml:"fees"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// FeeConfig keeps platform fee and currency out of the settlement code so the
// escrow component stays pure and testable.
type FeeConfig struct {
	PlatformFeePercent int    `yaml:"platform_fee_percent"`
	Currency           string `yaml:"currency"`
}

// PlatformFee computes the fee on a job amount, truncated to whole minor
// currency units.
func (f FeeConfig) PlatformFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(f.PlatformFeePercent))).
		Div(decimal.NewFromInt(100)).Truncate(0)
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if cfg.Fees.Currency == "" {
		cfg.Fees.Currency = "IDR"
	}
	if cfg.Fees.PlatformFeePercent < 0 {
		return nil, fmt.Errorf("fees: platform_fee_percent must not be negative")
	}
	return &cfg, nil
}
