package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  port: 9000
postgres:
  dsn: "host=db user=wallet dbname=wallet_engine"
redis:
  addr: "redis:6379"
kafka:
  brokers: ["kafka:9092"]
  topic: "wallet-events"
ratelimit:
  rps: 10
  burst: 20
fees:
  platform_fee_percent: 12
  currency: "IDR"
`
	assert.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Fees.PlatformFeePercent)
	assert.Equal(t, "IDR", cfg.Fees.Currency)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_DefaultsCurrency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("server:\n  port: 1\n"), 0o600))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "IDR", cfg.Fees.Currency)
}

func TestPlatformFee_TruncatesToMinorUnits(t *testing.T) {
	f := FeeConfig{PlatformFeePercent: 10}
	assert.True(t, f.PlatformFee(decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(100)))
	// 10% of 1005 is 100.5; fees round down to whole minor units
	assert.True(t, f.PlatformFee(decimal.NewFromInt(1005)).Equal(decimal.NewFromInt(100)))
	assert.True(t, FeeConfig{}.PlatformFee(decimal.NewFromInt(1000)).IsZero())
}
