package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.VaultStride)
	assert.Equal(t, int64(10), cfg.MarginFeeBps)
	assert.Equal(t, int64(1_000_000), cfg.FundingRatePrecision)
	assert.Equal(t, int64(750), cfg.MaxPriceDeviationBps)
	assert.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.TrackedAccounts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":18080"
margin_fee_bps: 20
valuation_interval: 30s
tracked_accounts:
  - "0xabc"
  - "0xdef"
`), 0o600))

	t.Setenv("PERP_HTTP_ADDR", ":28080")
	t.Setenv("PERP_PRICE_MAX_AGE", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":28080", cfg.HTTPAddr)
	assert.Equal(t, int64(20), cfg.MarginFeeBps)
	assert.Equal(t, 30*time.Second, cfg.ValuationInterval)
	assert.Equal(t, 90*time.Second, cfg.PriceMaxAge)
	assert.Equal(t, []string{"0xabc", "0xdef"}, cfg.TrackedAccounts)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "narrow stride", env: map[string]string{"PERP_VAULT_STRIDE": "14"}},
		{name: "fee out of range", env: map[string]string{"PERP_MARGIN_FEE_BPS": "10000"}},
		{name: "deviation within margin", env: map[string]string{"PERP_MAX_PRICE_DEVIATION_BPS": "50"}},
		{name: "zero batch", env: map[string]string{"PERP_PERSIST_BATCH_SIZE": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEngineConfigs(t *testing.T) {
	cfg := Default()

	nc := cfg.NormalizerConfig()
	assert.Equal(t, cfg.NativeTokenAddress, nc.NativeTokenAddress)
	assert.Equal(t, cfg.StableUnitAddress, nc.StableUnitAddress)

	pc := cfg.PositionConfig()
	assert.Equal(t, int64(10), pc.MarginFeeBps)
	assert.Equal(t, "5000000000000000000000000000000", pc.LiquidationFeeUsd.String())
}
