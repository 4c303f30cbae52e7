package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "app:\n  env: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9992", cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Exchange.Name)
	assert.Equal(t, "https://fapi.binance.com", cfg.Exchange.RESTBaseURL)
	assert.Equal(t, 15*time.Second, cfg.Exchange.HTTPTimeout())
	assert.Equal(t, time.Second, cfg.Monitor.PollInterval())
	assert.Equal(t, 5*time.Minute, cfg.Monitor.StartupWindow())
	assert.Equal(t, 6*time.Hour, cfg.Replicate.HistoryLookback())
	assert.Equal(t, 2*time.Minute, cfg.Replicate.StaleCancelAge())
	assert.Equal(t, 30*time.Minute, cfg.Replicate.FallbackWindow())
	assert.Equal(t, []int{20, 25, 50, 75, 100}, cfg.Replicate.LeverageLadder)
	assert.Equal(t, 4, cfg.Replicate.DispatchBudget)
	assert.Equal(t, 0.5, cfg.Replicate.TargetMarginRatio)
	assert.Equal(t, 72*time.Hour, cfg.Store.LogRetention())
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `app:
  log_level: debug
  http_addr: ":8080"
monitor:
  poll_interval_seconds: 3
replicate:
  leverage_ladder: [10, 30, 60]
  stale_cancel_minutes: 5
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, 3*time.Second, cfg.Monitor.PollInterval())
	assert.Equal(t, []int{10, 30, 60}, cfg.Replicate.LeverageLadder)
	assert.Equal(t, 5*time.Minute, cfg.Replicate.StaleCancelAge())
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unsupported exchange", "exchange:\n  name: kraken\n"},
		{"proxy without url", "exchange:\n  proxy_enabled: true\n"},
		{"poll interval too coarse", "monitor:\n  poll_interval_seconds: 120\n"},
		{"ladder not ascending", "replicate:\n  leverage_ladder: [50, 20]\n"},
		{"ladder out of range", "replicate:\n  leverage_ladder: [20, 200]\n"},
		{"margin ratio above one", "replicate:\n  target_margin_ratio: 1.5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
