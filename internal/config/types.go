package config

import "time"

// Config is the top-level configuration carrier.
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Store     StoreConfig     `toml:"store"`
	LinkSet   LinkSetConfig   `toml:"linkset"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Replicate ReplicateConfig `toml:"replicate"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	AutoStart bool   `toml:"auto_start"`
}

type ExchangeConfig struct {
	Name               string `toml:"name"`
	RESTBaseURL        string `toml:"rest_base_url"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	ProxyEnabled       bool   `toml:"proxy_enabled"`
	RESTProxyURL       string `toml:"rest_proxy_url"`
	FilterTTLMinutes   int    `toml:"filter_ttl_minutes"`
}

type StoreConfig struct {
	DBPath             string `toml:"db_path"`
	LogRetentionHours  int    `toml:"log_retention_hours"`
	PruneIntervalHours int    `toml:"prune_interval_hours"`
}

type LinkSetConfig struct {
	Path string `toml:"path"`
}

type MonitorConfig struct {
	PollIntervalSeconds  int `toml:"poll_interval_seconds"`
	FailureSleepSeconds  int `toml:"failure_sleep_seconds"`
	StartupWindowMinutes int `toml:"startup_window_minutes"`
	BreakerThreshold     int `toml:"breaker_threshold"`
	BreakerTimeoutSecs   int `toml:"breaker_timeout_seconds"`
}

type ReplicateConfig struct {
	HistoryLookbackHours  int     `toml:"history_lookback_hours"`
	HistoryLimit          int     `toml:"history_limit"`
	StaleCancelMinutes    int     `toml:"stale_cancel_minutes"`
	FallbackWindowMinutes int     `toml:"fallback_window_minutes"`
	LeverageLadder        []int   `toml:"leverage_ladder"`
	DispatchBudget        int     `toml:"dispatch_budget"`
	EquityDriftPct        float64 `toml:"equity_drift_pct"`
	TargetMarginRatio     float64 `toml:"target_margin_ratio"`
	CallTimeoutSeconds    int     `toml:"call_timeout_seconds"`
}

func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

func (m MonitorConfig) FailureSleep() time.Duration {
	return time.Duration(m.FailureSleepSeconds) * time.Second
}

func (m MonitorConfig) StartupWindow() time.Duration {
	return time.Duration(m.StartupWindowMinutes) * time.Minute
}

func (m MonitorConfig) BreakerTimeout() time.Duration {
	return time.Duration(m.BreakerTimeoutSecs) * time.Second
}

func (r ReplicateConfig) HistoryLookback() time.Duration {
	return time.Duration(r.HistoryLookbackHours) * time.Hour
}

func (r ReplicateConfig) StaleCancelAge() time.Duration {
	return time.Duration(r.StaleCancelMinutes) * time.Minute
}

func (r ReplicateConfig) FallbackWindow() time.Duration {
	return time.Duration(r.FallbackWindowMinutes) * time.Minute
}

func (r ReplicateConfig) CallTimeout() time.Duration {
	return time.Duration(r.CallTimeoutSeconds) * time.Second
}

func (e ExchangeConfig) HTTPTimeout() time.Duration {
	return time.Duration(e.HTTPTimeoutSeconds) * time.Second
}

func (e ExchangeConfig) FilterTTL() time.Duration {
	return time.Duration(e.FilterTTLMinutes) * time.Minute
}

func (s StoreConfig) LogRetention() time.Duration {
	return time.Duration(s.LogRetentionHours) * time.Hour
}

func (s StoreConfig) PruneInterval() time.Duration {
	return time.Duration(s.PruneIntervalHours) * time.Hour
}
