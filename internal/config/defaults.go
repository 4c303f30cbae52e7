package config

const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":9992"
	defaultAppLogPath         = "/data/logs/copytrade.log"
	defaultExchangeName       = "binance"
	defaultExchangeREST       = "https://fapi.binance.com"
	defaultExchangeTimeout    = 15
	defaultExchangeFilterTTL  = 60
	defaultStoreDBPath        = "/data/db/copytrade.db"
	defaultStoreLogRetention  = 72
	defaultStorePruneInterval = 6
	defaultLinkSetPath        = "configs/linkset.yaml"
	defaultMonitorInterval    = 1
	defaultMonitorFailSleep   = 5
	defaultMonitorStartupWin  = 5
	defaultBreakerThreshold   = 5
	defaultBreakerTimeout     = 30
	defaultHistoryLookback    = 6
	defaultHistoryLimit       = 50
	defaultStaleCancel        = 2
	defaultFallbackWindow     = 30
	defaultDispatchBudget     = 4
	defaultEquityDriftPct     = 5
	defaultTargetMarginRatio  = 0.5
	defaultCallTimeout        = 10
)

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultAppHTTPAddr
	}
	if c.App.LogPath == "" {
		c.App.LogPath = defaultAppLogPath
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = defaultExchangeName
	}
	if c.Exchange.RESTBaseURL == "" {
		c.Exchange.RESTBaseURL = defaultExchangeREST
	}
	if c.Exchange.HTTPTimeoutSeconds <= 0 {
		c.Exchange.HTTPTimeoutSeconds = defaultExchangeTimeout
	}
	if c.Exchange.FilterTTLMinutes <= 0 {
		c.Exchange.FilterTTLMinutes = defaultExchangeFilterTTL
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = defaultStoreDBPath
	}
	if c.Store.LogRetentionHours <= 0 {
		c.Store.LogRetentionHours = defaultStoreLogRetention
	}
	if c.Store.PruneIntervalHours <= 0 {
		c.Store.PruneIntervalHours = defaultStorePruneInterval
	}
	if c.LinkSet.Path == "" {
		c.LinkSet.Path = defaultLinkSetPath
	}
	if c.Monitor.PollIntervalSeconds <= 0 {
		c.Monitor.PollIntervalSeconds = defaultMonitorInterval
	}
	if c.Monitor.FailureSleepSeconds <= 0 {
		c.Monitor.FailureSleepSeconds = defaultMonitorFailSleep
	}
	if c.Monitor.StartupWindowMinutes <= 0 {
		c.Monitor.StartupWindowMinutes = defaultMonitorStartupWin
	}
	if c.Monitor.BreakerThreshold <= 0 {
		c.Monitor.BreakerThreshold = defaultBreakerThreshold
	}
	if c.Monitor.BreakerTimeoutSecs <= 0 {
		c.Monitor.BreakerTimeoutSecs = defaultBreakerTimeout
	}
	if c.Replicate.HistoryLookbackHours <= 0 {
		c.Replicate.HistoryLookbackHours = defaultHistoryLookback
	}
	if c.Replicate.HistoryLimit <= 0 {
		c.Replicate.HistoryLimit = defaultHistoryLimit
	}
	if c.Replicate.StaleCancelMinutes <= 0 {
		c.Replicate.StaleCancelMinutes = defaultStaleCancel
	}
	if c.Replicate.FallbackWindowMinutes <= 0 {
		c.Replicate.FallbackWindowMinutes = defaultFallbackWindow
	}
	if len(c.Replicate.LeverageLadder) == 0 {
		c.Replicate.LeverageLadder = []int{20, 25, 50, 75, 100}
	}
	if c.Replicate.DispatchBudget <= 0 {
		c.Replicate.DispatchBudget = defaultDispatchBudget
	}
	if c.Replicate.EquityDriftPct <= 0 {
		c.Replicate.EquityDriftPct = defaultEquityDriftPct
	}
	if c.Replicate.TargetMarginRatio <= 0 {
		c.Replicate.TargetMarginRatio = defaultTargetMarginRatio
	}
	if c.Replicate.CallTimeoutSeconds <= 0 {
		c.Replicate.CallTimeoutSeconds = defaultCallTimeout
	}
}
