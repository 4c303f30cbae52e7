package config

import (
	"fmt"
	"sort"
	"strings"
)

func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	if err := c.Replicate.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.LinkSet.Path) == "" {
		return fmt.Errorf("linkset.path cannot be empty")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if strings.TrimSpace(e.Name) != "binance" {
		return fmt.Errorf("exchange.name %q is not supported", e.Name)
	}
	if e.ProxyEnabled && strings.TrimSpace(e.RESTProxyURL) == "" {
		return fmt.Errorf("exchange.rest_proxy_url required when proxy is enabled")
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if m.PollIntervalSeconds > 60 {
		return fmt.Errorf("monitor.poll_interval_seconds %d is too coarse (max 60)", m.PollIntervalSeconds)
	}
	return nil
}

func (r *ReplicateConfig) validate() error {
	if !sort.IntsAreSorted(r.LeverageLadder) {
		return fmt.Errorf("replicate.leverage_ladder must be ascending")
	}
	for _, lev := range r.LeverageLadder {
		if lev < 1 || lev > 125 {
			return fmt.Errorf("replicate.leverage_ladder entry %d out of range [1,125]", lev)
		}
	}
	if r.TargetMarginRatio > 1 {
		return fmt.Errorf("replicate.target_margin_ratio must be <= 1")
	}
	if r.EquityDriftPct >= 100 {
		return fmt.Errorf("replicate.equity_drift_pct must be < 100")
	}
	return nil
}
