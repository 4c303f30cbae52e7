package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// FilterTTL bounds how long cached exchange-info filters are served.
	FilterTTL time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	if out.FilterTTL <= 0 {
		out.FilterTTL = time.Hour
	}
	return out
}
