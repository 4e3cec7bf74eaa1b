package binance

import "time"

const defaultRESTBaseURL = "https://fapi.binance.com"

// Config 行情源连接参数，零值可用。
type Config struct {
	RESTBaseURL string
	ProxyURL    string
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = defaultRESTBaseURL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}
