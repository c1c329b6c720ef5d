package gateway

import (
	"errors"
	"net/url"
	"time"
)

const (
	defaultPaystackBaseURL = "https://api.paystack.co"
	defaultPaystackTimeout = 30 * time.Second
	defaultTransferSource  = "balance"
	defaultCurrency        = "NGN"
)

// PaystackConfig contains configuration for the Paystack transfers API
type PaystackConfig struct {
	// BaseURL is the API root, overridable for tests
	BaseURL string
	// SecretKey is sent as the bearer token
	SecretKey string
	// Timeout bounds every HTTP call; a timed-out call has an unknown outcome
	Timeout time.Duration
	// Source is the funding source for transfers
	Source string
	// Currency is used when a request or recipient carries none
	Currency string
}

// Errors for configuration validation
var (
	ErrPaystackMissingSecretKey = errors.New("paystack: missing secret key")
	ErrPaystackInvalidBaseURL   = errors.New("paystack: invalid base URL")
)

// Validate validates the configuration
func (c *PaystackConfig) Validate() error {
	if c.SecretKey == "" {
		return ErrPaystackMissingSecretKey
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ErrPaystackInvalidBaseURL
		}
	}
	return nil
}

func (c *PaystackConfig) withDefaults() *PaystackConfig {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = defaultPaystackBaseURL
	}
	if out.Timeout <= 0 {
		out.Timeout = defaultPaystackTimeout
	}
	if out.Source == "" {
		out.Source = defaultTransferSource
	}
	if out.Currency == "" {
		out.Currency = defaultCurrency
	}
	return &out
}
