package models

import "time"

// Provider kinds understood by the provider factory
const (
	KindMailgun = "mailgun"
	KindSMTP    = "smtp"
	KindLog     = "log"
)

// Rate limiting algorithms
const (
	AlgorithmTokenBucket   = "token_bucket"
	AlgorithmSlidingWindow = "sliding_window"
)

// RateLimitConfig holds the rate-limit parameters of a provider
type RateLimitConfig struct {
	Algorithm         string        `json:"algorithm"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size,omitempty"`
	Window            time.Duration `json:"window,omitempty"`
}

// RetryPolicy drives the retry-delay computation of a provider
type RetryPolicy struct {
	MaxRetries         int           `json:"max_retries"`
	InitialDelay       time.Duration `json:"initial_delay"`
	MaxDelay           time.Duration `json:"max_delay"`
	BackoffMultiplier  float64       `json:"backoff_multiplier"`
	ExhaustionInterval time.Duration `json:"exhaustion_interval,omitempty"`
}

// DefaultRetryPolicy is the policy used when a provider does not configure one
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}
}

// ProviderCredentials are opaque provider secrets
type ProviderCredentials struct {
	APIKey   string `json:"-"`
	Domain   string `json:"domain,omitempty"`
	APIBase  string `json:"api_base,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"-"`
	Password string `json:"-"`
}

// ProviderConfig is the configuration record of one provider
type ProviderConfig struct {
	ID          string              `json:"id"`
	Kind        string              `json:"kind"`
	Name        string              `json:"name"`
	Priority    int                 `json:"priority"`
	Enabled     bool                `json:"enabled"`
	RateLimit   RateLimitConfig     `json:"rate_limit"`
	Retry       RetryPolicy         `json:"retry"`
	Credentials ProviderCredentials `json:"-"`

	// MaxRateWait bounds how long a send blocks waiting for the rate limiter
	MaxRateWait time.Duration `json:"max_rate_wait,omitempty"`
}

// ProviderStatus is a point-in-time view of a provider
type ProviderStatus struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Kind              string    `json:"kind"`
	Priority          int       `json:"priority"`
	Enabled           bool      `json:"enabled"`
	CanSendNow        bool      `json:"can_send_now"`
	NextAvailableTime time.Time `json:"next_available_time"`
}
