package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/equityrun/equityrun/internal/models"
)

// Config holds every runtime knob the discovery engine recognizes.
type Config struct {
	UpstreamAPIKey  string
	UpstreamBaseURL string
	StoreURL        string
	HTTPHost        string
	HTTPPort        int

	PriceMin      float64
	PriceMax      float64
	MinDollarVolM float64

	UniverseMinExpected int
	UniverseK           int

	Concurrency int
	RatePerSec  float64
	RateBurst   int

	RvolWindow    time.Duration
	RvolThreshold float64

	Classify models.ClassifyThresholds

	CacheTTL      time.Duration
	JobTimeout    time.Duration
	ResultTTL     time.Duration
	LastResultTTL time.Duration
	HeartbeatTTL  time.Duration

	EarlyStopScan    int
	TargetTradeReady int

	RequestTimeout  time.Duration
	FallbackTimeout time.Duration
	DrainGrace      time.Duration
	MaxRetries      int
}

// Default returns the documented production defaults.
func Default() Config {
	return Config{
		UpstreamBaseURL:     "https://api.polygon.io",
		HTTPHost:            "0.0.0.0",
		HTTPPort:            8090,
		PriceMin:            0.50,
		PriceMax:            100.00,
		MinDollarVolM:       5.0,
		UniverseMinExpected: 4500,
		UniverseK:           3000,
		Concurrency:         8,
		RatePerSec:          5,
		RateBurst:           5,
		RvolWindow:          15 * time.Minute,
		RvolThreshold:       3.0,
		Classify:            models.DefaultClassifyThresholds(),
		CacheTTL:            600 * time.Second,
		JobTimeout:          900 * time.Second,
		ResultTTL:           3600 * time.Second,
		LastResultTTL:       24 * time.Hour,
		HeartbeatTTL:        120 * time.Second,
		EarlyStopScan:       500,
		TargetTradeReady:    5,
		RequestTimeout:      30 * time.Second,
		FallbackTimeout:     60 * time.Second,
		DrainGrace:          30 * time.Second,
		MaxRetries:          3,
	}
}

// FromEnv loads defaults and applies any recognized environment overrides.
func FromEnv() Config {
	c := Default()

	c.UpstreamAPIKey = os.Getenv("UPSTREAM_API_KEY")
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		c.UpstreamBaseURL = v
	}
	c.StoreURL = os.Getenv("STORE_URL")
	if v := os.Getenv("HTTP_HOST"); v != "" {
		c.HTTPHost = v
	}
	intEnv("HTTP_PORT", &c.HTTPPort)

	floatEnv("PRICE_MIN", &c.PriceMin)
	floatEnv("PRICE_MAX", &c.PriceMax)
	floatEnv("MIN_DOLLAR_VOL_M", &c.MinDollarVolM)

	intEnv("UNIVERSE_MIN_EXPECTED", &c.UniverseMinExpected)
	intEnv("UNIVERSE_K", &c.UniverseK)
	intEnv("CONCURRENCY", &c.Concurrency)
	floatEnv("RATE_PER_SEC", &c.RatePerSec)
	intEnv("RATE_BURST", &c.RateBurst)

	minutesEnv("RVOL_WINDOW_MIN", &c.RvolWindow)
	floatEnv("RVOL_THRESHOLD", &c.RvolThreshold)

	intEnv("CLASSIFY_TRADE_READY", &c.Classify.TradeReady)
	intEnv("CLASSIFY_BUILDER", &c.Classify.Builder)
	intEnv("CLASSIFY_MONITOR", &c.Classify.Monitor)

	secondsEnv("CACHE_TTL_SECONDS", &c.CacheTTL)
	secondsEnv("JOB_TIMEOUT_SECONDS", &c.JobTimeout)
	secondsEnv("RESULT_TTL_SECONDS", &c.ResultTTL)

	intEnv("EARLY_STOP_SCAN", &c.EarlyStopScan)
	intEnv("TARGET_TRADE_READY", &c.TargetTradeReady)

	return c
}

// Validate checks boot-time requirements. Store connectivity is only
// mandatory for the long-running processes; the one-shot scan command can run
// against the in-memory store.
func (c Config) Validate(requireStore bool) error {
	if c.UpstreamAPIKey == "" {
		return fmt.Errorf("UPSTREAM_API_KEY is required")
	}
	if requireStore && c.StoreURL == "" {
		return fmt.Errorf("STORE_URL is required")
	}
	if c.PriceMin < 0 || c.PriceMax <= c.PriceMin {
		return fmt.Errorf("invalid price band [%f, %f]", c.PriceMin, c.PriceMax)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1")
	}
	if c.RatePerSec <= 0 {
		return fmt.Errorf("RATE_PER_SEC must be positive")
	}
	if c.Classify.TradeReady < c.Classify.Builder || c.Classify.Builder < c.Classify.Monitor {
		return fmt.Errorf("classification thresholds must be ordered trade_ready >= builder >= monitor")
	}
	return nil
}

func intEnv(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatEnv(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func secondsEnv(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func minutesEnv(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = minuteDuration(n)
		}
	}
}

func minuteDuration(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
