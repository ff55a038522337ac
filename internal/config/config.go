// Package config holds the environment-sourced runtime configuration.
// Credentials are validated once, before any network call is made.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the pipeline needs.
type Config struct {
	// AliExpress (RapidAPI DataHub) credentials.
	RapidAPIKey  string
	RapidAPIHost string

	// eBay application credentials.
	EBayAppID       string
	EBayCertID      string
	EBayDevID       string
	EBayEnvironment string // "PRODUCTION" or "SANDBOX"

	// Request shaping.
	MaxRequestsPerSecond float64
	RequestTimeout       time.Duration

	// Image download settings.
	DownloadFolder string
	ImageQuality   int
}

// Load reads configuration from the environment, applying defaults for
// everything that is not a credential.
func Load() *Config {
	return &Config{
		RapidAPIKey:          os.Getenv("RAPIDAPI_KEY"),
		RapidAPIHost:         envOr("RAPIDAPI_HOST", "aliexpress-datahub.p.rapidapi.com"),
		EBayAppID:            os.Getenv("EBAY_APP_ID"),
		EBayCertID:           os.Getenv("EBAY_CERT_ID"),
		EBayDevID:            os.Getenv("EBAY_DEV_ID"),
		EBayEnvironment:      envOr("EBAY_ENVIRONMENT", "PRODUCTION"),
		MaxRequestsPerSecond: envFloat("MAX_REQUESTS_PER_SECOND", 1),
		RequestTimeout:       time.Duration(envInt("REQUEST_TIMEOUT", 30)) * time.Second,
		DownloadFolder:       envOr("DOWNLOAD_FOLDER", "downloads"),
		ImageQuality:         envInt("IMAGE_QUALITY", 95),
	}
}

// Validate fails fast when required credentials are absent. It is the only
// error that aborts a whole run.
func (c *Config) Validate() error {
	if c.RapidAPIKey == "" {
		return fmt.Errorf("missing API credentials: set RAPIDAPI_KEY in your environment or .env file")
	}
	if c.EBayAppID == "" || c.EBayCertID == "" {
		return fmt.Errorf("missing eBay credentials: set EBAY_APP_ID and EBAY_CERT_ID in your environment or .env file")
	}
	if c.EBayEnvironment != "PRODUCTION" && c.EBayEnvironment != "SANDBOX" {
		return fmt.Errorf("EBAY_ENVIRONMENT must be PRODUCTION or SANDBOX, got %q", c.EBayEnvironment)
	}
	if c.MaxRequestsPerSecond <= 0 {
		return fmt.Errorf("MAX_REQUESTS_PER_SECOND must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
