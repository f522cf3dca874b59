// Package config loads the process-wide configuration: required secrets and
// endpoints from the environment, optional tuning knobs from thyme.yaml.
// The resulting Config is immutable and passed explicitly; no component
// reads the environment after startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Config is the umbrella configuration object returned by Load and used
// throughout the application.
type Config struct {
	// Persistence
	DatabaseURL string

	// Google OAuth client (shared by the GA4 and Search Console adapters)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	// Data source endpoints and credentials
	GA4PropertyID string
	GSCSiteURL    string
	PageSpeedKey  string
	HubSpotToken  string
	SiteOrigin    string

	// Language model
	OpenAIKey   string
	OpenAIModel string

	// Shared secret expected as a bearer token on the scheduled triggers
	CronSecret string

	// HTTP listen port (default 8080)
	HTTPPort string

	// Pipeline tuning knobs (thyme.yaml, defaults applied when absent)
	Tuning Tuning
}

// Load reads the environment and the optional tuning file at tuningPath
// (empty path or missing file falls back to defaults). It returns a
// MissingEnvError listing every absent required variable.
func Load(tuningPath string) (*Config, error) {
	var missing []string
	get := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		DatabaseURL:        get("DATABASE_URL"),
		GoogleClientID:     get("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: get("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURI:  get("GOOGLE_REDIRECT_URI"),
		GA4PropertyID:      get("GA4_PROPERTY_ID"),
		GSCSiteURL:         get("GSC_SITE_URL"),
		PageSpeedKey:       get("PAGESPEED_API_KEY"),
		HubSpotToken:       get("HUBSPOT_ACCESS_TOKEN"),
		OpenAIKey:          get("OPENAI_API_KEY"),
		CronSecret:         get("CRON_SECRET"),
		SiteOrigin:         strings.TrimSuffix(get("SITE_ORIGIN"), "/"),
	}
	if len(missing) > 0 {
		return nil, &MissingEnvError{Keys: missing}
	}

	cfg.OpenAIModel = os.Getenv("OPENAI_MODEL")
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o"
	}
	cfg.HTTPPort = os.Getenv("HTTP_PORT")
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "8080"
	}

	tuning, err := LoadTuning(tuningPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tuning file: %w", err)
	}
	cfg.Tuning = *tuning

	slog.Info("Configuration loaded",
		"property_id", cfg.GA4PropertyID,
		"site", cfg.SiteOrigin,
		"model", cfg.OpenAIModel)
	return cfg, nil
}
