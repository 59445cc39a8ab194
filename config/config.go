// Package config loads the framework's configuration (spec.md §6) from
// environment variables, in the same typed-helper style the teacher
// repo uses for its own settings.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every configurable option, grouped by the component that
// consumes it.
type Config struct {
	Click   ClickConfig
	Cache   CacheConfig
	Session SessionConfig
	Request RequestConfig
	Loader  LoaderConfig
	Process ProcessConfig
	Webhook WebhookConfig
}

// ClickConfig controls URL identification and click interception.
type ClickConfig struct {
	URLIdentifier string // default: "" (no SPF suffix appended)
	LinkClass     string // default: "" (every same-origin link is a candidate)
	NoLinkClass   string // default: ""
	CurrentOrigin string // default: "" (origin check skipped)
}

// CacheConfig mirrors internal/cache.Config.
type CacheConfig struct {
	Lifetime      time.Duration // default: 600s
	Max           int           // default: 50
	Unified       bool          // default: true
	SessionMirror bool          // default: false
}

// SessionConfig bounds SPF navigations per session (spec.md §4.H).
type SessionConfig struct {
	NavigateLimit    int           // default: 0 (uncapped)
	NavigateLifetime time.Duration // default: 0
}

// RequestConfig controls the per-request transport layer.
type RequestConfig struct {
	TimeoutMs int     // default: 0 (disabled)
	Delimiter string  // default: internal/wire.DefaultDelimiter
	Proxy     string  // default: ""
	RatePerSecond float64 // default: 0 (uncapped)
	RateBurst     int     // default: 0
}

// LoaderConfig controls the resource loader's path rewriting.
type LoaderConfig struct {
	PathPrefix string // default: ""
}

// ProcessConfig controls fragment application pacing.
type ProcessConfig struct {
	Async              bool   // default: false
	PrefetchOnMousedown bool  // default: false
	TransitionClass    string // default: ""
}

// WebhookConfig controls optional delivery of navigation lifecycle
// events to an external HTTP endpoint. URL empty disables delivery.
type WebhookConfig struct {
	URL    string // default: ""
	Secret string // default: ""
}

// Load reads configuration from environment variables with the
// documented defaults.
func Load() *Config {
	return &Config{
		Click: ClickConfig{
			URLIdentifier: envOr("SPF_URL_IDENTIFIER", ""),
			LinkClass:     envOr("SPF_LINK_CLASS", ""),
			NoLinkClass:   envOr("SPF_NOLINK_CLASS", ""),
			CurrentOrigin: envOr("SPF_CURRENT_ORIGIN", ""),
		},
		Cache: CacheConfig{
			Lifetime:      envDurationOr("SPF_CACHE_LIFETIME", 600*time.Second),
			Max:           envIntOr("SPF_CACHE_MAX", 50),
			Unified:       envBoolOr("SPF_CACHE_UNIFIED", true),
			SessionMirror: envBoolOr("SPF_CACHE_SESSION_STORAGE", false),
		},
		Session: SessionConfig{
			NavigateLimit:    envIntOr("SPF_NAVIGATE_LIMIT", 0),
			NavigateLifetime: envDurationOr("SPF_NAVIGATE_LIFETIME", 0),
		},
		Request: RequestConfig{
			TimeoutMs:     envIntOr("SPF_REQUEST_TIMEOUT_MS", 0),
			Delimiter:     envOr("SPF_DELIMITER", "\r\n[[[SPF]]]\r\n"),
			Proxy:         os.Getenv("SPF_PROXY"),
			RatePerSecond: envFloatOr("SPF_RATE_RPS", 0),
			RateBurst:     envIntOr("SPF_RATE_BURST", 0),
		},
		Loader: LoaderConfig{
			PathPrefix: envOr("SPF_PATH_PREFIX", ""),
		},
		Process: ProcessConfig{
			Async:               envBoolOr("SPF_PROCESS_ASYNC", false),
			PrefetchOnMousedown: envBoolOr("SPF_PREFETCH_ON_MOUSEDOWN", false),
			TransitionClass:     envOr("SPF_TRANSITION_CLASS", ""),
		},
		Webhook: WebhookConfig{
			URL:    envOr("SPF_WEBHOOK_URL", ""),
			Secret: os.Getenv("SPF_WEBHOOK_SECRET"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
