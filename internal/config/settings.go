// Package config loads process-wide Settings from the environment.
//
// Settings is the "Required external collaborator interface" named in
// spec.md §6: the knobs the core proxy reads but never mutates. Site- and
// global-config-level knobs (proxy_subdomains, media_policy, ...) live in
// package site, not here.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrSecretKeyRequired is returned when SECRET_KEY is missing or too short
// to sign session tokens safely.
var ErrSecretKeyRequired = errors.New("SECRET_KEY is required and should be at least 32 bytes")

// Settings holds the environment-derived configuration for the proxy
// process itself.
type Settings struct {
	Environment string // "development" enables verbose logging

	ListenAddress string
	AdminHost     string // exact-match admin host that never gets proxied

	SecretKey string // HMAC key for signing session tokens (§4.D)

	EnableRateLimiting bool
	RateLimitRequests  int           // N in the sliding window
	RateLimitWindow    time.Duration // W in the sliding window

	MaxResponseSizeMB int
	RequestTimeout    time.Duration

	SiteRegistryPath string // path to the local YAML site/config definitions

	// AdminHostPatterns are host prefixes that are always treated as the
	// admin host in addition to the exact AdminHost match, never proxied.
	AdminHostPatterns []string
}

// Load reads Settings from the environment, applying the same defaults the
// original implementation shipped (backend/app/config.py): a 60 req/60s
// rate limit, a 15MB response cap, and a 15s upstream timeout.
func Load() (*Settings, error) {
	secretKey := os.Getenv("SECRET_KEY")
	if len(secretKey) < 32 {
		return nil, ErrSecretKeyRequired
	}

	s := &Settings{
		Environment:        getEnv("ENVIRONMENT", "production"),
		ListenAddress:      getEnv("LISTEN_ADDRESS", ":8080"),
		AdminHost:          getEnv("ADMIN_HOST", "0.0.0.0"),
		SecretKey:          secretKey,
		EnableRateLimiting: getEnvBool("ENABLE_RATE_LIMITING", true),
		RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:    time.Duration(getEnvInt("RATE_LIMIT_WINDOW", 60)) * time.Second,
		MaxResponseSizeMB:  getEnvInt("MAX_RESPONSE_SIZE_MB", 15),
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT", 15)) * time.Second,
		SiteRegistryPath:   getEnv("SITE_REGISTRY_PATH", "sites.yaml"),
		AdminHostPatterns:  getEnvList("ADMIN_HOST_PATTERNS", []string{"0.0.0.0", "localhost"}),
	}

	return s, nil
}

// IsAdminHost reports whether host (as seen in the Host header, port
// already stripped) must never be proxied. Besides the exact configured
// AdminHost, any host matching one of AdminHostPatterns is always treated
// as an admin host — the same safety net the original implementation
// applied unconditionally (backend/app/proxy/router.py) to the bind-all
// address and "localhost", now a configurable list rather than a fixed
// pair, since nothing should ever route to the proxy's own bind address.
func (s *Settings) IsAdminHost(host string) bool {
	if host == s.AdminHost {
		return true
	}
	for _, pattern := range s.AdminHostPatterns {
		if host == pattern || strings.HasPrefix(host, pattern) {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvList reads a comma-separated list from the environment, trimming
// whitespace around each entry, or returns fallback if unset.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
