package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SECRET_KEY", "ENVIRONMENT", "LISTEN_ADDRESS", "ADMIN_HOST",
		"ENABLE_RATE_LIMITING", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
		"MAX_RESPONSE_SIZE_MB", "REQUEST_TIMEOUT", "SITE_REGISTRY_PATH",
		"ADMIN_HOST_PATTERNS",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_RequiresSecretKey(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err != ErrSecretKeyRequired {
		t.Fatalf("expected ErrSecretKeyRequired, got %v", err)
	}

	os.Setenv("SECRET_KEY", "short")
	defer os.Unsetenv("SECRET_KEY")
	if _, err := Load(); err != ErrSecretKeyRequired {
		t.Fatalf("expected ErrSecretKeyRequired for short key, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("SECRET_KEY", "01234567890123456789012345678901")
	defer os.Unsetenv("SECRET_KEY")

	s, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.RateLimitRequests != 60 {
		t.Errorf("expected default RateLimitRequests 60, got %d", s.RateLimitRequests)
	}
	if s.MaxResponseSizeMB != 15 {
		t.Errorf("expected default MaxResponseSizeMB 15, got %d", s.MaxResponseSizeMB)
	}
	if !s.EnableRateLimiting {
		t.Error("expected rate limiting enabled by default")
	}
}

func TestIsAdminHost(t *testing.T) {
	clearEnv(t)
	os.Setenv("SECRET_KEY", "01234567890123456789012345678901")
	os.Setenv("ADMIN_HOST", "admin.internal")
	defer clearEnv(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]bool{
		"admin.internal":  true,
		"0.0.0.0":         true,
		"localhost":       true,
		"localhost:8080":  true,
		"mirror.example":  false,
	}
	for host, want := range cases {
		if got := s.IsAdminHost(host); got != want {
			t.Errorf("IsAdminHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestIsAdminHost_CustomPatterns(t *testing.T) {
	clearEnv(t)
	os.Setenv("SECRET_KEY", "01234567890123456789012345678901")
	os.Setenv("ADMIN_HOST", "admin.internal")
	os.Setenv("ADMIN_HOST_PATTERNS", "internal-proxy, 127.0.0.1")
	defer clearEnv(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]bool{
		"admin.internal":      true,
		"internal-proxy":      true,
		"internal-proxy.test": true,
		"127.0.0.1":           true,
		"0.0.0.0":             false,
		"localhost":           false,
		"mirror.example":      false,
	}
	for host, want := range cases {
		if got := s.IsAdminHost(host); got != want {
			t.Errorf("IsAdminHost(%q) = %v, want %v", host, got, want)
		}
	}
}
