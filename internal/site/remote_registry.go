package site

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
)

// RemoteRegistry polls an external admin service for the site list and
// global config, the same periodic-refresh-under-mutex shape as the
// teacher's gateway.NodeRegistry. Where the teacher authenticates with a
// static X-Gateway-API-Key, RemoteRegistry mints a short-lived service JWT
// per poll — the admin surface is a separate, untrusted-by-default
// service, so requests are bearer-authenticated rather than relying on a
// long-lived shared secret.
type RemoteRegistry struct {
	adminBaseURL string
	serviceKey   []byte
	httpClient   *http.Client
	logger       *slog.Logger

	mu     sync.RWMutex
	global GlobalConfig
	sites  []Site
	ready  bool
}

// NewRemoteRegistry creates a registry that fetches from an admin service.
// serviceKey signs the bearer JWT sent with each poll.
func NewRemoteRegistry(adminBaseURL string, serviceKey []byte, logger *slog.Logger) *RemoteRegistry {
	return &RemoteRegistry{
		adminBaseURL: strings.TrimRight(adminBaseURL, "/"),
		serviceKey:   serviceKey,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		global:       DefaultGlobalConfig(),
	}
}

// Refresh fetches /sites and /config from the admin service and swaps the
// in-memory snapshot atomically. Intended to be called on a cron schedule.
func (r *RemoteRegistry) Refresh() error {
	token, err := r.mintServiceToken()
	if err != nil {
		return fmt.Errorf("minting service token: %w", err)
	}

	sites, err := r.fetchSites(token)
	if err != nil {
		return fmt.Errorf("fetching sites: %w", err)
	}

	global, err := r.fetchGlobalConfig(token)
	if err != nil {
		return fmt.Errorf("fetching global config: %w", err)
	}

	r.mu.Lock()
	r.sites = sites
	r.global = global
	r.ready = true
	r.mu.Unlock()

	r.logger.Info("remote site registry refreshed", "site_count", len(sites))
	return nil
}

// FindByHost implements Registry.
func (r *RemoteRegistry) FindByHost(host string) (*Site, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.sites {
		s := r.sites[i]
		if !s.Enabled {
			continue
		}
		if host == s.MirrorRoot || strings.HasSuffix(host, "."+s.MirrorRoot) {
			return &s, true
		}
	}
	return nil, false
}

// Get implements ConfigStore.
func (r *RemoteRegistry) Get() GlobalConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global
}

// Ready reports whether at least one successful refresh has completed.
func (r *RemoteRegistry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// SiteCount reports how many sites are currently loaded, enabled or not.
func (r *RemoteRegistry) SiteCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sites)
}

func (r *RemoteRegistry) mintServiceToken() (string, error) {
	claims := jwt.MapClaims{
		"iss": "mirrorproxy",
		"exp": time.Now().Add(30 * time.Second).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.serviceKey)
}

func (r *RemoteRegistry) fetchSites(token string) ([]Site, error) {
	var wire []yamlSite
	if err := r.getJSON(token, "/sites", &wire); err != nil {
		return nil, err
	}
	sites := make([]Site, 0, len(wire))
	for _, ys := range wire {
		sites = append(sites, yamlToSite(ys))
	}
	return sites, nil
}

func (r *RemoteRegistry) fetchGlobalConfig(token string) (GlobalConfig, error) {
	var wire yamlGlobalConfig
	if err := r.getJSON(token, "/config", &wire); err != nil {
		return GlobalConfig{}, err
	}
	global := DefaultGlobalConfig()
	applyGlobalOverrides(&global, wire)
	return global, nil
}

func (r *RemoteRegistry) getJSON(token, path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, r.adminBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin service returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
