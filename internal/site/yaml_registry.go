package site

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// yamlSiteDoc mirrors the on-disk shape of the site registry file.
type yamlSiteDoc struct {
	Global yamlGlobalConfig `yaml:"global"`
	Sites  []yamlSite       `yaml:"sites"`
}

type yamlGlobalConfig struct {
	ProxySubdomains      *bool   `yaml:"proxy_subdomains" json:"proxy_subdomains"`
	ProxyExternalDomains *bool   `yaml:"proxy_external_domains" json:"proxy_external_domains"`
	RewriteJSRedirects   *bool   `yaml:"rewrite_js_redirects" json:"rewrite_js_redirects"`
	RemoveAds            *bool   `yaml:"remove_ads" json:"remove_ads"`
	InjectAds            *bool   `yaml:"inject_ads" json:"inject_ads"`
	RemoveAnalytics      *bool   `yaml:"remove_analytics" json:"remove_analytics"`
	MediaPolicy          string  `yaml:"media_policy" json:"media_policy"`
	SessionMode          string  `yaml:"session_mode" json:"session_mode"`
	CustomAdHTML         string  `yaml:"custom_ad_html" json:"custom_ad_html"`
	CustomTrackerJS      string  `yaml:"custom_tracker_js" json:"custom_tracker_js"`
}

type yamlSite struct {
	ID         string `yaml:"id"`
	MirrorRoot string `yaml:"mirror_root"`
	SourceRoot string `yaml:"source_root"`
	Enabled    *bool  `yaml:"enabled"`

	ProxySubdomains      *bool   `yaml:"proxy_subdomains"`
	ProxyExternalDomains *bool   `yaml:"proxy_external_domains"`
	RewriteJSRedirects   *bool   `yaml:"rewrite_js_redirects"`
	RemoveAds            *bool   `yaml:"remove_ads"`
	InjectAds            *bool   `yaml:"inject_ads"`
	RemoveAnalytics      *bool   `yaml:"remove_analytics"`
	MediaPolicy          *string `yaml:"media_policy"`
	SessionMode          *string `yaml:"session_mode"`
	CustomAdHTML         *string `yaml:"custom_ad_html"`
	CustomTrackerJS      *string `yaml:"custom_tracker_js"`
}

// YAMLStore is a file-backed Registry and ConfigStore for single-node
// deployments. It loads sites.yaml once at construction and again whenever
// Reload is called (wired to a cron tick by the caller), guarding the
// in-memory snapshot with a mutex the same way the teacher's
// gateway.NodeRegistry guards its node map.
type YAMLStore struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	global  GlobalConfig
	sites   []Site
}

// NewYAMLStore loads path immediately; a missing file yields an empty
// registry and a defaulted GlobalConfig rather than an error, so a fresh
// deployment can start up before any site is configured.
func NewYAMLStore(path string, logger *slog.Logger) *YAMLStore {
	st := &YAMLStore{path: path, logger: logger, global: DefaultGlobalConfig()}
	if err := st.Reload(); err != nil {
		logger.Warn("site registry: initial load failed, starting empty", "path", path, "error", err)
	}
	return st
}

// Reload re-reads the backing file and atomically swaps the in-memory
// snapshot. Safe to call concurrently with FindByHost/Get.
func (s *YAMLStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading site registry %s: %w", s.path, err)
	}

	var doc yamlSiteDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing site registry %s: %w", s.path, err)
	}

	global := DefaultGlobalConfig()
	applyGlobalOverrides(&global, doc.Global)

	sites := make([]Site, 0, len(doc.Sites))
	for _, ys := range doc.Sites {
		sites = append(sites, yamlToSite(ys))
	}

	s.mu.Lock()
	s.global = global
	s.sites = sites
	s.mu.Unlock()

	s.logger.Info("site registry reloaded", "path", s.path, "site_count", len(sites))
	return nil
}

// FindByHost implements Registry: exact match or suffix match on
// MirrorRoot, among enabled sites only (spec.md §4.I step 3).
func (s *YAMLStore) FindByHost(host string) (*Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.sites {
		site := s.sites[i]
		if !site.Enabled {
			continue
		}
		if host == site.MirrorRoot || strings.HasSuffix(host, "."+site.MirrorRoot) {
			return &site, true
		}
	}
	return nil, false
}

// Get implements ConfigStore.
func (s *YAMLStore) Get() GlobalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// SiteCount reports how many sites are currently loaded, enabled or not.
func (s *YAMLStore) SiteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sites)
}

// Ready reports whether the registry has completed at least one load.
// A YAMLStore is always ready: NewYAMLStore starts empty rather than
// blocking on a remote fetch.
func (s *YAMLStore) Ready() bool {
	return true
}

func applyGlobalOverrides(g *GlobalConfig, y yamlGlobalConfig) {
	if y.ProxySubdomains != nil {
		g.ProxySubdomains = *y.ProxySubdomains
	}
	if y.ProxyExternalDomains != nil {
		g.ProxyExternalDomains = *y.ProxyExternalDomains
	}
	if y.RewriteJSRedirects != nil {
		g.RewriteJSRedirects = *y.RewriteJSRedirects
	}
	if y.RemoveAds != nil {
		g.RemoveAds = *y.RemoveAds
	}
	if y.InjectAds != nil {
		g.InjectAds = *y.InjectAds
	}
	if y.RemoveAnalytics != nil {
		g.RemoveAnalytics = *y.RemoveAnalytics
	}
	if y.MediaPolicy != "" {
		g.MediaPolicy = MediaPolicy(y.MediaPolicy)
	}
	if y.SessionMode != "" {
		g.SessionMode = SessionMode(y.SessionMode)
	}
	if y.CustomAdHTML != "" {
		g.CustomAdHTML = y.CustomAdHTML
	}
	if y.CustomTrackerJS != "" {
		g.CustomTrackerJS = y.CustomTrackerJS
	}
}

func yamlToSite(y yamlSite) Site {
	id := y.ID
	if id == "" {
		id = uuid.NewString()
	}
	enabled := true
	if y.Enabled != nil {
		enabled = *y.Enabled
	}

	s := Site{
		ID:                   id,
		MirrorRoot:           y.MirrorRoot,
		SourceRoot:           y.SourceRoot,
		Enabled:              enabled,
		ProxySubdomains:      y.ProxySubdomains,
		ProxyExternalDomains: y.ProxyExternalDomains,
		RewriteJSRedirects:   y.RewriteJSRedirects,
		RemoveAds:            y.RemoveAds,
		InjectAds:            y.InjectAds,
		RemoveAnalytics:      y.RemoveAnalytics,
		CustomAdHTML:         y.CustomAdHTML,
		CustomTrackerJS:      y.CustomTrackerJS,
	}
	if y.MediaPolicy != nil {
		mp := MediaPolicy(*y.MediaPolicy)
		s.MediaPolicy = &mp
	}
	if y.SessionMode != nil {
		sm := SessionMode(*y.SessionMode)
		s.SessionMode = &sm
	}
	return s
}
