// Package site defines the Site/GlobalConfig data model (spec.md §3), the
// effective-config resolver (§4.H), and the SiteRegistry / GlobalConfigStore
// collaborator interfaces the core consumes (§6).
package site

// MediaPolicy controls how media/download URLs are treated by the mapper
// and rewriter.
type MediaPolicy string

const (
	MediaPolicyBypass     MediaPolicy = "bypass"
	MediaPolicyProxy      MediaPolicy = "proxy"
	MediaPolicySizeLimited MediaPolicy = "size_limited"
)

// SessionMode selects whether the orchestrator runs a cookie jar for a site.
type SessionMode string

const (
	SessionModeStateless SessionMode = "stateless"
	SessionModeCookieJar SessionMode = "cookie_jar"
)

// Site is a configured mirror mapping (spec.md §3). Overrides are nullable
// pointers: nil means "fall back to GlobalConfig".
type Site struct {
	ID         string
	MirrorRoot string // DNS suffix owned by the operator, unique across sites
	SourceRoot string // origin DNS suffix
	Enabled    bool

	ProxySubdomains       *bool
	ProxyExternalDomains  *bool
	RewriteJSRedirects    *bool
	RemoveAds             *bool
	InjectAds             *bool
	RemoveAnalytics       *bool
	MediaPolicy           *MediaPolicy
	SessionMode           *SessionMode
	CustomAdHTML          *string
	CustomTrackerJS       *string
}

// GlobalConfig is the singleton default configuration (spec.md §3). Every
// field is non-nullable; Site overrides fall back to these values.
type GlobalConfig struct {
	ProxySubdomains      bool
	ProxyExternalDomains bool
	RewriteJSRedirects   bool
	RemoveAds            bool
	InjectAds            bool
	RemoveAnalytics      bool
	MediaPolicy          MediaPolicy
	SessionMode          SessionMode
	CustomAdHTML         string
	CustomTrackerJS      string
}

// DefaultGlobalConfig mirrors the defaults the original implementation's
// SQLAlchemy model declared (backend/app/models/global_config.py): proxying
// on, rewriting and ad handling off until an operator opts in.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		ProxySubdomains:      true,
		ProxyExternalDomains: true,
		RewriteJSRedirects:   false,
		RemoveAds:            false,
		InjectAds:            false,
		RemoveAnalytics:      false,
		MediaPolicy:          MediaPolicyProxy,
		SessionMode:          SessionModeStateless,
	}
}

// EffectiveConfig is the per-request merge of Site over GlobalConfig
// (spec.md §4.H), immutable for the duration of one request.
type EffectiveConfig struct {
	ProxySubdomains      bool
	ProxyExternalDomains bool
	RewriteJSRedirects   bool
	RemoveAds            bool
	InjectAds            bool
	RemoveAnalytics      bool
	MediaPolicy          MediaPolicy
	SessionMode          SessionMode
	CustomAdHTML         string
	CustomTrackerJS      string
}

// Resolve merges a Site's overrides over a GlobalConfig. Each field takes
// the site's value when non-nil, else the global default.
func Resolve(s *Site, g GlobalConfig) EffectiveConfig {
	ec := EffectiveConfig{
		ProxySubdomains:      g.ProxySubdomains,
		ProxyExternalDomains: g.ProxyExternalDomains,
		RewriteJSRedirects:   g.RewriteJSRedirects,
		RemoveAds:            g.RemoveAds,
		InjectAds:            g.InjectAds,
		RemoveAnalytics:      g.RemoveAnalytics,
		MediaPolicy:          g.MediaPolicy,
		SessionMode:          g.SessionMode,
		CustomAdHTML:         g.CustomAdHTML,
		CustomTrackerJS:      g.CustomTrackerJS,
	}
	if s == nil {
		return ec
	}
	if s.ProxySubdomains != nil {
		ec.ProxySubdomains = *s.ProxySubdomains
	}
	if s.ProxyExternalDomains != nil {
		ec.ProxyExternalDomains = *s.ProxyExternalDomains
	}
	if s.RewriteJSRedirects != nil {
		ec.RewriteJSRedirects = *s.RewriteJSRedirects
	}
	if s.RemoveAds != nil {
		ec.RemoveAds = *s.RemoveAds
	}
	if s.InjectAds != nil {
		ec.InjectAds = *s.InjectAds
	}
	if s.RemoveAnalytics != nil {
		ec.RemoveAnalytics = *s.RemoveAnalytics
	}
	if s.MediaPolicy != nil {
		ec.MediaPolicy = *s.MediaPolicy
	}
	if s.SessionMode != nil {
		ec.SessionMode = *s.SessionMode
	}
	if s.CustomAdHTML != nil {
		ec.CustomAdHTML = *s.CustomAdHTML
	}
	if s.CustomTrackerJS != nil {
		ec.CustomTrackerJS = *s.CustomTrackerJS
	}
	return ec
}

// Registry resolves a request host to its Site. Implementations must only
// return enabled sites.
type Registry interface {
	FindByHost(host string) (*Site, bool)
}

// ConfigStore yields the singleton GlobalConfig, creating a defaulted one
// on first access (spec.md §6).
type ConfigStore interface {
	Get() GlobalConfig
}
